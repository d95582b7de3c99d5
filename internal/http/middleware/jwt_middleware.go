package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gatewise/guestgate/internal/http/response"
	"github.com/gatewise/guestgate/pkg/auth"
)

type ctxKey string

const CtxClaims ctxKey = "claims"

// RequireJWT guards operator endpoints. QR tokens carry role "qr" and are
// rejected here; they only ever enter through the scan payload.
func RequireJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "invalid authorization header")
				return
			}
			raw := strings.TrimPrefix(authz, "Bearer ")
			claims, err := auth.Parse(raw, secret)
			if err != nil || claims.Role == "qr" {
				response.Unauthorized(w, "invalid authorization token")
				return
			}
			ctx := context.WithValue(r.Context(), CtxClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalJWT attaches claims when a valid bearer token is present, but lets
// anonymous kiosk traffic through.
func OptionalJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if strings.HasPrefix(authz, "Bearer ") {
				raw := strings.TrimPrefix(authz, "Bearer ")
				if claims, err := auth.Parse(raw, secret); err == nil && claims.Role != "qr" {
					r = r.WithContext(context.WithValue(r.Context(), CtxClaims, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Claims(r *http.Request) *auth.Claims {
	v := r.Context().Value(CtxClaims)
	if v == nil {
		return nil
	}
	return v.(*auth.Claims)
}
