package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"

	"github.com/gatewise/guestgate/internal/http/response"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/pkg/auth"
	"github.com/gatewise/guestgate/pkg/logger"
)

type AuthHandler struct {
	Hosts     repo.HostRepository
	JWTSecret string
	TokenTTL  time.Duration
}

func NewAuthHandler(hosts repo.HostRepository, jwtSecret string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{Hosts: hosts, JWTSecret: jwtSecret, TokenTTL: tokenTTL}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.login)
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	Name        string `json:"name"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || in.Password == "" {
		response.BadRequest(w, "email and password are required")
		return
	}

	host, err := h.Hosts.FindByEmail(r.Context(), in.Email)
	if err != nil {
		logger.ErrorContext(r.Context(), "Login: host lookup failed", "error", err)
		response.InternalError(w, "login failed")
		return
	}
	if host == nil || host.PasswordHash == "" {
		response.Unauthorized(w, "invalid credentials")
		return
	}

	match, err := argon2id.ComparePasswordAndHash(in.Password, host.PasswordHash)
	if err != nil || !match {
		response.Unauthorized(w, "invalid credentials")
		return
	}

	token, err := auth.NewAccessToken(host.ID, host.Email, string(host.Role), "checkin", h.JWTSecret, h.TokenTTL)
	if err != nil {
		logger.ErrorContext(r.Context(), "Login: token issuance failed", "error", err)
		response.InternalError(w, "login failed")
		return
	}

	response.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		Role:        string(host.Role),
		Name:        host.Name,
	})
}
