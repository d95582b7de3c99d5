package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/http/middleware"
	"github.com/gatewise/guestgate/internal/http/response"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/pkg/logger"
)

// AdminHandler covers the limit policy and the guest blacklist. All routes
// require an admin session.
type AdminHandler struct {
	Guests   repo.GuestRepository
	Policies repo.PolicyRepository
	Clock    *clock.Clock
}

func NewAdminHandler(guests repo.GuestRepository, policies repo.PolicyRepository, clk *clock.Clock) *AdminHandler {
	return &AdminHandler{Guests: guests, Policies: policies, Clock: clk}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requireAdmin)
	r.Get("/policy", h.getPolicy)
	r.Put("/policy", h.updatePolicy)
	r.Post("/guests/{id}/blacklist", h.setBlacklist)
	return r
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.Claims(r)
		if claims == nil || claims.Role != string(domain.RoleAdmin) {
			response.Forbidden(w, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Get(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Policy load failed", "error", err)
		response.InternalError(w, "loading policy failed")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]int{
		"guestMonthlyLimit":   p.MonthlyLimit(),
		"hostConcurrentLimit": p.ConcurrentLimit(),
	})
}

func (h *AdminHandler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	var in domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	if in.GuestMonthlyLimit < 0 || in.HostConcurrentLimit < 0 {
		response.BadRequest(w, "limits must be non-negative")
		return
	}

	if err := h.Policies.Update(r.Context(), in); err != nil {
		logger.ErrorContext(r.Context(), "Policy update failed", "error", err)
		response.InternalError(w, "updating policy failed")
		return
	}
	response.WriteJSON(w, http.StatusOK, in)
}

type blacklistRequest struct {
	Blacklisted bool `json:"blacklisted"`
}

func (h *AdminHandler) setBlacklist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid guest id")
		return
	}

	var in blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}

	guest, err := h.Guests.FindByID(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "Guest lookup failed", "error", err, "guest_id", id)
		response.InternalError(w, "guest lookup failed")
		return
	}
	if guest == nil {
		response.NotFound(w, "guest not found")
		return
	}

	if in.Blacklisted {
		now := h.Clock.Now()
		err = h.Guests.SetBlacklisted(r.Context(), id, &now)
	} else {
		err = h.Guests.SetBlacklisted(r.Context(), id, nil)
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Blacklist update failed", "error", err, "guest_id", id)
		response.InternalError(w, "blacklist update failed")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"guestId":     id,
		"blacklisted": in.Blacklisted,
	})
}
