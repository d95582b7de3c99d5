package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gatewise/guestgate/internal/checkin"
	"github.com/gatewise/guestgate/internal/http/response"
	"github.com/gatewise/guestgate/pkg/logger"
)

type InvitationHandler struct {
	Service *checkin.InvitationService
}

func NewInvitationHandler(s *checkin.InvitationService) *InvitationHandler {
	return &InvitationHandler{Service: s}
}

func (h *InvitationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Post("/{token}/activate", h.activate)
	return r
}

func (h *InvitationHandler) create(w http.ResponseWriter, r *http.Request) {
	var in checkin.CreateInvitationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}
	in.GuestEmail = strings.TrimSpace(strings.ToLower(in.GuestEmail))
	if in.GuestEmail == "" || in.GuestName == "" || in.HostID <= 0 || in.LocationID <= 0 {
		response.BadRequest(w, "guestEmail, guestName, hostId and locationId are required")
		return
	}

	inv, err := h.Service.Create(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, checkin.ErrUnknownHost):
			response.NotFound(w, "host not found")
		case errors.Is(err, checkin.ErrUnknownLocation):
			response.NotFound(w, "location not found")
		default:
			logger.ErrorContext(r.Context(), "Invitation create failed", "error", err)
			response.InternalError(w, "creating invitation failed")
		}
		return
	}

	response.WriteJSON(w, http.StatusCreated, inv)
}

func (h *InvitationHandler) activate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		response.BadRequest(w, "missing invitation token")
		return
	}

	inv, err := h.Service.Activate(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, checkin.ErrInvitationNotFound):
			response.NotFound(w, "invitation not found")
		case errors.Is(err, checkin.ErrInvitationExpired):
			response.Gone(w, "invitation expired")
		default:
			logger.ErrorContext(r.Context(), "Invitation activate failed", "error", err)
			response.InternalError(w, "activating invitation failed")
		}
		return
	}

	response.WriteJSON(w, http.StatusOK, inv)
}
