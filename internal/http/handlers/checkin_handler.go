package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gatewise/guestgate/internal/checkin"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/http/middleware"
	"github.com/gatewise/guestgate/internal/http/response"
	"github.com/gatewise/guestgate/internal/qr"
	"github.com/gatewise/guestgate/pkg/logger"
)

type CheckInHandler struct {
	Orchestrator *checkin.Orchestrator
}

func NewCheckInHandler(o *checkin.Orchestrator) *CheckInHandler {
	return &CheckInHandler{Orchestrator: o}
}

func (h *CheckInHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.checkIn)
	return r
}

// checkInRequest is the wire form; a single guest arrives under "guest",
// batches under "guests", scanned payloads under "qrData" or "token".
type checkInRequest struct {
	Token            string        `json:"token,omitempty"`
	QRData           string        `json:"qrData,omitempty"`
	Guest            *qr.GuestRef  `json:"guest,omitempty"`
	Guests           []qr.GuestRef `json:"guests,omitempty"`
	HostID           *int64        `json:"hostId,omitempty"`
	LocationID       *int64        `json:"locationId,omitempty"`
	OverrideReason   string        `json:"overrideReason,omitempty"`
	OverridePassword string        `json:"overridePassword,omitempty"`
}

type checkInResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Results []checkin.Result `json:"results"`
	Summary checkin.Summary  `json:"summary"`
}

func (h *CheckInHandler) checkIn(w http.ResponseWriter, r *http.Request) {
	var in checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "invalid json")
		return
	}

	req := &checkin.Request{
		Token:            in.Token,
		QRData:           in.QRData,
		Guests:           in.Guests,
		HostID:           in.HostID,
		LocationID:       in.LocationID,
		OverrideReason:   in.OverrideReason,
		OverridePassword: in.OverridePassword,
	}
	if in.Guest != nil {
		req.Guests = append([]qr.GuestRef{*in.Guest}, req.Guests...)
	}
	if claims := middleware.Claims(r); claims != nil {
		req.ActorID = &claims.Sub
	}

	batch, err := h.Orchestrator.CheckIn(r.Context(), req)
	if err != nil {
		logger.ErrorContext(r.Context(), "Check-in failed", "error", err)
		response.InternalError(w, "check-in failed")
		return
	}

	resp := checkInResponse{
		Success: batch.Summary.Failed == 0,
		Results: batch.Results,
		Summary: batch.Summary,
	}
	if len(batch.Results) == 1 {
		resp.Message = batch.Results[0].Message
	}

	response.WriteJSON(w, statusFor(batch), resp)
}

// statusFor maps a batch outcome to an HTTP status. A mixed batch is a 207 so
// scanners render per-guest results instead of a single failure.
func statusFor(b *checkin.BatchResult) int {
	if b.Summary.Failed == 0 {
		return http.StatusOK
	}
	if b.Summary.Successful > 0 {
		return http.StatusMultiStatus
	}

	first := b.Results[0]
	if first.SystemError {
		return http.StatusInternalServerError
	}
	switch first.Reason {
	case domain.ReasonInvalidQRFormat, domain.ReasonInvalidSignature, domain.ReasonQRExpired, domain.ReasonUnknownHost:
		return http.StatusBadRequest
	case domain.ReasonOverridePasswordWrong:
		return http.StatusUnauthorized
	default:
		return http.StatusConflict
	}
}

type VisitHandler struct {
	Orchestrator *checkin.Orchestrator
}

func NewVisitHandler(o *checkin.Orchestrator) *VisitHandler {
	return &VisitHandler{Orchestrator: o}
}

func (h *VisitHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/checkout", h.checkout)
	return r
}

func (h *VisitHandler) checkout(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid visit id")
		return
	}

	done, err := h.Orchestrator.CheckOut(r.Context(), id)
	if err != nil {
		if errors.Is(err, checkin.ErrVisitNotFound) {
			response.NotFound(w, "visit not found")
			return
		}
		logger.ErrorContext(r.Context(), "Checkout failed", "error", err, "visit_id", id)
		response.InternalError(w, "checkout failed")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"visitId":    id,
		"checkedOut": done,
	})
}
