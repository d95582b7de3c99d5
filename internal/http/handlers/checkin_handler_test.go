package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatewise/guestgate/internal/checkin"
	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/platform/mailer"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/internal/repo/memory"
	"github.com/gatewise/guestgate/pkg/config"
)

var handlerNow = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*CheckInHandler, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	cfg := config.CheckInConfig{
		Timezone:          "UTC",
		DefaultCutoffHour: 23,
		VisitTTL:          12 * time.Hour,
		QRSecret:          "handler-test-secret",
	}
	discounts := checkin.NewDiscountTrigger(store, store, nil, mailer.NewDevMailer(), nil)
	orch := checkin.NewOrchestrator(checkin.Deps{
		Guests:      store,
		Visits:      store,
		Consents:    memory.ConsentStore{Store: store},
		Hosts:       memory.HostStore{Store: store},
		Locations:   memory.LocationStore{Store: store},
		Policies:    memory.PolicyStore{Store: store},
		Invitations: memory.InvitationStore{Store: store},
		Discounts:   discounts,
		Clock:       clock.NewFixed(handlerNow, "UTC"),
		Config:      cfg,
	})

	store.Hosts[10] = &domain.Host{ID: 10, Email: "hank@example.com", Name: "Hank", Role: domain.RoleHost}

	return NewCheckInHandler(orch), store
}

func seedConsentedGuest(t *testing.T, store *memory.Store, email, name string) int64 {
	t.Helper()
	g, err := store.CreateOrFetch(context.Background(), email, name, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateConsent(context.Background(), g.ID, handlerNow.AddDate(0, 0, -1)); err != nil {
		t.Fatal(err)
	}
	return g.ID
}

func postCheckIn(t *testing.T, h *CheckInHandler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) checkInResponse {
	t.Helper()
	var resp checkInResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestCheckInEndpointSuccess(t *testing.T) {
	h, store := newTestHandler(t)
	seedConsentedGuest(t, store, "ana@example.com", "Ana")

	rec := postCheckIn(t, h, map[string]any{
		"guest":  map[string]string{"e": "ana@example.com", "n": "Ana"},
		"hostId": 10,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Summary.Successful != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Results[0].VisitID == 0 {
		t.Fatal("visit id missing from result")
	}
}

func TestCheckInEndpointInvalidQR(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postCheckIn(t, h, map[string]any{"qrData": "{broken"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Results[0].Reason != domain.ReasonInvalidQRFormat {
		t.Fatalf("reason = %s", resp.Results[0].Reason)
	}
}

func TestCheckInEndpointMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCheckInEndpointQuotaConflict(t *testing.T) {
	h, store := newTestHandler(t)
	seedConsentedGuest(t, store, "ana@example.com", "Ana")

	// Fill the host to the default concurrent limit.
	for i := 0; i < domain.DefaultConcurrentLimit; i++ {
		gid := seedConsentedGuest(t, store, guestEmailN(i), "Filler")
		if _, err := store.Create(context.Background(), domain.NewVisit{
			GuestID:     gid,
			HostID:      10,
			CheckedInAt: handlerNow.Add(-time.Hour),
			ExpiresAt:   handlerNow.Add(11 * time.Hour),
		}, repo.VisitGuard{}); err != nil {
			t.Fatal(err)
		}
	}

	rec := postCheckIn(t, h, map[string]any{
		"guest":  map[string]string{"e": "ana@example.com", "n": "Ana"},
		"hostId": 10,
	})

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	res := resp.Results[0]
	if res.Reason != domain.ReasonHostAtCapacity || !res.Overridable {
		t.Fatalf("result = %+v", res)
	}
	if res.CurrentCount != domain.DefaultConcurrentLimit || res.MaxCount != domain.DefaultConcurrentLimit {
		t.Fatalf("counts = %d/%d", res.CurrentCount, res.MaxCount)
	}
}

func TestCheckInEndpointMixedBatchIs207(t *testing.T) {
	h, store := newTestHandler(t)
	seedConsentedGuest(t, store, "ana@example.com", "Ana")
	malID := seedConsentedGuest(t, store, "mal@example.com", "Mal")
	ts := handlerNow.Add(-time.Hour)
	if err := store.SetBlacklisted(context.Background(), malID, &ts); err != nil {
		t.Fatal(err)
	}

	rec := postCheckIn(t, h, map[string]any{
		"guests": []map[string]string{
			{"e": "ana@example.com", "n": "Ana"},
			{"e": "mal@example.com", "n": "Mal"},
		},
		"hostId": 10,
	})

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Fatal("mixed batch is not a full success")
	}
	if resp.Summary.Successful != 1 || resp.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", resp.Summary)
	}
}

func TestCheckInEndpointUnknownHostIs400(t *testing.T) {
	h, store := newTestHandler(t)
	seedConsentedGuest(t, store, "ana@example.com", "Ana")

	rec := postCheckIn(t, h, map[string]any{
		"guest":  map[string]string{"e": "ana@example.com", "n": "Ana"},
		"hostId": 404,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func guestEmailN(i int) string {
	return "filler" + string(rune('a'+i)) + "@example.com"
}
