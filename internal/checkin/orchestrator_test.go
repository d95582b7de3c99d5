package checkin

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/platform/mailer"
	"github.com/gatewise/guestgate/internal/qr"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/internal/repo/memory"
	"github.com/gatewise/guestgate/pkg/config"
)

var testNow = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

const (
	testQRSecret     = "test-qr-secret"
	testOverridePass = "let-them-in"
)

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(_ context.Context, subject string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, subject)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) count(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.published {
		if s == subject {
			n++
		}
	}
	return n
}

type fixture struct {
	store *memory.Store
	bus   *fakeBus
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hash, err := argon2id.CreateHash(testOverridePass, argon2id.DefaultParams)
	if err != nil {
		t.Fatal(err)
	}

	store := memory.NewStore()
	bus := &fakeBus{}
	cfg := config.CheckInConfig{
		Timezone:             "UTC",
		DefaultCutoffHour:    23,
		VisitTTL:             12 * time.Hour,
		QRSecret:             testQRSecret,
		OverridePasswordHash: hash,
	}

	discounts := NewDiscountTrigger(store, store, nil, mailer.NewDevMailer(), bus)
	orch := NewOrchestrator(Deps{
		Guests:      store,
		Visits:      store,
		Consents:    memory.ConsentStore{Store: store},
		Hosts:       memory.HostStore{Store: store},
		Locations:   memory.LocationStore{Store: store},
		Policies:    memory.PolicyStore{Store: store},
		Invitations: memory.InvitationStore{Store: store},
		Discounts:   discounts,
		Clock:       clock.NewFixed(testNow, "UTC"),
		Bus:         bus,
		Config:      cfg,
	})

	// Standard cast: a plain host, a security lead, and an open location.
	store.Hosts[10] = &domain.Host{ID: 10, Email: "hank@example.com", Name: "Hank", Role: domain.RoleHost}
	store.Hosts[11] = &domain.Host{ID: 11, Email: "sig@example.com", Name: "Sig", Role: domain.RoleSecurity}

	return &fixture{store: store, bus: bus, orch: orch}
}

// seedGuest registers a guest with a current consent and returns the ID.
func (f *fixture) seedGuest(t *testing.T, email, name string) int64 {
	t.Helper()
	g, err := f.store.CreateOrFetch(context.Background(), email, name, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateConsent(context.Background(), g.ID, testNow.AddDate(0, 0, -1)); err != nil {
		t.Fatal(err)
	}
	return g.ID
}

func hostID10() *int64 { v := int64(10); return &v }

func singleGuestReq(email, name string) *Request {
	return &Request{
		Guests: []qr.GuestRef{{Email: email, Name: name}},
		HostID: hostID10(),
	}
}

func TestCheckInHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}

	if batch.Summary.Total != 1 || batch.Summary.Successful != 1 {
		t.Fatalf("summary = %+v", batch.Summary)
	}
	res := batch.Results[0]
	if !res.Success || res.State != StateDone {
		t.Fatalf("result = %+v", res)
	}
	if res.VisitID == 0 || res.CheckedInAt == nil || !res.CheckedInAt.Equal(testNow) {
		t.Fatalf("visit stamps wrong: %+v", res)
	}
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(testNow.Add(12*time.Hour)) {
		t.Fatalf("expiresAt = %v", res.ExpiresAt)
	}
	if f.bus.count("visit.checked_in") != 1 {
		t.Fatal("checked_in event not published")
	}
}

func TestCheckInReEntryIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")

	first, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}

	res := second.Results[0]
	if !res.Success || !res.AlreadyInside {
		t.Fatalf("re-scan should be an idempotent success: %+v", res)
	}
	if res.VisitID != first.Results[0].VisitID {
		t.Fatal("re-scan must return the existing visit")
	}
	if len(f.store.Visits) != 1 {
		t.Fatalf("re-scan created a visit: %d total", len(f.store.Visits))
	}
}

func TestCheckInReEntryCrossHost(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")

	if _, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana")); err != nil {
		t.Fatal(err)
	}

	other := int64(11)
	req := &Request{Guests: []qr.GuestRef{{Email: "ana@example.com", Name: "Ana"}}, HostID: &other}
	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if !res.Success || !res.AlreadyInside {
		t.Fatalf("cross-host re-scan should succeed: %+v", res)
	}
	if res.CurrentHost != "Hank" {
		t.Fatalf("owning host not surfaced: %q", res.CurrentHost)
	}
}

func TestCheckInBlacklistedNoOverrideOffered(t *testing.T) {
	f := newFixture(t)
	id := f.seedGuest(t, "mal@example.com", "Mal")
	ts := testNow.Add(-time.Hour)
	if err := f.store.SetBlacklisted(context.Background(), id, &ts); err != nil {
		t.Fatal(err)
	}

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("mal@example.com", "Mal"))
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if res.Success || res.Reason != domain.ReasonBlacklisted {
		t.Fatalf("result = %+v", res)
	}
	if res.Overridable || res.State == StateNeedsOverride {
		t.Fatal("blacklist rejection must not offer an override")
	}
}

func TestCheckInConsentMissing(t *testing.T) {
	f := newFixture(t)
	// Guest never consented.
	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("new@example.com", "New"))
	if err != nil {
		t.Fatal(err)
	}
	res := batch.Results[0]
	if res.Success || res.Reason != domain.ReasonConsentMissing {
		t.Fatalf("result = %+v", res)
	}
}

func TestCheckInExpiredConsentRenewsInline(t *testing.T) {
	f := newFixture(t)
	g, err := f.store.CreateOrFetch(context.Background(), "old@example.com", "Old", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.CreateConsent(context.Background(), g.ID, testNow.AddDate(-2, 0, 0)); err != nil {
		t.Fatal(err)
	}

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("old@example.com", "Old"))
	if err != nil {
		t.Fatal(err)
	}
	if !batch.Results[0].Success {
		t.Fatalf("returning guest with lapsed consent should be admitted: %+v", batch.Results[0])
	}
	if len(f.store.Acceptances) != 2 {
		t.Fatal("renewal consent not recorded")
	}
}

func TestCheckInMonthlyLimit(t *testing.T) {
	f := newFixture(t)
	id := f.seedGuest(t, "freq@example.com", "Freq")

	oldest := testNow.Add(-25 * 24 * time.Hour)
	f.seedVisitClosed(t, id, 10, oldest)
	f.seedVisitClosed(t, id, 10, testNow.Add(-15*24*time.Hour))
	f.seedVisitClosed(t, id, 10, testNow.Add(-5*24*time.Hour))

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("freq@example.com", "Freq"))
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if res.Success || res.Reason != domain.ReasonMonthlyLimitExceeded {
		t.Fatalf("result = %+v", res)
	}
	if res.CurrentCount != 3 || res.MaxCount != 3 {
		t.Fatalf("counts = %d/%d", res.CurrentCount, res.MaxCount)
	}
	want := oldest.Add(30*24*time.Hour + time.Second)
	if res.NextEligibleDate == nil || !res.NextEligibleDate.Equal(want) {
		t.Fatalf("nextEligibleDate = %v, want %v", res.NextEligibleDate, want)
	}
	if res.Overridable {
		t.Fatal("monthly limit is not overridable")
	}
}

func TestCheckInHostAtCapacityNeedsOverride(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")
	f.fillHost(t, 10, 3)

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if res.Success || res.State != StateNeedsOverride {
		t.Fatalf("result = %+v", res)
	}
	if res.Reason != domain.ReasonHostAtCapacity || !res.Overridable {
		t.Fatalf("result = %+v", res)
	}
	if res.CurrentCount != 3 || res.MaxCount != 3 {
		t.Fatalf("counts = %d/%d", res.CurrentCount, res.MaxCount)
	}
}

func TestCheckInOverrideApproved(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")
	f.fillHost(t, 10, 3)

	actor := int64(11) // security
	req := singleGuestReq("ana@example.com", "Ana")
	req.ActorID = &actor
	req.OverridePassword = testOverridePass
	req.OverrideReason = "VIP walk-in approved by floor lead"

	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if !res.Success {
		t.Fatalf("override should admit: %+v", res)
	}

	v := f.store.Visits[res.VisitID]
	if v.OverrideReason == nil || *v.OverrideReason != req.OverrideReason {
		t.Fatal("override reason not recorded on the visit")
	}
	if v.OverrideBy == nil || *v.OverrideBy != actor {
		t.Fatal("override approver not recorded")
	}
	if f.bus.count("visit.overridden") != 1 {
		t.Fatal("override event not published")
	}
}

func TestCheckInOverrideWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")
	f.fillHost(t, 10, 3)

	actor := int64(11)
	req := singleGuestReq("ana@example.com", "Ana")
	req.ActorID = &actor
	req.OverridePassword = "wrong"
	req.OverrideReason = "trying anyway"

	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if res.Success || res.Reason != domain.ReasonOverridePasswordWrong {
		t.Fatalf("result = %+v", res)
	}
	if len(f.store.Visits) != 3 {
		t.Fatal("failed override must not create a visit")
	}
}

func TestCheckInOverrideRequiresAuthorizedRole(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")
	f.fillHost(t, 10, 3)

	// Actor 10 is a plain host: correct password, insufficient role.
	req := singleGuestReq("ana@example.com", "Ana")
	req.OverridePassword = testOverridePass
	req.OverrideReason = "please"

	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if res.Success {
		t.Fatal("plain host must not override")
	}
	if res.State != StateNeedsOverride || res.Reason != domain.ReasonHostAtCapacity {
		t.Fatalf("result = %+v", res)
	}
}

func TestCheckInDiscountOnThirdVisit(t *testing.T) {
	f := newFixture(t)
	id := f.seedGuest(t, "ana@example.com", "Ana")

	// Two prior lifetime visits, both outside the rolling window.
	f.seedVisitClosed(t, id, 10, testNow.Add(-90*24*time.Hour))
	f.seedVisitClosed(t, id, 10, testNow.Add(-60*24*time.Hour))

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if !res.Success || !res.DiscountSent {
		t.Fatalf("third lifetime visit should grant the reward: %+v", res)
	}
	if f.store.Discounts[id] == nil {
		t.Fatal("discount record missing")
	}
	if f.bus.count("discount.granted") != 1 {
		t.Fatal("discount event not published")
	}
}

func TestCheckInDiscountGrantedOnlyOnce(t *testing.T) {
	f := newFixture(t)
	id := f.seedGuest(t, "ana@example.com", "Ana")

	f.seedVisitClosed(t, id, 10, testNow.Add(-90*24*time.Hour))
	f.seedVisitClosed(t, id, 10, testNow.Add(-60*24*time.Hour))
	f.seedVisitClosed(t, id, 10, testNow.Add(-45*24*time.Hour))
	f.store.Discounts[id] = &domain.Discount{ID: 99, GuestID: id, Code: "VISIT3-EXISTING"}

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}

	res := batch.Results[0]
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.DiscountSent {
		t.Fatal("fourth visit must not re-grant")
	}
	if f.store.Discounts[id].Code != "VISIT3-EXISTING" {
		t.Fatal("existing discount must be untouched")
	}
}

func TestDiscountConcurrentEvaluateGrantsOnce(t *testing.T) {
	f := newFixture(t)
	id := f.seedGuest(t, "ana@example.com", "Ana")

	f.seedVisitClosed(t, id, 10, testNow.Add(-90*24*time.Hour))
	f.seedVisitClosed(t, id, 10, testNow.Add(-60*24*time.Hour))
	f.seedVisitAt(t, id, 10, testNow)

	guest, err := f.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	trigger := NewDiscountTrigger(f.store, f.store, nil, mailer.NewDevMailer(), f.bus)

	// Two racing evaluations for the same milestone visit.
	granted := make(chan bool, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted <- trigger.Evaluate(context.Background(), guest)
		}()
	}
	wg.Wait()
	close(granted)

	grants := 0
	for g := range granted {
		if g {
			grants++
		}
	}
	if grants != 1 {
		t.Fatalf("grants = %d, want exactly 1", grants)
	}
	if len(f.store.Discounts) != 1 {
		t.Fatalf("discounts = %d, want 1", len(f.store.Discounts))
	}
	if f.bus.count("discount.granted") != 1 {
		t.Fatal("discount event should publish exactly once")
	}
}

func TestCheckInBatchMixedOutcomes(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")
	malID := f.seedGuest(t, "mal@example.com", "Mal")
	ts := testNow.Add(-time.Hour)
	if err := f.store.SetBlacklisted(context.Background(), malID, &ts); err != nil {
		t.Fatal(err)
	}

	req := &Request{
		Guests: []qr.GuestRef{
			{Email: "ana@example.com", Name: "Ana"},
			{Email: "mal@example.com", Name: "Mal"},
		},
		HostID: hostID10(),
	}
	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if batch.Summary.Total != 2 || batch.Summary.Successful != 1 || batch.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", batch.Summary)
	}
	if !batch.Results[0].Success || batch.Results[1].Success {
		t.Fatalf("per-guest outcomes wrong: %+v", batch.Results)
	}
}

func TestCheckInSignedBatchQR(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")

	host := int64(10)
	exp := testNow.Add(time.Hour)
	p := qr.Payload{
		Guests:    []qr.GuestRef{{Email: "ana@example.com", Name: "Ana"}},
		HostID:    &host,
		ExpiresAt: &exp,
	}
	p.Signature = qr.Sign(p, testQRSecret)

	raw, err := jsonMarshal(p)
	if err != nil {
		t.Fatal(err)
	}

	batch, err := f.orch.CheckIn(context.Background(), &Request{QRData: raw})
	if err != nil {
		t.Fatal(err)
	}
	if !batch.Results[0].Success {
		t.Fatalf("signed batch scan should admit: %+v", batch.Results[0])
	}
}

func TestCheckInInvalidQR(t *testing.T) {
	f := newFixture(t)

	batch, err := f.orch.CheckIn(context.Background(), &Request{QRData: "{not json"})
	if err != nil {
		t.Fatal(err)
	}
	if batch.Summary.Failed != 1 || batch.Results[0].Reason != domain.ReasonInvalidQRFormat {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestCheckInUnknownHost(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")

	ghost := int64(404)
	req := &Request{Guests: []qr.GuestRef{{Email: "ana@example.com", Name: "Ana"}}, HostID: &ghost}
	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Results[0].Reason != domain.ReasonUnknownHost {
		t.Fatalf("result = %+v", batch.Results[0])
	}
}

func TestCheckInCutoffCloses(t *testing.T) {
	f := newFixture(t)
	f.store.Locations[1] = &domain.Location{ID: 1, Name: "HQ", IsActive: true, DailyVisitCapacity: 100, CheckInCutoffHour: 13}
	f.seedGuest(t, "ana@example.com", "Ana")

	loc := int64(1)
	req := singleGuestReq("ana@example.com", "Ana")
	req.LocationID = &loc

	// Fixture clock reads 14:00, past a 13-hour cutoff.
	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	res := batch.Results[0]
	if res.Success || res.Reason != domain.ReasonLocationClosed {
		t.Fatalf("result = %+v", res)
	}
	if res.Overridable {
		t.Fatal("cutoff closure is not overridable")
	}
}

func TestCheckInOverrideCannotBypassCutoff(t *testing.T) {
	f := newFixture(t)
	f.store.Locations[1] = &domain.Location{ID: 1, Name: "HQ", IsActive: true, DailyVisitCapacity: 100, CheckInCutoffHour: 13}
	f.seedGuest(t, "ana@example.com", "Ana")
	f.fillHost(t, 10, 3)

	// Security lead, correct password: the host-capacity failure would be
	// overridable, but the site closed an hour ago.
	actor := int64(11)
	loc := int64(1)
	req := singleGuestReq("ana@example.com", "Ana")
	req.LocationID = &loc
	req.ActorID = &actor
	req.OverridePassword = testOverridePass
	req.OverrideReason = "late VIP"

	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	res := batch.Results[0]
	if res.Success {
		t.Fatal("approved override must not admit past the cutoff")
	}
	if res.Reason != domain.ReasonLocationClosed || res.Overridable {
		t.Fatalf("result = %+v", res)
	}
	if len(f.store.Visits) != 3 {
		t.Fatal("no visit may be created past the cutoff")
	}
}

func TestCheckInOverrideCannotBypassInactiveLocation(t *testing.T) {
	f := newFixture(t)
	f.store.Locations[1] = &domain.Location{ID: 1, Name: "Annex", IsActive: false, DailyVisitCapacity: 100, CheckInCutoffHour: 23}
	f.seedGuest(t, "ana@example.com", "Ana")
	f.fillHost(t, 10, 3)

	actor := int64(11)
	loc := int64(1)
	req := singleGuestReq("ana@example.com", "Ana")
	req.LocationID = &loc
	req.ActorID = &actor
	req.OverridePassword = testOverridePass
	req.OverrideReason = "late VIP"

	batch, err := f.orch.CheckIn(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	res := batch.Results[0]
	if res.Success || res.Reason != domain.ReasonLocationClosed {
		t.Fatalf("result = %+v", res)
	}
	if res.Overridable {
		t.Fatal("closed location is not overridable")
	}
	if len(f.store.Visits) != 3 {
		t.Fatal("no visit may be created at a closed location")
	}
}

func TestCheckOutIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedGuest(t, "ana@example.com", "Ana")

	batch, err := f.orch.CheckIn(context.Background(), singleGuestReq("ana@example.com", "Ana"))
	if err != nil {
		t.Fatal(err)
	}
	id := batch.Results[0].VisitID

	done, err := f.orch.CheckOut(context.Background(), id)
	if err != nil || !done {
		t.Fatalf("first checkout: done=%v err=%v", done, err)
	}
	done, err = f.orch.CheckOut(context.Background(), id)
	if err != nil || done {
		t.Fatalf("second checkout must be a no-op: done=%v err=%v", done, err)
	}
	if f.bus.count("visit.checked_out") != 1 {
		t.Fatal("checkout event should publish exactly once")
	}
}

// ---- helpers ----

// seedVisitClosed inserts a finished visit for history building.
func (f *fixture) seedVisitClosed(t *testing.T, guestID, hostID int64, at time.Time) {
	t.Helper()
	v := f.seedVisitAt(t, guestID, hostID, at)
	out := at.Add(2 * time.Hour)
	if _, err := f.store.Checkout(context.Background(), v.ID, out); err != nil {
		t.Fatal(err)
	}
}

// fillHost opens n concurrent visits against the host.
func (f *fixture) fillHost(t *testing.T, hostID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		// Distinct well-established guests so only concurrency trips.
		gid := f.seedGuest(t, guestEmail(i), "Filler")
		f.seedVisitAt(t, gid, hostID, testNow.Add(-time.Hour))
	}
}

func (f *fixture) seedVisitAt(t *testing.T, guestID, hostID int64, at time.Time) *domain.Visit {
	t.Helper()
	v, err := f.store.Create(context.Background(), domain.NewVisit{
		GuestID:     guestID,
		HostID:      hostID,
		CheckedInAt: at,
		ExpiresAt:   at.Add(12 * time.Hour),
	}, noGuard())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func guestEmail(i int) string {
	return "filler" + string(rune('a'+i)) + "@example.com"
}

func noGuard() repo.VisitGuard { return repo.VisitGuard{} }

func jsonMarshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
