package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/domain"
	"github.com/gatewise/guestgate/internal/gate"
	"github.com/gatewise/guestgate/internal/qr"
	"github.com/gatewise/guestgate/internal/repo"
	"github.com/gatewise/guestgate/pkg/config"
	"github.com/gatewise/guestgate/pkg/events"
	"github.com/gatewise/guestgate/pkg/logger"
)

// ErrVisitNotFound is returned when a checkout references an unknown visit.
var ErrVisitNotFound = errors.New("visit not found")

// State tracks a single guest's progress through the admission pipeline,
// mostly for logging and operator-facing diagnostics.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateIdentityResolved State = "IDENTITY_RESOLVED"
	StateReentryCheck     State = "REENTRY_CHECK"
	StateGatesRunning     State = "GATES_RUNNING"
	StateAdmitted         State = "ADMITTED"
	StateNeedsOverride    State = "NEEDS_OVERRIDE"
	StateRejected         State = "REJECTED"
	StateVisitPersisted   State = "VISIT_PERSISTED"
	StateDiscountEval     State = "DISCOUNT_EVAL"
	StateDone             State = "DONE"
)

// Request is one check-in attempt, single or batch. Exactly one of Token,
// QRData, or Guests carries the guest references.
type Request struct {
	Token            string       `json:"token,omitempty"`
	QRData           string       `json:"qrData,omitempty"`
	Guests           []qr.GuestRef `json:"guests,omitempty"`
	HostID           *int64       `json:"hostId,omitempty"`
	LocationID       *int64       `json:"locationId,omitempty"`
	OverrideReason   string       `json:"overrideReason,omitempty"`
	OverridePassword string       `json:"overridePassword,omitempty"`

	// ActorID is the authenticated operator driving the scan; it may
	// differ from the sponsoring host.
	ActorID *int64 `json:"-"`
}

func (r *Request) overrideAttempted() bool {
	return r.OverridePassword != "" || r.OverrideReason != ""
}

// Result is the outcome for one guest. A batch response carries one per
// guest plus a summary; one guest's rejection never blocks siblings.
type Result struct {
	Success          bool          `json:"success"`
	State            State         `json:"state"`
	GuestEmail       string        `json:"guestEmail,omitempty"`
	GuestName        string        `json:"guestName,omitempty"`
	Reason           domain.Reason `json:"reason,omitempty"`
	Message          string        `json:"message,omitempty"`
	Overridable      bool          `json:"overridable,omitempty"`
	CurrentCount     int           `json:"currentCount,omitempty"`
	MaxCount         int           `json:"maxCount,omitempty"`
	NextEligibleDate *time.Time    `json:"nextEligibleDate,omitempty"`
	VisitID          int64         `json:"visitId,omitempty"`
	CheckedInAt      *time.Time    `json:"checkedInAt,omitempty"`
	ExpiresAt        *time.Time    `json:"expiresAt,omitempty"`
	DiscountSent     bool          `json:"discountSent,omitempty"`
	AlreadyInside    bool          `json:"alreadyInside,omitempty"`
	CurrentHost      string        `json:"currentHost,omitempty"`

	// SystemError marks infrastructure faults the caller may retry.
	SystemError bool `json:"-"`
}

type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type BatchResult struct {
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Orchestrator composes the validator, the gates, the re-entry detector, the
// override authorizer, and the discount trigger into one decision per guest.
type Orchestrator struct {
	guests      repo.GuestRepository
	visits      repo.VisitRepository
	hosts       repo.HostRepository
	locations   repo.LocationRepository
	policies    repo.PolicyRepository
	invitations repo.InvitationRepository

	validator  *qr.Validator
	blacklist  *gate.BlacklistGate
	acceptance *gate.AcceptanceGate
	rolling    *gate.RollingWindowLimiter
	concurrent *gate.ConcurrencyLimiter
	capacity   *gate.CapacityGate
	cutoff     *gate.TimeCutoffGate

	reentry    *ReEntryDetector
	authorizer *OverrideAuthorizer
	discounts  *DiscountTrigger

	clock *clock.Clock
	bus   events.Publisher
	cfg   config.CheckInConfig
}

type Deps struct {
	Guests      repo.GuestRepository
	Visits      repo.VisitRepository
	Consents    repo.ConsentRepository
	Hosts       repo.HostRepository
	Locations   repo.LocationRepository
	Policies    repo.PolicyRepository
	Invitations repo.InvitationRepository
	Discounts   *DiscountTrigger
	Clock       *clock.Clock
	Bus         events.Publisher
	Config      config.CheckInConfig
}

func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{
		guests:      d.Guests,
		visits:      d.Visits,
		hosts:       d.Hosts,
		locations:   d.Locations,
		policies:    d.Policies,
		invitations: d.Invitations,
		validator:   qr.NewValidator(d.Config.QRSecret),
		blacklist:   gate.NewBlacklistGate(),
		acceptance:  gate.NewAcceptanceGate(d.Consents),
		rolling:     gate.NewRollingWindowLimiter(d.Visits, d.Clock),
		concurrent:  gate.NewConcurrencyLimiter(d.Visits),
		capacity:    gate.NewCapacityGate(d.Visits, d.Clock),
		cutoff:      gate.NewTimeCutoffGate(d.Clock, d.Config.DefaultCutoffHour),
		reentry:     NewReEntryDetector(d.Visits, d.Hosts),
		authorizer:  NewOverrideAuthorizer(d.Config.OverridePasswordHash),
		discounts:   d.Discounts,
		clock:       d.Clock,
		bus:         d.Bus,
		cfg:         d.Config,
	}
}

// CheckIn runs the full state machine once per referenced guest. Guests in a
// batch are processed sequentially within the request; concurrency across
// requests is handled by the guarded visit insert.
func (o *Orchestrator) CheckIn(ctx context.Context, req *Request) (*BatchResult, error) {
	now := o.clock.Now()

	guests, hostID, scanReason := o.resolveGuests(req, now)
	if scanReason != "" {
		return rejectAll(scanReason), nil
	}

	host, result := o.resolveHost(ctx, req, hostID)
	if result != nil {
		return singleFailure(*result), nil
	}

	loc, err := o.resolveLocation(ctx, req, host)
	if err != nil {
		return nil, fmt.Errorf("resolve location: %w", err)
	}

	policy, err := o.policies.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	actor := host
	if req.ActorID != nil && (host == nil || *req.ActorID != host.ID) {
		if a, err := o.hosts.FindByID(ctx, *req.ActorID); err == nil && a != nil {
			actor = a
		}
	}

	batch := &BatchResult{}
	for _, g := range guests {
		res := o.checkInOne(ctx, g, host, actor, loc, policy, req, now)
		batch.Results = append(batch.Results, res)
	}

	batch.Summary.Total = len(batch.Results)
	for _, r := range batch.Results {
		if r.Success {
			batch.Summary.Successful++
		} else {
			batch.Summary.Failed++
		}
	}
	return batch, nil
}

// resolveGuests turns the request's token / raw scan / direct guest list
// into guest references. The returned reason is non-empty when the scanned
// payload itself is invalid.
func (o *Orchestrator) resolveGuests(req *Request, now time.Time) ([]qr.GuestRef, *int64, domain.Reason) {
	switch {
	case req.Token != "":
		res := o.validator.ValidateToken(req.Token)
		if !res.Valid {
			return nil, nil, res.Reason
		}
		return res.Guests, res.HostID, ""
	case req.QRData != "":
		res := o.validator.Validate(req.QRData, now)
		if !res.Valid {
			return nil, nil, res.Reason
		}
		return res.Guests, res.HostID, ""
	case len(req.Guests) > 0:
		for _, g := range req.Guests {
			if g.Email == "" || g.Name == "" {
				return nil, nil, domain.ReasonInvalidQRFormat
			}
		}
		return req.Guests, nil, ""
	default:
		return nil, nil, domain.ReasonInvalidQRFormat
	}
}

func (o *Orchestrator) resolveHost(ctx context.Context, req *Request, payloadHostID *int64) (*domain.Host, *Result) {
	hostID := req.HostID
	if hostID == nil {
		hostID = payloadHostID
	}
	if hostID == nil {
		hostID = req.ActorID
	}
	if hostID == nil {
		r := rejected(StateReceived, domain.ReasonUnknownHost)
		return nil, &r
	}

	host, err := o.hosts.FindByID(ctx, *hostID)
	if err != nil {
		r := systemError("resolving host failed")
		return nil, &r
	}
	if host == nil {
		r := rejected(StateReceived, domain.ReasonUnknownHost)
		return nil, &r
	}
	return host, nil
}

func (o *Orchestrator) resolveLocation(ctx context.Context, req *Request, host *domain.Host) (*domain.Location, error) {
	locID := req.LocationID
	if locID == nil && host != nil {
		locID = host.LocationID
	}
	if locID == nil {
		return nil, nil
	}
	return o.locations.FindByID(ctx, *locID)
}

func (o *Orchestrator) checkInOne(ctx context.Context, ref qr.GuestRef, host, actor *domain.Host, loc *domain.Location, policy domain.Policy, req *Request, now time.Time) Result {
	guest, err := o.guests.CreateOrFetch(ctx, ref.Email, ref.Name, ref.Phone)
	if err != nil {
		logger.ErrorContext(ctx, "Check-in: guest upsert failed", "error", err, "email", ref.Email)
		return withGuest(systemError("registering guest failed"), ref)
	}

	// Re-entry runs before any gate: a guest already inside is a success,
	// not a fresh admission.
	re, err := o.reentry.Detect(ctx, guest.ID, host.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Check-in: re-entry detection failed", "error", err, "guest_id", guest.ID)
		return withGuest(systemError("re-entry check failed"), ref)
	}
	if re != nil {
		res := Result{
			Success:       true,
			State:         StateDone,
			GuestEmail:    guest.Email,
			GuestName:     guest.Name,
			VisitID:       re.Visit.ID,
			CheckedInAt:   &re.Visit.CheckedInAt,
			ExpiresAt:     &re.Visit.ExpiresAt,
			AlreadyInside: true,
			Message:       "Guest is already checked in",
		}
		if !re.SameHost && re.CurrentHost != nil {
			res.CurrentHost = re.CurrentHost.Name
			res.Message = fmt.Sprintf("Guest is already checked in with %s", re.CurrentHost.Name)
		}
		return res
	}

	// Identity gates: never overridable.
	if out := o.blacklist.Check(guest); !out.Allowed {
		return rejectedFor(ref, out)
	}

	out, err := o.acceptance.Check(ctx, guest.ID, now, true)
	if err != nil {
		logger.ErrorContext(ctx, "Check-in: consent lookup failed", "error", err, "guest_id", guest.ID)
		return withGuest(systemError("consent lookup failed"), ref)
	}
	if !out.Allowed {
		res := rejectedFor(ref, out)
		if out.Reason == domain.ReasonConsentRenewalFailed {
			res.SystemError = true
		}
		return res
	}

	// Site gates: a closed location is never overridable, so both run ahead
	// of the quota failures the authorizer can bypass.
	if loc != nil && !loc.IsActive {
		return rejectedFor(ref, gate.Deny(domain.ReasonLocationClosed))
	}
	if out := o.cutoff.Check(loc, now); !out.Allowed {
		return rejectedFor(ref, out)
	}

	// Quota gates.
	out, err = o.rolling.Check(ctx, guest.ID, policy, now)
	if err != nil {
		logger.ErrorContext(ctx, "Check-in: rolling window check failed", "error", err, "guest_id", guest.ID)
		return withGuest(systemError("visit count lookup failed"), ref)
	}
	if !out.Allowed {
		return rejectedFor(ref, out)
	}

	out, err = o.concurrent.Check(ctx, host.ID, locIDOf(loc), policy)
	if err != nil {
		logger.ErrorContext(ctx, "Check-in: concurrency check failed", "error", err, "host_id", host.ID)
		return withGuest(systemError("active visit lookup failed"), ref)
	}
	if !out.Allowed {
		return o.handleQuotaFailure(ctx, ref, guest, host, actor, loc, policy, req, now, out)
	}

	out, err = o.capacity.Check(ctx, loc, now)
	if err != nil {
		logger.ErrorContext(ctx, "Check-in: capacity check failed", "error", err)
		return withGuest(systemError("capacity lookup failed"), ref)
	}
	if !out.Allowed {
		if out.Overridable() {
			return o.handleQuotaFailure(ctx, ref, guest, host, actor, loc, policy, req, now, out)
		}
		return rejectedFor(ref, out)
	}

	return o.persist(ctx, ref, guest, host, loc, policy, now, nil, nil)
}

// handleQuotaFailure routes an overridable rejection through the authorizer
// when the caller attempted one, and otherwise reports NEEDS_OVERRIDE with
// the counts an override dialog displays.
func (o *Orchestrator) handleQuotaFailure(ctx context.Context, ref qr.GuestRef, guest *domain.Guest, host, actor *domain.Host, loc *domain.Location, policy domain.Policy, req *Request, now time.Time, out gate.Outcome) Result {
	if !req.overrideAttempted() {
		return needsOverride(ref, out)
	}

	if err := o.authorizer.Authorize(actor, req.OverridePassword, req.OverrideReason); err != nil {
		if errors.Is(err, ErrOverridePasswordIncorrect) {
			res := rejected(StateNeedsOverride, domain.ReasonOverridePasswordWrong)
			res = withGuest(res, ref)
			res.Overridable = true
			res.CurrentCount = out.Current
			res.MaxCount = out.Max
			return res
		}
		res := needsOverride(ref, out)
		res.Message = err.Error()
		return res
	}

	logger.InfoContext(ctx, "Override approved",
		"guest_id", guest.ID,
		"actor_id", actor.ID,
		"reason", req.OverrideReason,
		"bypassed", string(out.Reason),
	)

	reason := req.OverrideReason
	res := o.persist(ctx, ref, guest, host, loc, policy, now, &reason, &actor.ID)
	if res.Success && o.bus != nil {
		event := events.VisitOverriddenEvent{
			VisitID:    res.VisitID,
			GuestEmail: guest.Email,
			Reason:     reason,
			ApprovedBy: actor.ID,
			ApprovedAt: now,
		}
		if err := o.bus.Publish(ctx, events.VisitOverridden, event); err != nil {
			logger.ErrorContext(ctx, "Check-in: override event publish failed", "error", err)
		}
	}
	return res
}

// persist inserts the visit under the transactional guard, then runs the
// best-effort tail: invitation transition, events, discount evaluation.
func (o *Orchestrator) persist(ctx context.Context, ref qr.GuestRef, guest *domain.Guest, host *domain.Host, loc *domain.Location, policy domain.Policy, now time.Time, overrideReason *string, overrideBy *int64) Result {
	guard := repo.VisitGuard{}
	if overrideReason == nil {
		guard.HostLimit = policy.ConcurrentLimit()
		if loc != nil {
			guard.LocationCapacity = loc.Capacity()
		}
	}
	if loc != nil {
		guard.DayStart, guard.DayEnd = o.clock.DayRange(now)
	}

	nv := domain.NewVisit{
		GuestID:        guest.ID,
		HostID:         host.ID,
		LocationID:     locIDOf(loc),
		CheckedInAt:    now,
		ExpiresAt:      now.Add(o.cfg.VisitTTL),
		OverrideReason: overrideReason,
		OverrideBy:     overrideBy,
	}

	visit, err := o.visits.Create(ctx, nv, guard)
	if err != nil {
		var limitErr *repo.LimitExceededError
		if errors.As(err, &limitErr) {
			// Lost the race between the gate read and the insert.
			out := gate.Deny(limitErr.Reason)
			out.Current = limitErr.Current
			out.Max = limitErr.Max
			return needsOverride(ref, out)
		}
		logger.ErrorContext(ctx, "Check-in: visit insert failed", "error", err, "guest_id", guest.ID)
		return withGuest(systemError("persisting visit failed"), ref)
	}

	if o.invitations != nil {
		if err := o.invitations.MarkCheckedIn(ctx, guest.ID, host.ID); err != nil {
			logger.WarnContext(ctx, "Check-in: invitation transition failed", "error", err, "guest_id", guest.ID)
		}
	}

	if o.bus != nil {
		event := events.VisitCheckedInEvent{
			VisitID:     visit.ID,
			GuestEmail:  guest.Email,
			GuestName:   guest.Name,
			HostID:      host.ID,
			LocationID:  visit.LocationID,
			CheckedInAt: visit.CheckedInAt,
			ExpiresAt:   visit.ExpiresAt,
			Overridden:  overrideReason != nil,
		}
		if err := o.bus.Publish(ctx, events.VisitCheckedIn, event); err != nil {
			logger.ErrorContext(ctx, "Check-in: event publish failed", "error", err, "visit_id", visit.ID)
		}

		if host.Email != "" {
			notice := events.NotificationEvent{
				Type:      "guest_checked_in",
				Recipient: host.Email,
				Subject:   fmt.Sprintf("%s just checked in", guest.Name),
				Template:  "guest_checked_in",
				Data: map[string]interface{}{
					"recipientName": host.Name,
					"text":          fmt.Sprintf("%s (%s) checked in at %s.", guest.Name, guest.Email, visit.CheckedInAt.Format("15:04")),
				},
			}
			if err := o.bus.Publish(ctx, events.NotifySend, notice); err != nil {
				logger.ErrorContext(ctx, "Check-in: notification publish failed", "error", err, "visit_id", visit.ID)
			}
		}
	}

	discountSent := false
	if o.discounts != nil {
		discountSent = o.discounts.Evaluate(ctx, guest)
	}

	return Result{
		Success:      true,
		State:        StateDone,
		GuestEmail:   guest.Email,
		GuestName:    guest.Name,
		VisitID:      visit.ID,
		CheckedInAt:  &visit.CheckedInAt,
		ExpiresAt:    &visit.ExpiresAt,
		DiscountSent: discountSent,
	}
}

// CheckOut closes an open visit. Checking out twice is a no-op signalled to
// the caller, not an error.
func (o *Orchestrator) CheckOut(ctx context.Context, visitID int64) (bool, error) {
	now := o.clock.Now()

	visit, err := o.visits.GetByID(ctx, visitID)
	if err != nil {
		return false, fmt.Errorf("load visit: %w", err)
	}
	if visit == nil {
		return false, ErrVisitNotFound
	}

	done, err := o.visits.Checkout(ctx, visitID, now)
	if err != nil {
		return false, fmt.Errorf("checkout visit: %w", err)
	}
	if done && o.bus != nil {
		guest, _ := o.guests.FindByID(ctx, visit.GuestID)
		event := events.VisitCheckedOutEvent{
			VisitID:      visitID,
			CheckedOutAt: now,
		}
		if guest != nil {
			event.GuestEmail = guest.Email
		}
		if err := o.bus.Publish(ctx, events.VisitCheckedOut, event); err != nil {
			logger.ErrorContext(ctx, "Checkout: event publish failed", "error", err, "visit_id", visitID)
		}
	}
	return done, nil
}

// ---- result helpers ----

func rejected(state State, reason domain.Reason) Result {
	return Result{
		Success: false,
		State:   state,
		Reason:  reason,
		Message: reason.Message(),
	}
}

func rejectedFor(ref qr.GuestRef, out gate.Outcome) Result {
	res := rejected(StateRejected, out.Reason)
	res = withGuest(res, ref)
	res.CurrentCount = out.Current
	res.MaxCount = out.Max
	res.NextEligibleDate = out.NextEligibleAt
	return res
}

func needsOverride(ref qr.GuestRef, out gate.Outcome) Result {
	res := rejected(StateNeedsOverride, out.Reason)
	res = withGuest(res, ref)
	res.Overridable = true
	res.CurrentCount = out.Current
	res.MaxCount = out.Max
	return res
}

func withGuest(res Result, ref qr.GuestRef) Result {
	res.GuestEmail = ref.Email
	res.GuestName = ref.Name
	return res
}

func systemError(msg string) Result {
	return Result{
		Success:     false,
		State:       StateRejected,
		Message:     msg,
		SystemError: true,
	}
}

func rejectAll(reason domain.Reason) *BatchResult {
	return singleFailure(rejected(StateReceived, reason))
}

func singleFailure(res Result) *BatchResult {
	return &BatchResult{
		Results: []Result{res},
		Summary: Summary{Total: 1, Failed: 1},
	}
}

func locIDOf(loc *domain.Location) *int64 {
	if loc == nil {
		return nil
	}
	return &loc.ID
}
