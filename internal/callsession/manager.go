package callsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"counseling-platform/internal/telephony"

	"github.com/google/uuid"
)

var (
	// ErrValidation rejects malformed requests before any remote call.
	ErrValidation = errors.New("callsession: invalid request")

	// ErrConflict rejects admission when the student already has an active call.
	ErrConflict = errors.New("callsession: call already in progress for student")
)

// CallRequest is the explicit value object for requesting a counseling call.
type CallRequest struct {
	StudentID   string   `json:"student_id"`
	CallType    CallType `json:"call_type"`
	PhoneNumber string   `json:"phone_number"`
	InitiatedBy string   `json:"initiated_by"`
}

// ManagerConfig tunes admission and placement behavior.
type ManagerConfig struct {
	// LeaseTTL bounds the per-student admission lease.
	LeaseTTL time.Duration

	// FromNumber is the caller id for outbound calls.
	FromNumber string

	// StatusCallbackURL receives provider progress callbacks; empty means
	// poll-only reconciliation.
	StatusCallbackURL string
}

// Manager is the single authority for call admission and state transitions.
//
// Concurrency model: independent students proceed concurrently; the admission
// lease is the only serialization point. The store is written exclusively
// through this type.
type Manager struct {
	store    Store
	lease    AdmissionLease
	provider telephony.Provider
	cfg      ManagerConfig
	log      *slog.Logger

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewManager(store Store, lease AdmissionLease, provider telephony.Provider, cfg ManagerConfig, log *slog.Logger) *Manager {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 3 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    store,
		lease:    lease,
		provider: provider,
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// RequestCall admits, records, and places an outbound call.
//
// Failure contract: a session row is never left in placing. Placement errors
// (including context cancellation mid-flight) resolve the row to failed and
// release the lease before returning.
func (m *Manager) RequestCall(ctx context.Context, req CallRequest) (CallSession, error) {
	if req.PhoneNumber == "" {
		return CallSession{}, fmt.Errorf("%w: phone number is required", ErrValidation)
	}
	if req.StudentID == "" {
		return CallSession{}, fmt.Errorf("%w: student id is required", ErrValidation)
	}
	if !ValidCallType(req.CallType) {
		return CallSession{}, fmt.Errorf("%w: unknown call type %q", ErrValidation, req.CallType)
	}

	// Admission check against durable state first: a row from another replica
	// may be active even when the local lease map is empty.
	if _, active, err := m.store.FindActiveByStudent(ctx, req.StudentID); err != nil {
		return CallSession{}, err
	} else if active {
		return CallSession{}, ErrConflict
	}

	token, ok, err := m.lease.Acquire(ctx, req.StudentID, m.cfg.LeaseTTL)
	if err != nil {
		return CallSession{}, err
	}
	if !ok {
		return CallSession{}, ErrConflict
	}

	now := m.clock().UTC()
	s := CallSession{
		ID:            m.newID(),
		StudentID:     req.StudentID,
		CallType:      req.CallType,
		PhoneNumber:   req.PhoneNumber,
		Status:        CallStatusPlacing,
		InitiatedBy:   req.InitiatedBy,
		LeaseToken:    token,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		_ = m.lease.Release(ctx, req.StudentID, token)
		return CallSession{}, err
	}

	providerCallID, err := m.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                req.PhoneNumber,
		From:              m.cfg.FromNumber,
		StatusCallbackURL: m.cfg.StatusCallbackURL,
	})
	if err != nil {
		return m.failPlacement(ctx, s, token, err)
	}

	s, err = m.store.AssignProviderCall(ctx, s.ID, providerCallID, m.tickAfter(now))
	if err != nil {
		// The call is ringing but we could not record the provider id; resolve
		// the row rather than leaving an ambiguous placing state.
		return m.failPlacement(ctx, s, token, err)
	}

	m.log.Info("call placed",
		"session_id", s.ID,
		"student_id", s.StudentID,
		"call_type", s.CallType,
		"provider_call_id", providerCallID,
	)
	return s, nil
}

// RetryCall places a fresh attempt after a terminal non-success session.
// It never mutates the prior row; retry is admission again, nothing more.
func (m *Manager) RetryCall(ctx context.Context, req CallRequest) (CallSession, error) {
	return m.RequestCall(ctx, req)
}

// ApplyProviderUpdate reconciles a provider-reported status into the log.
//
// Updates are applied in timestamp order regardless of arrival order; stale
// and duplicate deliveries return ErrStaleUpdate and leave the row intact.
// Callers treating redelivery as success should check for it with errors.Is.
func (m *Manager) ApplyProviderUpdate(ctx context.Context, providerCallID, rawStatus string, rawDuration int, ts time.Time) (CallSession, error) {
	if providerCallID == "" {
		return CallSession{}, fmt.Errorf("%w: provider call id is required", ErrValidation)
	}

	mapped := MapProviderStatus(rawStatus)
	upd := StatusUpdate{Status: mapped.Status, Outcome: mapped.Outcome}
	if mapped.Status == CallStatusCompleted && rawDuration >= 0 {
		d := rawDuration
		upd.DurationSeconds = &d
	}
	if mapped.Outcome == OutcomeUnknown {
		upd.FailureReason = fmt.Sprintf("unrecognized provider status %q", rawStatus)
	}

	s, err := m.store.ApplyStatus(ctx, providerCallID, upd, ts.UTC())
	if err != nil {
		if errors.Is(err, ErrStaleUpdate) || errors.Is(err, ErrTerminal) {
			m.log.Debug("stale provider update dropped",
				"provider_call_id", providerCallID,
				"raw_status", rawStatus,
				"ts", ts,
			)
			return CallSession{}, ErrStaleUpdate
		}
		return CallSession{}, err
	}

	if !s.Status.Terminal() {
		// The call is still live; refresh the admission lease so it does not
		// expire under a call that outlasts the acquisition TTL.
		m.extendLease(ctx, s)
		return s, nil
	}

	m.releaseLease(ctx, s)
	m.log.Info("call resolved",
		"session_id", s.ID,
		"student_id", s.StudentID,
		"status", s.Status,
		"outcome", s.Outcome,
		"duration_seconds", s.DurationSeconds,
	)
	return s, nil
}

// ReconcileByPoll pulls the provider's view of a call and applies it through
// the same fenced path as callbacks, so poll and callback can race safely.
func (m *Manager) ReconcileByPoll(ctx context.Context, providerCallID string) (CallSession, error) {
	res, err := m.provider.GetCallStatus(ctx, providerCallID)
	if err != nil {
		return CallSession{}, err
	}
	ts := res.EndedAt
	if ts.IsZero() {
		ts = m.clock().UTC()
	}
	return m.ApplyProviderUpdate(ctx, providerCallID, res.RawStatus, res.DurationSeconds, ts)
}

// ReconcileActive polls the provider for every in-flight session and applies
// its view through the fenced update path. It is the reconciliation loop for
// deployments with no callback URL, and a safety net elsewhere. Per-row
// provider failures are logged and skipped so one bad call cannot starve the
// rest. Returns the number of sessions resolved to a terminal status.
func (m *Manager) ReconcileActive(ctx context.Context) (int, error) {
	rows, err := m.store.List(ctx, time.Time{}, m.clock().UTC().Add(time.Second))
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, s := range rows {
		if !s.Status.Active() || s.ProviderCallID == "" {
			continue
		}
		got, err := m.ReconcileByPoll(ctx, s.ProviderCallID)
		if err != nil {
			if errors.Is(err, ErrStaleUpdate) {
				continue
			}
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			m.log.Warn("poll reconciliation failed",
				"session_id", s.ID,
				"provider_call_id", s.ProviderCallID,
				"err", err,
			)
			continue
		}
		if got.Status.Terminal() {
			resolved++
		}
	}
	return resolved, nil
}

// MarkScheduled defers a call: the row becomes pseudo-terminal and the
// student's admission slot frees for a later retry.
func (m *Manager) MarkScheduled(ctx context.Context, providerCallID string, ts time.Time) (CallSession, error) {
	s, err := m.store.ApplyStatus(ctx, providerCallID, StatusUpdate{
		Status:  CallStatusScheduled,
		Outcome: OutcomeScheduled,
	}, ts.UTC())
	if err != nil {
		return CallSession{}, err
	}
	m.releaseLease(ctx, s)
	return s, nil
}

// SweepStalePlacing resolves placing rows older than the admission lease TTL.
// A process that crashed between Create and placement leaves such a row; once
// the lease has expired nothing will ever advance it, so it is failed here.
// Returns the number of rows resolved.
func (m *Manager) SweepStalePlacing(ctx context.Context) (int, error) {
	cutoff := m.clock().UTC().Add(-m.cfg.LeaseTTL)
	rows, err := m.store.List(ctx, time.Time{}, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, s := range rows {
		if s.Status != CallStatusPlacing || s.LastUpdatedAt.After(cutoff) {
			continue
		}
		failed, err := m.store.MarkFailed(ctx, s.ID, "placement abandoned (lease expired)", m.tickAfter(s.LastUpdatedAt))
		if err != nil {
			if errors.Is(err, ErrStaleUpdate) || errors.Is(err, ErrTerminal) {
				continue
			}
			return swept, err
		}
		m.releaseLease(ctx, failed)
		m.log.Warn("stale placing session swept",
			"session_id", failed.ID,
			"student_id", failed.StudentID,
		)
		swept++
	}
	return swept, nil
}

func (m *Manager) GetActiveSession(ctx context.Context, studentID string) (CallSession, bool, error) {
	return m.store.FindActiveByStudent(ctx, studentID)
}

func (m *Manager) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, bool, error) {
	return m.store.FindByProviderCallID(ctx, providerCallID)
}

func (m *Manager) ListByStudent(ctx context.Context, studentID string) ([]CallSession, error) {
	return m.store.ListByStudent(ctx, studentID)
}

// failPlacement resolves a placing row to failed and frees the lease.
// The returned error carries the placement failure, not the bookkeeping.
func (m *Manager) failPlacement(ctx context.Context, s CallSession, token string, cause error) (CallSession, error) {
	reason := placementReason(cause)

	failed, err := m.store.MarkFailed(ctx, s.ID, reason, m.tickAfter(s.LastUpdatedAt))
	if err != nil {
		m.log.Error("failed to resolve placement error", "session_id", s.ID, "err", err)
	} else {
		s = failed
	}
	_ = m.lease.Release(ctx, s.StudentID, token)

	m.log.Warn("call placement failed",
		"session_id", s.ID,
		"student_id", s.StudentID,
		"reason", reason,
	)
	return s, cause
}

// extendLease is best-effort: a lost or unreachable lease never fails the
// status update carrying it.
func (m *Manager) extendLease(ctx context.Context, s CallSession) {
	if s.LeaseToken == "" {
		return
	}
	ok, err := m.lease.Extend(ctx, s.StudentID, s.LeaseToken, m.cfg.LeaseTTL)
	switch {
	case err != nil:
		m.log.Warn("lease extension failed", "student_id", s.StudentID, "err", err)
	case !ok:
		m.log.Warn("lease no longer held mid-call", "student_id", s.StudentID, "session_id", s.ID)
	}
}

func (m *Manager) releaseLease(ctx context.Context, s CallSession) {
	if s.LeaseToken == "" {
		return
	}
	if err := m.lease.Release(ctx, s.StudentID, s.LeaseToken); err != nil {
		m.log.Warn("lease release failed", "student_id", s.StudentID, "err", err)
	}
}

// tickAfter returns the current clock reading, nudged forward when the clock
// has not advanced past prev (coarse clocks, frozen test clocks).
func (m *Manager) tickAfter(prev time.Time) time.Time {
	now := m.clock().UTC()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func placementReason(err error) string {
	var pe *telephony.ProviderError
	switch {
	case errors.As(err, &pe):
		return "provider rejected placement: " + pe.Message
	case errors.Is(err, context.Canceled):
		return "call cancelled before placement completed"
	case errors.Is(err, context.DeadlineExceeded):
		return "placement timed out"
	default:
		return "placement failed: " + err.Error()
	}
}
