package callsession

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("callsession: not found")

	// ErrStaleUpdate marks an update bearing a timestamp at or before the
	// stored LastUpdatedAt. Callers drop it (logged, never applied).
	ErrStaleUpdate = errors.New("callsession: stale update")

	// ErrTerminal marks a write against a row that already reached a terminal
	// status. Terminal rows are immutable.
	ErrTerminal = errors.New("callsession: session is terminal")

	ErrDuplicateProviderCallID = errors.New("callsession: provider call id already assigned")
)

// StatusUpdate is the reconciled field set applied to a session row.
type StatusUpdate struct {
	Status  CallStatus
	Outcome CallOutcome

	// DurationSeconds is applied only when non-nil (providers omit duration
	// for non-terminal progress updates).
	DurationSeconds *int

	FailureReason string
}

// Store is the durable, idempotent ledger of call attempts.
//
// Write discipline: the Session Manager is the sole writer. All writes are
// fenced by timestamp (last-writer-by-time) and refused on terminal rows.
type Store interface {
	Create(ctx context.Context, s CallSession) error

	// AssignProviderCall records the provider-issued call id on a placing row.
	// The id is immutable once set.
	AssignProviderCall(ctx context.Context, id, providerCallID string, ts time.Time) (CallSession, error)

	// ApplyStatus applies a reconciled update to the row owning providerCallID.
	// Returns ErrStaleUpdate when ts <= the stored LastUpdatedAt and
	// ErrTerminal when the row is already terminal; both leave the row intact.
	ApplyStatus(ctx context.Context, providerCallID string, upd StatusUpdate, ts time.Time) (CallSession, error)

	// MarkFailed resolves a row that never got (or no longer needs) a provider
	// update, e.g. placement rejection or cancellation mid-flight.
	MarkFailed(ctx context.Context, id, reason string, ts time.Time) (CallSession, error)

	FindActiveByStudent(ctx context.Context, studentID string) (CallSession, bool, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (CallSession, bool, error)

	// ListByStudent returns the student's call history, most recent first.
	ListByStudent(ctx context.Context, studentID string) ([]CallSession, error)

	// List returns sessions created in [from, to), most recent first.
	List(ctx context.Context, from, to time.Time) ([]CallSession, error)
}

// MemoryStore is an in-memory Store for tests and early development.
// It enforces the same fencing rules as the Postgres implementation.
type MemoryStore struct {
	mu sync.Mutex

	rows       map[string]CallSession // by session id
	byProvider map[string]string      // provider call id -> session id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:       map[string]CallSession{},
		byProvider: map[string]string{},
	}
}

func (m *MemoryStore) Create(ctx context.Context, s CallSession) error {
	if s.ID == "" || s.StudentID == "" {
		return errors.New("callsession: id and student_id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[s.ID]; ok {
		return errors.New("callsession: duplicate session id")
	}
	if s.ProviderCallID != "" {
		if _, ok := m.byProvider[s.ProviderCallID]; ok {
			return ErrDuplicateProviderCallID
		}
		m.byProvider[s.ProviderCallID] = s.ID
	}
	m.rows[s.ID] = s
	return nil
}

func (m *MemoryStore) AssignProviderCall(ctx context.Context, id, providerCallID string, ts time.Time) (CallSession, error) {
	if providerCallID == "" {
		return CallSession{}, errors.New("callsession: provider call id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if s.Status.Terminal() {
		return CallSession{}, ErrTerminal
	}
	if s.ProviderCallID != "" && s.ProviderCallID != providerCallID {
		return CallSession{}, ErrDuplicateProviderCallID
	}
	if other, ok := m.byProvider[providerCallID]; ok && other != id {
		return CallSession{}, ErrDuplicateProviderCallID
	}
	if !ts.After(s.LastUpdatedAt) {
		return CallSession{}, ErrStaleUpdate
	}

	s.ProviderCallID = providerCallID
	s.Status = CallStatusInProgress
	s.LastUpdatedAt = ts
	m.rows[id] = s
	m.byProvider[providerCallID] = id
	return s, nil
}

func (m *MemoryStore) ApplyStatus(ctx context.Context, providerCallID string, upd StatusUpdate, ts time.Time) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byProvider[providerCallID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	s := m.rows[id]
	if s.Status.Terminal() {
		return CallSession{}, ErrTerminal
	}
	if !ts.After(s.LastUpdatedAt) {
		return CallSession{}, ErrStaleUpdate
	}

	s = applyStatusUpdate(s, upd, ts)
	m.rows[id] = s
	return s, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id, reason string, ts time.Time) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if s.Status.Terminal() {
		return CallSession{}, ErrTerminal
	}
	if !ts.After(s.LastUpdatedAt) {
		return CallSession{}, ErrStaleUpdate
	}

	s = applyStatusUpdate(s, StatusUpdate{
		Status:        CallStatusFailed,
		Outcome:       OutcomeFailed,
		FailureReason: reason,
	}, ts)
	m.rows[id] = s
	return s, nil
}

func (m *MemoryStore) FindActiveByStudent(ctx context.Context, studentID string) (CallSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.rows {
		if s.StudentID == studentID && s.Status.Active() {
			return s, true, nil
		}
	}
	return CallSession{}, false, nil
}

func (m *MemoryStore) FindByProviderCallID(ctx context.Context, providerCallID string) (CallSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byProvider[providerCallID]
	if !ok {
		return CallSession{}, false, nil
	}
	return m.rows[id], true, nil
}

func (m *MemoryStore) ListByStudent(ctx context.Context, studentID string) ([]CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CallSession, 0)
	for _, s := range m.rows {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) List(ctx context.Context, from, to time.Time) ([]CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CallSession, 0)
	for _, s := range m.rows {
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sortNewestFirst(out)
	return out, nil
}

// applyStatusUpdate is the single mutation path shared by both store
// implementations' in-memory row handling.
func applyStatusUpdate(s CallSession, upd StatusUpdate, ts time.Time) CallSession {
	s.Status = upd.Status
	if upd.Outcome != "" {
		s.Outcome = upd.Outcome
		s.FollowUpRequired = followUpRequired(upd.Outcome)
	}
	if upd.DurationSeconds != nil && upd.Status == CallStatusCompleted {
		s.DurationSeconds = *upd.DurationSeconds
	}
	if upd.FailureReason != "" {
		s.FailureReason = upd.FailureReason
	}
	s.LastUpdatedAt = ts
	return s
}

func sortNewestFirst(rows []CallSession) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}
