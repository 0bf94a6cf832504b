package callsession

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedSession(t *testing.T, st *MemoryStore, id, studentID, providerCallID string, status CallStatus, at time.Time) CallSession {
	t.Helper()
	s := CallSession{
		ID:             id,
		StudentID:      studentID,
		CallType:       CallTypeParent,
		PhoneNumber:    "+15550001111",
		ProviderCallID: providerCallID,
		Status:         status,
		InitiatedBy:    "u1",
		CreatedAt:      at,
		LastUpdatedAt:  at,
	}
	if err := st.Create(context.Background(), s); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestStore_ApplyStatusFencesByTimestamp(t *testing.T) {
	st := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	seedSession(t, st, "s1", "stu1", "CA1", CallStatusInProgress, t0)

	t2 := t0.Add(2 * time.Minute)
	t1 := t0.Add(1 * time.Minute)

	// t2 arrives first.
	if _, err := st.ApplyStatus(context.Background(), "CA1", StatusUpdate{Status: CallStatusInProgress}, t2); err != nil {
		t.Fatalf("apply t2: %v", err)
	}

	// t1 arrives late and must be dropped.
	if _, err := st.ApplyStatus(context.Background(), "CA1", StatusUpdate{Status: CallStatusFailed, Outcome: OutcomeFailed}, t1); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate, got %v", err)
	}

	s, ok, _ := st.FindByProviderCallID(context.Background(), "CA1")
	if !ok || s.Status != CallStatusInProgress || !s.LastUpdatedAt.Equal(t2) {
		t.Fatalf("expected t2 state to stand: %+v", s)
	}
}

func TestStore_TerminalRowsAreImmutable(t *testing.T) {
	st := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	seedSession(t, st, "s1", "stu1", "CA1", CallStatusInProgress, t0)

	dur := 180
	if _, err := st.ApplyStatus(context.Background(), "CA1", StatusUpdate{
		Status: CallStatusCompleted, Outcome: OutcomeCompleted, DurationSeconds: &dur,
	}, t0.Add(time.Minute)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := st.ApplyStatus(context.Background(), "CA1", StatusUpdate{
		Status: CallStatusFailed, Outcome: OutcomeFailed,
	}, t0.Add(2*time.Minute)); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}

	s, _, _ := st.FindByProviderCallID(context.Background(), "CA1")
	if s.Status != CallStatusCompleted || s.DurationSeconds != 180 {
		t.Fatalf("terminal row changed: %+v", s)
	}
}

func TestStore_ProviderCallIDIsUniqueAndImmutable(t *testing.T) {
	st := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	seedSession(t, st, "s1", "stu1", "", CallStatusPlacing, t0)
	seedSession(t, st, "s2", "stu2", "", CallStatusPlacing, t0)

	if _, err := st.AssignProviderCall(context.Background(), "s1", "CA1", t0.Add(time.Second)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := st.AssignProviderCall(context.Background(), "s2", "CA1", t0.Add(time.Second)); !errors.Is(err, ErrDuplicateProviderCallID) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := st.AssignProviderCall(context.Background(), "s1", "CA-other", t0.Add(2*time.Second)); !errors.Is(err, ErrDuplicateProviderCallID) {
		t.Fatalf("expected immutability error, got %v", err)
	}
}

func TestStore_FindActiveByStudent(t *testing.T) {
	st := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	seedSession(t, st, "s1", "stu1", "CA1", CallStatusCompleted, t0)
	seedSession(t, st, "s2", "stu1", "CA2", CallStatusInProgress, t0.Add(time.Minute))

	s, ok, err := st.FindActiveByStudent(context.Background(), "stu1")
	if err != nil || !ok {
		t.Fatalf("expected active session, err=%v", err)
	}
	if s.ID != "s2" {
		t.Fatalf("expected s2, got %s", s.ID)
	}

	if _, ok, _ := st.FindActiveByStudent(context.Background(), "stu-none"); ok {
		t.Fatalf("expected no active session")
	}
}

func TestStore_ListByStudentNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	seedSession(t, st, "s1", "stu1", "CA1", CallStatusCompleted, t0)
	seedSession(t, st, "s2", "stu1", "CA2", CallStatusNoAnswer, t0.Add(time.Hour))
	seedSession(t, st, "s3", "stu2", "CA3", CallStatusCompleted, t0)

	rows, err := st.ListByStudent(context.Background(), "stu1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "s2" || rows[1].ID != "s1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestStore_MarkFailedSetsReasonAndFollowUp(t *testing.T) {
	st := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	seedSession(t, st, "s1", "stu1", "", CallStatusPlacing, t0)

	s, err := st.MarkFailed(context.Background(), "s1", "placement timed out", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if s.Status != CallStatusFailed || s.Outcome != OutcomeFailed {
		t.Fatalf("unexpected state: %+v", s)
	}
	if s.FailureReason != "placement timed out" {
		t.Fatalf("expected reason, got %q", s.FailureReason)
	}
	if !s.FollowUpRequired {
		t.Fatalf("failed calls require follow-up")
	}
}
