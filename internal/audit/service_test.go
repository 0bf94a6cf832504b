package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAppend_FillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }

	if err := svc.LogCallPlaced(context.Background(), "u1", "counselor", "10.0.0.1", "stu1", "sess-1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := repo.Events()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	e := got[0]
	if e.ID == "" {
		t.Errorf("expected generated id")
	}
	if !e.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, now)
	}
	if e.Type != EventTypeCallPlaced || e.StudentID != "stu1" || e.CallSessionID != "sess-1" {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestAppend_RejectsMissingType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Append(context.Background(), Event{Message: "no type"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestMemoryRepo_EventsForStudent(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	_ = svc.LogCallPlaced(context.Background(), "u1", "counselor", "", "stu1", "sess-1")
	_ = svc.LogCallResolved(context.Background(), "stu1", "sess-1", "completed")
	_ = svc.LogCallPlaced(context.Background(), "u1", "counselor", "", "stu2", "sess-2")

	got := repo.EventsForStudent("stu1")
	if len(got) != 2 {
		t.Fatalf("expected 2 events for stu1, got %d", len(got))
	}
	if got[0].Type != EventTypeCallPlaced || got[1].Type != EventTypeCallResolved {
		t.Fatalf("unexpected order: %+v", got)
	}
}
