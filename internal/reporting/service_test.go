package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"counseling-platform/internal/callsession"
	"counseling-platform/internal/students"
)

func seedCall(t *testing.T, st *callsession.MemoryStore, id, studentID string, status callsession.CallStatus, outcome callsession.CallOutcome, duration int, followUp bool, at time.Time) {
	t.Helper()
	err := st.Create(context.Background(), callsession.CallSession{
		ID:               id,
		StudentID:        studentID,
		CallType:         callsession.CallTypeParent,
		PhoneNumber:      "+15550001111",
		ProviderCallID:   "CA-" + id,
		Status:           status,
		Outcome:          outcome,
		DurationSeconds:  duration,
		FollowUpRequired: followUp,
		InitiatedBy:      "c1",
		CreatedAt:        at,
		LastUpdatedAt:    at,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestCallsSummary(t *testing.T) {
	st := callsession.NewMemoryStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	seedCall(t, st, "s1", "stu1", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 180, false, day.Add(9*time.Hour))
	seedCall(t, st, "s2", "stu1", callsession.CallStatusNoAnswer, callsession.OutcomeNoAnswer, 0, true, day.Add(10*time.Hour))
	seedCall(t, st, "s3", "stu2", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 120, false, day.Add(11*time.Hour))
	seedCall(t, st, "s4", "stu3", callsession.CallStatusFailed, callsession.OutcomeFailed, 0, true, day.Add(12*time.Hour))
	seedCall(t, st, "s5", "stu4", callsession.CallStatusInProgress, "", 0, false, day.Add(13*time.Hour))
	// Outside the window; must not count.
	seedCall(t, st, "s6", "stu5", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 60, false, day.Add(48*time.Hour))

	svc := NewService(st, nil)
	got, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Range: TimeRange{From: day, To: day.Add(24 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if got.TotalCalls != 5 {
		t.Errorf("total = %d, want 5", got.TotalCalls)
	}
	if got.CompletedCalls != 2 || got.NoAnswerCalls != 1 || got.FailedCalls != 1 || got.InProgressCalls != 1 {
		t.Errorf("unexpected breakdown: %+v", got)
	}
	if got.TotalDurationSeconds != 300 || got.AverageDurationSeconds != 150 {
		t.Errorf("duration: total=%d avg=%d", got.TotalDurationSeconds, got.AverageDurationSeconds)
	}
	// 2 completed out of 4 resolved.
	if got.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", got.SuccessRate)
	}
	if got.FollowUpsPending != 2 {
		t.Errorf("follow-ups = %d, want 2", got.FollowUpsPending)
	}
}

func TestCallsSummary_StudentFilter(t *testing.T) {
	st := callsession.NewMemoryStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seedCall(t, st, "s1", "stu1", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 90, false, day.Add(time.Hour))
	seedCall(t, st, "s2", "stu2", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 60, false, day.Add(2*time.Hour))

	svc := NewService(st, nil)
	got, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{
		Range:     TimeRange{From: day, To: day.Add(24 * time.Hour)},
		StudentID: "stu1",
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.TotalCalls != 1 || got.TotalDurationSeconds != 90 {
		t.Fatalf("filter ignored: %+v", got)
	}
}

func TestCallsSummary_RejectsBadRange(t *testing.T) {
	svc := NewService(callsession.NewMemoryStore(), nil)
	now := time.Now()

	cases := []TimeRange{
		{},
		{From: now},
		{From: now, To: now},
		{From: now, To: now.Add(-time.Hour)},
	}
	for _, r := range cases {
		if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: r}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", r, err)
		}
	}
}

func TestDashboardStats(t *testing.T) {
	st := callsession.NewMemoryStore()
	now := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	seedCall(t, st, "s1", "stu1", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 180, false, day.Add(9*time.Hour))
	seedCall(t, st, "s2", "stu1", callsession.CallStatusFailed, callsession.OutcomeFailed, 0, true, day.Add(10*time.Hour))
	seedCall(t, st, "s3", "stu2", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 120, false, day.Add(11*time.Hour))
	// Yesterday; excluded.
	seedCall(t, st, "s4", "stu3", callsession.CallStatusCompleted, callsession.OutcomeCompleted, 60, false, day.Add(-2*time.Hour))

	roster := students.NewMemoryRepository(
		students.Student{ID: "stu1", RiskLevel: students.RiskHigh, RiskScore: 0.9},
		students.Student{ID: "stu2", RiskLevel: students.RiskMedium, RiskScore: 0.5},
		students.Student{ID: "stu3", RiskLevel: students.RiskHigh, RiskScore: 0.8},
	)

	svc := NewService(st, roster)
	got, err := svc.DashboardStats(context.Background(), DashboardStatsRequest{Now: now})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if got.CallsToday != 3 {
		t.Errorf("calls today = %d, want 3", got.CallsToday)
	}
	if got.CompletedToday != 2 || got.FailedToday != 1 {
		t.Errorf("unexpected breakdown: %+v", got)
	}
	if got.StudentsContactedToday != 2 {
		t.Errorf("students contacted = %d, want 2", got.StudentsContactedToday)
	}
	if got.HighRiskStudents != 2 {
		t.Errorf("high risk = %d, want 2", got.HighRiskStudents)
	}
}
