package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated outreach metrics over a window,
// optionally narrowed to one student.

type CallsSummaryRequest struct {
	Range     TimeRange `json:"range"`
	StudentID string    `json:"student_id,omitempty"`
}

type CallsSummary struct {
	StudentID string `json:"student_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	ScheduledCalls  int `json:"scheduled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	// FollowUpsPending counts terminal calls still flagged for follow-up.
	FollowUpsPending int `json:"follow_ups_pending"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// SuccessRate is completed over resolved (terminal) calls, 0..1.
	SuccessRate float64 `json:"success_rate"`
}

// DashboardStatsRequest asks for the counselor landing-page numbers:
// today's activity plus the current at-risk roster size.

type DashboardStatsRequest struct {
	// Now anchors "today"; zero means the service clock.
	Now time.Time `json:"now,omitempty"`
}

type DashboardStats struct {
	CallsToday     int `json:"calls_today"`
	CompletedToday int `json:"completed_today"`
	FailedToday    int `json:"failed_today"`

	HighRiskStudents int `json:"high_risk_students"`

	// StudentsContactedToday deduplicates by student.
	StudentsContactedToday int `json:"students_contacted_today"`
}
