package reporting

import (
	"context"
	"errors"
	"time"

	"counseling-platform/internal/callsession"
	"counseling-platform/internal/students"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service aggregates outreach metrics from the immutable call log. It never
// writes; the call session manager owns all writes.
type Service struct {
	store  callsession.Store
	roster students.Repository
	clock  func() time.Time
}

func NewService(store callsession.Store, roster students.Repository) *Service {
	return &Service{store: store, roster: roster, clock: time.Now}
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}

	rows, err := s.store.List(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{StudentID: req.StudentID}
	resolved := 0
	for _, c := range rows {
		if req.StudentID != "" && c.StudentID != req.StudentID {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds

		switch c.Status {
		case callsession.CallStatusCompleted:
			out.CompletedCalls++
		case callsession.CallStatusFailed:
			out.FailedCalls++
		case callsession.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case callsession.CallStatusScheduled:
			out.ScheduledCalls++
		case callsession.CallStatusPlacing, callsession.CallStatusInProgress:
			out.InProgressCalls++
		}

		if c.Status.Terminal() {
			resolved++
			if c.FollowUpRequired {
				out.FollowUpsPending++
			}
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	if resolved > 0 {
		out.SuccessRate = float64(out.CompletedCalls) / float64(resolved)
	}
	return out, nil
}

func (s *Service) DashboardStats(ctx context.Context, req DashboardStatsRequest) (DashboardStats, error) {
	now := req.Now
	if now.IsZero() {
		now = s.clock()
	}
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	rows, err := s.store.List(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return DashboardStats{}, err
	}

	out := DashboardStats{}
	contacted := map[string]struct{}{}
	for _, c := range rows {
		out.CallsToday++
		contacted[c.StudentID] = struct{}{}
		switch c.Status {
		case callsession.CallStatusCompleted:
			out.CompletedToday++
		case callsession.CallStatusFailed:
			out.FailedToday++
		}
	}
	out.StudentsContactedToday = len(contacted)

	if s.roster != nil {
		atRisk, err := s.roster.ListAtRisk(ctx, students.RiskHigh)
		if err != nil {
			return DashboardStats{}, err
		}
		out.HighRiskStudents = len(atRisk)
	}
	return out, nil
}
