package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Audit is internal-only; records are never exposed through student or
// counselor endpoints. Callers treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallPlaced records a successful call placement.
func (s *Service) LogCallPlaced(ctx context.Context, actorUserID, actorRole, ip, studentID, callSessionID string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallPlaced,
		ActorUserID:   actorUserID,
		ActorRole:     actorRole,
		IPAddress:     ip,
		StudentID:     studentID,
		CallSessionID: callSessionID,
		Message:       "outbound call placed",
	})
}

// LogCallResolved records a call reaching a terminal status.
func (s *Service) LogCallResolved(ctx context.Context, studentID, callSessionID, outcome string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallResolved,
		StudentID:     studentID,
		CallSessionID: callSessionID,
		Message:       "call resolved: " + outcome,
	})
}

// LogAdminAction records an administrative action.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}
