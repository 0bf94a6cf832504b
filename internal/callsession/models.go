package callsession

import "time"

// CallSession is one durable record of an attempt to reach a person about a
// student (the student themselves, a parent, or a mentor).
//
// Lifecycle invariants:
// - At most one session per student may be active (placing/in_progress).
// - ProviderCallID, once assigned, is immutable and globally unique.
// - LastUpdatedAt strictly increases across accepted updates; the row is
//   last-writer-by-time, not last-writer-by-arrival.
// - Terminal rows are never mutated; a retry creates a new row.

type CallSession struct {
	ID        string   `json:"id" db:"id"`
	StudentID string   `json:"student_id" db:"student_id"`
	CallType  CallType `json:"call_type" db:"call_type"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// ProviderCallID is the telephony provider's identifier (e.g. Twilio CallSid).
	// Empty until the provider accepts the placement.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status  CallStatus  `json:"status" db:"status"`
	Outcome CallOutcome `json:"outcome,omitempty" db:"outcome"`

	InitiatedBy string `json:"initiated_by" db:"initiated_by"`

	// DurationSeconds is populated only for completed calls.
	DurationSeconds int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	// FailureReason is a human-readable explanation attached to failed rows.
	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	FollowUpRequired bool `json:"follow_up_required" db:"follow_up_required"`

	// LeaseToken fences the admission lease release so any replica observing
	// the terminal update can free the student's slot. Never serialized to
	// clients.
	LeaseToken string `json:"-" db:"lease_token"`

	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at" db:"last_updated_at"`
}

type CallStatus string

const (
	CallStatusIdle       CallStatus = "idle"
	CallStatusPlacing    CallStatus = "placing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusFailed     CallStatus = "failed"
	CallStatusScheduled  CallStatus = "scheduled"
)

// Active reports whether the status holds the student's admission slot.
func (s CallStatus) Active() bool {
	return s == CallStatusPlacing || s == CallStatusInProgress
}

// Terminal reports whether the row can never be mutated again.
// Scheduled is pseudo-terminal: it frees the admission slot and only a retry
// (a new row) proceeds from it.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusNoAnswer, CallStatusFailed, CallStatusScheduled:
		return true
	default:
		return false
	}
}

type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed"
	OutcomeNoAnswer  CallOutcome = "no-answer"
	OutcomeFailed    CallOutcome = "failed"
	OutcomeScheduled CallOutcome = "scheduled"
	OutcomeUnknown   CallOutcome = "unknown"
)

// followUpRequired defaults the follow-up flag from a terminal outcome.
// Unreached families get flagged; completed counseling calls do not.
func followUpRequired(o CallOutcome) bool {
	switch o {
	case OutcomeNoAnswer, OutcomeFailed, OutcomeUnknown, OutcomeScheduled:
		return true
	default:
		return false
	}
}

type CallType string

const (
	CallTypeParent  CallType = "parent"
	CallTypeStudent CallType = "student"
	CallTypeMentor  CallType = "mentor"
)

func ValidCallType(t CallType) bool {
	switch t {
	case CallTypeParent, CallTypeStudent, CallTypeMentor:
		return true
	default:
		return false
	}
}
