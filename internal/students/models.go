package students

import (
	"errors"
	"time"

	"counseling-platform/internal/callsession"
)

// RiskLevel buckets a student's dropout risk for counselor triage.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Student is the read model counselors work from when deciding who to call.
// This service does not own student data; rows are synced in from the SIS.
type Student struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Grade string `json:"grade" db:"grade"`

	RiskLevel RiskLevel `json:"risk_level" db:"risk_level"`

	// RiskScore is the model-assigned dropout probability, 0..1.
	RiskScore float64 `json:"risk_score" db:"risk_score"`

	AttendanceRate float64 `json:"attendance_rate" db:"attendance_rate"`

	PhoneNumber       string `json:"phone_number,omitempty" db:"phone_number"`
	ParentPhoneNumber string `json:"parent_phone_number,omitempty" db:"parent_phone_number"`
	MentorPhoneNumber string `json:"mentor_phone_number,omitempty" db:"mentor_phone_number"`

	AssignedMentorID string `json:"assigned_mentor_id,omitempty" db:"assigned_mentor_id"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

var ErrNoPhoneOnFile = errors.New("students: no phone number on file for call type")

// PhoneFor resolves the dial target for a call type from the student record.
func PhoneFor(s Student, callType callsession.CallType) (string, error) {
	var number string
	switch callType {
	case callsession.CallTypeParent:
		number = s.ParentPhoneNumber
	case callsession.CallTypeStudent:
		number = s.PhoneNumber
	case callsession.CallTypeMentor:
		number = s.MentorPhoneNumber
	default:
		return "", errors.New("students: unknown call type")
	}
	if number == "" {
		return "", ErrNoPhoneOnFile
	}
	return number, nil
}
