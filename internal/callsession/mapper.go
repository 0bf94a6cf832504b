package callsession

// MappedStatus is the result of normalizing a provider-reported call status.
type MappedStatus struct {
	Status  CallStatus
	Outcome CallOutcome
	// Terminal mirrors Status.Terminal(); kept explicit so callers reconciling
	// updates do not re-derive it.
	Terminal bool
}

// MapProviderStatus translates the telephony provider's status vocabulary into
// the internal taxonomy. It is total: every input produces an explicit value,
// and anything unrecognized resolves to failed/unknown rather than being
// dropped.
//
// Provider vocabulary (Twilio voice): queued, initiated, ringing, in-progress,
// completed, busy, no-answer, failed, canceled.
func MapProviderStatus(raw string) MappedStatus {
	switch raw {
	case "completed":
		return MappedStatus{Status: CallStatusCompleted, Outcome: OutcomeCompleted, Terminal: true}
	case "no-answer":
		return MappedStatus{Status: CallStatusNoAnswer, Outcome: OutcomeNoAnswer, Terminal: true}
	case "busy", "failed", "canceled":
		return MappedStatus{Status: CallStatusFailed, Outcome: OutcomeFailed, Terminal: true}
	case "queued", "initiated", "ringing", "in-progress":
		return MappedStatus{Status: CallStatusInProgress}
	default:
		return MappedStatus{Status: CallStatusFailed, Outcome: OutcomeUnknown, Terminal: true}
	}
}
