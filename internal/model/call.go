package model

import "time"

// CallStatus represents the lifecycle state of an outbound call.
type CallStatus string

const (
	CallStatusInitiated     CallStatus = "initiated"
	CallStatusQueued        CallStatus = "queued"
	CallStatusRinging       CallStatus = "ringing"
	CallStatusInProgress    CallStatus = "in_progress"
	CallStatusEnded         CallStatus = "ended"
	CallStatusCompleted     CallStatus = "completed"
	CallStatusFailed        CallStatus = "failed"
	CallStatusBookingFailed CallStatus = "booking_failed"
)

// callRank orders the forward path of the lifecycle. Webhook events can skip
// states (a provider may never emit "ringing") but must not move backwards.
var callRank = map[CallStatus]int{
	CallStatusInitiated:  0,
	CallStatusQueued:     1,
	CallStatusRinging:    2,
	CallStatusInProgress: 3,
	CallStatusEnded:      4,
	CallStatusCompleted:  5,
}

// CanTransition reports whether a call may move from one status to another.
// Failure states are reachable from any non-terminal status.
func (s CallStatus) CanTransition(to CallStatus) bool {
	if s == to {
		return false
	}
	switch s {
	case CallStatusFailed, CallStatusBookingFailed:
		return false
	}
	switch to {
	case CallStatusFailed:
		return true
	case CallStatusBookingFailed:
		return s == CallStatusInProgress || s == CallStatusEnded || s == CallStatusCompleted
	}
	fromRank, okFrom := callRank[s]
	toRank, okTo := callRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// IsTerminal reports whether the status admits no further transitions.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusFailed || s == CallStatusBookingFailed
}

// CallOutcome is the business outcome layered on top of the lifecycle.
type CallOutcome string

const (
	OutcomeBooked        CallOutcome = "booked"
	OutcomeRejected      CallOutcome = "rejected"
	OutcomeBookingFailed CallOutcome = "booking_failed"
)

// TranscriptFragment is one finalized utterance from the conversation.
type TranscriptFragment struct {
	Role      string     `json:"role"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Source    string     `json:"source,omitempty"`
}

// AssistantSnapshot freezes the assistant configuration a call was placed
// with. Once the call starts the snapshot is never mutated, so transcript
// and outcome analysis always see the prompt the agent actually ran.
type AssistantSnapshot struct {
	SystemPrompt string `json:"system_prompt"`
	FirstMessage string `json:"first_message"`
	VoiceID      string `json:"voice_id,omitempty"`
	Model        string `json:"model,omitempty"`
}

// CallMetering records the outcome of billing a completed call. Its presence
// on call metadata makes end-of-call-report redelivery a no-op.
type CallMetering struct {
	RequestedMinutes int       `json:"requested_minutes"`
	BilledMinutes    int       `json:"billed_minutes"`
	BalanceAtCheck   float64   `json:"balance_at_check"`
	MeteredAt        time.Time `json:"metered_at"`
}

// CallMetadata holds mutable bookkeeping attached to a call row.
type CallMetadata struct {
	Metering       *CallMetering `json:"metering,omitempty"`
	FollowUpSentAt *time.Time    `json:"follow_up_sent_at,omitempty"`
}

// Call is a single outbound telephone attempt against an opportunity.
type Call struct {
	ID             string            `json:"id"`
	OpportunityID  string            `json:"opportunity_id"`
	AgencyID       string            `json:"agency_id"`
	CustomerNumber string            `json:"customer_number"`
	Assistant      AssistantSnapshot `json:"assistant"`

	Status        CallStatus  `json:"status"`
	CurrentStatus string      `json:"current_status,omitempty"` // raw provider status, for display
	Outcome       CallOutcome `json:"outcome,omitempty"`

	// ProviderCallID is assigned asynchronously once the voice provider
	// accepts the call. Set exactly once; all webhook correlation keys on it.
	ProviderCallID string   `json:"provider_call_id,omitempty"`
	MonitorURLs    []string `json:"monitor_urls,omitempty"`

	Transcript     []TranscriptFragment `json:"transcript,omitempty"`
	Summary        string               `json:"summary,omitempty"`
	RecordingURL   string               `json:"recording_url,omitempty"`
	EndedReason    string               `json:"ended_reason,omitempty"`
	BillingSeconds int                  `json:"billing_seconds,omitempty"`
	MeetingTime    *time.Time           `json:"meeting_time,omitempty"`

	Metadata      CallMetadata `json:"metadata"`
	LastWebhookAt *time.Time   `json:"last_webhook_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
