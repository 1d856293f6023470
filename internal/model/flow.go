package model

import "time"

// FlowStatus is the overall state of a lead-generation campaign run.
type FlowStatus string

const (
	FlowStatusIdle             FlowStatus = "idle"
	FlowStatusRunning          FlowStatus = "running"
	FlowStatusPausedForUpgrade FlowStatus = "paused_for_upgrade"
	FlowStatusError            FlowStatus = "error"
	FlowStatusCompleted        FlowStatus = "completed"
)

// CanTransition reports whether a flow may move from one status to another.
// Completed and unrecoverable error are terminal; a paused flow only ever
// resumes into running.
func (s FlowStatus) CanTransition(to FlowStatus) bool {
	if s == to {
		return false
	}
	switch s {
	case FlowStatusIdle:
		return to == FlowStatusRunning
	case FlowStatusRunning:
		return to == FlowStatusPausedForUpgrade || to == FlowStatusError || to == FlowStatusCompleted
	case FlowStatusPausedForUpgrade:
		return to == FlowStatusRunning
	default:
		return false
	}
}

// PhaseName identifies a stage of the campaign pipeline.
type PhaseName string

const (
	PhaseSource          PhaseName = "source"
	PhaseFilterRank      PhaseName = "filter_rank"
	PhasePersistLeads    PhaseName = "persist_leads"
	PhaseScrapeContent   PhaseName = "scrape_content"
	PhaseGenerateDossier PhaseName = "generate_dossier"
	PhaseFinalizeRank    PhaseName = "finalize_rank"
)

// PhaseOrder is the fixed pipeline order. Phases progress strictly in this
// sequence; resume re-enters the first non-complete phase.
var PhaseOrder = []PhaseName{
	PhaseSource,
	PhaseFilterRank,
	PhasePersistLeads,
	PhaseScrapeContent,
	PhaseGenerateDossier,
	PhaseFinalizeRank,
}

// PhaseStatus is the state of a single phase.
type PhaseStatus string

const (
	PhaseStatusPending  PhaseStatus = "pending"
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusError    PhaseStatus = "error"
)

// PhaseState tracks one phase of a flow.
type PhaseState struct {
	Name        PhaseName   `json:"name"`
	Status      PhaseStatus `json:"status"`
	Progress    float64     `json:"progress"` // 0..1
	Error       string      `json:"error,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	DurationMs  int64       `json:"duration_ms,omitempty"`
}

// FlowEvent is the most recent event, surfaced for UI display.
type FlowEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CreditCheck snapshots a billing balance check.
type CreditCheck struct {
	Allowed bool    `json:"allowed"`
	Balance float64 `json:"balance"`
}

// BillingBlock records the credit shortfall that paused a flow. It is
// attached while the flow sits in paused_for_upgrade and cleared atomically
// on resume.
type BillingBlock struct {
	Phase     PhaseName   `json:"phase"`
	FeatureID string      `json:"feature_id"`
	Check     CreditCheck `json:"check"`
	CreatedAt time.Time   `json:"created_at"`
}

// SourcedPlace is the snapshot of one business returned by sourcing.
type SourcedPlace struct {
	PlaceID string  `json:"place_id"`
	Name    string  `json:"name"`
	Website string  `json:"website,omitempty"`
	Phone   string  `json:"phone,omitempty"`
	Address string  `json:"address,omitempty"`
	Rating  float64 `json:"rating,omitempty"`
	Reviews int     `json:"reviews,omitempty"`
}

// Flow represents one lead-generation campaign run.
type Flow struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	AgencyID       string         `json:"agency_id"`
	Vertical       string         `json:"vertical"`
	Geography      string         `json:"geography"`
	RequestedLeads int            `json:"requested_leads"`
	FetchedLeads   int            `json:"fetched_leads"`
	Status         FlowStatus     `json:"status"`
	Phases         []PhaseState   `json:"phases"`
	LastEvent      *FlowEvent     `json:"last_event,omitempty"`
	BillingBlock   *BillingBlock  `json:"billing_block,omitempty"`
	Places         []SourcedPlace `json:"places,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewFlowPhases returns the phase list for a fresh flow, all pending.
func NewFlowPhases() []PhaseState {
	phases := make([]PhaseState, 0, len(PhaseOrder))
	for _, name := range PhaseOrder {
		phases = append(phases, PhaseState{Name: name, Status: PhaseStatusPending})
	}
	return phases
}

// Phase returns a pointer to the named phase, or nil.
func (f *Flow) Phase(name PhaseName) *PhaseState {
	for i := range f.Phases {
		if f.Phases[i].Name == name {
			return &f.Phases[i]
		}
	}
	return nil
}

// NextPhase returns the first phase that has not completed, or "" when the
// pipeline is done.
func (f *Flow) NextPhase() PhaseName {
	for _, name := range PhaseOrder {
		p := f.Phase(name)
		if p == nil || p.Status != PhaseStatusComplete {
			return name
		}
	}
	return ""
}
