package model

import "time"

// OpportunityStatus tracks a prospect through the pipeline.
type OpportunityStatus string

const (
	OpportunityStatusSourced  OpportunityStatus = "sourced"
	OpportunityStatusAuditing OpportunityStatus = "auditing"
	OpportunityStatusAudited  OpportunityStatus = "audited"
	OpportunityStatusReady    OpportunityStatus = "ready"
	OpportunityStatusBooked   OpportunityStatus = "booked"
	OpportunityStatusRejected OpportunityStatus = "rejected"
)

var opportunityRank = map[OpportunityStatus]int{
	OpportunityStatusSourced:  0,
	OpportunityStatusAuditing: 1,
	OpportunityStatusAudited:  2,
	OpportunityStatusReady:    3,
}

// CanTransition reports whether a prospect may move to the given status.
// Booked and rejected are terminal and reachable from any earlier state;
// the rest advance strictly forward.
func (s OpportunityStatus) CanTransition(to OpportunityStatus) bool {
	if s == to {
		return false
	}
	if s == OpportunityStatusBooked || s == OpportunityStatusRejected {
		return false
	}
	if to == OpportunityStatusBooked || to == OpportunityStatusRejected {
		return true
	}
	fromRank, okFrom := opportunityRank[s]
	toRank, okTo := opportunityRank[to]
	return okFrom && okTo && toRank > fromRank
}

// Opportunity is one prospect business discovered by sourcing.
type Opportunity struct {
	ID          string            `json:"id"`
	FlowID      string            `json:"flow_id"`
	AgencyID    string            `json:"agency_id"`
	PlaceID     string            `json:"place_id"`
	Name        string            `json:"name"`
	Website     string            `json:"website,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Address     string            `json:"address,omitempty"`
	Rating      float64           `json:"rating,omitempty"`
	Reviews     int               `json:"reviews,omitempty"`
	Score       float64           `json:"score"`
	FitReason   string            `json:"fit_reason,omitempty"`
	Status      OpportunityStatus `json:"status"`
	MeetingTime *time.Time        `json:"meeting_time,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
