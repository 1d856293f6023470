package model

import "time"

// Meeting is a confirmed booking. Rows are immutable after insert.
//
// At most one meeting may exist per (agency, exact instant). The store layer
// carries a unique index for that pair; the booking finalizer additionally
// pre-checks so a lost race surfaces as booking_failed, never as a crash.
type Meeting struct {
	ID            string    `json:"id"`
	AgencyID      string    `json:"agency_id"`
	OpportunityID string    `json:"opportunity_id"`
	CallID        string    `json:"call_id"`
	MeetingTime   time.Time `json:"meeting_time"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}
