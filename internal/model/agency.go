package model

import "time"

// Agency is the tenant on whose behalf calls are placed and meetings booked.
// The yaml tags cover the onboarding file read by `leadline agency import`.
type Agency struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`

	// AvailabilityWindows are recurring weekly rules in the agency timezone,
	// textual form "Mon 09:00-17:00". Derived slots are never persisted.
	AvailabilityWindows []string `json:"availability_windows,omitempty" yaml:"availability_windows"`

	// Prompt material for the assistant snapshot.
	Claims     []string `json:"claims,omitempty" yaml:"claims"`
	Guardrails []string `json:"guardrails,omitempty" yaml:"guardrails"`
	Offer      string   `json:"offer,omitempty" yaml:"offer"`

	PhoneNumberID string    `json:"phone_number_id,omitempty" yaml:"phone_number_id"` // provider-side caller id
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}
