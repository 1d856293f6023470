package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from CallStatus
		to   CallStatus
		want bool
	}{
		{"initiated to queued", CallStatusInitiated, CallStatusQueued, true},
		{"queued to ringing", CallStatusQueued, CallStatusRinging, true},
		{"ringing to in_progress", CallStatusRinging, CallStatusInProgress, true},
		{"in_progress to ended", CallStatusInProgress, CallStatusEnded, true},
		{"ended to completed", CallStatusEnded, CallStatusCompleted, true},
		{"skip ahead queued to completed", CallStatusQueued, CallStatusCompleted, true},
		{"backwards completed to ringing", CallStatusCompleted, CallStatusRinging, false},
		{"backwards in_progress to queued", CallStatusInProgress, CallStatusQueued, false},
		{"same status", CallStatusQueued, CallStatusQueued, false},
		{"any to failed", CallStatusRinging, CallStatusFailed, true},
		{"failed is terminal", CallStatusFailed, CallStatusQueued, false},
		{"booking_failed from completed", CallStatusCompleted, CallStatusBookingFailed, true},
		{"booking_failed from queued", CallStatusQueued, CallStatusBookingFailed, false},
		{"booking_failed is terminal", CallStatusBookingFailed, CallStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestCallStatusIsTerminal(t *testing.T) {
	assert.True(t, CallStatusFailed.IsTerminal())
	assert.True(t, CallStatusBookingFailed.IsTerminal())
	assert.False(t, CallStatusCompleted.IsTerminal())
	assert.False(t, CallStatusInitiated.IsTerminal())
}
