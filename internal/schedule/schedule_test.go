package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadline-ai/leadline/internal/model"
)

type fakeMeetings struct {
	meetings []model.Meeting
	err      error
}

func (f *fakeMeetings) ListMeetings(_ context.Context, _ string, _, _ time.Time) ([]model.Meeting, error) {
	return f.meetings, f.err
}

func newTestEngine(meetings []model.Meeting, now time.Time) *Engine {
	e := New(&fakeMeetings{meetings: meetings}, Options{})
	e.now = func() time.Time { return now }
	return e
}

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    window
		wantErr bool
	}{
		{name: "weekday morning", in: "Mon 09:00-17:00", want: window{weekday: time.Monday, startMin: 540, endMin: 1020}},
		{name: "lowercase day", in: "fri 13:30-15:00", want: window{weekday: time.Friday, startMin: 810, endMin: 900}},
		{name: "missing range", in: "Mon", wantErr: true},
		{name: "unknown day", in: "Xyz 09:00-17:00", wantErr: true},
		{name: "inverted range", in: "Tue 17:00-09:00", wantErr: true},
		{name: "hour out of range", in: "Wed 25:00-26:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWindow(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlotsSingleWindow(t *testing.T) {
	loc := nyc(t)
	// Sunday evening; the following Monday falls inside the 7-day lookahead.
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, loc)

	e := newTestEngine(nil, now)
	agency := &model.Agency{
		ID:                  "ag-1",
		Timezone:            "America/New_York",
		AvailabilityWindows: []string{"Mon 09:00-10:00"},
	}

	slots, err := e.Slots(context.Background(), agency)
	require.NoError(t, err)
	require.Len(t, slots, 4)

	want := []time.Time{
		time.Date(2026, 3, 2, 9, 0, 0, 0, loc),
		time.Date(2026, 3, 2, 9, 15, 0, 0, loc),
		time.Date(2026, 3, 2, 9, 30, 0, 0, loc),
		time.Date(2026, 3, 2, 9, 45, 0, 0, loc),
	}
	for i, s := range slots {
		assert.True(t, s.Time.Equal(want[i]), "slot %d: got %v want %v", i, s.Time, want[i])
	}
	assert.Equal(t, "Monday, Mar 2 at 9:00 AM EST", slots[0].Label)
}

func TestSlotsDropPast(t *testing.T) {
	loc := nyc(t)
	// Mid-window on Monday: 09:00 and 09:15 are already gone, 09:20 is "now".
	now := time.Date(2026, 3, 2, 9, 20, 0, 0, loc)

	e := newTestEngine(nil, now)
	agency := &model.Agency{
		ID:                  "ag-1",
		Timezone:            "America/New_York",
		AvailabilityWindows: []string{"Mon 09:00-10:00"},
	}

	slots, err := e.Slots(context.Background(), agency)
	require.NoError(t, err)
	// 09:30 and 09:45 today, plus the full window next Monday would be
	// outside the 7-day lookahead (day offsets 0..6 cover only this week).
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Time.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, loc)))
}

func TestSlotsConflictBuffer(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, loc)

	booked := time.Date(2026, 3, 2, 9, 15, 0, 0, loc)
	e := newTestEngine([]model.Meeting{{AgencyID: "ag-1", MeetingTime: booked}}, now)
	agency := &model.Agency{
		ID:                  "ag-1",
		Timezone:            "America/New_York",
		AvailabilityWindows: []string{"Mon 09:00-10:00"},
	}

	slots, err := e.Slots(context.Background(), agency)
	require.NoError(t, err)

	// Exactly 15 minutes away is allowed (buffer comparison is strict),
	// only the colliding instant itself is excluded.
	times := make([]time.Time, len(slots))
	for i, s := range slots {
		times[i] = s.Time
	}
	assert.NotContains(t, times, booked)
	require.Len(t, slots, 3)
	assert.True(t, slots[0].Time.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, loc)))
	assert.True(t, slots[1].Time.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, loc)))
}

func TestSlotsSkipsMalformedWindows(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, loc)

	e := newTestEngine(nil, now)
	agency := &model.Agency{
		ID:                  "ag-1",
		Timezone:            "America/New_York",
		AvailabilityWindows: []string{"garbage", "Mon 09:00-09:30"},
	}

	slots, err := e.Slots(context.Background(), agency)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestSlotsDefaultTimezone(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, loc)

	e := newTestEngine(nil, now)
	agency := &model.Agency{
		ID:                  "ag-1",
		AvailabilityWindows: []string{"Mon 09:00-09:15"},
	}

	slots, err := e.Slots(context.Background(), agency)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "EST", slots[0].Time.Format("MST"))
}

func TestValidate(t *testing.T) {
	loc := nyc(t)
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, loc)
	agency := &model.Agency{
		ID:                  "ag-1",
		Timezone:            "America/New_York",
		AvailabilityWindows: []string{"Mon 09:00-10:00"},
	}

	e := newTestEngine(nil, now)
	ctx := context.Background()

	t.Run("exact match", func(t *testing.T) {
		ok, err := e.Validate(ctx, agency, time.Date(2026, 3, 2, 9, 15, 0, 0, loc))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("within tolerance", func(t *testing.T) {
		ok, err := e.Validate(ctx, agency, time.Date(2026, 3, 2, 9, 15, 30, 0, loc))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("outside tolerance", func(t *testing.T) {
		ok, err := e.Validate(ctx, agency, time.Date(2026, 3, 2, 9, 17, 0, 0, loc))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("booked slot is not valid", func(t *testing.T) {
		booked := time.Date(2026, 3, 2, 9, 15, 0, 0, loc)
		e := newTestEngine([]model.Meeting{{AgencyID: "ag-1", MeetingTime: booked}}, now)
		ok, err := e.Validate(ctx, agency, booked)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
