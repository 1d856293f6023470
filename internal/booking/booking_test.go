package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/schedule"
	"github.com/leadline-ai/leadline/internal/store"
)

// fixedNow is a Sunday evening; Monday morning slots are all open.
var fixedNow = time.Date(2026, 3, 1, 20, 0, 0, 0, mustNYC())

func mustNYC() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

type rig struct {
	store  *store.MemoryStore
	booker *Booker
}

func newRig(t *testing.T) *rig {
	t.Helper()
	st := store.NewMemory()
	st.PutAgency(&model.Agency{
		ID:                  "ag-1",
		Name:                "Northstar Digital",
		Timezone:            "America/New_York",
		AvailabilityWindows: []string{"Mon 09:00-10:00"},
	})
	require.NoError(t, st.CreateOpportunities(context.Background(), []model.Opportunity{{
		ID: "opp-1", AgencyID: "ag-1", Status: model.OpportunityStatusReady,
	}}))
	require.NoError(t, st.CreateCall(context.Background(), &model.Call{
		ID:            "call-1",
		OpportunityID: "opp-1",
		AgencyID:      "ag-1",
		Status:        model.CallStatusInProgress,
	}))

	engine := scheduleEngineAt(st, fixedNow)
	return &rig{store: st, booker: New(st, engine)}
}

func scheduleEngineAt(st *store.MemoryStore, now time.Time) *schedule.Engine {
	return schedule.NewAt(st, schedule.Options{}, func() time.Time { return now })
}

func TestBookSuccess(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	res, err := r.booker.Book(ctx, "call-1", "2026-03-02T09:15:00-05:00")
	require.NoError(t, err)
	assert.True(t, res.Booked)

	c, err := r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeBooked, c.Outcome)
	assert.Equal(t, "booked", c.CurrentStatus)
	require.NotNil(t, c.MeetingTime)
	assert.True(t, c.MeetingTime.Equal(res.MeetingTime))

	opp, err := r.store.GetOpportunity(ctx, "opp-1")
	require.NoError(t, err)
	assert.Equal(t, model.OpportunityStatusBooked, opp.Status)
	require.NotNil(t, opp.MeetingTime)

	tasks, err := r.store.DueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskMeetingFollowUp, tasks[0].Kind)
}

func TestBookZonelessTimestampUsesAgencyTimezone(t *testing.T) {
	r := newRig(t)

	res, err := r.booker.Book(context.Background(), "call-1", "2026-03-02T09:30:00")
	require.NoError(t, err)
	require.True(t, res.Booked)
	assert.True(t, res.MeetingTime.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, mustNYC())))
}

func TestBookInvalidTimestampNoStateChange(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.booker.Book(ctx, "call-1", "next tuesday-ish")
	require.Error(t, err)

	c, err := r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Empty(t, c.Outcome)
	assert.Equal(t, model.CallStatusInProgress, c.Status)
}

func TestBookStaleSlotFails(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// 11:00 is outside the Mon 09:00-10:00 window
	res, err := r.booker.Book(ctx, "call-1", "2026-03-02T11:00:00-05:00")
	require.NoError(t, err)
	assert.False(t, res.Booked)
	assert.Equal(t, "slot no longer available", res.Reason)

	c, err := r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeBookingFailed, c.Outcome)
	assert.Equal(t, model.CallStatusBookingFailed, c.Status)
}

func TestBookLosesRace(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// another caller already holds the slot; the booking must fail
	// cleanly rather than double-book
	slot := time.Date(2026, 3, 2, 9, 15, 0, 0, mustNYC())
	_, err := r.store.CreateMeeting(ctx, &model.Meeting{
		AgencyID: "ag-1", OpportunityID: "opp-x", CallID: "call-x", MeetingTime: slot,
	})
	require.NoError(t, err)

	res, err := r.booker.Book(ctx, "call-1", "2026-03-02T09:15:00-05:00")
	require.NoError(t, err)
	assert.False(t, res.Booked)

	c, err := r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeBookingFailed, c.Outcome)
}

func TestReject(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	require.NoError(t, r.booker.Reject(ctx, "call-1"))

	c, err := r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, c.Outcome)

	opp, err := r.store.GetOpportunity(ctx, "opp-1")
	require.NoError(t, err)
	assert.Equal(t, model.OpportunityStatusRejected, opp.Status)
}

func TestHandleFollowUpIdempotent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	payload, _ := json.Marshal(followUpPayload{CallID: "call-1", MeetingTime: fixedNow})
	require.NoError(t, r.booker.HandleFollowUp(ctx, payload))

	c, err := r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, c.Metadata.FollowUpSentAt)
	first := *c.Metadata.FollowUpSentAt

	require.NoError(t, r.booker.HandleFollowUp(ctx, payload))
	c, err = r.store.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, c.Metadata.FollowUpSentAt.Equal(first), "redelivery never re-stamps")
}
