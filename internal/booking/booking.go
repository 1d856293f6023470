// Package booking commits proposed meeting times: it re-validates the
// slot against the live availability grid, guards against double-booking,
// and fans the outcome out to the call and opportunity records.
package booking

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/schedule"
	"github.com/leadline-ai/leadline/internal/store"
)

const followUpMaxRetries = 5

// Result is the outcome of a booking attempt. A failed booking is a
// normal outcome, not an error: callers reschedule, they don't retry.
type Result struct {
	Booked      bool
	Reason      string
	MeetingTime time.Time
}

// followUpPayload is the task payload for the confirmation follow-up.
type followUpPayload struct {
	CallID      string    `json:"call_id"`
	MeetingTime time.Time `json:"meeting_time"`
}

type Booker struct {
	store  store.Store
	engine *schedule.Engine
}

func New(st store.Store, engine *schedule.Engine) *Booker {
	return &Booker{store: st, engine: engine}
}

// Book attempts to finalize a meeting for a call at the proposed ISO
// timestamp. An unparseable timestamp is an error with no state change;
// a lost slot or lost race marks the call booking_failed and returns a
// non-booked result.
func (b *Booker) Book(ctx context.Context, callID, proposedISO string) (*Result, error) {
	c, err := b.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	agency, err := b.store.GetAgency(ctx, c.AgencyID)
	if err != nil {
		return nil, err
	}

	loc := b.engine.Location(agency)
	proposed, err := parseProposed(proposedISO, loc)
	if err != nil {
		zap.L().Error("booking: unparseable proposed time",
			zap.String("call_id", callID),
			zap.String("proposed", proposedISO),
			zap.Error(err))
		return nil, err
	}

	ok, err := b.engine.Validate(ctx, agency, proposed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return b.fail(ctx, c, proposed, "slot no longer available")
	}

	// best-effort pre-check; the insert below is the real guard
	taken, err := b.store.MeetingExistsAt(ctx, agency.ID, proposed)
	if err != nil {
		return nil, err
	}
	if taken {
		return b.fail(ctx, c, proposed, "slot already booked")
	}

	inserted, err := b.store.CreateMeeting(ctx, &model.Meeting{
		AgencyID:      agency.ID,
		OpportunityID: c.OpportunityID,
		CallID:        c.ID,
		MeetingTime:   proposed,
		Source:        "call",
	})
	if err != nil {
		// insert failures are converted, not propagated
		zap.L().Warn("booking: meeting insert failed",
			zap.String("call_id", c.ID), zap.Error(err))
		return b.fail(ctx, c, proposed, "meeting insert failed")
	}
	if !inserted {
		return b.fail(ctx, c, proposed, "lost booking race")
	}

	if err := b.store.UpdateCallOutcome(ctx, c.ID, model.OutcomeBooked, c.Status, "booked", &proposed); err != nil {
		return nil, err
	}
	if err := b.store.UpdateOpportunityStatus(ctx, c.OpportunityID, model.OpportunityStatusBooked, &proposed); err != nil {
		return nil, err
	}

	if _, err := b.store.EnqueueTask(ctx, model.TaskMeetingFollowUp,
		followUpPayload{CallID: c.ID, MeetingTime: proposed}, followUpMaxRetries); err != nil {
		// the meeting is committed; a lost follow-up is logged, not fatal
		zap.L().Warn("booking: enqueue follow-up failed",
			zap.String("call_id", c.ID), zap.Error(err))
	}

	zap.L().Info("booking: meeting booked",
		zap.String("call_id", c.ID),
		zap.String("opportunity_id", c.OpportunityID),
		zap.Time("meeting_time", proposed))
	return &Result{Booked: true, MeetingTime: proposed}, nil
}

// Reject marks a call's opportunity as explicitly not interested.
func (b *Booker) Reject(ctx context.Context, callID string) error {
	c, err := b.store.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if err := b.store.UpdateCallOutcome(ctx, c.ID, model.OutcomeRejected, c.Status, "rejected", nil); err != nil {
		return err
	}
	return b.store.UpdateOpportunityStatus(ctx, c.OpportunityID, model.OpportunityStatusRejected, nil)
}

func (b *Booker) fail(ctx context.Context, c *model.Call, proposed time.Time, reason string) (*Result, error) {
	zap.L().Info("booking: failed",
		zap.String("call_id", c.ID),
		zap.Time("proposed", proposed),
		zap.String("reason", reason))

	status := c.Status
	if c.Status.CanTransition(model.CallStatusBookingFailed) {
		status = model.CallStatusBookingFailed
	}
	if err := b.store.UpdateCallOutcome(ctx, c.ID, model.OutcomeBookingFailed, status, "booking_failed", nil); err != nil {
		return nil, err
	}
	return &Result{Booked: false, Reason: reason}, nil
}

// parseProposed accepts a full RFC3339 instant or a zone-less timestamp
// interpreted in the agency's timezone.
func parseProposed(iso string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, iso); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", iso, loc); err == nil {
		return t, nil
	}
	return time.Time{}, eris.Errorf("booking: invalid timestamp %q", iso)
}
