package call

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
)

// Recognized webhook event types. Anything else is ignored.
const (
	EventStatusUpdate    = "status-update"
	EventSpeechUpdate    = "speech-update"
	EventTranscript      = "transcript"
	EventEndOfCallReport = "end-of-call-report"
)

// Event is one parsed webhook event from the voice provider.
type Event struct {
	Type           string
	ProviderCallID string

	// status-update
	Status string

	// speech-update / transcript
	Role           string
	TranscriptType string // "partial" fragments are dropped
	Transcript     string
	Messages       []EventMessage

	// end-of-call-report
	Summary         string
	RecordingURL    string
	EndedReason     string
	DurationSeconds *float64

	ReceivedAt time.Time
}

// EventMessage is the array-of-messages transcript form.
type EventMessage struct {
	Role    string   `json:"role"`
	Message string   `json:"message"`
	Time    *float64 `json:"time,omitempty"`
}

// providerStatus maps the provider's status strings onto our lifecycle.
var providerStatus = map[string]model.CallStatus{
	"queued":      model.CallStatusQueued,
	"ringing":     model.CallStatusRinging,
	"in-progress": model.CallStatusInProgress,
	"forwarding":  model.CallStatusInProgress,
	"ended":       model.CallStatusEnded,
}

// Ingest folds one webhook event into call state. Events that cannot be
// correlated or understood are logged and dropped, never errored: the
// provider retries on failure and a retry storm helps nobody.
func (m *Manager) Ingest(ctx context.Context, ev Event) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	// An empty provider id would match every call still awaiting attach.
	if ev.ProviderCallID == "" {
		zap.L().Info("call: event without provider call id, dropping",
			zap.String("type", ev.Type))
		return nil
	}

	c, err := m.store.GetCallByProviderID(ctx, ev.ProviderCallID)
	if err != nil {
		return err
	}
	if c == nil {
		zap.L().Info("call: event for unknown provider call, dropping",
			zap.String("type", ev.Type),
			zap.String("provider_call_id", ev.ProviderCallID))
		return nil
	}

	switch ev.Type {
	case EventStatusUpdate:
		return m.ingestStatus(ctx, c, ev)
	case EventSpeechUpdate, EventTranscript:
		return m.ingestTranscript(ctx, c, ev)
	case EventEndOfCallReport:
		return m.ingestEndOfCall(ctx, c, ev)
	default:
		zap.L().Debug("call: ignoring unknown event type",
			zap.String("type", ev.Type),
			zap.String("call_id", c.ID))
		return nil
	}
}

func (m *Manager) ingestStatus(ctx context.Context, c *model.Call, ev Event) error {
	mapped, ok := providerStatus[ev.Status]
	if !ok {
		// unrecognized provider status still refreshes currentStatus
		mapped = c.Status
	}

	effective := c.Status
	if c.Status.CanTransition(mapped) {
		effective = mapped
	}
	return m.store.UpdateCallStatus(ctx, c.ID, effective, ev.Status, ev.ReceivedAt)
}

func (m *Manager) ingestTranscript(ctx context.Context, c *model.Call, ev Event) error {
	if ev.TranscriptType == "partial" {
		return nil
	}

	if len(ev.Messages) > 0 {
		for _, msg := range ev.Messages {
			if msg.Message == "" {
				continue
			}
			frag := model.TranscriptFragment{Role: msg.Role, Text: msg.Message, Source: ev.Type}
			if msg.Time != nil {
				t := time.UnixMilli(int64(*msg.Time)).UTC()
				frag.Timestamp = &t
			}
			if err := m.store.AppendTranscript(ctx, c.ID, frag, ev.ReceivedAt); err != nil {
				return err
			}
		}
		return nil
	}

	if ev.Transcript == "" {
		return nil
	}
	return m.store.AppendTranscript(ctx, c.ID, model.TranscriptFragment{
		Role:      ev.Role,
		Text:      ev.Transcript,
		Timestamp: &ev.ReceivedAt,
		Source:    ev.Type,
	}, ev.ReceivedAt)
}

func (m *Manager) ingestEndOfCall(ctx context.Context, c *model.Call, ev Event) error {
	var billingSeconds *int
	if d := ev.DurationSeconds; d != nil && !math.IsNaN(*d) && !math.IsInf(*d, 0) {
		secs := int(*d)
		if secs < 0 {
			secs = 0
		}
		billingSeconds = &secs
	}

	if err := m.store.CompleteCall(ctx, c.ID, ev.Summary, ev.RecordingURL, ev.EndedReason, billingSeconds, ev.ReceivedAt); err != nil {
		return err
	}
	return m.meter(ctx, c.ID)
}
