// Package call owns the outbound call lifecycle: creation, the deferred
// provider handoff, webhook-driven state reconstruction, and end-of-call
// billing metering.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/resilience"
	"github.com/leadline-ai/leadline/internal/store"
	"github.com/leadline-ai/leadline/pkg/billing"
	"github.com/leadline-ai/leadline/pkg/voice"
)

// FeatureCallMinutes is the billing feature metered per completed call.
const FeatureCallMinutes = "call_minutes"

const providerCreateMaxRetries = 3

// providerRetry absorbs transient provider failures in-process; a
// persistent outage falls through to the task queue's redelivery.
var providerRetry = resilience.Config{
	MaxAttempts: 3,
	ShouldRetry: func(err error) bool {
		var apiErr *voice.APIError
		if errors.As(err, &apiErr) {
			return resilience.IsTransientStatus(apiErr.StatusCode)
		}
		return resilience.IsTransient(err)
	},
}

// Manager drives call state.
type Manager struct {
	store   store.Store
	voice   voice.Client
	billing billing.Client
}

func NewManager(st store.Store, vc voice.Client, bill billing.Client) *Manager {
	return &Manager{store: st, voice: vc, billing: bill}
}

// providerCreatePayload is the task payload for the deferred provider call.
type providerCreatePayload struct {
	CallID string `json:"call_id"`
}

// Start creates a call row for an opportunity and queues the provider
// handoff. The synchronous path never touches the voice API, so a
// provider outage cannot fail call creation.
func (m *Manager) Start(ctx context.Context, opportunityID string) (*model.Call, error) {
	opp, err := m.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	if opp.Phone == "" {
		return nil, eris.Errorf("call: opportunity %s has no phone number", opp.ID)
	}

	agency, err := m.store.GetAgency(ctx, opp.AgencyID)
	if err != nil {
		return nil, err
	}

	c := &model.Call{
		OpportunityID:  opp.ID,
		AgencyID:       agency.ID,
		CustomerNumber: opp.Phone,
		Assistant:      BuildAssistant(agency, opp),
		Status:         model.CallStatusInitiated,
	}
	if err := m.store.CreateCall(ctx, c); err != nil {
		return nil, err
	}

	if _, err := m.store.EnqueueTask(ctx, model.TaskCreateProviderCall,
		providerCreatePayload{CallID: c.ID}, providerCreateMaxRetries); err != nil {
		return nil, eris.Wrap(err, "call: enqueue provider create")
	}

	zap.L().Info("call: started",
		zap.String("call_id", c.ID),
		zap.String("opportunity_id", opp.ID))
	return c, nil
}

// HandleProviderCreate is the task handler that asks the voice provider
// to place the call and binds its id to our row. Safe to retry: an
// already-attached call is a no-op.
func (m *Manager) HandleProviderCreate(ctx context.Context, payload json.RawMessage) error {
	var p providerCreatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return eris.Wrap(err, "call: decode provider create payload")
	}

	c, err := m.store.GetCall(ctx, p.CallID)
	if err != nil {
		return err
	}
	if c.ProviderCallID != "" {
		return nil
	}

	agency, err := m.store.GetAgency(ctx, c.AgencyID)
	if err != nil {
		return err
	}

	req := voice.CreateCallRequest{
		PhoneNumberID: agency.PhoneNumberID,
		Customer:      voice.Customer{Number: c.CustomerNumber},
		Assistant: voice.Assistant{
			FirstMessage: c.Assistant.FirstMessage,
			VoiceID:      c.Assistant.VoiceID,
			Model: &voice.AssistantModel{
				Provider: "anthropic",
				Model:    c.Assistant.Model,
				Messages: []voice.Message{{Role: "system", Content: c.Assistant.SystemPrompt}},
			},
		},
	}
	resp, err := resilience.DoVal(ctx, providerRetry, "voice.create", func(ctx context.Context) (*voice.CreateCallResponse, error) {
		return m.voice.CreatePhoneCall(ctx, req)
	})
	if err != nil {
		return eris.Wrapf(err, "call: provider create %s", c.ID)
	}

	var monitors []string
	if resp.Monitor.ListenURL != "" {
		monitors = append(monitors, resp.Monitor.ListenURL)
	}
	if resp.Monitor.ControlURL != "" {
		monitors = append(monitors, resp.Monitor.ControlURL)
	}

	attached, err := m.store.AttachProviderCall(ctx, c.ID, resp.ID, monitors)
	if err != nil {
		return err
	}
	if !attached {
		zap.L().Warn("call: provider id already attached, dropping duplicate",
			zap.String("call_id", c.ID),
			zap.String("provider_call_id", resp.ID))
	}
	return nil
}

// meter bills a completed call. Idempotent: a metering record on the call
// metadata means a redelivered end-of-call report changes nothing. The
// record is written after Track, so a write failure in between leaves a
// window where a redelivery bills twice; the same single-digit-minutes
// exposure as the accepted under-billing race, and auditable from the
// provider's event log.
func (m *Manager) meter(ctx context.Context, callID string) error {
	c, err := m.store.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if c.Metadata.Metering != nil {
		zap.L().Debug("call: already metered", zap.String("call_id", c.ID))
		return nil
	}

	requested := int(math.Ceil(float64(c.BillingSeconds) / 60))

	res, err := m.billing.Check(ctx, c.AgencyID, FeatureCallMinutes)
	if err != nil {
		return eris.Wrapf(err, "call: balance check %s", c.ID)
	}

	// never bill more than the balance held at track time, even if that
	// under-bills the call
	billed := requested
	if avail := int(math.Floor(res.Balance)); billed > avail {
		billed = avail
	}
	if billed < 0 {
		billed = 0
	}

	if billed > 0 {
		if err := m.billing.Track(ctx, c.AgencyID, FeatureCallMinutes, billed); err != nil {
			return eris.Wrapf(err, "call: track minutes %s", c.ID)
		}
	}

	return m.store.RecordMetering(ctx, c.ID, model.CallMetering{
		RequestedMinutes: requested,
		BilledMinutes:    billed,
		BalanceAtCheck:   res.Balance,
		MeteredAt:        time.Now().UTC(),
	})
}
