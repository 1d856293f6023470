package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/call"
)

// Webhook auth headers. The provider sends either the shared secret
// verbatim or an HMAC-SHA256 hex digest of the raw body.
const (
	headerSecret    = "X-Voice-Secret"
	headerSignature = "X-Voice-Signature"
	headerCallID    = "X-Call-Id"
)

// webhookEnvelope covers both the bare event shape and the provider's
// {"message": {...}} wrapper.
type webhookEnvelope struct {
	Message *webhookEvent `json:"message"`
	webhookEvent
}

type webhookEvent struct {
	Type            string              `json:"type"`
	Status          string              `json:"status"`
	Role            string              `json:"role"`
	TranscriptType  string              `json:"transcriptType"`
	Transcript      string              `json:"transcript"`
	Messages        []call.EventMessage `json:"messages"`
	Summary         string              `json:"summary"`
	RecordingURL    string              `json:"recordingUrl"`
	EndedReason     string              `json:"endedReason"`
	DurationSeconds *float64            `json:"durationSeconds"`

	Call struct {
		ID string `json:"id"`
	} `json:"call"`
	ID     string `json:"id"`
	CallID string `json:"callId"`
}

// providerCallID tries the payload's id fields and falls back to the
// call-id header some delivery paths set instead.
func (e *webhookEvent) providerCallID(r *http.Request) string {
	switch {
	case e.Call.ID != "":
		return e.Call.ID
	case e.CallID != "":
		return e.CallID
	case e.ID != "":
		return e.ID
	}
	return r.Header.Get(headerCallID)
}

// verifySignature checks the raw request body against the shared
// secret. Either header form is accepted; comparison is constant time.
func verifySignature(r *http.Request, body []byte, secret string) bool {
	if secret == "" {
		return true
	}
	if s := r.Header.Get(headerSecret); s != "" {
		return subtle.ConstantTimeCompare([]byte(s), []byte(secret)) == 1
	}
	if sig := r.Header.Get(headerSignature); sig != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(sig), []byte(want))
	}
	return false
}

// handleVoiceWebhook ingests call lifecycle events. Once the payload
// parses the response is 200 no matter what the event did: the provider
// retries non-2xx responses and our handlers are idempotent, so a
// business-level drop must not look like a delivery failure.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !verifySignature(r, body, s.webhookSecret) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ev := env.webhookEvent
	if env.Message != nil {
		ev = *env.Message
	}

	event := call.Event{
		Type:            ev.Type,
		ProviderCallID:  ev.providerCallID(r),
		Status:          ev.Status,
		Role:            ev.Role,
		TranscriptType:  ev.TranscriptType,
		Transcript:      ev.Transcript,
		Messages:        ev.Messages,
		Summary:         ev.Summary,
		RecordingURL:    ev.RecordingURL,
		EndedReason:     ev.EndedReason,
		DurationSeconds: ev.DurationSeconds,
		ReceivedAt:      time.Now().UTC(),
	}

	if err := s.calls.Ingest(r.Context(), event); err != nil {
		// still 200: a non-2xx here would trigger a provider retry storm,
		// and the event is already lost to this delivery either way
		zap.L().Error("server: ingest webhook event",
			zap.String("type", event.Type),
			zap.String("provider_call_id", event.ProviderCallID),
			zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
