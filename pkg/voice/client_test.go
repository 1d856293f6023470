package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-api-key", WithBaseURL(srv.URL))
}

func TestCreatePhoneCall(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/call/phone", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var req CreateCallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pn-1", req.PhoneNumberID)
		assert.Equal(t, "+15125550134", req.Customer.Number)
		require.NotNil(t, req.Assistant.Model)
		assert.Equal(t, "anthropic", req.Assistant.Model.Provider)
		require.Len(t, req.Assistant.Model.Messages, 1)
		assert.Equal(t, "system", req.Assistant.Model.Messages[0].Role)

		json.NewEncoder(w).Encode(CreateCallResponse{
			ID:     "prov-1",
			Status: "queued",
			Monitor: Monitor{
				ListenURL:  "wss://listen.example/prov-1",
				ControlURL: "https://control.example/prov-1",
			},
		})
	})

	resp, err := c.CreatePhoneCall(context.Background(), CreateCallRequest{
		PhoneNumberID: "pn-1",
		Customer:      Customer{Number: "+15125550134"},
		Assistant: Assistant{
			FirstMessage: "Hi, this is an assistant calling on behalf of Northstar Digital.",
			Model: &AssistantModel{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
				Messages: []Message{{Role: "system", Content: "You are a booking assistant."}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", resp.ID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "wss://listen.example/prov-1", resp.Monitor.ListenURL)
}

func TestCreatePhoneCallAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid phone number"}`))
	})

	_, err := c.CreatePhoneCall(context.Background(), CreateCallRequest{})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid phone number")
}

func TestCreatePhoneCallMalformedResponse(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := c.CreatePhoneCall(context.Background(), CreateCallRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestAPIError_Error(t *testing.T) {
	t.Parallel()
	e := &APIError{StatusCode: 503, Body: `{"error":"unavailable"}`}
	assert.Equal(t, `voice: HTTP 503: {"error":"unavailable"}`, e.Error())
}
