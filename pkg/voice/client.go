package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.vapi.ai"

// Client performs voice provider API operations. Call progress arrives
// asynchronously through webhook events, not through this client.
type Client interface {
	CreatePhoneCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error)
}

// Assistant is the transient assistant definition sent with a call.
type Assistant struct {
	FirstMessage string          `json:"firstMessage,omitempty"`
	Model        *AssistantModel `json:"model,omitempty"`
	VoiceID      string          `json:"voiceId,omitempty"`
}

// AssistantModel configures the conversation model and its system prompt.
type AssistantModel struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages,omitempty"`
}

// Message is a prompt message for the assistant model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Customer identifies the dialed party.
type Customer struct {
	Number string `json:"number"`
}

// CreateCallRequest is the body for POST /call/phone.
type CreateCallRequest struct {
	PhoneNumberID string    `json:"phoneNumberId"`
	Customer      Customer  `json:"customer"`
	Assistant     Assistant `json:"assistant"`
}

// Monitor carries live-monitoring URLs for an active call.
type Monitor struct {
	ListenURL  string `json:"listenUrl,omitempty"`
	ControlURL string `json:"controlUrl,omitempty"`
}

// CreateCallResponse is the provider's acknowledgment of a placed call.
type CreateCallResponse struct {
	ID      string  `json:"id"`
	Status  string  `json:"status"`
	Monitor Monitor `json:"monitor"`
}

// APIError is returned when the provider responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voice: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a voice provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) CreatePhoneCall(ctx context.Context, callReq CreateCallRequest) (*CreateCallResponse, error) {
	body, err := json.Marshal(callReq)
	if err != nil {
		return nil, eris.Wrap(err, "voice: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call/phone", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "voice: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "voice: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "voice: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result CreateCallResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "voice: unmarshal response")
	}

	return &result, nil
}
