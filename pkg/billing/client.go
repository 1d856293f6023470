package billing

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

const defaultBaseURL = "https://api.useautumn.com/v1"

// Client performs billing provider operations. Check and Track are two
// independent calls with no transactional link between them; callers that
// meter usage must re-check balance immediately before tracking and cap the
// tracked amount at that balance.
type Client interface {
	Check(ctx context.Context, customerID, featureID string) (*CheckResult, error)
	Track(ctx context.Context, customerID, featureID string, value int) error
}

// CheckResult reports whether a feature is usable and the remaining balance.
type CheckResult struct {
	Allowed bool    `json:"allowed"`
	Balance float64 `json:"balance"`
}

// APIError is returned when the provider responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("billing: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a billing provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type checkRequest struct {
	CustomerID string `json:"customer_id"`
	FeatureID  string `json:"feature_id"`
}

type trackRequest struct {
	CustomerID string `json:"customer_id"`
	FeatureID  string `json:"feature_id"`
	Value      int    `json:"value"`
}

func (c *httpClient) Check(ctx context.Context, customerID, featureID string) (*CheckResult, error) {
	var result CheckResult
	if err := c.post(ctx, "/check", checkRequest{CustomerID: customerID, FeatureID: featureID}, &result); err != nil {
		return nil, eris.Wrapf(err, "billing: check %s", featureID)
	}
	return &result, nil
}

func (c *httpClient) Track(ctx context.Context, customerID, featureID string, value int) error {
	if err := c.post(ctx, "/track", trackRequest{CustomerID: customerID, FeatureID: featureID, Value: value}, nil); err != nil {
		return eris.Wrapf(err, "billing: track %s", featureID)
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
	}

	return nil
}
