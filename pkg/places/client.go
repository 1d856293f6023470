package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// MaxResults is the provider-side cap on results per text search.
const MaxResults = 20

// Client performs places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string, maxResults int) (*TextSearchResponse, error)
}

// TextSearchResponse is the response from a text search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a business returned by the API.
type Place struct {
	ID                  string      `json:"id"`
	DisplayName         DisplayName `json:"displayName"`
	FormattedAddress    string      `json:"formattedAddress"`
	WebsiteURI          string      `json:"websiteUri"`
	NationalPhoneNumber string      `json:"nationalPhoneNumber"`
	Rating              float64     `json:"rating"`
	UserRatingCount     int         `json:"userRatingCount"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
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

// WithRateLimit throttles text searches to r requests per second.
// Text search quota is shared across every running campaign.
func WithRateLimit(r float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a places API client.
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

type textSearchRequest struct {
	TextQuery      string `json:"textQuery"`
	MaxResultCount int    `json:"maxResultCount,omitempty"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string, maxResults int) (*TextSearchResponse, error) {
	if maxResults <= 0 || maxResults > MaxResults {
		maxResults = MaxResults
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "places: rate limit wait")
		}
	}

	body, err := json.Marshal(textSearchRequest{TextQuery: query, MaxResultCount: maxResults})
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask",
		"places.id,places.displayName,places.formattedAddress,places.websiteUri,places.nationalPhoneNumber,places.rating,places.userRatingCount")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	return &result, nil
}
