package places

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

func TestTextSearch(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.nationalPhoneNumber")

		var req textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "plumbers in Austin TX", req.TextQuery)
		assert.Equal(t, 10, req.MaxResultCount)

		json.NewEncoder(w).Encode(TextSearchResponse{Places: []Place{
			{
				ID:                  "place-1",
				DisplayName:         DisplayName{Text: "Acme Plumbing"},
				FormattedAddress:    "100 Congress Ave, Austin, TX",
				WebsiteURI:          "https://acmeplumbing.com",
				NationalPhoneNumber: "(512) 555-0134",
				Rating:              4.8,
				UserRatingCount:     120,
			},
		}})
	})

	resp, err := c.TextSearch(context.Background(), "plumbers in Austin TX", 10)
	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "Acme Plumbing", resp.Places[0].DisplayName.Text)
	assert.Equal(t, 4.8, resp.Places[0].Rating)
}

func TestTextSearchClampsMaxResults(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, MaxResults, req.MaxResultCount)
		json.NewEncoder(w).Encode(TextSearchResponse{})
	})

	_, err := c.TextSearch(context.Background(), "plumbers", 500)
	require.NoError(t, err)
}

func TestTextSearchAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"API key invalid"}}`))
	})

	_, err := c.TextSearch(context.Background(), "plumbers", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestTextSearchRateLimitHonorsContext(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TextSearchResponse{})
	})
	// exhaust the single token, then cancel before the next wait completes
	limited := NewClient("k", WithBaseURL(c.(*httpClient).baseURL), WithRateLimit(0.001, 1))

	_, err := limited.TextSearch(context.Background(), "plumbers", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited.TextSearch(ctx, "plumbers", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
