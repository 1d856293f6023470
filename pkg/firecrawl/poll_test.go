package firecrawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned statuses in sequence, then repeats the last.
type scriptedClient struct {
	statuses []*CrawlStatusResponse
	pages    map[string]*CrawlStatusResponse
	calls    int
}

func (s *scriptedClient) Crawl(context.Context, CrawlRequest) (*CrawlResponse, error) {
	return &CrawlResponse{Success: true, ID: "crawl-1"}, nil
}

func (s *scriptedClient) GetCrawlStatus(context.Context, string) (*CrawlStatusResponse, error) {
	i := s.calls
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.calls++
	return s.statuses[i], nil
}

func (s *scriptedClient) GetCrawlStatusPage(_ context.Context, pageURL string) (*CrawlStatusResponse, error) {
	return s.pages[pageURL], nil
}

func (s *scriptedClient) Scrape(context.Context, ScrapeRequest) (*ScrapeResponse, error) {
	return &ScrapeResponse{Success: true}, nil
}

func fastPoll() []PollOption {
	return []PollOption{
		WithPollInterval(time.Millisecond),
		WithPollCap(time.Millisecond),
		WithPollTimeout(time.Second),
	}
}

func TestPollCrawlCompletes(t *testing.T) {
	client := &scriptedClient{statuses: []*CrawlStatusResponse{
		{Status: "scraping"},
		{Status: "scraping"},
		{Status: "completed", Total: 1, Data: []PageData{{URL: "https://acmeplumbing.com"}}},
	}}

	status, err := PollCrawl(context.Background(), client, "crawl-1", fastPoll()...)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Len(t, status.Data, 1)
	assert.Equal(t, 3, client.calls)
}

func TestPollCrawlFollowsNextCursors(t *testing.T) {
	client := &scriptedClient{
		statuses: []*CrawlStatusResponse{
			{Status: "completed", Total: 3, Next: "https://api/crawl/1?skip=1",
				Data: []PageData{{URL: "https://a.com/1"}}},
		},
		pages: map[string]*CrawlStatusResponse{
			"https://api/crawl/1?skip=1": {Next: "https://api/crawl/1?skip=2",
				Data: []PageData{{URL: "https://a.com/2"}}},
			"https://api/crawl/1?skip=2": {Data: []PageData{{URL: "https://a.com/3"}}},
		},
	}

	status, err := PollCrawl(context.Background(), client, "crawl-1", fastPoll()...)
	require.NoError(t, err)
	require.Len(t, status.Data, 3)
	assert.Empty(t, status.Next)
}

func TestPollCrawlFailedStatus(t *testing.T) {
	client := &scriptedClient{statuses: []*CrawlStatusResponse{{Status: "failed"}}}

	_, err := PollCrawl(context.Background(), client, "crawl-1", fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestPollCrawlTimesOut(t *testing.T) {
	client := &scriptedClient{statuses: []*CrawlStatusResponse{{Status: "scraping"}}}

	_, err := PollCrawl(context.Background(), client, "crawl-1",
		WithPollInterval(time.Millisecond), WithPollCap(time.Millisecond), WithPollTimeout(25*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
