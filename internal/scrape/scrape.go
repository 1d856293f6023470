// Package scrape drives crawl-and-scrape passes over candidate websites:
// it starts a crawl biased toward high-signal pages, polls it to
// completion, then scrapes selected pages in bounded-concurrency batches.
package scrape

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/resilience"
	"github.com/leadline-ai/leadline/pkg/blob"
	"github.com/leadline-ai/leadline/pkg/firecrawl"
)

// Options controls crawl shape and scrape batching.
type Options struct {
	MaxPages     int
	MaxDepth     int
	BatchSize    int
	BatchDelay   time.Duration
	CharBudget   int
	IncludePaths []string
	ExcludePaths []string
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 30
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 2
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 4
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = 500 * time.Millisecond
	}
	if o.CharBudget <= 0 {
		o.CharBudget = 8000
	}
	if len(o.IncludePaths) == 0 {
		o.IncludePaths = []string{
			"/product*", "/pricing*", "/about*", "/docs*",
			"/case-stud*", "/customers*", "/security*", "/services*",
		}
	}
	if len(o.ExcludePaths) == 0 {
		o.ExcludePaths = []string{
			"/legal*", "/privacy*", "/terms*", "/blog*",
			"/careers*", "/tag/*", "/category/*",
		}
	}
	return o
}

// PageWriter is the slice of the store the driver persists page state to.
type PageWriter interface {
	UpsertAuditPage(ctx context.Context, page *model.AuditPage) error
}

// Driver runs crawls and scrapes against the crawling provider.
type Driver struct {
	crawler firecrawl.Client
	blobs   blob.Store
	pages   PageWriter
	opts    Options

	pollOpts []firecrawl.PollOption
}

func NewDriver(crawler firecrawl.Client, blobs blob.Store, pages PageWriter, opts Options, pollOpts ...firecrawl.PollOption) *Driver {
	return &Driver{
		crawler:  crawler,
		blobs:    blobs,
		pages:    pages,
		opts:     opts.withDefaults(),
		pollOpts: pollOpts,
	}
}

// PageRef is a discovered page before any content is fetched.
type PageRef struct {
	URL   string
	Title string
}

// DiscoverPages runs a content-free crawl that returns only URL/title
// pairs for pages passing the path filter, used to decide which pages
// are worth a full scrape.
func (d *Driver) DiscoverPages(ctx context.Context, baseURL string) ([]PageRef, error) {
	status, err := d.runCrawl(ctx, baseURL, nil)
	if err != nil {
		return nil, err
	}

	refs := make([]PageRef, 0, len(status.Data))
	for _, p := range status.Data {
		u := p.Metadata.SourceURL
		if u == "" {
			u = p.URL
		}
		if u == "" {
			continue
		}
		refs = append(refs, PageRef{URL: u, Title: p.Metadata.Title})
	}
	return NewPathFilter(d.opts.IncludePaths, d.opts.ExcludePaths).Select(refs), nil
}

func (d *Driver) runCrawl(ctx context.Context, baseURL string, scrapeOpts *firecrawl.ScrapeOptions) (*firecrawl.CrawlStatusResponse, error) {
	resp, err := d.crawler.Crawl(ctx, firecrawl.CrawlRequest{
		URL:             baseURL,
		MaxDepth:        d.opts.MaxDepth,
		Limit:           d.opts.MaxPages,
		IncludePaths:    d.opts.IncludePaths,
		ExcludePaths:    d.opts.ExcludePaths,
		AllowSubdomains: false,
		ScrapeOptions:   scrapeOpts,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: start crawl %s", baseURL)
	}

	status, err := firecrawl.PollCrawl(ctx, d.crawler, resp.ID, d.pollOpts...)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: poll crawl %s", resp.ID)
	}
	return status, nil
}

// ScrapePages fetches full content for the job's pending pages in batches.
// Each page is marked fetching before the provider call; success persists
// a blob reference, failure marks the page failed and continues. One bad
// page never aborts the batch. progress, if non-nil, is called with the
// completed fraction after each page settles.
func (d *Driver) ScrapePages(ctx context.Context, job *model.AuditJob, pages []model.AuditPage, progress func(done, total int)) error {
	total := len(pages)
	if total == 0 {
		return nil
	}

	var done int
	var mu sync.Mutex
	settle := func() {
		mu.Lock()
		done++
		n := done
		mu.Unlock()
		if progress != nil {
			progress(n, total)
		}
	}

	for start := 0; start < total; start += d.opts.BatchSize {
		end := start + d.opts.BatchSize
		if end > total {
			end = total
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			page := pages[i]
			g.Go(func() error {
				d.scrapeOne(gctx, job, page)
				settle()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "scrape: batch")
		}

		if end < total {
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "scrape: batch delay")
			case <-time.After(d.opts.BatchDelay):
			}
		}
	}
	return nil
}

// scrapeRetry covers the single-page fetch, the flakiest provider call
// in the pipeline.
var scrapeRetry = resilience.Config{
	MaxAttempts: 3,
	ShouldRetry: func(err error) bool {
		var apiErr *firecrawl.APIError
		if errors.As(err, &apiErr) {
			return resilience.IsTransientStatus(apiErr.StatusCode)
		}
		return resilience.IsTransient(err)
	},
}

func (d *Driver) scrapeURL(ctx context.Context, url string) (*firecrawl.ScrapeResponse, error) {
	return resilience.DoVal(ctx, scrapeRetry, "firecrawl.scrape", func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return d.crawler.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:     url,
			Formats: []string{"markdown"},
		})
	})
}

func (d *Driver) scrapeOne(ctx context.Context, job *model.AuditJob, page model.AuditPage) {
	page.Status = model.PageStatusFetching
	if err := d.pages.UpsertAuditPage(ctx, &page); err != nil {
		zap.L().Warn("scrape: mark fetching failed",
			zap.String("url", page.URL), zap.Error(err))
	}

	resp, err := d.scrapeURL(ctx, page.URL)
	if err != nil {
		zap.L().Warn("scrape: page failed",
			zap.String("job_id", job.ID),
			zap.String("url", page.URL),
			zap.Error(err))
		page.Status = model.PageStatusFailed
		if uerr := d.pages.UpsertAuditPage(ctx, &page); uerr != nil {
			zap.L().Warn("scrape: mark failed failed", zap.String("url", page.URL), zap.Error(uerr))
		}
		return
	}

	ref, err := d.blobs.Put(ctx, []byte(resp.Data.Markdown), "text/markdown")
	if err != nil {
		zap.L().Warn("scrape: persist blob failed",
			zap.String("url", page.URL), zap.Error(err))
		page.Status = model.PageStatusFailed
		if uerr := d.pages.UpsertAuditPage(ctx, &page); uerr != nil {
			zap.L().Warn("scrape: mark failed failed", zap.String("url", page.URL), zap.Error(uerr))
		}
		return
	}

	page.Status = model.PageStatusScraped
	page.BlobRef = ref
	page.Title = resp.Data.Metadata.Title
	page.StatusCode = resp.Data.Metadata.StatusCode
	if err := d.pages.UpsertAuditPage(ctx, &page); err != nil {
		zap.L().Warn("scrape: mark scraped failed",
			zap.String("url", page.URL), zap.Error(err))
	}
}

// ScrapedPage is in-memory page content from an audit scrape.
type ScrapedPage struct {
	URL        string
	Title      string
	Content    string
	StatusCode int
}

// AuditScrape fetches the given URLs in batches and returns their content
// in memory, truncated to the character budget. Individual failures are
// logged and skipped; the returned slice holds only successes, in input
// order.
func (d *Driver) AuditScrape(ctx context.Context, urls []string) ([]ScrapedPage, error) {
	results := make([]*ScrapedPage, len(urls))

	for start := 0; start < len(urls); start += d.opts.BatchSize {
		end := start + d.opts.BatchSize
		if end > len(urls) {
			end = len(urls)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				resp, err := d.scrapeURL(gctx, urls[i])
				if err != nil {
					zap.L().Warn("scrape: audit page failed",
						zap.String("url", urls[i]), zap.Error(err))
					return nil
				}
				content := resp.Data.Markdown
				if len(content) > d.opts.CharBudget {
					content = content[:d.opts.CharBudget]
				}
				results[i] = &ScrapedPage{
					URL:        urls[i],
					Title:      resp.Data.Metadata.Title,
					Content:    content,
					StatusCode: resp.Data.Metadata.StatusCode,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "scrape: audit batch")
		}

		if end < len(urls) {
			select {
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "scrape: audit batch delay")
			case <-time.After(d.opts.BatchDelay):
			}
		}
	}

	out := make([]ScrapedPage, 0, len(urls))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
