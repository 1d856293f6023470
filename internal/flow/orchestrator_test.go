package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/scrape"
	"github.com/leadline-ai/leadline/internal/sourcing"
	"github.com/leadline-ai/leadline/internal/store"
	"github.com/leadline-ai/leadline/pkg/billing"
	"github.com/leadline-ai/leadline/pkg/blob"
	"github.com/leadline-ai/leadline/pkg/dossier"
	"github.com/leadline-ai/leadline/pkg/firecrawl"
	"github.com/leadline-ai/leadline/pkg/places"
)

// fakePlaces returns a scripted result set.
type fakePlaces struct {
	resp *places.TextSearchResponse
	err  error
}

func (f *fakePlaces) TextSearch(context.Context, string, int) (*places.TextSearchResponse, error) {
	return f.resp, f.err
}

// fakeBilling scripts per-feature allowances and records tracked usage.
type fakeBilling struct {
	mu      sync.Mutex
	allowed map[string]bool
	balance map[string]float64
	tracked map[string]int
	err     error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		allowed: map[string]bool{FeatureLeadCredits: true, FeatureScrapeCredits: true},
		balance: map[string]float64{},
		tracked: map[string]int{},
	}
}

func (f *fakeBilling) Check(_ context.Context, _, featureID string) (*billing.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &billing.CheckResult{Allowed: f.allowed[featureID], Balance: f.balance[featureID]}, nil
}

func (f *fakeBilling) Track(_ context.Context, _, featureID string, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked[featureID] += value
	return nil
}

// fakeGenerator returns canned dossier text.
type fakeGenerator struct {
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, req dossier.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Dossier for " + req.BusinessName, nil
}

// fakeCrawler serves a one-page site for every crawl and scrape.
type fakeCrawler struct{}

func (fakeCrawler) Crawl(context.Context, firecrawl.CrawlRequest) (*firecrawl.CrawlResponse, error) {
	return &firecrawl.CrawlResponse{Success: true, ID: "crawl-1"}, nil
}

func (fakeCrawler) GetCrawlStatus(context.Context, string) (*firecrawl.CrawlStatusResponse, error) {
	return &firecrawl.CrawlStatusResponse{
		Status: "completed",
		Data: []firecrawl.PageData{
			{Metadata: firecrawl.Metadata{SourceURL: "https://acme.com/pricing", Title: "Pricing"}},
		},
	}, nil
}

func (fakeCrawler) GetCrawlStatusPage(context.Context, string) (*firecrawl.CrawlStatusResponse, error) {
	return &firecrawl.CrawlStatusResponse{Status: "completed"}, nil
}

func (fakeCrawler) Scrape(_ context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	return &firecrawl.ScrapeResponse{
		Success: true,
		Data: firecrawl.PageData{
			URL:      req.URL,
			Markdown: "# pricing details",
			Metadata: firecrawl.Metadata{Title: "Pricing", SourceURL: req.URL, StatusCode: 200},
		},
	}, nil
}

type testRig struct {
	store   *store.MemoryStore
	billing *fakeBilling
	orch    *Orchestrator
}

func newTestRig(t *testing.T, pl *fakePlaces, gen dossier.Generator) *testRig {
	t.Helper()
	st := store.NewMemory()
	bill := newFakeBilling()
	driver := scrape.NewDriver(fakeCrawler{}, blob.NewMem(), st, scrape.Options{
		BatchSize:  2,
		BatchDelay: time.Millisecond,
	})
	return &testRig{
		store:   st,
		billing: bill,
		orch:    NewOrchestrator(st, sourcing.New(pl), driver, gen, bill),
	}
}

func twoPlaces() *fakePlaces {
	return &fakePlaces{resp: &places.TextSearchResponse{
		Places: []places.Place{
			{
				ID:                  "p1",
				DisplayName:         places.DisplayName{Text: "Acme Plumbing"},
				WebsiteURI:          "https://acme.com",
				NationalPhoneNumber: "(512) 555-0134",
				Rating:              4.8,
				UserRatingCount:     120,
			},
			{
				ID:                  "p2",
				DisplayName:         places.DisplayName{Text: "Bravo Drains"},
				NationalPhoneNumber: "(512) 555-0188",
				Rating:              4.1,
				UserRatingCount:     15,
			},
		},
	}}
}

func startParams() StartParams {
	return StartParams{
		UserID:         "u-1",
		AgencyID:       "ag-1",
		Vertical:       "plumbers",
		Geography:      "Austin, TX",
		RequestedLeads: 10,
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	rig := newTestRig(t, twoPlaces(), &fakeGenerator{})

	f, err := rig.orch.Start(context.Background(), startParams())
	require.NoError(t, err)

	assert.Equal(t, model.FlowStatusCompleted, f.Status)
	assert.Equal(t, 2, f.FetchedLeads)
	for _, p := range f.Phases {
		assert.Equal(t, model.PhaseStatusComplete, p.Status, string(p.Name))
		assert.Equal(t, 1.0, p.Progress, string(p.Name))
		assert.NotNil(t, p.CompletedAt, string(p.Name))
	}

	opps, err := rig.store.ListFlowOpportunities(context.Background(), f.ID)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	for _, opp := range opps {
		assert.Equal(t, model.OpportunityStatusReady, opp.Status)
		assert.NotEmpty(t, opp.FitReason)
	}

	// the website-bearing opportunity got audited and a dossier generated
	withSite := opps[0]
	if withSite.Website == "" {
		withSite = opps[1]
	}
	job, err := rig.store.GetAuditJobByOpportunity(context.Background(), withSite.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.AuditJobStatusComplete, job.Status)
	assert.Equal(t, "Dossier for Acme Plumbing", job.Dossier)

	assert.Equal(t, 2, rig.billing.tracked[FeatureLeadCredits])
	assert.Equal(t, 1, rig.billing.tracked[FeatureScrapeCredits])
}

func TestBillingShortfallPausesAndResumes(t *testing.T) {
	rig := newTestRig(t, twoPlaces(), &fakeGenerator{})
	rig.billing.allowed[FeatureLeadCredits] = false
	rig.billing.balance[FeatureLeadCredits] = 0

	f, err := rig.orch.Start(context.Background(), startParams())
	require.NoError(t, err)

	f, err = rig.store.GetFlow(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlowStatusPausedForUpgrade, f.Status)
	require.NotNil(t, f.BillingBlock)
	assert.Equal(t, model.PhaseSource, f.BillingBlock.Phase)
	assert.Equal(t, FeatureLeadCredits, f.BillingBlock.FeatureID)
	assert.False(t, f.BillingBlock.Check.Allowed)
	assert.Equal(t, model.PhaseStatusPending, f.Phase(model.PhaseSource).Status)

	// running a paused flow is refused; it must go through Resume
	assert.Error(t, rig.orch.Run(context.Background(), f.ID))

	rig.billing.allowed[FeatureLeadCredits] = true
	require.NoError(t, rig.orch.Resume(context.Background(), f.ID))

	f, err = rig.store.GetFlow(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlowStatusCompleted, f.Status)
	assert.Nil(t, f.BillingBlock, "block clears on resume")
}

func TestResumeRequiresPausedFlow(t *testing.T) {
	rig := newTestRig(t, twoPlaces(), &fakeGenerator{})

	f, err := rig.orch.Start(context.Background(), startParams())
	require.NoError(t, err)
	assert.Error(t, rig.orch.Resume(context.Background(), f.ID))
}

func TestSourcingFailureMarksFlowError(t *testing.T) {
	rig := newTestRig(t, &fakePlaces{err: assert.AnError}, &fakeGenerator{})

	f, err := rig.orch.Start(context.Background(), startParams())
	require.Error(t, err)
	require.NotNil(t, f)

	f, gerr := rig.store.GetFlow(context.Background(), f.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.FlowStatusError, f.Status)

	p := f.Phase(model.PhaseSource)
	assert.Equal(t, model.PhaseStatusError, p.Status)
	assert.NotEmpty(t, p.Error)
	require.NotNil(t, f.LastEvent)
	assert.Equal(t, "flow_error", f.LastEvent.Type)
}

func TestDossierFailureDoesNotFailFlow(t *testing.T) {
	rig := newTestRig(t, twoPlaces(), &fakeGenerator{err: assert.AnError})

	f, err := rig.orch.Start(context.Background(), startParams())
	require.NoError(t, err)
	assert.Equal(t, model.FlowStatusCompleted, f.Status)

	opps, err := rig.store.ListFlowOpportunities(context.Background(), f.ID)
	require.NoError(t, err)
	withSite := opps[0]
	if withSite.Website == "" {
		withSite = opps[1]
	}
	job, err := rig.store.GetAuditJobByOpportunity(context.Background(), withSite.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.AuditJobStatusError, job.Status)
	assert.NotEmpty(t, job.Error)
}

func TestAuditQueueingIsIdempotent(t *testing.T) {
	rig := newTestRig(t, twoPlaces(), &fakeGenerator{})
	ctx := context.Background()

	f := &model.Flow{
		AgencyID: "ag-1",
		Vertical: "plumbers",
		Status:   model.FlowStatusRunning,
		Phases:   model.NewFlowPhases(),
	}
	require.NoError(t, rig.store.CreateFlow(ctx, f))
	require.NoError(t, rig.store.CreateOpportunities(ctx, []model.Opportunity{{
		ID:       "opp-1",
		FlowID:   f.ID,
		AgencyID: "ag-1",
		Website:  "https://acme.com",
		Status:   model.OpportunityStatusSourced,
	}}))

	opp, err := rig.store.GetOpportunity(ctx, "opp-1")
	require.NoError(t, err)

	first, err := rig.orch.ensureAuditJob(ctx, f, opp)
	require.NoError(t, err)

	second, err := rig.orch.ensureAuditJob(ctx, f, opp)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-entry reuses the existing job")

	opp, err = rig.store.GetOpportunity(ctx, "opp-1")
	require.NoError(t, err)
	assert.Equal(t, model.OpportunityStatusAuditing, opp.Status)
}

func TestStartValidatesParams(t *testing.T) {
	rig := newTestRig(t, twoPlaces(), &fakeGenerator{})
	_, err := rig.orch.Start(context.Background(), StartParams{AgencyID: "ag-1"})
	assert.Error(t, err)
}
