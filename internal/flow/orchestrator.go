// Package flow runs the lead-generation campaign pipeline: a durable,
// multi-phase state machine with per-phase progress, billing-gated
// pausing, and resume.
package flow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/scrape"
	"github.com/leadline-ai/leadline/internal/sourcing"
	"github.com/leadline-ai/leadline/internal/store"
	"github.com/leadline-ai/leadline/pkg/billing"
	"github.com/leadline-ai/leadline/pkg/dossier"
)

// Billing feature ids consulted before credit-consuming phases.
const (
	FeatureLeadCredits   = "lead_credits"
	FeatureScrapeCredits = "scrape_credits"
)

// errPaused is the internal signal that a billing gate stopped the run.
// The flow row already carries the block; callers see a clean return.
var errPaused = eris.New("flow: paused for upgrade")

// Orchestrator drives flows phase by phase.
type Orchestrator struct {
	store    store.Store
	sourcer  *sourcing.Sourcer
	scraper  *scrape.Driver
	dossiers dossier.Generator
	billing  billing.Client
}

func NewOrchestrator(st store.Store, sourcer *sourcing.Sourcer, scraper *scrape.Driver, dossiers dossier.Generator, bill billing.Client) *Orchestrator {
	return &Orchestrator{
		store:    st,
		sourcer:  sourcer,
		scraper:  scraper,
		dossiers: dossiers,
		billing:  bill,
	}
}

// StartParams describes a new campaign run.
type StartParams struct {
	UserID         string
	AgencyID       string
	Vertical       string
	Geography      string
	RequestedLeads int
}

// Start creates a flow in idle state and immediately runs it.
func (o *Orchestrator) Start(ctx context.Context, p StartParams) (*model.Flow, error) {
	if p.AgencyID == "" || p.Vertical == "" || p.Geography == "" {
		return nil, eris.New("flow: agency, vertical and geography are required")
	}
	if p.RequestedLeads <= 0 {
		p.RequestedLeads = 20
	}

	f := &model.Flow{
		UserID:         p.UserID,
		AgencyID:       p.AgencyID,
		Vertical:       p.Vertical,
		Geography:      p.Geography,
		RequestedLeads: p.RequestedLeads,
		Status:         model.FlowStatusIdle,
		Phases:         model.NewFlowPhases(),
	}
	if err := o.store.CreateFlow(ctx, f); err != nil {
		return nil, err
	}

	if err := o.Run(ctx, f.ID); err != nil {
		return f, err
	}
	return o.store.GetFlow(ctx, f.ID)
}

// Run advances a flow from its first non-complete phase to the end. It
// returns nil both on completion and on a billing pause; the flow row
// tells the two apart.
func (o *Orchestrator) Run(ctx context.Context, flowID string) error {
	f, err := o.store.GetFlow(ctx, flowID)
	if err != nil {
		return err
	}

	switch f.Status {
	case model.FlowStatusCompleted, model.FlowStatusError:
		return eris.Errorf("flow: %s is terminal (%s)", f.ID, f.Status)
	case model.FlowStatusPausedForUpgrade:
		return eris.Errorf("flow: %s is paused; resume it instead", f.ID)
	}

	if f.Status == model.FlowStatusIdle {
		f.Status = model.FlowStatusRunning
		o.event(f, "flow_started", fmt.Sprintf("campaign for %q in %q", f.Vertical, f.Geography))
		if err := o.store.UpdateFlow(ctx, f); err != nil {
			return err
		}
	}

	for {
		name := f.NextPhase()
		if name == "" {
			return nil
		}

		err := o.runPhase(ctx, f, name)
		if eris.Is(err, errPaused) {
			zap.L().Info("flow: paused for upgrade",
				zap.String("flow_id", f.ID),
				zap.String("phase", string(name)))
			return nil
		}
		if err != nil {
			return o.failFlow(ctx, f, name, err)
		}
	}
}

// Resume clears the billing block and re-enters the blocked phase. The
// block and the paused status come off in the same write.
func (o *Orchestrator) Resume(ctx context.Context, flowID string) error {
	f, err := o.store.GetFlow(ctx, flowID)
	if err != nil {
		return err
	}
	if f.Status != model.FlowStatusPausedForUpgrade {
		return eris.Errorf("flow: %s is not paused (%s)", f.ID, f.Status)
	}
	if f.BillingBlock == nil {
		return eris.Errorf("flow: %s paused without a billing block", f.ID)
	}

	phase := f.BillingBlock.Phase
	f.BillingBlock = nil
	f.Status = model.FlowStatusRunning
	o.event(f, "flow_resumed", fmt.Sprintf("resuming at %s", phase))
	if err := o.store.UpdateFlow(ctx, f); err != nil {
		return err
	}
	return o.Run(ctx, flowID)
}

func (o *Orchestrator) runPhase(ctx context.Context, f *model.Flow, name model.PhaseName) error {
	p := f.Phase(name)
	if p == nil {
		return eris.Errorf("flow: unknown phase %s", name)
	}

	now := time.Now().UTC()
	p.Status = model.PhaseStatusRunning
	p.Error = ""
	p.StartedAt = &now
	o.event(f, "phase_started", string(name))
	if err := o.store.UpdateFlow(ctx, f); err != nil {
		return err
	}

	var err error
	switch name {
	case model.PhaseSource:
		err = o.phaseSource(ctx, f)
	case model.PhaseFilterRank:
		err = o.phaseFilterRank(ctx, f)
	case model.PhasePersistLeads:
		err = o.phasePersistLeads(ctx, f)
	case model.PhaseScrapeContent:
		err = o.phaseScrapeContent(ctx, f)
	case model.PhaseGenerateDossier:
		err = o.phaseGenerateDossier(ctx, f)
	case model.PhaseFinalizeRank:
		err = o.phaseFinalizeRank(ctx, f)
	default:
		err = eris.Errorf("flow: no handler for phase %s", name)
	}
	if err != nil {
		return err
	}

	done := time.Now().UTC()
	p.Status = model.PhaseStatusComplete
	p.Progress = 1
	p.CompletedAt = &done
	if p.StartedAt != nil {
		p.DurationMs = done.Sub(*p.StartedAt).Milliseconds()
	}
	o.event(f, "phase_complete", string(name))
	return o.store.UpdateFlow(ctx, f)
}

// gate runs a credit check and pauses the flow on a shortfall.
func (o *Orchestrator) gate(ctx context.Context, f *model.Flow, phase model.PhaseName, featureID string) error {
	res, err := o.billing.Check(ctx, f.AgencyID, featureID)
	if err != nil {
		return eris.Wrapf(err, "flow: credit check %s", featureID)
	}
	if res.Allowed {
		return nil
	}

	f.BillingBlock = &model.BillingBlock{
		Phase:     phase,
		FeatureID: featureID,
		Check:     model.CreditCheck{Allowed: res.Allowed, Balance: res.Balance},
		CreatedAt: time.Now().UTC(),
	}
	f.Status = model.FlowStatusPausedForUpgrade
	p := f.Phase(phase)
	p.Status = model.PhaseStatusPending
	p.StartedAt = nil
	o.event(f, "billing_blocked", fmt.Sprintf("%s requires more %s", phase, featureID))
	if err := o.store.UpdateFlow(ctx, f); err != nil {
		return err
	}
	return errPaused
}

func (o *Orchestrator) failFlow(ctx context.Context, f *model.Flow, phase model.PhaseName, cause error) error {
	zap.L().Error("flow: phase failed",
		zap.String("flow_id", f.ID),
		zap.String("phase", string(phase)),
		zap.Error(cause))

	if p := f.Phase(phase); p != nil {
		p.Status = model.PhaseStatusError
		p.Error = cause.Error()
	}
	f.Status = model.FlowStatusError
	o.event(f, "flow_error", fmt.Sprintf("%s: %s", phase, cause.Error()))
	if uerr := o.store.UpdateFlow(ctx, f); uerr != nil {
		zap.L().Error("flow: record failure", zap.String("flow_id", f.ID), zap.Error(uerr))
	}
	return cause
}

func (o *Orchestrator) event(f *model.Flow, typ, msg string) {
	f.LastEvent = &model.FlowEvent{Type: typ, Message: msg, Timestamp: time.Now().UTC()}
}

func (o *Orchestrator) setProgress(ctx context.Context, f *model.Flow, phase model.PhaseName, progress float64) {
	p := f.Phase(phase)
	if p == nil {
		return
	}
	p.Progress = progress
	if err := o.store.UpdateFlow(ctx, f); err != nil {
		zap.L().Warn("flow: progress update failed", zap.String("flow_id", f.ID), zap.Error(err))
	}
}

// ===== Phases =====

func (o *Orchestrator) phaseSource(ctx context.Context, f *model.Flow) error {
	if err := o.gate(ctx, f, model.PhaseSource, FeatureLeadCredits); err != nil {
		return err
	}

	query := fmt.Sprintf("%s in %s", f.Vertical, f.Geography)
	places, err := o.sourcer.Source(ctx, query, f.RequestedLeads)
	if err != nil {
		return err
	}

	f.Places = places
	f.FetchedLeads = len(places)

	if err := o.billing.Track(ctx, f.AgencyID, FeatureLeadCredits, len(places)); err != nil {
		return eris.Wrap(err, "flow: track lead credits")
	}
	return nil
}

// phaseFilterRank scores the sourced snapshot and keeps the best
// candidates, dropping anything with no way to reach the business.
func (o *Orchestrator) phaseFilterRank(ctx context.Context, f *model.Flow) error {
	kept := make([]model.SourcedPlace, 0, len(f.Places))
	for _, p := range f.Places {
		if p.Phone == "" && p.Website == "" {
			continue
		}
		kept = append(kept, p)
	}

	sortPlacesByScore(kept)
	if len(kept) > f.RequestedLeads {
		kept = kept[:f.RequestedLeads]
	}
	f.Places = kept
	return nil
}

func (o *Orchestrator) phasePersistLeads(ctx context.Context, f *model.Flow) error {
	if len(f.Places) == 0 {
		return nil
	}

	opps := make([]model.Opportunity, 0, len(f.Places))
	for _, p := range f.Places {
		opps = append(opps, model.Opportunity{
			FlowID:    f.ID,
			AgencyID:  f.AgencyID,
			PlaceID:   p.PlaceID,
			Name:      p.Name,
			Website:   p.Website,
			Phone:     p.Phone,
			Address:   p.Address,
			Rating:    p.Rating,
			Reviews:   p.Reviews,
			Score:     placeScore(p),
			FitReason: fitReason(p, f.Vertical),
			Status:    model.OpportunityStatusSourced,
		})
	}
	return o.store.CreateOpportunities(ctx, opps)
}

func (o *Orchestrator) phaseScrapeContent(ctx context.Context, f *model.Flow) error {
	if err := o.gate(ctx, f, model.PhaseScrapeContent, FeatureScrapeCredits); err != nil {
		return err
	}

	opps, err := o.store.ListFlowOpportunities(ctx, f.ID)
	if err != nil {
		return err
	}

	var targets []model.Opportunity
	for _, opp := range opps {
		if opp.Website != "" {
			targets = append(targets, opp)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	for i, opp := range targets {
		job, err := o.ensureAuditJob(ctx, f, &opp)
		if err != nil {
			return err
		}
		if job.Status == model.AuditJobStatusComplete {
			continue
		}

		if err := o.scrapeOpportunity(ctx, f, job, i, len(targets)); err != nil {
			// one bad website is survivable; record it on the job and move on
			zap.L().Warn("flow: audit scrape failed",
				zap.String("flow_id", f.ID),
				zap.String("opportunity_id", opp.ID),
				zap.Error(err))
			job.Status = model.AuditJobStatusError
			job.Error = err.Error()
			if uerr := o.store.UpdateAuditJob(ctx, job); uerr != nil {
				return uerr
			}
		}

		if err := o.billing.Track(ctx, f.AgencyID, FeatureScrapeCredits, 1); err != nil {
			return eris.Wrap(err, "flow: track scrape credits")
		}
	}
	return nil
}

// ensureAuditJob creates the opportunity's audit job if none exists and
// moves the opportunity into auditing. Safe to re-enter.
func (o *Orchestrator) ensureAuditJob(ctx context.Context, f *model.Flow, opp *model.Opportunity) (*model.AuditJob, error) {
	existing, err := o.store.GetAuditJobByOpportunity(ctx, opp.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	job := &model.AuditJob{
		OpportunityID: opp.ID,
		FlowID:        f.ID,
		Website:       opp.Website,
		Status:        model.AuditJobStatusPending,
	}
	if err := o.store.CreateAuditJob(ctx, job); err != nil {
		return nil, err
	}
	// the insert is ON CONFLICT DO NOTHING; re-read to get the winner
	job, err = o.store.GetAuditJobByOpportunity(ctx, opp.ID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, eris.Errorf("flow: audit job vanished for opportunity %s", opp.ID)
	}

	if opp.Status.CanTransition(model.OpportunityStatusAuditing) {
		if err := o.store.UpdateOpportunityStatus(ctx, opp.ID, model.OpportunityStatusAuditing, nil); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (o *Orchestrator) scrapeOpportunity(ctx context.Context, f *model.Flow, job *model.AuditJob, idx, total int) error {
	job.Status = model.AuditJobStatusCrawling
	if err := o.store.UpdateAuditJob(ctx, job); err != nil {
		return err
	}

	refs, err := o.scraper.DiscoverPages(ctx, job.Website)
	if err != nil {
		return err
	}

	pages := make([]model.AuditPage, 0, len(refs))
	for _, r := range refs {
		p := model.AuditPage{JobID: job.ID, URL: r.URL, Title: r.Title, Status: model.PageStatusPending}
		if err := o.store.UpsertAuditPage(ctx, &p); err != nil {
			return err
		}
		pages = append(pages, p)
	}

	job.Status = model.AuditJobStatusScraping
	if err := o.store.UpdateAuditJob(ctx, job); err != nil {
		return err
	}

	err = o.scraper.ScrapePages(ctx, job, pages, func(done, totalPages int) {
		// page completion maps into the 20%-80% band of this phase,
		// split evenly across the flow's audit targets
		frac := (float64(idx) + float64(done)/float64(totalPages)) / float64(total)
		o.setProgress(ctx, f, model.PhaseScrapeContent, 0.2+0.6*frac)
	})
	return err
}

func (o *Orchestrator) phaseGenerateDossier(ctx context.Context, f *model.Flow) error {
	opps, err := o.store.ListFlowOpportunities(ctx, f.ID)
	if err != nil {
		return err
	}

	for _, opp := range opps {
		if opp.Website == "" {
			continue
		}
		job, err := o.store.GetAuditJobByOpportunity(ctx, opp.ID)
		if err != nil {
			return err
		}
		if job == nil || job.Status == model.AuditJobStatusComplete || job.Status == model.AuditJobStatusError {
			continue
		}

		pages, err := o.store.ListAuditPages(ctx, job.ID)
		if err != nil {
			return err
		}
		var urls []string
		for _, p := range pages {
			if p.Status == model.PageStatusScraped {
				urls = append(urls, p.URL)
			}
		}
		if len(urls) == 0 {
			job.Status = model.AuditJobStatusError
			job.Error = "no pages scraped"
			if err := o.store.UpdateAuditJob(ctx, job); err != nil {
				return err
			}
			continue
		}

		scraped, err := o.scraper.AuditScrape(ctx, urls)
		if err != nil {
			return err
		}

		req := dossier.Request{BusinessName: opp.Name, Vertical: f.Vertical}
		for _, s := range scraped {
			req.Pages = append(req.Pages, dossier.Page{URL: s.URL, Title: s.Title, Content: s.Content})
		}
		text, err := o.dossiers.Generate(ctx, req)
		if err != nil {
			zap.L().Warn("flow: dossier generation failed",
				zap.String("opportunity_id", opp.ID), zap.Error(err))
			job.Status = model.AuditJobStatusError
			job.Error = err.Error()
			if uerr := o.store.UpdateAuditJob(ctx, job); uerr != nil {
				return uerr
			}
			continue
		}

		job.Dossier = text
		job.Status = model.AuditJobStatusComplete
		job.Error = ""
		if err := o.store.UpdateAuditJob(ctx, job); err != nil {
			return err
		}
		if opp.Status.CanTransition(model.OpportunityStatusAudited) {
			if err := o.store.UpdateOpportunityStatus(ctx, opp.ID, model.OpportunityStatusAudited, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// phaseFinalizeRank recomputes counts, promotes audited opportunities to
// ready, and completes the flow. Errors here still land on the flow row
// before propagating so a scheduler retry sees a consistent record.
func (o *Orchestrator) phaseFinalizeRank(ctx context.Context, f *model.Flow) error {
	opps, err := o.store.ListFlowOpportunities(ctx, f.ID)
	if err != nil {
		return err
	}

	ready := 0
	for _, opp := range opps {
		boost := 0.0
		job, jerr := o.store.GetAuditJobByOpportunity(ctx, opp.ID)
		if jerr != nil {
			return jerr
		}
		if job != nil && job.Status == model.AuditJobStatusComplete {
			boost = 1
		}
		if boost > 0 || opp.Website == "" {
			if uerr := o.store.UpdateOpportunityRank(ctx, opp.ID, opp.Score+boost, opp.FitReason); uerr != nil {
				return uerr
			}
		}
		if opp.Status.CanTransition(model.OpportunityStatusReady) {
			if uerr := o.store.UpdateOpportunityStatus(ctx, opp.ID, model.OpportunityStatusReady, nil); uerr != nil {
				return uerr
			}
			ready++
		}
	}

	f.FetchedLeads = len(opps)
	f.Status = model.FlowStatusCompleted
	o.event(f, "flow_completed", fmt.Sprintf("%d opportunities, %d ready", len(opps), ready))
	return nil
}

// ===== Scoring =====

// placeScore is the heuristic pre-audit rank: rating quality damped by
// how thin the review base is.
func placeScore(p model.SourcedPlace) float64 {
	if p.Rating <= 0 {
		return 0
	}
	confidence := math.Log1p(float64(p.Reviews)) / math.Log1p(200)
	if confidence > 1 {
		confidence = 1
	}
	return math.Round(p.Rating*confidence*100) / 100
}

func fitReason(p model.SourcedPlace, vertical string) string {
	switch {
	case p.Reviews > 0 && p.Website != "":
		return fmt.Sprintf("%s rated %.1f across %d reviews with an established web presence", vertical, p.Rating, p.Reviews)
	case p.Reviews > 0:
		return fmt.Sprintf("%s rated %.1f across %d reviews", vertical, p.Rating, p.Reviews)
	case p.Website != "":
		return fmt.Sprintf("%s with an established web presence", vertical)
	default:
		return vertical
	}
}

func sortPlacesByScore(places []model.SourcedPlace) {
	sort.SliceStable(places, func(i, j int) bool {
		return placeScore(places[i]) > placeScore(places[j])
	})
}
