package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/booking"
	"github.com/leadline-ai/leadline/internal/call"
	"github.com/leadline-ai/leadline/internal/flow"
	"github.com/leadline-ai/leadline/internal/schedule"
	"github.com/leadline-ai/leadline/internal/scrape"
	"github.com/leadline-ai/leadline/internal/sourcing"
	"github.com/leadline-ai/leadline/internal/store"
	"github.com/leadline-ai/leadline/pkg/billing"
	"github.com/leadline-ai/leadline/pkg/blob"
	"github.com/leadline-ai/leadline/pkg/dossier"
	"github.com/leadline-ai/leadline/pkg/firecrawl"
	"github.com/leadline-ai/leadline/pkg/places"
	"github.com/leadline-ai/leadline/pkg/voice"
)

// appEnv holds the store, API clients, and domain services shared by the
// serve/worker/flow/call commands.
type appEnv struct {
	Store        store.Store
	Blobs        blob.Store
	Engine       *schedule.Engine
	Calls        *call.Manager
	Booker       *booking.Booker
	Orchestrator *flow.Orchestrator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Blobs != nil {
		_ = e.Blobs.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, all API clients, and the domain services.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("LEADLINE_STORE_DATABASE_URL is required")
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	voiceClient := voice.NewClient(cfg.Voice.Key, voice.WithBaseURL(cfg.Voice.BaseURL))
	billingClient := billing.NewClient(cfg.Billing.Key, billing.WithBaseURL(cfg.Billing.BaseURL))
	placesClient := places.NewClient(cfg.Places.Key,
		places.WithBaseURL(cfg.Places.BaseURL),
		places.WithRateLimit(5, 5),
	)
	firecrawlClient := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	dossierGen := dossier.New(cfg.Dossier.Key, cfg.Dossier.Model, cfg.Dossier.MaxTokens)

	var blobs blob.Store
	if cfg.Blob.Bucket != "" {
		blobs, err = blob.NewGCS(ctx, cfg.Blob.Bucket, cfg.Blob.Prefix)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "init blob store")
		}
	} else {
		zap.L().Warn("blob bucket not configured, scraped content held in memory")
		blobs = blob.NewMem()
	}

	driver := scrape.NewDriver(firecrawlClient, blobs, st, scrape.Options{
		MaxPages:     cfg.Scrape.MaxPages,
		MaxDepth:     cfg.Scrape.MaxDepth,
		BatchSize:    cfg.Scrape.BatchSize,
		BatchDelay:   time.Duration(cfg.Scrape.BatchDelayMs) * time.Millisecond,
		CharBudget:   cfg.Scrape.CharBudget,
		IncludePaths: cfg.Scrape.IncludePaths,
		ExcludePaths: cfg.Scrape.ExcludePaths,
	}, firecrawl.WithPollTimeout(time.Duration(cfg.Scrape.PollTimeoutSec)*time.Second))

	engine := schedule.New(st, schedule.Options{
		SlotMinutes:         cfg.Availability.SlotMinutes,
		LookaheadDays:       cfg.Availability.LookaheadDays,
		ConflictHorizonDays: cfg.Availability.ConflictDays,
		BufferMinutes:       cfg.Availability.BufferMinutes,
		DefaultTimezone:     cfg.Availability.DefaultTimezone,
	})

	return &appEnv{
		Store:        st,
		Blobs:        blobs,
		Engine:       engine,
		Calls:        call.NewManager(st, voiceClient, billingClient),
		Booker:       booking.New(st, engine),
		Orchestrator: flow.NewOrchestrator(st, sourcing.New(placesClient), driver, dossierGen, billingClient),
	}, nil
}
