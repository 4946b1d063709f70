package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/cache"
	"github.com/segmenta/prospect-cli/internal/job"
	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/internal/pipeline"
	"github.com/segmenta/prospect-cli/internal/progress"
	"github.com/segmenta/prospect-cli/internal/store"
	"github.com/segmenta/prospect-cli/pkg/anthropic"
	"github.com/segmenta/prospect-cli/pkg/receita"
	"github.com/segmenta/prospect-cli/pkg/serper"
)

// env bundles the long-lived collaborators a command needs: the store,
// external clients, and the progress broadcaster. Per-project pipeline
// pieces are built on demand and cached.
type env struct {
	store       store.Store
	cache       *cache.Cache
	ai          anthropic.Client
	search      serper.Client
	registry    receita.Client
	broadcaster *progress.Broadcaster
	rules       pipeline.FilterRules

	mu        sync.Mutex
	enrichers map[string]*pipeline.Enricher
	managers  map[string]*job.Manager
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules := pipeline.DefaultFilterRules()
	if cfg.Filter.RulesPath != "" {
		rules, err = pipeline.LoadFilterRules(cfg.Filter.RulesPath)
		if err != nil {
			st.Close()
			return nil, eris.Wrap(err, "load filter rules")
		}
		zap.L().Info("filter rules loaded", zap.String("path", cfg.Filter.RulesPath))
	}

	return &env{
		store: st,
		cache: cache.New(st),
		ai:    anthropic.NewClient(cfg.Anthropic.Key),
		search: serper.NewClient(cfg.Serper.Key,
			serper.WithBaseURL(cfg.Serper.BaseURL),
			serper.WithRateLimit(cfg.Serper.RPS)),
		registry: receita.NewClient(
			receita.WithBaseURL(cfg.Receita.BaseURL),
			receita.WithRateLimit(cfg.Receita.RPS)),
		broadcaster: progress.NewBroadcaster(),
		rules:       rules,
		enrichers:   make(map[string]*pipeline.Enricher),
		managers:    make(map[string]*job.Manager),
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// enricherFor returns the project's enricher, building it with a market
// identifier scoped to that project.
func (e *env) enricherFor(projectID string) *pipeline.Enricher {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.enrichers[projectID]; ok {
		return en
	}
	identifier := pipeline.NewMarketIdentifier(e.ai, cfg.Anthropic, e.store, projectID)
	en := pipeline.NewEnricher(e.store, e.cache, e.registry, identifier, cfg.Quality)
	e.enrichers[projectID] = en
	return en
}

func (e *env) discovererFor(projectID string) *pipeline.Discoverer {
	filter := pipeline.NewCompanyFilter(e.rules)
	return pipeline.NewDiscoverer(e.search, filter, e.enricherFor(projectID), e.store)
}

// managerFor returns the project's manager. Managers are cached for the
// process lifetime: the run-handle registry inside a Manager is what
// makes pause and cancel reach an in-flight run, so every caller in this
// process must share the same instance per project.
func (e *env) managerFor(projectID string) *job.Manager {
	enricher := e.enricherFor(projectID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.managers[projectID]; ok {
		return m
	}
	m := job.NewManager(e.store, enricher.EnrichClient, e.broadcaster, cfg.Batch)
	e.managers[projectID] = m
	return m
}

// runProject executes a full enrichment pass for a project: a job over
// its clients, then competitor and lead discovery per market.
func (e *env) runProject(ctx context.Context, projectID string, discover bool, limit int) (*model.JobProgress, error) {
	m := e.managerFor(projectID)
	j, err := m.Create(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := m.Run(ctx, j.ID); err != nil {
		return nil, err
	}

	if discover {
		if err := e.discoverProject(ctx, projectID, limit); err != nil {
			return nil, err
		}
	}
	return m.Progress(ctx, j.ID)
}

func (e *env) discoverProject(ctx context.Context, projectID string, limit int) error {
	markets, err := e.store.ListMarkets(ctx, projectID)
	if err != nil {
		return eris.Wrap(err, "list markets")
	}
	d := e.discovererFor(projectID)
	for _, market := range markets {
		for _, role := range []model.Role{model.RoleCompetitor, model.RoleLead} {
			if _, err := d.Discover(ctx, projectID, market, role, limit); err != nil {
				zap.L().Warn("discovery failed",
					zap.String("market", market.Name),
					zap.String("role", string(role)),
					zap.Error(err))
			}
		}
	}
	return nil
}

// queueExecutor adapts project runs to queue item execution. The payload
// optionally carries {"discover": true, "search_limit": n}.
func (e *env) queueExecutor(ctx context.Context, item model.QueueItem) (json.RawMessage, error) {
	var payload struct {
		Discover    bool `json:"discover"`
		SearchLimit int  `json:"search_limit"`
	}
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return nil, eris.Wrap(err, "decode item payload")
		}
	}
	if payload.SearchLimit <= 0 {
		payload.SearchLimit = 10
	}

	prog, err := e.runProject(ctx, item.ProjectID, payload.Discover, payload.SearchLimit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(prog)
}
