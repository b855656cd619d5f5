package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/cache"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/config"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/scoring"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/store"
)

// App owns the analysis pipeline and its supporting services.
type App struct {
	cfg          *config.Config
	db           *store.Database
	cache        *cache.Manager
	memory       *cache.Memory
	orchestrator *analysis.Orchestrator
	metrics      *analysis.Metrics
	events       *fanout
}

type options struct {
	backend    llm.Backend
	backendSet bool
}

// Option adjusts how New wires the application.
type Option func(*options)

// WithBackend replaces the configured LLM backend.
func WithBackend(b llm.Backend) Option {
	return func(o *options) {
		o.backend = b
		o.backendSet = true
	}
}

// New opens storage, builds the stages and the orchestrator.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if !o.backendSet {
		b, err := NewBackend(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DBPath, true)
	if err != nil {
		return nil, err
	}

	indicators, err := scoring.NewIndicatorScorer(cfg.RiskTermsPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("risk indicators: %w", err)
	}

	a := &App{
		cfg:     cfg,
		db:      db,
		metrics: analysis.NewMetrics(cfg.CostModel()),
		events:  &fanout{subscribers: make(map[int]analysis.Observer)},
	}

	orchestratorOpts := []analysis.Option{
		analysis.WithIndicators(indicators),
		analysis.WithMetrics(a.metrics),
		analysis.WithObserver(a.events),
	}
	if cfg.CacheEnabled {
		var cacheBackend cache.Backend
		switch cfg.CacheBackend {
		case config.CacheBackendMemory:
			a.memory = cache.NewMemory()
			cacheBackend = a.memory
		default:
			cacheBackend = db.Cache()
		}
		a.cache = cache.NewManager(cacheBackend, cfg.CachePolicy())
		orchestratorOpts = append(orchestratorOpts, analysis.WithCache(a.cache))
	}

	stageOpts := []analysis.StageOption{analysis.WithStageTimeout(cfg.StageTimeout)}
	stage1 := analysis.NewClassifier(backend, cfg.Stage1Model, cfg.Stage1Cost, stageOpts...)
	stage2 := analysis.NewAnalyzer(backend, cfg.Stage2Model, cfg.Stage2Cost, stageOpts...)

	a.orchestrator = analysis.NewOrchestrator(stage1, stage2, analysis.Config{
		EscalationThreshold: cfg.EscalationThreshold,
		MaxDocumentChars:    cfg.MaxDocumentChars,
		SingleFlight:        cfg.SingleFlight,
		CostModel:           cfg.CostModel(),
	}, orchestratorOpts...)

	logrus.WithFields(logrus.Fields{
		"stage1_model":  cfg.Stage1Model,
		"stage2_model":  cfg.Stage2Model,
		"threshold":     cfg.EscalationThreshold,
		"cache":         cfg.CacheEnabled,
		"cache_backend": cfg.CacheBackend,
		"llm_enabled":   backend != nil,
	}).Info("analysis pipeline ready")
	return a, nil
}

// NewBackend builds the primary LLM client and, when configured, a fallback
// provider behind it. It returns nil when no provider has credentials.
func NewBackend(cfg *config.Config) (llm.Backend, error) {
	var primary, fallback llm.Backend

	client, err := newClient(cfg.LLM)
	switch {
	case err == nil:
		primary = client
	case errors.Is(err, llm.ErrDisabled):
		logrus.Warn("primary llm backend disabled: configure LLM_API_KEY")
	default:
		return nil, fmt.Errorf("llm client: %w", err)
	}

	if strings.TrimSpace(cfg.Fallback.Dialect) != "" || strings.TrimSpace(cfg.Fallback.APIKey) != "" {
		client, err := newClient(cfg.Fallback)
		switch {
		case err == nil:
			fallback = llm.Pin(client, cfg.Fallback.Model)
			logrus.WithField("dialect", client.Dialect()).Info("fallback llm backend enabled")
		case errors.Is(err, llm.ErrDisabled):
			logrus.Warn("fallback llm backend disabled: configure LLM_FALLBACK_API_KEY")
		default:
			return nil, fmt.Errorf("fallback llm client: %w", err)
		}
	}
	return llm.WithFallback(primary, fallback), nil
}

func newClient(c config.LLMConfig) (*llm.Client, error) {
	dialect, err := llm.ParseDialect(c.Dialect)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(llm.Config{
		Dialect:   dialect,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		RateLimit: c.RateLimit,
		Burst:     c.Burst,
	})
}

// Analyze runs the pipeline and records the outcome. Persistence failures are
// logged and do not affect the returned result.
func (a *App) Analyze(ctx context.Context, doc analysis.Document) (*analysis.Result, error) {
	res, err := a.orchestrator.Analyze(ctx, doc)
	if res == nil {
		return nil, err
	}
	record, anomalies := store.NewAnalysisRecord(res, doc.Company, doc.Industry)
	if saveErr := a.db.SaveAnalysis(context.WithoutCancel(ctx), record, anomalies); saveErr != nil {
		logrus.WithError(saveErr).WithField("run_id", res.RunID).Warn("persist analysis")
	}
	return res, err
}

// Subscribe registers obs for analysis events until the returned func is called.
func (a *App) Subscribe(obs analysis.Observer) func() {
	return a.events.add(obs)
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// DB returns the database handle.
func (a *App) DB() *store.Database { return a.db }

// Cache returns the cache manager, or nil when caching is disabled.
func (a *App) Cache() *cache.Manager { return a.cache }

// Metrics returns the shared pipeline counters.
func (a *App) Metrics() *analysis.Metrics { return a.metrics }

// PurgeExpired removes expired cache entries from the active backend.
func (a *App) PurgeExpired(ctx context.Context) (int64, error) {
	switch {
	case a.cache == nil:
		return 0, nil
	case a.memory != nil:
		return int64(a.memory.Purge()), nil
	default:
		return a.db.Cache().PurgeExpired(ctx)
	}
}

// CacheEntries counts live entries in the active cache backend.
func (a *App) CacheEntries(ctx context.Context) (int64, error) {
	switch {
	case a.cache == nil:
		return 0, nil
	case a.memory != nil:
		return int64(a.memory.Len()), nil
	default:
		return a.db.Cache().Count(ctx)
	}
}

// RunPurger purges expired cache entries every interval until ctx is done.
func (a *App) RunPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 || a.cache == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.PurgeExpired(ctx)
			if err != nil {
				logrus.WithError(err).Warn("purge expired cache entries")
				continue
			}
			if removed > 0 {
				logrus.WithField("removed", removed).Info("purged expired cache entries")
			}
		}
	}
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}

func ensureDir(dbPath string) error {
	if dbPath == "" || strings.HasPrefix(dbPath, "file:") || strings.Contains(dbPath, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// fanout forwards events to a changing set of observers.
type fanout struct {
	mu          sync.RWMutex
	next        int
	subscribers map[int]analysis.Observer
}

func (f *fanout) add(obs analysis.Observer) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subscribers[id] = obs
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}
}

func (f *fanout) OnAnalysisEvent(e analysis.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, obs := range f.subscribers {
		obs.OnAnalysisEvent(e)
	}
}
