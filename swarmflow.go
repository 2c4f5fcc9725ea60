// Package swarmflow wires the orchestration engine from a single
// configuration: stores, the agent registry, recovery policy, the workflow
// orchestrator and the request coordinator.
//
// Usage:
//
//	cfg := config.Default()
//	engine, err := swarmflow.New(cfg, swarmflow.WithLogger(logger))
//	engine.RegisterAgent(myAgent)
//	res, err := engine.Handle(ctx, coordinator.Request{Text: "..."})
package swarmflow

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/velsin/swarmflow/agent"
	"github.com/velsin/swarmflow/config"
	"github.com/velsin/swarmflow/coordinator"
	"github.com/velsin/swarmflow/ctxmgr"
	"github.com/velsin/swarmflow/internal/metrics"
	"github.com/velsin/swarmflow/internal/telemetry"
	"github.com/velsin/swarmflow/orchestrator"
	"github.com/velsin/swarmflow/recovery"
	"github.com/velsin/swarmflow/registry"
	"github.com/velsin/swarmflow/store"
	"github.com/velsin/swarmflow/tokenizer"
)

// Engine is the assembled orchestration stack. Create one per process.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry     *registry.Registry
	Stores       *store.Stores
	Collector    *metrics.Collector
	Breaker      *recovery.Breaker
	Orchestrator *orchestrator.Orchestrator
	Coordinator  *coordinator.Coordinator

	agents    map[string]agent.Agent
	counter   tokenizer.Counter
	providers *telemetry.Providers
	watcher   *registry.Watcher
}

// Option adjusts engine construction.
type Option func(*engineOpts)

type engineOpts struct {
	logger       *zap.Logger
	registerer   prometheus.Registerer
	clock        recovery.Clock
	defaultAgent string
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOpts) { o.logger = logger }
}

// WithRegisterer sets the prometheus registerer for engine metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOpts) { o.registerer = reg }
}

// WithClock injects the clock used for retries and the breaker. Tests use
// this to avoid real sleeps.
func WithClock(clock recovery.Clock) Option {
	return func(o *engineOpts) { o.clock = clock }
}

// WithDefaultAgent names the agent that handles requests no capability
// match covers.
func WithDefaultAgent(id string) Option {
	return func(o *engineOpts) { o.defaultAgent = id }
}

// New assembles an engine from the configuration. Agents are registered
// afterwards with RegisterAgent; descriptors load from cfg.Registry.Dir
// when it exists.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var eo engineOpts
	for _, opt := range opts {
		opt(&eo)
	}
	logger := eo.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stores, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	collector := metrics.NewCollector(cfg.Telemetry.MetricsNamespace, eo.registerer, logger)

	clock := eo.clock
	if clock == nil {
		clock = recovery.RealClock()
	}
	var breaker *recovery.Breaker
	if cfg.Recovery.BreakerEnabled {
		breaker = recovery.NewBreaker(cfg.Recovery.Breaker, clock, logger)
	}

	reg := registry.New(logger)

	counter, err := tokenizer.NewTiktokenCounter("gpt-4")
	if err != nil {
		logger.Warn("tiktoken unavailable, falling back to estimator", zap.Error(err))
	}
	var c tokenizer.Counter
	if counter != nil {
		c = counter
	} else {
		c = tokenizer.NewEstimatorCounter("gpt-4")
	}

	agents := make(map[string]agent.Agent)

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "engine")),
		Registry:  reg,
		Stores:    stores,
		Collector: collector,
		Breaker:   breaker,
		agents:    agents,
		counter:   c,
		providers: providers,
	}

	e.Orchestrator = orchestrator.New(orchestrator.Options{
		Agents:       agents,
		Checkpointer: recovery.NewCheckpointer(stores.Checkpoints, logger),
		Audit:        stores.Audit,
		Collector:    collector,
		Breaker:      breaker,
		Clock:        clock,
		Logger:       logger,
	})
	e.Coordinator = coordinator.New(coordinator.Options{
		Registry:     reg,
		Agents:       agents,
		Sessions:     stores.Sessions,
		Audit:        stores.Audit,
		Collector:    collector,
		Orchestrator: e.Orchestrator,
		Breaker:      breaker,
		Clock:        clock,
		Logger:       logger,
		DefaultAgent: eo.defaultAgent,
		ChainConfig:  cfg.Handoff,
		RetryPolicy:  cfg.Recovery.Retry,
	})

	if cfg.Registry.Dir != "" {
		if err := reg.LoadDir(cfg.Registry.Dir); err != nil {
			logger.Warn("agent directory not loaded", zap.String("dir", cfg.Registry.Dir), zap.Error(err))
		}
	}
	return e, nil
}

// RegisterAgent wires an agent into the engine, wrapped with the
// configured rate limit and timeout. The agent's descriptor must already
// be loaded, or be loaded later through the registry.
func (e *Engine) RegisterAgent(a agent.Agent) {
	e.agents[a.ID()] = agent.NewInvoker(a, e.cfg.Invoker, e.Collector, e.logger)
	e.logger.Info("agent registered", zap.String("agent_id", a.ID()))
}

// Handle routes one request through the coordinator.
func (e *Engine) Handle(ctx context.Context, req coordinator.Request) (*coordinator.Result, error) {
	return e.Coordinator.Handle(ctx, req)
}

// ExecuteWorkflow runs a workflow definition through the chain executor.
func (e *Engine) ExecuteWorkflow(ctx context.Context, def *orchestrator.WorkflowDefinition, input map[string]any) (*orchestrator.ChainExecution, error) {
	return e.Orchestrator.Execute(ctx, def, input)
}

// ResumeWorkflow restarts a checkpointed workflow, skipping completed
// subtasks.
func (e *Engine) ResumeWorkflow(ctx context.Context, def *orchestrator.WorkflowDefinition, chainID string, input map[string]any) (*orchestrator.ChainExecution, error) {
	return e.Orchestrator.Resume(ctx, def, input, chainID)
}

// NewContextManager creates a working-memory manager for one session,
// backed by the engine's archive store and token counter.
func (e *Engine) NewContextManager(sessionID string) *ctxmgr.Manager {
	return ctxmgr.NewManager(sessionID, e.cfg.Context, e.counter, e.Stores.Archive, ctxmgr.NewExtractiveSummarizer(), e.logger,
		ctxmgr.WithAuditLog(e.Stores.Audit),
		ctxmgr.WithCollector(e.Collector))
}

// StartWatching begins descriptor hot-reload for the configured agent
// directory. No-op when watching is disabled.
func (e *Engine) StartWatching(ctx context.Context) error {
	if !e.cfg.Registry.Watch {
		return nil
	}
	w, err := registry.NewWatcher(e.cfg.Registry.Dir, e.Registry,
		registry.WithInterval(e.cfg.Registry.WatchInterval),
		registry.WithWatcherLogger(e.logger))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	e.watcher = w
	return nil
}

// Close flushes telemetry and stops background work.
func (e *Engine) Close(ctx context.Context) error {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	return e.providers.Shutdown(ctx)
}
