// Package di wires configuration into a ready turn controller and the
// collaborators the CLI needs around it.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/turn"
	"sourcer/internal/infra/httpclient"
	"sourcer/internal/infra/llm"
	"sourcer/internal/infra/resolve"
	"sourcer/internal/infra/search"
	"sourcer/internal/infra/store/sqlite"
	"sourcer/internal/infra/toolserver"
	"sourcer/internal/observability"
	"sourcer/internal/shared/config"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// Collaborators is the union of the project-facing ports a backend serves.
type Collaborators interface {
	ports.ConsentStore
	ports.ProjectSettingsStore
	ports.ChatLog
	ports.ArtifactSink
	ports.FeedbackMemory
	ports.ProjectAdmin
}

// Container holds the built dependency graph.
type Container struct {
	Config     config.Config
	Controller *turn.Controller
	Backend    Collaborators
	// Store is set when the embedded sqlite store backs the collaborators.
	Store       *sqlite.Store
	Metrics     *observability.MetricsCollector
	MetricsAddr string
	LLM         ports.LLMClient

	tracer *observability.TracerProvider
	logger logging.Logger
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger logging.Logger
	llm    ports.LLMClient
	client *http.Client
}

// WithLogger sets the container logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithLLMClient bypasses the configured LLM provider.
func WithLLMClient(client ports.LLMClient) Option {
	return func(o *buildOptions) { o.llm = client }
}

// WithHTTPClient overrides the client used by search and resolve backends.
func WithHTTPClient(client *http.Client) Option {
	return func(o *buildOptions) { o.client = client }
}

// Build constructs every dependency from cfg. Callers must Shutdown the
// returned container.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logging.Configure(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := bo.logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("di")
	}

	c := &Container{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.Shutdown(context.Background())
		}
	}()

	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "sourcer",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	c.tracer = tracer

	c.Metrics = observability.NewMetricsCollector(logging.NewComponentLogger("metrics"))
	if cfg.Metrics.Enabled {
		addr, err := c.Metrics.Serve(cfg.Metrics.Listen)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		c.MetricsAddr = addr
	}

	c.LLM = bo.llm
	if c.LLM == nil {
		client, err := llm.NewClient(cfg.LLM, logging.NewComponentLogger("llm"))
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		c.LLM = client
	}

	if err := c.buildBackend(cfg); err != nil {
		return nil, err
	}

	searchClient := bo.client
	if searchClient == nil {
		searchClient = httpclient.New(cfg.Search.Timeout, logging.NewComponentLogger("search"))
	}
	resolveClient := bo.client
	if resolveClient == nil {
		resolveClient = httpclient.New(cfg.Resolve.Timeout, logging.NewComponentLogger("resolve"))
	}

	deps := turn.Deps{
		LLM:         c.LLM,
		Consent:     c.Backend,
		Settings:    c.Backend,
		ChatLog:     c.Backend,
		Artifacts:   c.Backend,
		Feedback:    c.Backend,
		WebSearch:   webSearch(cfg.Search, searchClient, c.Metrics),
		VideoSearch: videoSearch(cfg.Search, searchClient, c.Metrics),
		Resolver:    resolver(cfg.Resolve, resolveClient),
	}
	c.Controller = turn.NewController(deps, TurnConfig(cfg),
		turn.WithLogger(logging.NewComponentLogger("turn")),
		turn.WithMetrics(c.Metrics),
	)
	logger.Info("container ready: llm=%s tool_calling=%v backend=%s",
		c.LLM.Model(), ports.SupportsToolCalling(c.LLM), backendName(cfg))
	ok = true
	return c, nil
}

func (c *Container) buildBackend(cfg config.Config) error {
	if cfg.Toolserver.BaseURL != "" {
		c.Backend = toolserver.New(cfg.Toolserver.BaseURL, cfg.Toolserver.Timeout,
			logging.NewComponentLogger("toolserver"))
		return nil
	}
	store, err := sqlite.Open(cfg.Store.Path, logging.NewComponentLogger("store"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	c.Store = store
	c.Backend = store
	return nil
}

func backendName(cfg config.Config) string {
	if cfg.Toolserver.BaseURL != "" {
		return "toolserver"
	}
	return "sqlite"
}

// TurnConfig maps the runtime config onto the controller's tuning knobs.
func TurnConfig(cfg config.Config) turn.Config {
	return turn.Config{
		MaxPasses:          cfg.Agent.MaxPasses,
		HeuristicPasses:    cfg.Agent.HeuristicPasses,
		HistoryWindow:      cfg.Agent.HistoryWindow,
		HistoryTokenBudget: cfg.Agent.HistoryTokenBudget,
		ThinkEnabled:       cfg.Agent.ThinkEnabled,
		DebugSnapshots:     cfg.Agent.DebugSnapshots,
		VideoSites:         append([]string(nil), cfg.Search.VideoSites...),
		CookiesHint:        cfg.Resolve.CookiesHint,
		Temperature:        cfg.LLM.Temperature,
		MaxTokens:          cfg.LLM.MaxTokens,
		LLMTimeout:         cfg.LLM.Timeout,
		ToolTimeout:        cfg.Resolve.Timeout,
	}
}

// webSearch returns nil when no general provider is configured so the tool
// layer reports the provider as missing.
func webSearch(cfg config.SearchConfig, client *http.Client, metrics *observability.MetricsCollector) ports.SearchProvider {
	var providers []ports.SearchProvider
	if cfg.TavilyAPIKey != "" {
		providers = append(providers, search.NewTavily(cfg.TavilyAPIKey, cfg.TavilyBaseURL, client,
			logging.NewComponentLogger("search.tavily")))
	}
	if cfg.DuckDuckGoEnabled {
		providers = append(providers, search.NewDuckDuckGo("", client,
			logging.NewComponentLogger("search.duckduckgo")))
	}
	return cachedChain("web", providers, cfg, metrics)
}

func videoSearch(cfg config.SearchConfig, client *http.Client, metrics *observability.MetricsCollector) ports.SearchProvider {
	var providers []ports.SearchProvider
	if cfg.BilibiliEnabled {
		providers = append(providers, search.NewBilibili("", client,
			logging.NewComponentLogger("search.bilibili")))
	}
	return cachedChain("video", providers, cfg, metrics)
}

func cachedChain(name string, providers []ports.SearchProvider, cfg config.SearchConfig, metrics *observability.MetricsCollector) ports.SearchProvider {
	if len(providers) == 0 {
		return nil
	}
	chain := search.NewChain(name, providers,
		search.WithObserver(metrics.ObserveProviderCall),
		search.WithChainLogger(logging.NewComponentLogger("search."+name)),
	)
	return search.NewCached(chain, cfg.CacheSize, cfg.CacheTTL)
}

func resolver(cfg config.ResolveConfig, client *http.Client) ports.Resolver {
	logger := logging.NewComponentLogger("resolve")
	breaker := sharederrors.NewCircuitBreaker("resolve.bilibili", sharederrors.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, logger)
	backends := []resolve.Backend{
		resolve.NewBilibili("", httpclient.WithBreaker(client, breaker), logger),
	}
	if ytdlp := resolve.NewYtDlp(cfg.YtDlpPath, logger); ytdlp != nil {
		backends = append(backends, ytdlp)
	}
	backends = append(backends, resolve.NewOpenGraph(client, logger))
	return resolve.NewChain(logger, backends...)
}

// Shutdown releases the store, metrics endpoint and tracer.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
		c.Store = nil
	}
	if c.Metrics != nil {
		errs = append(errs, c.Metrics.Shutdown(ctx))
	}
	if c.tracer != nil {
		errs = append(errs, c.tracer.Shutdown(ctx))
		c.tracer = nil
	}
	return errors.Join(errs...)
}
