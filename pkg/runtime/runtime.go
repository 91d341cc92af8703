// Package runtime assembles the components described by a config.Config:
// metrics and tracing, the tool catalog or the transport to a tool peer, the
// model client and the agent.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/infoxp/pkg/agent"
	"github.com/kadirpekel/infoxp/pkg/config"
	"github.com/kadirpekel/infoxp/pkg/model/ollama"
	"github.com/kadirpekel/infoxp/pkg/observability"
	"github.com/kadirpekel/infoxp/pkg/reader"
	"github.com/kadirpekel/infoxp/pkg/search"
	"github.com/kadirpekel/infoxp/pkg/store"
	"github.com/kadirpekel/infoxp/pkg/tool"
	"github.com/kadirpekel/infoxp/pkg/toolset"
	"github.com/kadirpekel/infoxp/pkg/transport"
)

type Options struct {
	// Local serves tools in-process instead of through the transport.
	Local bool

	Logger *slog.Logger
}

type Runtime struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	tools  tool.Dispatcher
	client *transport.Client
	llm    *ollama.Client
	agent  *agent.Agent

	closers []func(context.Context) error
}

func (r *Runtime) Config() *config.Config { return r.config }

// Metrics is nil when metrics are disabled.
func (r *Runtime) Metrics() *observability.Metrics { return r.metrics }

// Tools is the dispatcher the agent uses.
func (r *Runtime) Tools() tool.Dispatcher { return r.tools }

// Transport is nil in local mode.
func (r *Runtime) Transport() *transport.Client { return r.client }

func (r *Runtime) LLM() *ollama.Client { return r.llm }

func (r *Runtime) Agent() *agent.Agent { return r.agent }

// New builds every component. Nothing connects yet: the store, the tool peer
// and the model are all reached on first use.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{config: cfg, logger: logger}
	cleanupOnError := func() {
		if err := r.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Cleanup after failed start", "error", err)
		}
	}

	if err := r.initObservability(ctx); err != nil {
		cleanupOnError()
		return nil, err
	}

	if opts.Local {
		reg, closeTools, err := NewToolset(cfg, r.metrics, logger)
		if err != nil {
			cleanupOnError()
			return nil, err
		}
		r.tools = reg
		r.closers = append(r.closers, closeTools)
	} else {
		r.client = NewTransport(cfg, r.metrics, logger)
		r.tools = r.client
		r.closers = append(r.closers, func(context.Context) error { return r.client.Close() })
	}

	llm, err := ollama.New(ollama.Config{
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout.Duration(),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	r.llm = llm

	r.agent, err = agent.New(llm, r.tools, agent.Config{
		MaxHops:      cfg.Agent.MaxHops,
		Temperature:  cfg.LLM.Temperature,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}, agent.WithMetrics(r.metrics), agent.WithLogger(logger))
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return r, nil
}

func (r *Runtime) initObservability(ctx context.Context) error {
	if r.config.Observability.MetricsEnabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		r.metrics = m
		r.closers = append(r.closers, m.Shutdown)
	}

	_, shutdown, err := observability.InitTracer(ctx, r.config.Observability.Tracing)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	r.closers = append(r.closers, shutdown)
	return nil
}

// Close releases components in reverse creation order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewTransport creates the client for the configured tool peer. A locally
// spawned peer receives cfg.PeerEnv on top of the inherited environment.
func NewTransport(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *transport.Client {
	return transport.New(transport.Config{
		Origin:         cfg.MCP.Origin,
		Kind:           transport.Kind(cfg.MCP.Transport),
		ConnectTimeout: cfg.MCP.ConnectTimeout.Duration(),
		LocalTimeout:   cfg.MCP.LocalTimeout.Duration(),
		Command:        cfg.MCP.Command,
		Args:           cfg.MCP.Args,
		Env:            cfg.PeerEnv(),
	}, transport.WithMetrics(metrics), transport.WithLogger(logger))
}

// NewToolset builds the in-process tool catalog and its store. The returned
// function closes the store.
func NewToolset(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*tool.Registry, func(context.Context) error, error) {
	st := NewStore(cfg)

	backend := search.NewFromConfig(search.Config{
		TavilyAPIKey: cfg.Search.TavilyAPIKey,
		Preferred:    cfg.Search.Backend,
		Timeout:      cfg.Search.Timeout.Duration(),
	}, search.WithMetrics(metrics), search.WithLogger(logger))

	rd := reader.New(reader.Config{
		ProxyURL: cfg.Reader.ProxyURL,
		APIKey:   cfg.Reader.APIKey,
	})

	reg, err := toolset.New(toolset.Deps{Search: backend, Reader: rd, Store: st})
	if err != nil {
		_ = st.Close(context.Background())
		return nil, nil, fmt.Errorf("failed to build toolset: %w", err)
	}
	logger.Debug("Toolset ready", "tools", len(reg.List()), "store", cfg.Store.Backend, "search", backend.Strategies())
	return reg, st.Close, nil
}

// NewStore returns the configured document store.
func NewStore(cfg *config.Config) store.Store {
	if cfg.Store.Backend == config.StoreMemory {
		return store.NewMemory()
	}
	return store.NewMongo(store.MongoConfig{URI: cfg.Store.URI})
}
