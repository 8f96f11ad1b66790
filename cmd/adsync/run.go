package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ajitpratap0/adsync/internal/hierarchy"
	"github.com/ajitpratap0/adsync/internal/scheduler"
	"github.com/ajitpratap0/adsync/pkg/catalog"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/googleads"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/observability"
	"github.com/ajitpratap0/adsync/pkg/singer"
	"github.com/ajitpratap0/adsync/pkg/state"
	"github.com/ajitpratap0/adsync/pkg/streams"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type syncOptions struct {
	configPath  string
	catalogPath string
	statePath   string
}

// runtimeEnv holds the components shared by the sync and accounts commands
type runtimeEnv struct {
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics.SyncMetrics
	client   *googleads.Client
	resolver *hierarchy.Resolver
	shutdown func()
}

func setup(ctx context.Context, configPath string) (context.Context, *runtimeEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return ctx, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return ctx, nil, err
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log := logger.WithContext(ctx).With(zap.String("component", "adsync-cli"))

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "adsync",
		ServiceVersion: version,
		Enabled:        cfg.Observability.EnableTracing,
		SamplingRate:   cfg.Observability.TracingSampleRate,
	})
	if err != nil {
		return ctx, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(metricsCtx, addr, reg); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", addr))
	}

	client, err := googleads.New(ctx, googleads.Config{
		DeveloperToken:  cfg.DeveloperToken,
		ClientID:        cfg.OAuthClientID,
		ClientSecret:    cfg.OAuthClientSecret,
		RefreshToken:    cfg.RefreshToken,
		BaseURL:         cfg.API.BaseURL,
		TokenURL:        cfg.API.TokenURL,
		APIVersion:      cfg.API.Version,
		RequestTimeout:  cfg.API.RequestTimeout,
		RateLimitPerSec: cfg.API.RateLimitPerSec,
	}, googleads.WithLogger(log), googleads.WithMetrics(m))
	if err != nil {
		stopMetrics()
		return ctx, nil, err
	}

	env := &runtimeEnv{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		client:   client,
		resolver: hierarchy.NewResolver(client.ForLogin(cfg.ManagerAccountID), log, m),
		shutdown: func() {
			stopMetrics()
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn("failed to shut down tracing", zap.Error(err))
			}
			_ = logger.Sync()
		},
	}
	return ctx, env, nil
}

func (e *runtimeEnv) orchestrator(output scheduler.Output, sink state.Sink) *scheduler.Orchestrator {
	clients := func(login string) streams.Searcher {
		return e.client.ForLogin(login)
	}
	return scheduler.New(e.cfg, e.resolver, clients, streams.DefaultRegistry(), output,
		scheduler.WithStateSink(sink),
		scheduler.WithLogger(e.log),
		scheduler.WithMetrics(e.metrics))
}

func runSync(ctx context.Context, opts syncOptions, stdout io.Writer) error {
	ctx, env, err := setup(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer env.shutdown()

	cat, err := catalog.Load(opts.catalogPath)
	if err != nil {
		return err
	}

	store, err := state.Open(ctx, env.cfg.StateBackend, env.log)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				env.log.Warn("failed to close state store", zap.Error(err))
			}
		}()
	}

	st, err := loadState(ctx, opts.statePath, store)
	if err != nil {
		return err
	}

	writer := singer.NewWriter(stdout)
	sinks := state.MultiSink{writer}
	if store != nil {
		sinks = append(sinks, store)
	}

	env.log.Info("starting sync",
		zap.String("config", opts.configPath),
		zap.String("catalog", opts.catalogPath),
		zap.Int("catalog_streams", len(cat.Streams)),
		zap.String("state_backend", env.cfg.StateBackend.Type))

	if err := env.orchestrator(writer, sinks).Run(ctx, cat, st); err != nil {
		env.log.Error("sync failed", zap.Error(err))
		return err
	}
	return nil
}

// loadState prefers an explicit --state file over the durable store
func loadState(ctx context.Context, path string, store state.Store) (*state.State, error) {
	switch {
	case path != "":
		return state.NewFileStore(path).Load(ctx)
	case store != nil:
		return store.Load(ctx)
	default:
		return state.New(), nil
	}
}

func runAccounts(ctx context.Context, configPath string, stdout io.Writer) error {
	ctx, env, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.shutdown()

	targets, result, err := env.orchestrator(singer.NewWriter(io.Discard), nil).Targets(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CUSTOMER_ID\tLOGIN_CUSTOMER_ID")
	for _, t := range targets {
		login := t.LoginCustomerID
		if login == "" {
			login = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", t.CustomerID, login)
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SKIPPED\tREASON")
		for _, p := range result.Skipped {
			id := p.CustomerID
			if id == "" {
				id = p.ResourceName
			}
			fmt.Fprintf(w, "%s\t%s\n", id, p.Reason)
		}
	}
	return w.Flush()
}

func runConfigShow(configPath string, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	data, err := config.WriteYAML(cfg.Redacted())
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}
