// Package scheduler runs a resumable sync over every selected stream and
// every eligible customer account.
//
// Streams form the outer loop and accounts the inner loop, both in ascending
// ID order. Before each (stream, account) pair the pair is recorded as the
// currently_syncing checkpoint and persisted; the next run rotates both
// orders so that it starts at that pair. A completed run clears the
// checkpoint.
package scheduler

import (
	"context"
	"sort"

	"github.com/ajitpratap0/adsync/internal/hierarchy"
	"github.com/ajitpratap0/adsync/pkg/catalog"
	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"github.com/ajitpratap0/adsync/pkg/observability"
	"github.com/ajitpratap0/adsync/pkg/state"
	"github.com/ajitpratap0/adsync/pkg/streams"
	"go.uber.org/zap"
)

// SyncTarget is one account to sync and the login customer used to reach it
type SyncTarget = streams.Target

// Resolver discovers eligible accounts under an optional manager root
type Resolver interface {
	Resolve(ctx context.Context, root string) (*hierarchy.Result, error)
}

// ClientFactory returns a platform client acting as loginCustomerID
type ClientFactory func(loginCustomerID string) streams.Searcher

// Output receives SCHEMA and RECORD messages
type Output interface {
	streams.RecordWriter
	WriteSchema(stream string, schema jsonpkg.RawMessage, keyProperties, bookmarkProperties []string) error
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStateSink persists the state at every checkpoint
func WithStateSink(sink state.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics records sync metrics on m
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drives one sync run
type Orchestrator struct {
	config   *config.Config
	resolver Resolver
	clients  ClientFactory
	registry *streams.Registry
	output   Output
	sink     state.Sink
	logger   *zap.Logger
	metrics  *metrics.SyncMetrics
}

// New creates an orchestrator
func New(cfg *config.Config, resolver Resolver, clients ClientFactory, registry *streams.Registry, output Output, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:   cfg,
		resolver: resolver,
		clients:  clients,
		registry: registry,
		output:   output,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "scheduler"))
	return o
}

// Targets resolves the eligible accounts, applies the account_ids allow-list
// and returns the sync targets sorted by customer ID.
//
// The allow-list applies when no manager root is configured, or when both a
// root and an allow-list are configured. A root without an allow-list passes
// every resolved account through.
func (o *Orchestrator) Targets(ctx context.Context) ([]SyncTarget, *hierarchy.Result, error) {
	root := o.config.ManagerAccountID
	result, err := o.resolver.Resolve(ctx, root)
	if err != nil {
		return nil, nil, err
	}

	ids := result.CustomerIDs
	if !o.config.HasManagerRoot() || len(o.config.AccountIDs) > 0 {
		ids = filterAllowed(ids, o.config.AccountIDs)
		if len(o.config.AccountIDs) == 0 {
			o.logger.Warn("account_ids is empty and no manager_account_id is set; no accounts will be synced")
		}
	}

	seen := make(map[string]bool, len(ids))
	targets := make([]SyncTarget, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, SyncTarget{LoginCustomerID: root, CustomerID: id})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].CustomerID < targets[j].CustomerID
	})

	return targets, result, nil
}

func filterAllowed(ids, allowed []string) []string {
	allow := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allow[id] = true
	}
	var out []string
	for _, id := range ids {
		if allow[id] {
			out = append(out, id)
		}
	}
	return out
}

// Run syncs every selected catalog stream for every target, resuming from
// st's checkpoint. st is updated in place. On failure the persisted
// checkpoint names the failed pair.
func (o *Orchestrator) Run(ctx context.Context, cat *catalog.Catalog, st *state.State) (err error) {
	ctx, span := observability.StartSpan(ctx, "scheduler.run")
	defer func() { span.End(err) }()

	targets, _, err := o.Targets(ctx)
	if err != nil {
		return err
	}

	entries := cat.Selected()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TapStreamID < entries[j].TapStreamID
	})

	resumeStream, resumeCustomer := st.Resume()
	if resumeStream != "" {
		entries = Rotate(entries, func(e *catalog.Entry) string { return e.TapStreamID }, resumeStream)
	}
	if resumeCustomer != "" {
		targets = Rotate(targets, func(t SyncTarget) string { return t.CustomerID }, resumeCustomer)
	}

	syncers := make([]streams.Stream, len(entries))
	for i, entry := range entries {
		s, ok := o.registry.Get(entry.TapStreamID)
		if !ok {
			return errors.Newf(errors.ErrorTypeConfig, "no stream implementation for %q", entry.TapStreamID).
				WithDetail("stream", entry.TapStreamID)
		}
		syncers[i] = s
	}

	limit := o.config.ValidQueryLimit(o.logger)
	span.SetAttribute("streams", len(entries))
	span.SetAttribute("targets", len(targets))
	o.logger.Info("starting sync",
		zap.Int("streams", len(entries)),
		zap.Int("targets", len(targets)),
		zap.String("resume_stream", resumeStream),
		zap.String("resume_customer", resumeCustomer),
		zap.Int("query_limit", limit))

	for i, entry := range entries {
		if err := o.writeSchema(entry, syncers[i]); err != nil {
			return err
		}

		for _, target := range targets {
			if err := o.syncPair(ctx, entry, syncers[i], target, st, limit); err != nil {
				return err
			}
		}
	}

	st.ClearCurrentlySyncing()
	if err := o.persist(ctx, st); err != nil {
		return err
	}
	o.logger.Info("sync complete")
	return nil
}

func (o *Orchestrator) writeSchema(entry *catalog.Entry, s streams.Stream) error {
	var bookmarks []string
	if inc, ok := s.(streams.Incremental); ok {
		if key := inc.ReplicationKeyFor(entry); key != "" {
			bookmarks = []string{key}
		}
	}
	return o.output.WriteSchema(entry.Stream, entry.Schema, entry.KeyProperties(), bookmarks)
}

func (o *Orchestrator) syncPair(ctx context.Context, entry *catalog.Entry, s streams.Stream, target SyncTarget, st *state.State, limit int) (err error) {
	streamID := entry.TapStreamID
	ctx = context.WithValue(ctx, logger.StreamKey, streamID)
	ctx = context.WithValue(ctx, logger.CustomerKey, target.CustomerID)

	ctx, span := observability.StartSpan(ctx, "scheduler.sync_pair")
	span.SetAttribute("stream", streamID)
	span.SetAttribute("customer_id", target.CustomerID)
	defer func() { span.End(err) }()

	st.SetCurrentlySyncing(streamID, target.CustomerID)
	if err := o.persist(ctx, st); err != nil {
		return err
	}

	o.logger.Info("syncing stream for customer",
		zap.String("stream", streamID),
		zap.String("customer_id", target.CustomerID),
		zap.String("login_customer_id", target.LoginCustomerID))

	timer := metrics.NewTimer()
	err = s.Sync(ctx, streams.Request{
		Client:  o.clients(target.LoginCustomerID),
		Target:  target,
		Entry:   entry,
		Config:  o.config,
		State:   st,
		Limit:   limit,
		Output:  o.output,
		Sink:    o.sink,
		Metrics: o.metrics,
	})
	if o.metrics != nil {
		o.metrics.ObserveStreamSync(streamID, timer.Stop(), err)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSync, "stream sync failed").
			WithDetail("stream", streamID).
			WithDetail("customer_id", target.CustomerID)
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, st *state.State) error {
	if o.sink == nil {
		return nil
	}
	if err := o.sink.Save(ctx, st); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to persist checkpoint")
	}
	if o.metrics != nil {
		o.metrics.CheckpointWrites.Inc()
	}
	return nil
}
