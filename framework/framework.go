package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/types"
)

// DefaultAvailabilityTimeout bounds the availability probe of one query.
const DefaultAvailabilityTimeout = 2 * time.Second

// maxConcurrentProbes caps the availability probes running at once.
const maxConcurrentProbes = 16

// Config controls request handling around federation.
type Config struct {
	// Strategy names the federation strategy: sorted (default) or fifo.
	Strategy string
	// Federation is passed to the strategy.
	Federation federation.Config
	// LocalSourceID is queried when a request names no sources and is not
	// an enterprise query. Ingest writes to it.
	LocalSourceID string
	// DefaultTimeout applies to queries that carry no timeout.
	DefaultTimeout time.Duration
	// AvailabilityTimeout bounds availability probes. Zero uses
	// DefaultAvailabilityTimeout.
	AvailabilityTimeout time.Duration
}

// ConfigFrom maps the application federation section.
func ConfigFrom(c config.FederationConfig) Config {
	return Config{
		Strategy: c.Strategy,
		Federation: federation.Config{
			MaxStartIndex:   c.MaxStartIndex,
			CancelOnTimeout: c.CancelOnTimeout,
		},
		LocalSourceID:       c.LocalSourceID,
		DefaultTimeout:      c.DefaultTimeout,
		AvailabilityTimeout: c.AvailabilityTimeout,
	}
}

// IngestRecorder observes ingest outcomes, typically for metrics.
type IngestRecorder func(sourceID string, count int, err error)

// Option configures a Framework.
type Option func(*Framework)

// WithIngestRecorder sets the ingest observer.
func WithIngestRecorder(rec IngestRecorder) Option {
	return func(f *Framework) { f.ingest = rec }
}

// Framework resolves the sources of a request, drops unavailable ones and
// hands the rest to the configured federation strategy.
type Framework struct {
	registry *Registry
	opts     federation.Options
	logger   *zap.Logger
	ingest   IngestRecorder

	mu       sync.RWMutex
	cfg      Config
	strategy federation.Strategy
}

// New creates a framework over registry. opts carries the worker pool,
// logger and observer shared by every strategy it builds.
func New(registry *Registry, cfg Config, opts federation.Options, options ...Option) (*Framework, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
		opts.Logger = logger
	}
	f := &Framework{
		registry: registry,
		opts:     opts,
		logger:   logger.With(zap.String("component", "catalog_framework")),
	}
	for _, o := range options {
		o(f)
	}
	if err := f.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

// Reconfigure swaps the configuration and rebuilds the strategy. Queries in
// flight finish with the strategy they started with.
func (f *Framework) Reconfigure(cfg Config) error {
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = DefaultAvailabilityTimeout
	}
	opts := f.opts
	opts.Config = cfg.Federation
	strategy, err := federation.New(cfg.Strategy, opts)
	if err != nil {
		return types.NewInvalidRequestError(err.Error()).WithCause(err)
	}

	f.mu.Lock()
	f.cfg = cfg
	f.strategy = strategy
	f.mu.Unlock()

	f.logger.Info("framework configured",
		zap.String("strategy", strategy.Name()),
		zap.String("local_source", cfg.LocalSourceID),
		zap.Duration("default_timeout", cfg.DefaultTimeout),
	)
	return nil
}

// Registry returns the source registry.
func (f *Framework) Registry() *Registry { return f.registry }

// StrategyName returns the active strategy name.
func (f *Framework) StrategyName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.strategy.Name()
}

func (f *Framework) snapshot() (Config, federation.Strategy) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg, f.strategy
}

// Query federates req. Sources that report themselves unavailable are left
// out and recorded as processing details. The returned response is filled in
// the background; see catalog.QueryResponse.
func (f *Framework) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.QueryResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	if err := req.Query.Validate(); err != nil {
		return nil, err
	}
	cfg, strategy := f.snapshot()

	if req.Query.TimeoutMillis < 1 && cfg.DefaultTimeout > 0 {
		q := req.Query
		q.TimeoutMillis = cfg.DefaultTimeout.Milliseconds()
		req = req.WithQuery(q)
	}

	targets, err := f.resolve(cfg, req)
	if err != nil {
		return nil, err
	}
	available, unavailable := f.probe(ctx, cfg, targets)
	if len(unavailable) > 0 {
		req = req.WithQuery(req.Query)
		req.Unavailable = unavailable
	}

	var resp *catalog.QueryResponse
	if len(available) == 0 {
		if len(unavailable) == 0 {
			return nil, types.NewNoSourcesError()
		}
		resp = catalog.NewQueryResponse(req)
		resp.MarkUnavailable(unavailable)
		resp.SetProperty(catalog.PropertySiteList, []string{})
		resp.Close()
	} else {
		resp, err = strategy.Federate(ctx, available, req)
		if err != nil {
			return nil, err
		}
	}

	f.logger.Debug("query dispatched",
		zap.String("strategy", strategy.Name()),
		zap.Int("sources", len(available)),
		zap.Strings("unavailable", unavailable),
	)
	return resp, nil
}

// QueryLocal answers req from the local source only. Remote peers call it
// so that federation never recurses across nodes.
func (f *Framework) QueryLocal(ctx context.Context, req *catalog.QueryRequest) (*catalog.QueryResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	local := req.WithQuery(req.Query)
	local.SourceIDs = nil
	local.Enterprise = false
	return f.Query(ctx, local)
}

// resolve picks the sources a request targets: the named ones, every
// registered source for enterprise queries, or the local source.
func (f *Framework) resolve(cfg Config, req *catalog.QueryRequest) ([]catalog.Source, error) {
	switch {
	case len(req.SourceIDs) > 0:
		out := make([]catalog.Source, 0, len(req.SourceIDs))
		seen := make(map[string]bool, len(req.SourceIDs))
		for _, id := range req.SourceIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			src, ok := f.registry.Get(id)
			if !ok {
				return nil, types.NewSourceNotFoundError(id)
			}
			out = append(out, src)
		}
		return out, nil
	case req.Enterprise:
		out := f.registry.List()
		if len(out) == 0 {
			return nil, types.NewNoSourcesError()
		}
		return out, nil
	default:
		src, ok := f.registry.Get(cfg.LocalSourceID)
		if !ok {
			return nil, types.NewNoSourcesError().WithCause(
				fmt.Errorf("local source %q is not registered", cfg.LocalSourceID))
		}
		return []catalog.Source{src}, nil
	}
}

// probe checks availability concurrently. Sources without an availability
// check count as available. The order of srcs is preserved.
func (f *Framework) probe(ctx context.Context, cfg Config, srcs []catalog.Source) (available []catalog.Source, unavailable []string) {
	up := make([]bool, len(srcs))
	probeCtx, cancel := context.WithTimeout(ctx, cfg.AvailabilityTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(probeCtx)
	g.SetLimit(maxConcurrentProbes)
	for i, src := range srcs {
		checker, ok := src.(catalog.AvailabilityChecker)
		if !ok {
			up[i] = true
			continue
		}
		g.Go(func() error {
			up[i] = checker.IsAvailable(gctx)
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range srcs {
		if up[i] {
			available = append(available, src)
		} else {
			unavailable = append(unavailable, src.ID())
			f.logger.Warn("source unavailable", zap.String("source_id", src.ID()))
		}
	}
	return available, unavailable
}

// Sources describes every registered source with its current availability.
func (f *Framework) Sources(ctx context.Context) []catalog.SourceDescriptor {
	cfg, _ := f.snapshot()
	srcs := f.registry.List()
	available, _ := f.probe(ctx, cfg, srcs)
	up := make(map[string]bool, len(available))
	for _, s := range available {
		up[s.ID()] = true
	}

	out := make([]catalog.SourceDescriptor, 0, len(srcs))
	for _, s := range srcs {
		d := catalog.Describe(s)
		d.Available = up[s.ID()]
		out = append(out, d)
	}
	return out
}

// Source describes one registered source.
func (f *Framework) Source(ctx context.Context, id string) (catalog.SourceDescriptor, error) {
	src, ok := f.registry.Get(id)
	if !ok {
		return catalog.SourceDescriptor{}, types.NewSourceNotFoundError(id)
	}
	cfg, _ := f.snapshot()
	available, _ := f.probe(ctx, cfg, []catalog.Source{src})
	d := catalog.Describe(src)
	d.Available = len(available) == 1
	return d, nil
}

// localStore returns the local source when it accepts writes.
func (f *Framework) localStore() (catalog.Store, error) {
	cfg, _ := f.snapshot()
	src, ok := f.registry.Get(cfg.LocalSourceID)
	if !ok {
		return nil, types.NewSourceNotFoundError(cfg.LocalSourceID)
	}
	store, ok := src.(catalog.Store)
	if !ok {
		return nil, types.NewError(types.ErrIngestNotSupported,
			"local source does not accept metacards").WithSource(src.ID())
	}
	return store, nil
}

// Ingest stores cards in the local source and returns them as stored.
func (f *Framework) Ingest(ctx context.Context, cards []*catalog.Metacard) ([]*catalog.Metacard, error) {
	if len(cards) == 0 {
		return nil, types.NewInvalidRequestError("at least one metacard is required")
	}
	store, err := f.localStore()
	if err != nil {
		return nil, err
	}
	created, err := store.Create(ctx, cards)
	if f.ingest != nil {
		f.ingest(store.ID(), len(cards), err)
	}
	if err != nil {
		f.logger.Warn("ingest failed", zap.String("source_id", store.ID()), zap.Error(err))
		return nil, err
	}
	f.logger.Info("metacards ingested", zap.String("source_id", store.ID()), zap.Int("count", len(created)))
	return created, nil
}

// Delete removes metacards from the local source.
func (f *Framework) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, types.NewInvalidRequestError("at least one id is required")
	}
	store, err := f.localStore()
	if err != nil {
		return 0, err
	}
	return store.Delete(ctx, ids)
}
