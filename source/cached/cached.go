// Package cached decorates a catalog source with a redis-backed response cache.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/internal/cache"
	"github.com/BaSui01/catalogflow/types"
)

const keyspace = "query"

// defaultFlightTimeout bounds a shared inner query whose request carries no
// timeout of its own.
const defaultFlightTimeout = 30 * time.Second

// Source caches successful responses of the wrapped source. Responses that
// carry processing details are not cached.
type Source struct {
	inner  catalog.Source
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

// New wraps inner. A zero ttl uses the cache manager's default.
func New(inner catalog.Source, manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		inner:  inner,
		cache:  manager,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cached_source"), zap.String("source_id", inner.ID())),
	}
}

// ID returns the wrapped source id.
func (s *Source) ID() string { return s.inner.ID() }

// Unwrap returns the wrapped source.
func (s *Source) Unwrap() catalog.Source { return s.inner }

// Describe implements catalog.Describer.
func (s *Source) Describe() catalog.SourceDescriptor {
	return catalog.Describe(s.inner)
}

// IsAvailable delegates to the wrapped source.
func (s *Source) IsAvailable(ctx context.Context) bool {
	if c, ok := s.inner.(catalog.AvailabilityChecker); ok {
		return c.IsAvailable(ctx)
	}
	return true
}

// Query answers from cache when possible.
func (s *Source) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	key, err := s.key(req.Query)
	if err != nil {
		return s.inner.Query(ctx, req)
	}

	var cachedResp catalog.SourceResponse
	switch err := s.cache.GetJSON(ctx, key, &cachedResp); {
	case err == nil:
		s.logger.Debug("cache hit", zap.String("key", key))
		return &cachedResp, nil
	case !cache.IsCacheMiss(err):
		s.logger.Warn("cache read failed", zap.Error(err))
	}

	// The flight outlives any single caller: each waiter gives up on its own
	// context while the inner query keeps running for the others.
	ch := s.group.DoChan(key, func() (any, error) {
		timeout := req.Query.Timeout()
		if timeout <= 0 {
			timeout = defaultFlightTimeout
		}
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		resp, err := s.inner.Query(flightCtx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil && len(resp.ProcessingDetails) == 0 {
			if err := s.cache.SetJSON(flightCtx, key, resp, s.ttl); err != nil {
				s.logger.Warn("cache write failed", zap.Error(err))
			}
		}
		return resp, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	resp, _ := res.Val.(*catalog.SourceResponse)
	if res.Shared && resp != nil {
		c := *resp
		c.Results = append([]catalog.Result(nil), resp.Results...)
		resp = &c
	}
	return resp, nil
}

// Create writes through to the wrapped store and invalidates its cached responses.
func (s *Source) Create(ctx context.Context, cards []*catalog.Metacard) ([]*catalog.Metacard, error) {
	store, ok := s.inner.(catalog.Store)
	if !ok {
		return nil, types.NewError(types.ErrIngestNotSupported, "source "+s.ID()+" does not accept writes")
	}
	out, err := store.Create(ctx, cards)
	s.Invalidate(ctx)
	return out, err
}

// Delete deletes through to the wrapped store and invalidates its cached responses.
func (s *Source) Delete(ctx context.Context, ids []string) (int, error) {
	store, ok := s.inner.(catalog.Store)
	if !ok {
		return 0, types.NewError(types.ErrIngestNotSupported, "source "+s.ID()+" does not accept writes")
	}
	n, err := store.Delete(ctx, ids)
	s.Invalidate(ctx)
	return n, err
}

// Invalidate drops every cached response of this source.
func (s *Source) Invalidate(ctx context.Context) {
	if _, err := s.cache.DeletePrefix(ctx, s.cache.Key(keyspace, s.ID(), "")); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

func (s *Source) key(q catalog.Query) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return s.cache.Key(keyspace, s.ID(), hex.EncodeToString(sum[:])), nil
}
