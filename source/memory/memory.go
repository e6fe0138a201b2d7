// Package memory provides an in-process catalog source.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/types"
)

// Kind is the source kind reported in descriptors.
const Kind = "memory"

// Option configures a Source.
type Option func(*Source)

// WithLatency delays every query, honouring ctx cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Source) { s.latency = d }
}

// WithTitle sets the descriptor title.
func WithTitle(title string) Option {
	return func(s *Source) { s.title = title }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// Source keeps metacards in memory and evaluates filters directly.
type Source struct {
	id      string
	title   string
	latency time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	cards map[string]*catalog.Metacard
	order []string
	down  bool
}

// New creates an empty in-memory source.
func New(id string, opts ...Option) *Source {
	s := &Source{
		id:    id,
		cards: make(map[string]*catalog.Metacard),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("component", "memory_source"), zap.String("source_id", id))
	return s
}

// ID returns the source id.
func (s *Source) ID() string { return s.id }

// Describe implements catalog.Describer.
func (s *Source) Describe() catalog.SourceDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return catalog.SourceDescriptor{
		ID:          s.id,
		Kind:        Kind,
		Title:       s.title,
		Description: "in-memory catalog",
		Available:   !s.down,
	}
}

// SetAvailable toggles the availability reported by IsAvailable.
func (s *Source) SetAvailable(available bool) {
	s.mu.Lock()
	s.down = !available
	s.mu.Unlock()
}

// IsAvailable implements catalog.AvailabilityChecker.
func (s *Source) IsAvailable(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.down
}

// Create stores cards, assigning ids to cards without one. Cards with an
// existing id replace the stored card.
func (s *Source) Create(ctx context.Context, cards []*catalog.Metacard) ([]*catalog.Metacard, error) {
	now := time.Now().UTC()
	out := make([]*catalog.Metacard, 0, len(cards))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cards {
		if c == nil {
			continue
		}
		mc := c.Clone()
		if mc.ID == "" {
			mc.ID = uuid.NewString()
		}
		mc.SourceID = s.id
		if mc.Created == nil {
			mc.Created = &now
		}
		if mc.Modified == nil {
			mc.Modified = &now
		}
		if mc.Effective == nil {
			mc.Effective = mc.Created
		}
		if _, exists := s.cards[mc.ID]; !exists {
			s.order = append(s.order, mc.ID)
		}
		s.cards[mc.ID] = mc
		out = append(out, mc.Clone())
	}
	s.logger.Debug("stored metacards", zap.Int("count", len(out)))
	return out, nil
}

// Delete removes cards by id and returns how many existed.
func (s *Source) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := s.cards[id]; ok {
			delete(s.cards, id)
			removed++
		}
	}
	if removed > 0 {
		s.order = slices.DeleteFunc(s.order, func(id string) bool {
			_, ok := s.cards[id]
			return !ok
		})
	}
	return removed, nil
}

// Len returns the number of stored cards.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cards)
}

// Query implements catalog.Source.
func (s *Source) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.RLock()
	if s.down {
		s.mu.RUnlock()
		return nil, types.NewSourceUnavailableError(s.id)
	}
	var matched []catalog.Result
	for _, id := range s.order {
		mc := s.cards[id]
		if req.Query.Filter.Match(mc) {
			matched = append(matched, catalog.ScoreResult(mc.Clone(), req.Query.Filter))
		}
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(matched, federation.NewComparator(req.Query.SortBy))
	return &catalog.SourceResponse{
		Results: catalog.Window(matched, req.Query),
		Hits:    int64(len(matched)),
	}, nil
}
