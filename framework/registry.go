package framework

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/catalog"
)

// Registry holds the sources known to the framework in registration order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]catalog.Source
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sources: make(map[string]catalog.Source),
		logger:  logger.With(zap.String("component", "source_registry")),
	}
}

// Register adds src. Registering an id twice is an error.
func (r *Registry) Register(src catalog.Source) error {
	if src == nil {
		return fmt.Errorf("source is nil")
	}
	id := src.ID()
	if id == "" {
		return fmt.Errorf("source id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; ok {
		return fmt.Errorf("source %s already registered", id)
	}
	r.sources[id] = src
	r.order = append(r.order, id)
	r.logger.Info("source registered", zap.String("source_id", id))
	return nil
}

// Unregister removes the source with id and returns it.
func (r *Registry) Unregister(id string) (catalog.Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, false
	}
	delete(r.sources, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	r.logger.Info("source unregistered", zap.String("source_id", id))
	return src, true
}

// Get returns the source with id.
func (r *Registry) Get(id string) (catalog.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// List returns the registered sources in registration order.
func (r *Registry) List() []catalog.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]catalog.Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// IDs returns the registered source ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Replace swaps the whole source set atomically. Queries already running
// keep the sources they resolved. The previous sources that are not part of
// srcs are returned so the caller can release them.
func (r *Registry) Replace(srcs []catalog.Source) ([]catalog.Source, error) {
	next := make(map[string]catalog.Source, len(srcs))
	order := make([]string, 0, len(srcs))
	for _, src := range srcs {
		if src == nil {
			return nil, fmt.Errorf("source is nil")
		}
		id := src.ID()
		if id == "" {
			return nil, fmt.Errorf("source id is empty")
		}
		if _, dup := next[id]; dup {
			return nil, fmt.Errorf("duplicate source id %s", id)
		}
		next[id] = src
		order = append(order, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []catalog.Source
	for _, id := range r.order {
		if old := r.sources[id]; next[id] != old {
			removed = append(removed, old)
		}
	}
	r.sources = next
	r.order = order
	r.logger.Info("source set replaced",
		zap.Strings("sources", order),
		zap.Int("released", len(removed)),
	)
	return removed, nil
}
