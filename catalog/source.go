package catalog

import "context"

// Source is a queryable catalog backend. Implementations must be safe for
// concurrent use; federation calls Query from pool workers.
type Source interface {
	ID() string
	Query(ctx context.Context, req *QueryRequest) (*SourceResponse, error)
}

// AvailabilityChecker is implemented by sources that can report whether they
// are reachable. Sources that do not implement it are assumed available.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context) bool
}

// Describer is implemented by sources that can describe themselves.
type Describer interface {
	Describe() SourceDescriptor
}

// Store is a source that also accepts writes.
type Store interface {
	Source
	Create(ctx context.Context, cards []*Metacard) ([]*Metacard, error)
	Delete(ctx context.Context, ids []string) (int, error)
}

// SourceDescriptor is the public description of a source.
type SourceDescriptor struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Version      string   `json:"version,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	Available    bool     `json:"available"`
}

// SourceResponse is what a single source returns for a query.
type SourceResponse struct {
	Results           []Result           `json:"results"`
	Hits              int64              `json:"hits"`
	ProcessingDetails []ProcessingDetail `json:"processing_details,omitempty"`
	Properties        map[string]any     `json:"properties,omitempty"`
}

// ProcessingDetail records a per-source failure or warning attached to an
// aggregate response instead of failing the whole call.
type ProcessingDetail struct {
	SourceID string   `json:"source_id"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
}

// Describe returns the descriptor of s, falling back to its id.
func Describe(s Source) SourceDescriptor {
	if d, ok := s.(Describer); ok {
		desc := d.Describe()
		if desc.ID == "" {
			desc.ID = s.ID()
		}
		return desc
	}
	return SourceDescriptor{ID: s.ID()}
}
