package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/catalogflow/types"
)

// Response property keys written by the federation strategies.
const (
	PropertySiteList = "site-list"
	// PropertySiteStatus holds a map[string]SiteStatus keyed by source ID.
	PropertySiteStatus = "site-status"
)

// SiteStatus summarises what one source contributed to a federated query.
type SiteStatus struct {
	SourceID        string        `json:"source_id"`
	Hits            int64         `json:"hits"`
	ResultsReturned int           `json:"results_returned"`
	Elapsed         time.Duration `json:"elapsed"`
	Successful      bool          `json:"successful"`
}

// QueryResponse is the aggregate response of a federated query.
//
// It is written incrementally by an aggregator and read concurrently by the
// caller. Close seals it; after Close no more results are accepted and
// readers blocked in Next or Wait are released.
type QueryResponse struct {
	request *QueryRequest

	mu      sync.Mutex
	results []Result
	cursor  int
	hits    int64
	details []ProcessingDetail
	props   map[string]any
	sites   []SiteStatus
	closed  bool
	changed chan struct{}

	done chan struct{}
}

// NewQueryResponse creates an open response for req.
func NewQueryResponse(req *QueryRequest) *QueryResponse {
	return &QueryResponse{
		request: req,
		props:   make(map[string]any),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Request returns the request the response answers.
func (r *QueryResponse) Request() *QueryRequest { return r.request }

// notifyLocked wakes readers waiting for a change. Callers hold r.mu.
func (r *QueryResponse) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// AddResult appends one result. It returns false once the response is closed.
func (r *QueryResponse) AddResult(res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.results = append(r.results, res)
	r.notifyLocked()
	return true
}

// AddResults appends results in order and optionally closes the response.
func (r *QueryResponse) AddResults(results []Result, closeAfter bool) {
	r.mu.Lock()
	if !r.closed && len(results) > 0 {
		r.results = append(r.results, results...)
		r.notifyLocked()
	}
	r.mu.Unlock()
	if closeAfter {
		r.Close()
	}
}

// Close seals the response. Calling it more than once is a no-op.
func (r *QueryResponse) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.notifyLocked()
	close(r.done)
}

// Closed reports whether Close has been called.
func (r *QueryResponse) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Done is closed when the response is sealed.
func (r *QueryResponse) Done() <-chan struct{} { return r.done }

// Wait blocks until the response is sealed or ctx ends.
func (r *QueryResponse) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next unread result in insertion order, blocking until one
// is available. ok is false once the response is closed and fully read.
func (r *QueryResponse) Next(ctx context.Context) (res Result, ok bool, err error) {
	for {
		r.mu.Lock()
		if r.cursor < len(r.results) {
			res = r.results[r.cursor]
			r.cursor++
			r.mu.Unlock()
			return res, true, nil
		}
		if r.closed {
			r.mu.Unlock()
			return Result{}, false, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Result{}, false, ctx.Err()
		}
	}
}

// Results returns a snapshot of every result added so far.
func (r *QueryResponse) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

// Len returns the number of results added so far.
func (r *QueryResponse) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// Hits returns the total hit count reported for the query.
func (r *QueryResponse) Hits() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits
}

// SetHits replaces the total hit count.
func (r *QueryResponse) SetHits(hits int64) {
	r.mu.Lock()
	r.hits = hits
	r.mu.Unlock()
}

// AddHits adds to the total hit count.
func (r *QueryResponse) AddHits(hits int64) {
	r.mu.Lock()
	r.hits += hits
	r.mu.Unlock()
}

// AddProcessingDetail records a per-source diagnostic.
func (r *QueryResponse) AddProcessingDetail(d ProcessingDetail) {
	r.mu.Lock()
	r.details = append(r.details, d)
	r.mu.Unlock()
}

// ProcessingDetails returns a snapshot of the recorded diagnostics.
func (r *QueryResponse) ProcessingDetails() []ProcessingDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProcessingDetail, len(r.details))
	copy(out, r.details)
	return out
}

// SetProperty sets a response property.
func (r *QueryResponse) SetProperty(key string, value any) {
	r.mu.Lock()
	r.props[key] = value
	r.mu.Unlock()
}

// Property returns a response property.
func (r *QueryResponse) Property(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.props[key]
	return v, ok
}

// Properties returns a copy of the response properties.
func (r *QueryResponse) Properties() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out
}

// SetSiteStatus records or replaces the status of one source.
func (r *QueryResponse) SetSiteStatus(s SiteStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putSiteLocked(s)
	r.syncSiteStatusLocked()
}

func (r *QueryResponse) putSiteLocked(s SiteStatus) {
	for i := range r.sites {
		if r.sites[i].SourceID == s.SourceID {
			r.sites[i] = s
			return
		}
	}
	r.sites = append(r.sites, s)
}

// syncSiteStatusLocked republishes the site statuses as a fresh map so
// earlier Properties snapshots are never mutated.
func (r *QueryResponse) syncSiteStatusLocked() {
	m := make(map[string]SiteStatus, len(r.sites))
	for _, s := range r.sites {
		m[s.SourceID] = s
	}
	r.props[PropertySiteStatus] = m
}

// MarkUnavailable records each id as a source that was not queried: a
// processing detail plus an unsuccessful site status.
func (r *QueryResponse) MarkUnavailable(ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.details = append(r.details, ProcessingDetail{
			SourceID: id,
			Error:    types.NewSourceUnavailableError(id).Message,
		})
		r.putSiteLocked(SiteStatus{SourceID: id})
	}
	r.syncSiteStatusLocked()
}

// SiteStatuses returns the per-source statuses in the order they were recorded.
func (r *QueryResponse) SiteStatuses() []SiteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SiteStatus, len(r.sites))
	copy(out, r.sites)
	return out
}

// CopyMetadataFrom copies hits, processing details, properties and site
// statuses from other. Results are not copied.
func (r *QueryResponse) CopyMetadataFrom(other *QueryResponse) {
	hits := other.Hits()
	details := other.ProcessingDetails()
	props := other.Properties()
	sites := other.SiteStatuses()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = hits
	r.details = append(r.details, details...)
	for k, v := range props {
		r.props[k] = v
	}
	for _, s := range sites {
		r.putSiteLocked(s)
	}
	if len(r.sites) > 0 {
		r.syncSiteStatusLocked()
	}
}
