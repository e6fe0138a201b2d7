package federation

import "time"

// SourceEvent describes the outcome of one source within a federated call.
type SourceEvent struct {
	Strategy string
	SourceID string
	Elapsed  time.Duration
	Hits     int64
	Returned int
	TimedOut bool
	Err      error
}

// FederationEvent describes a completed federated call.
type FederationEvent struct {
	Strategy string
	Sources  int
	Failed   int
	Returned int
	Hits     int64
	Elapsed  time.Duration
}

// Observer receives federation events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	SourceCompleted(SourceEvent)
	FederationCompleted(FederationEvent)
}

type nopObserver struct{}

func (nopObserver) SourceCompleted(SourceEvent)         {}
func (nopObserver) FederationCompleted(FederationEvent) {}

// Observers fans events out to every non-nil observer in obs.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nopObserver{}
	case 1:
		return out[0]
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) SourceCompleted(ev SourceEvent) {
	for _, o := range m {
		o.SourceCompleted(ev)
	}
}

func (m multiObserver) FederationCompleted(ev FederationEvent) {
	for _, o := range m {
		o.FederationCompleted(ev)
	}
}
