package federation

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/catalogflow/catalog"
)

// Strategy names.
const (
	StrategySorted = "sorted"
	StrategyFifo   = "fifo"
)

// Strategy federates a query across sources.
//
// Federate returns as soon as the sources are dispatched. The response is
// filled in the background and closed when aggregation finishes; callers
// read it with QueryResponse.Next or wait on QueryResponse.Done.
type Strategy interface {
	Name() string
	Federate(ctx context.Context, sources []catalog.Source, req *catalog.QueryRequest) (*catalog.QueryResponse, error)
}

// New creates the strategy registered under name. An empty name selects the
// sorted strategy.
func New(name string, opts Options) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategySorted:
		return NewSortedStrategy(opts), nil
	case StrategyFifo:
		return NewFifoStrategy(opts), nil
	default:
		return nil, fmt.Errorf("unknown federation strategy %q", name)
	}
}
