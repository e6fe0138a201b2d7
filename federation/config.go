package federation

import "go.uber.org/zap"

// DefaultMaxStartIndex bounds the offset a federated query may request.
const DefaultMaxStartIndex = 50000

// Config controls federation behaviour.
type Config struct {
	// MaxStartIndex clamps the requested start index. Values below 1 are
	// invalid and fall back to DefaultMaxStartIndex.
	MaxStartIndex int `json:"max_start_index" yaml:"max_start_index"`

	// CancelOnTimeout cancels the context of a source query once the
	// aggregator stops waiting for it. When false the query keeps running
	// until the source returns on its own.
	CancelOnTimeout bool `json:"cancel_on_timeout" yaml:"cancel_on_timeout"`
}

// DefaultConfig returns the default federation configuration.
func DefaultConfig() Config {
	return Config{
		MaxStartIndex:   DefaultMaxStartIndex,
		CancelOnTimeout: true,
	}
}

// Normalize returns c with invalid settings replaced by defaults. Each
// replacement is logged as a warning.
func (c Config) Normalize(logger *zap.Logger) Config {
	if c.MaxStartIndex < 1 {
		if logger != nil {
			logger.Warn("invalid max start index, using default",
				zap.Int("configured", c.MaxStartIndex),
				zap.Int("default", DefaultMaxStartIndex))
		}
		c.MaxStartIndex = DefaultMaxStartIndex
	}
	return c
}
