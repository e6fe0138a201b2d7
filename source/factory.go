// Package source builds catalog sources from configuration. The concrete
// backends live in its subpackages.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/internal/cache"
	"github.com/BaSui01/catalogflow/internal/database"
	"github.com/BaSui01/catalogflow/internal/tlsutil"
	"github.com/BaSui01/catalogflow/source/cached"
	"github.com/BaSui01/catalogflow/source/memory"
	"github.com/BaSui01/catalogflow/source/mongo"
	"github.com/BaSui01/catalogflow/source/remote"
	"github.com/BaSui01/catalogflow/source/sqlstore"
)

// writeRetries bounds transaction retries for SQL ingest.
const writeRetries = 3

// Deps carries the shared infrastructure sources are built on. DB is needed
// by sql sources and Cache by sources with caching enabled.
type Deps struct {
	Logger     *zap.Logger
	DB         *database.PoolManager
	Cache      *cache.Manager
	HTTPClient *http.Client
}

// Closer is implemented by sources holding connections of their own.
type Closer interface {
	Close(ctx context.Context) error
}

// Build creates the source described by cfg.
func Build(cfg config.SourceConfig, deps Deps) (catalog.Source, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ID == "" {
		return nil, errors.New("source id is required")
	}

	var (
		src catalog.Source
		err error
	)
	switch cfg.Kind {
	case config.SourceKindMemory:
		opts := []memory.Option{memory.WithLogger(logger)}
		if cfg.Title != "" {
			opts = append(opts, memory.WithTitle(cfg.Title))
		}
		if cfg.Latency > 0 {
			opts = append(opts, memory.WithLatency(cfg.Latency))
		}
		src = memory.New(cfg.ID, opts...)
	case config.SourceKindSQL:
		if deps.DB == nil {
			return nil, fmt.Errorf("source %s: sql source requires a database", cfg.ID)
		}
		pm := deps.DB
		src, err = sqlstore.New(pm.DB(), sqlstore.Config{
			ID:          cfg.ID,
			Title:       cfg.Title,
			AutoMigrate: cfg.AutoMigrate,
			Transact: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
				return pm.WithTransactionRetry(ctx, writeRetries, fn)
			},
		}, logger)
	case config.SourceKindMongo:
		src, err = mongo.Connect(mongo.Config{
			ID:         cfg.ID,
			Title:      cfg.Title,
			URI:        cfg.URI,
			Database:   cfg.Database,
			Collection: cfg.Collection,
		}, logger)
	case config.SourceKindRemote:
		client := deps.HTTPClient
		if cfg.CAFile != "" {
			timeout := cfg.Timeout
			if timeout <= 0 {
				timeout = remote.DefaultTimeout
			}
			if client, err = tlsutil.SecureHTTPClientWithCA(timeout, cfg.CAFile); err != nil {
				return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
			}
		}
		src, err = remote.New(remote.Config{
			ID:      cfg.ID,
			Title:   cfg.Title,
			URL:     cfg.URL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}, client, logger)
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
	}

	if cfg.Cache.Enabled {
		if deps.Cache == nil {
			_ = Close(context.Background(), src)
			return nil, fmt.Errorf("source %s: caching enabled but no cache configured", cfg.ID)
		}
		src = cached.New(src, deps.Cache, cfg.Cache.TTL, logger)
	}

	logger.Info("source built",
		zap.String("source_id", cfg.ID),
		zap.String("kind", cfg.Kind),
		zap.Bool("cached", cfg.Cache.Enabled),
	)
	return src, nil
}

// BuildAll builds every configured source. On failure the sources built so
// far are closed.
func BuildAll(ctx context.Context, cfgs []config.SourceConfig, deps Deps) ([]catalog.Source, error) {
	out := make([]catalog.Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := Build(cfg, deps)
		if err != nil {
			_ = Close(ctx, out...)
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// NeedsDatabase reports whether any of cfgs is a sql source.
func NeedsDatabase(cfgs []config.SourceConfig) bool {
	for _, c := range cfgs {
		if c.Kind == config.SourceKindSQL {
			return true
		}
	}
	return false
}

// NeedsCache reports whether any of cfgs has caching enabled.
func NeedsCache(cfgs []config.SourceConfig) bool {
	for _, c := range cfgs {
		if c.Cache.Enabled {
			return true
		}
	}
	return false
}

// Close releases the connections held by srcs, looking through decorators.
func Close(ctx context.Context, srcs ...catalog.Source) error {
	var errs []error
	for _, s := range srcs {
		for s != nil {
			if c, ok := s.(Closer); ok {
				if err := c.Close(ctx); err != nil {
					errs = append(errs, fmt.Errorf("close source %s: %w", s.ID(), err))
				}
				break
			}
			u, ok := s.(interface{ Unwrap() catalog.Source })
			if !ok {
				break
			}
			s = u.Unwrap()
		}
	}
	return errors.Join(errs...)
}
