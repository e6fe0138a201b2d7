// Package sqlstore provides a catalog source backed by a relational database
// through gorm. The schema is managed by internal/migration.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/types"
)

// Kind is the source kind reported in descriptors.
const Kind = "sql"

// Config configures a Store.
type Config struct {
	ID          string
	Title       string
	AutoMigrate bool
	// Transact runs writes in a transaction. Nil uses gorm's Transaction.
	Transact func(ctx context.Context, fn func(tx *gorm.DB) error) error
}

const createBatchSize = 500

// Store is a catalog source over the metacards table.
type Store struct {
	db     *gorm.DB
	cfg    Config
	logger *zap.Logger
}

// New creates a Store. With AutoMigrate the metacards table is created when
// missing, which is meant for tests and embedded sqlite deployments.
func New(db *gorm.DB, cfg Config, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if cfg.ID == "" {
		return nil, errors.New("source id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "sql_source"), zap.String("source_id", cfg.ID)),
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&MetacardRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate metacards: %w", err)
		}
	}
	return s, nil
}

// ID returns the source id.
func (s *Store) ID() string { return s.cfg.ID }

// Describe implements catalog.Describer.
func (s *Store) Describe() catalog.SourceDescriptor {
	return catalog.SourceDescriptor{
		ID:          s.cfg.ID,
		Kind:        Kind,
		Title:       s.cfg.Title,
		Description: "relational metacard store (" + s.db.Dialector.Name() + ")",
	}
}

// IsAvailable pings the database.
func (s *Store) IsAvailable(ctx context.Context) bool {
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

// Create upserts cards. Cards without an id get a new one.
func (s *Store) Create(ctx context.Context, cards []*catalog.Metacard) ([]*catalog.Metacard, error) {
	now := time.Now().UTC()
	records := make([]MetacardRecord, 0, len(cards))
	out := make([]*catalog.Metacard, 0, len(cards))
	for _, c := range cards {
		if c == nil {
			continue
		}
		mc := c.Clone()
		if mc.ID == "" {
			mc.ID = uuid.NewString()
		}
		mc.SourceID = s.cfg.ID
		if mc.Created == nil {
			mc.Created = &now
		}
		if mc.Modified == nil {
			mc.Modified = &now
		}
		if mc.Effective == nil {
			mc.Effective = mc.Created
		}
		rec, err := toRecord(mc)
		if err != nil {
			return nil, types.NewInvalidRequestError("metacard attributes are not serializable").WithCause(err)
		}
		records = append(records, rec)
		out = append(out, mc)
	}
	if len(records) == 0 {
		return out, nil
	}

	write := func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).
			CreateInBatches(&records, createBatchSize).Error
	}
	var err error
	if s.cfg.Transact != nil {
		err = s.cfg.Transact(ctx, write)
	} else {
		err = s.db.WithContext(ctx).Transaction(write)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailed, "failed to store metacards").WithCause(err)
	}
	s.logger.Debug("stored metacards", zap.Int("count", len(records)))
	return out, nil
}

// Delete removes cards by id.
func (s *Store) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&MetacardRecord{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrStorageFailed, "failed to delete metacards").WithCause(res.Error)
	}
	return int(res.RowsAffected), nil
}

// Query implements catalog.Source.
//
// Filters that translate exactly to SQL and sorts that only need a column are
// paged in the database. Everything else is narrowed by the translatable part
// of the filter, then matched, scored, sorted and paged in memory.
func (s *Store) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	q := req.Query
	where := translate(q.Filter)

	base := s.db.WithContext(ctx).Model(&MetacardRecord{})
	if !where.unrestricted() {
		base = base.Where(where.sql, where.args...)
	}

	if where.exact {
		if order, ok := pushdownOrder(q); ok {
			return s.queryPaged(base, q, order)
		}
	}

	var records []MetacardRecord
	if err := base.Order("id").Find(&records).Error; err != nil {
		return nil, s.queryError(err)
	}

	matched := make([]catalog.Result, 0, len(records))
	for _, rec := range records {
		mc, err := rec.toMetacard()
		if err != nil {
			s.logger.Warn("skipping unreadable metacard", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if !q.Filter.Match(mc) {
			continue
		}
		matched = append(matched, catalog.ScoreResult(mc, q.Filter))
	}
	slices.SortStableFunc(matched, federation.NewComparator(q.SortBy))

	return &catalog.SourceResponse{
		Results: catalog.Window(matched, q),
		Hits:    int64(len(matched)),
	}, nil
}

func (s *Store) queryPaged(base *gorm.DB, q catalog.Query, order string) (*catalog.SourceResponse, error) {
	var hits int64
	if err := base.Session(&gorm.Session{}).Count(&hits).Error; err != nil {
		return nil, s.queryError(err)
	}

	tx := base.Session(&gorm.Session{}).Order(order).Offset(q.Offset() - 1)
	if !q.Unbounded() {
		tx = tx.Limit(q.PageSize)
	}
	var records []MetacardRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, s.queryError(err)
	}

	results := make([]catalog.Result, 0, len(records))
	for _, rec := range records {
		mc, err := rec.toMetacard()
		if err != nil {
			s.logger.Warn("skipping unreadable metacard", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		results = append(results, catalog.ScoreResult(mc, q.Filter))
	}
	return &catalog.SourceResponse{Results: results, Hits: hits}, nil
}

func (s *Store) queryError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewError(types.ErrSourceQueryFailed, "metacard query failed").
		WithCause(err).
		WithSource(s.cfg.ID)
}

// pushdownOrder returns the ORDER BY clause when the requested sort can be
// evaluated by the database. Nulls sort last in both directions.
func pushdownOrder(q catalog.Query) (string, bool) {
	kind := federation.SortRelevance
	property := ""
	dir := "DESC"
	if q.SortBy != nil {
		kind = federation.ResolveSortKind(q.SortBy.Property)
		property = q.SortBy.Property
		if q.SortBy.Order == catalog.Ascending {
			dir = "ASC"
		}
	}

	switch kind {
	case federation.SortTemporal:
		col := columns[property]
		return fmt.Sprintf("CASE WHEN %[1]s IS NULL THEN 1 ELSE 0 END, %[1]s %[2]s, id", col, dir), true
	case federation.SortDistance:
		if _, ok := q.Filter.SpatialAnchor(); ok {
			return "", false
		}
	default:
		if len(q.Filter.Terms()) > 0 {
			return "", false
		}
	}
	// No result carries a score, so every order is a tie.
	return "id", true
}
