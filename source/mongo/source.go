// Package mongo provides a catalog source over a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/federation"
	"github.com/BaSui01/catalogflow/types"
)

// Kind is the source kind reported in descriptors.
const Kind = "mongo"

// Collection is the subset of *mongo.Collection the source uses.
type Collection interface {
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error)
}

// Pinger reports whether the server is reachable.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// Config configures a Source.
type Config struct {
	ID         string
	Title      string
	URI        string
	Database   string
	Collection string
}

// Source is a catalog source over a MongoDB collection.
type Source struct {
	cfg    Config
	coll   Collection
	pinger Pinger
	client *mongo.Client
	logger *zap.Logger
}

// Connect opens a client for cfg.URI and returns a source over the configured
// collection.
func Connect(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "catalog"
	}
	if cfg.Collection == "" {
		cfg.Collection = "metacards"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	s := New(cfg, client.Database(cfg.Database).Collection(cfg.Collection), client, logger)
	s.client = client
	return s, nil
}

// New creates a source over coll. pinger may be nil, in which case the
// source always reports itself available.
func New(cfg Config, coll Collection, pinger Pinger, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:    cfg,
		coll:   coll,
		pinger: pinger,
		logger: logger.With(zap.String("component", "mongo_source"), zap.String("source_id", cfg.ID)),
	}
}

// ID returns the source id.
func (s *Source) ID() string { return s.cfg.ID }

// Describe implements catalog.Describer.
func (s *Source) Describe() catalog.SourceDescriptor {
	return catalog.SourceDescriptor{
		ID:          s.cfg.ID,
		Kind:        Kind,
		Title:       s.cfg.Title,
		Description: "MongoDB collection " + s.cfg.Database + "." + s.cfg.Collection,
	}
}

// IsAvailable pings the primary.
func (s *Source) IsAvailable(ctx context.Context) bool {
	if s.pinger == nil {
		return true
	}
	return s.pinger.Ping(ctx, readpref.Primary()) == nil
}

// Close disconnects the client opened by Connect.
func (s *Source) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Create upserts cards by id.
func (s *Source) Create(ctx context.Context, cards []*catalog.Metacard) ([]*catalog.Metacard, error) {
	now := time.Now().UTC()
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
		_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: mc.ID}}, toDocument(mc), options.Replace().SetUpsert(true))
		if err != nil {
			return out, types.NewError(types.ErrStorageFailed, "failed to store metacard "+mc.ID).WithCause(err)
		}
		out = append(out, mc)
	}
	return out, nil
}

// Delete removes cards by id.
func (s *Source) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return 0, types.NewError(types.ErrStorageFailed, "failed to delete metacards").WithCause(err)
	}
	return int(res.DeletedCount), nil
}

// Query implements catalog.Source.
func (s *Source) Query(ctx context.Context, req *catalog.QueryRequest) (*catalog.SourceResponse, error) {
	if req == nil {
		return nil, types.NewInvalidRequestError("query request is required")
	}
	q := req.Query
	filter, exact := translate(q.Filter)

	if exact {
		if sort, ok := pushdownSort(q); ok {
			return s.queryPaged(ctx, filter, sort, q)
		}
	}

	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, s.queryError(err)
	}
	var docs []metacardDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.queryError(err)
	}

	matched := make([]catalog.Result, 0, len(docs))
	for _, d := range docs {
		mc := d.toMetacard()
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

func (s *Source) queryPaged(ctx context.Context, filter bson.D, sort bson.D, q catalog.Query) (*catalog.SourceResponse, error) {
	hits, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, s.queryError(err)
	}

	opts := options.Find().SetSort(sort).SetSkip(int64(q.Offset() - 1))
	if !q.Unbounded() {
		opts.SetLimit(int64(q.PageSize))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, s.queryError(err)
	}
	var docs []metacardDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.queryError(err)
	}

	results := make([]catalog.Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, catalog.ScoreResult(d.toMetacard(), q.Filter))
	}
	return &catalog.SourceResponse{Results: results, Hits: hits}, nil
}

func (s *Source) queryError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewError(types.ErrSourceQueryFailed, "mongo query failed").
		WithCause(err).
		WithSource(s.cfg.ID)
}

// pushdownSort returns the sort document when the server can order results.
// MongoDB sorts missing fields first ascending, so temporal sorts only push
// down descending.
func pushdownSort(q catalog.Query) (bson.D, bool) {
	if q.SortBy == nil {
		if len(q.Filter.Terms()) > 0 {
			return nil, false
		}
		return bson.D{{Key: "_id", Value: 1}}, true
	}
	switch federation.ResolveSortKind(q.SortBy.Property) {
	case federation.SortTemporal:
		if q.SortBy.Order == catalog.Ascending {
			return nil, false
		}
		return bson.D{{Key: field(q.SortBy.Property), Value: -1}, {Key: "_id", Value: 1}}, true
	case federation.SortDistance:
		if _, ok := q.Filter.SpatialAnchor(); ok {
			return nil, false
		}
	default:
		if len(q.Filter.Terms()) > 0 {
			return nil, false
		}
	}
	return bson.D{{Key: "_id", Value: 1}}, true
}
