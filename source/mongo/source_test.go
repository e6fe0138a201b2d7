package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/catalogflow/catalog"
	"github.com/BaSui01/catalogflow/types"
)

// fakeCollection keeps documents in insertion order. It ignores filters and
// sorts but honours skip and limit, and records what it was asked.
type fakeCollection struct {
	mu      sync.Mutex
	docs    []metacardDocument
	filters []any
	finds   []options.FindOptions
	findErr error
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}
	var fo options.FindOptions
	for _, o := range opts {
		for _, set := range o.List() {
			if err := set(&fo); err != nil {
				return nil, err
			}
		}
	}
	c.filters = append(c.filters, filter)
	c.finds = append(c.finds, fo)

	docs := c.docs
	if fo.Skip != nil {
		docs = docs[min(int(*fo.Skip), len(docs)):]
	}
	if fo.Limit != nil && int(*fo.Limit) < len(docs) {
		docs = docs[:*fo.Limit]
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (c *fakeCollection) CountDocuments(context.Context, any, ...options.Lister[options.CountOptions]) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.docs)), nil
}

func (c *fakeCollection) ReplaceOne(_ context.Context, _ any, replacement any, _ ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := replacement.(metacardDocument)
	for i := range c.docs {
		if c.docs[i].ID == doc.ID {
			c.docs[i] = doc
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	c.docs = append(c.docs, doc)
	return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: doc.ID}, nil
}

func (c *fakeCollection) DeleteMany(_ context.Context, filter any, _ ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := filter.(bson.D)[0].Value.(bson.D)[0].Value.([]string)
	var n int64
	kept := c.docs[:0]
	for _, d := range c.docs {
		if contains(ids, d.ID) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return &mongo.DeleteResult{DeletedCount: n}, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context, *readpref.ReadPref) error { return p.err }

func setupSource(t *testing.T) (*Source, *fakeCollection) {
	t.Helper()
	coll := &fakeCollection{}
	s := New(Config{ID: "mongo", Title: "Mongo", Database: "catalog", Collection: "metacards"}, coll, nil, zaptest.NewLogger(t))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var cards []*catalog.Metacard
	// Inserted newest first so the fake's natural order matches effective DESC.
	for i, title := range []string{"airfield map", "harbor crane", "river gauge", "harbor survey"} {
		eff := base.Add(time.Duration(3-i) * time.Hour)
		cards = append(cards, &catalog.Metacard{
			ID:        title,
			Title:     title,
			Effective: &eff,
			Location:  &catalog.Point{Lat: float64(3 - i), Lon: 0},
		})
	}
	_, err := s.Create(context.Background(), cards)
	require.NoError(t, err)
	return s, coll
}

func ids(rs []catalog.Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Metacard.ID
	}
	return out
}

func TestSource_PagedTemporalQueryPushesDown(t *testing.T) {
	s, coll := setupSource(t)

	resp, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{
		StartIndex: 2,
		PageSize:   2,
		SortBy:     &catalog.SortBy{Property: catalog.PropertyEffective},
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 4, resp.Hits)
	assert.Equal(t, []string{"harbor crane", "river gauge"}, ids(resp.Results))

	require.Len(t, coll.finds, 1)
	fo := coll.finds[0]
	assert.Equal(t, bson.D{{Key: "effective", Value: -1}, {Key: "_id", Value: 1}}, fo.Sort)
	require.NotNil(t, fo.Skip)
	assert.EqualValues(t, 1, *fo.Skip)
	require.NotNil(t, fo.Limit)
	assert.EqualValues(t, 2, *fo.Limit)

	for _, r := range resp.Results {
		assert.Equal(t, "mongo", r.Metacard.SourceID)
		assert.Equal(t, time.UTC, r.Metacard.Effective.Location())
	}
}

func TestSource_TextQueryScoresInMemory(t *testing.T) {
	s, coll := setupSource(t)

	resp, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{
		Filter:   catalog.Like(catalog.PropertyTitle, "harbor*"),
		PageSize: 10,
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Hits)
	assert.ElementsMatch(t, []string{"harbor crane", "harbor survey"}, ids(resp.Results))
	for _, r := range resp.Results {
		require.NotNil(t, r.RelevanceScore)
	}
	require.Len(t, coll.finds, 1)
	assert.Nil(t, coll.finds[0].Skip)
}

func TestSource_AscendingTemporalSortsInMemory(t *testing.T) {
	s, _ := setupSource(t)

	resp, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{
		PageSize: 2,
		SortBy:   &catalog.SortBy{Property: catalog.PropertyEffective, Order: catalog.Ascending},
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 4, resp.Hits)
	assert.Equal(t, []string{"harbor survey", "river gauge"}, ids(resp.Results))
}

func TestSource_DistanceSort(t *testing.T) {
	s, _ := setupSource(t)

	resp, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{
		Filter: catalog.DWithin(catalog.Point{Lat: 3, Lon: 0}, 150_000),
		SortBy: &catalog.SortBy{Property: catalog.PropertyDistance, Order: catalog.Ascending},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"airfield map", "harbor crane"}, ids(resp.Results))
	require.NotNil(t, resp.Results[1].Distance)
	assert.InDelta(t, 111_000, *resp.Results[1].Distance, 1_000)
}

func TestSource_UpsertAndDelete(t *testing.T) {
	s, coll := setupSource(t)
	ctx := context.Background()

	_, err := s.Create(ctx, []*catalog.Metacard{{ID: "river gauge", Title: "river gauge v2"}})
	require.NoError(t, err)
	assert.Len(t, coll.docs, 4)

	n, err := s.Delete(ctx, []string{"river gauge", "nope"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, coll.docs, 3)

	n, err = s.Delete(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSource_QueryErrors(t *testing.T) {
	s, coll := setupSource(t)
	coll.findErr = errors.New("connection reset")

	_, err := s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrSourceQueryFailed))

	coll.findErr = context.DeadlineExceeded
	_, err = s.Query(context.Background(), catalog.NewQueryRequest(catalog.Query{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.Query(context.Background(), nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestSource_Availability(t *testing.T) {
	ctx := context.Background()
	assert.True(t, New(Config{ID: "a"}, &fakeCollection{}, nil, nil).IsAvailable(ctx))
	assert.True(t, New(Config{ID: "a"}, &fakeCollection{}, fakePinger{}, nil).IsAvailable(ctx))
	assert.False(t, New(Config{ID: "a"}, &fakeCollection{}, fakePinger{err: errors.New("down")}, nil).IsAvailable(ctx))

	d := New(Config{ID: "a", Database: "db", Collection: "c"}, &fakeCollection{}, nil, nil).Describe()
	assert.Equal(t, Kind, d.Kind)
	assert.Contains(t, d.Description, "db.c")
}

func TestConnectRequiresURI(t *testing.T) {
	_, err := Connect(Config{ID: "m"}, nil)
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	doc, exact := translate(catalog.And(
		catalog.Equal(catalog.PropertyTitle, "a"),
		catalog.GreaterOrEqual(catalog.PropertyCreated, "2024-01-01T00:00:00Z"),
	))
	assert.True(t, exact)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "title", Value: "a"}},
		bson.D{{Key: "created", Value: bson.D{{Key: "$gte", Value: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}}},
	}}}, doc)

	doc, exact = translate(catalog.Or(catalog.Equal(catalog.PropertyTitle, "a"), catalog.Any()))
	assert.True(t, exact)
	assert.Empty(t, doc)

	doc, exact = translate(catalog.Like(catalog.PropertyAnyText, "harbor*"))
	assert.False(t, exact)
	assert.Equal(t, "$or", doc[0].Key)

	doc, exact = translate(catalog.Not(catalog.Equal("sensor", "eo")))
	assert.True(t, exact)
	assert.Equal(t, bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "attributes.sensor", Value: "eo"}}}}}, doc)

	_, exact = translate(catalog.Equal(catalog.PropertyCreated, "yesterday"))
	assert.False(t, exact)

	doc, exact = translate(catalog.DWithin(catalog.Point{Lat: 1, Lon: 2}, 1000))
	assert.True(t, exact)
	assert.Equal(t, "location", doc[0].Key)

	doc, exact = translate(nil)
	assert.True(t, exact)
	assert.Empty(t, doc)
}
