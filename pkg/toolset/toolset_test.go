package toolset

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kadirpekel/infoxp/pkg/reader"
	"github.com/kadirpekel/infoxp/pkg/search"
	"github.com/kadirpekel/infoxp/pkg/store"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

type fakeSearch struct {
	fn func(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error)
}

func (f *fakeSearch) Search(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error) {
	return f.fn(ctx, q, max, depth)
}

func staticSearch(items ...search.Item) *fakeSearch {
	return &fakeSearch{fn: func(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error) {
		if len(items) > max {
			items = items[:max]
		}
		return &search.Response{Query: q, Items: items, Strategy: "fake", Elapsed: 3 * time.Millisecond}, nil
	}}
}

type fakeReader struct {
	text string
	err  error
	got  string
}

func (f *fakeReader) Read(ctx context.Context, url string) (string, error) {
	f.got = url
	return f.text, f.err
}

// countingStore records how often the wrapped store is reached.
type countingStore struct {
	store.Store
	calls    atomic.Int32
	findHook func(ctx context.Context) error
}

func (c *countingStore) Find(ctx context.Context, req store.FindRequest) ([]bson.D, error) {
	c.calls.Add(1)
	if c.findHook != nil {
		if err := c.findHook(ctx); err != nil {
			return nil, err
		}
	}
	return c.Store.Find(ctx, req)
}

func (c *countingStore) InsertOne(ctx context.Context, db, coll string, doc bson.D) (any, error) {
	c.calls.Add(1)
	return c.Store.InsertOne(ctx, db, coll, doc)
}

func (c *countingStore) UpdateOne(ctx context.Context, req store.UpdateRequest) (*store.UpdateResult, error) {
	c.calls.Add(1)
	return c.Store.UpdateOne(ctx, req)
}

func newTestRegistry(t *testing.T, deps Deps) *tool.Registry {
	t.Helper()
	if deps.Search == nil {
		deps.Search = staticSearch()
	}
	if deps.Reader == nil {
		deps.Reader = &fakeReader{}
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	reg, err := New(deps)
	require.NoError(t, err)
	return reg
}

func TestCatalog(t *testing.T) {
	reg := newTestRegistry(t, Deps{})

	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
		assert.Equal(t, "object", d.Parameters["type"], d.Name)
	}
	assert.Equal(t, []string{
		"web_search", "fetch_url", "mongo_find", "mongo_insertOne", "mongo_updateOne", "hybrid_game_context",
	}, names)

	find, ok := reg.Lookup("mongo_find")
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"db", "collection"}, find.Parameters["required"])
	limit := find.Parameters["properties"].(map[string]any)["limit"].(map[string]any)
	assert.EqualValues(t, 20, limit["default"])
	assert.EqualValues(t, 100, limit["maximum"])
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestWebSearch(t *testing.T) {
	var gotMax int
	var gotDepth search.Depth
	s := &fakeSearch{fn: func(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error) {
		gotMax, gotDepth = max, depth
		return &search.Response{
			Query:    q,
			Strategy: "ddg",
			Elapsed:  12 * time.Millisecond,
			Items:    []search.Item{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}},
		}, nil
	}}
	reg := newTestRegistry(t, Deps{Search: s})

	res, err := reg.Invoke(context.Background(), "web_search", map[string]any{"q": "golang", "maxResults": 50, "depth": "deep"})
	require.NoError(t, err)

	assert.Equal(t, 10, gotMax)
	assert.Equal(t, search.DepthBasic, gotDepth)
	assert.Equal(t, "Note: Using ddg • 12 ms\n\nResults for: golang\n1. Go\nhttps://go.dev\nThe Go language", res.String())
	require.Len(t, res.Links(), 1)
	assert.Equal(t, "https://go.dev", res.Links()[0].URI)
}

func TestWebSearch_BlankQueryRejected(t *testing.T) {
	called := false
	s := &fakeSearch{fn: func(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error) {
		called = true
		return &search.Response{Query: q}, nil
	}}
	reg := newTestRegistry(t, Deps{Search: s})

	_, err := reg.Invoke(context.Background(), "web_search", map[string]any{"q": "   "})
	var invalid *tool.InvalidArgumentsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "q", invalid.Field)
	assert.False(t, called)
}

func TestFetchURL(t *testing.T) {
	r := &fakeReader{text: "Example Domain"}
	reg := newTestRegistry(t, Deps{Reader: r})

	res, err := reg.Invoke(context.Background(), "fetch_url", map[string]any{"url": "example.com"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", r.got)
	assert.Contains(t, res.String(), "Example Domain")
	require.Len(t, res.Links(), 1)
	assert.Equal(t, "https://example.com", res.Links()[0].URI)
}

func TestFetchURL_ErrorPropagates(t *testing.T) {
	r := &fakeReader{err: &reader.FetchError{URL: "https://example.com", StatusCode: http.StatusBadGateway, Body: "bad gateway"}}
	reg := newTestRegistry(t, Deps{Reader: r})

	_, err := reg.Invoke(context.Background(), "fetch_url", map[string]any{"url": "example.com"})
	var fetchErr *reader.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
}

func TestMongoInsertThenFind(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, Deps{})

	res, err := reg.Invoke(ctx, "mongo_insertOne", map[string]any{
		"db": "game", "collection": "players", "document": `{"name":"Ada","score":10}`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.String(), `"insertedId"`)

	res, err = reg.Invoke(ctx, "mongo_find", map[string]any{
		"db": "game", "collection": "players", "filter": map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.Contains(t, res.String(), `"name": "Ada"`)
	assert.Contains(t, res.String(), `"$oid"`)

	res, err = reg.Invoke(ctx, "mongo_updateOne", map[string]any{
		"db": "game", "collection": "players",
		"filter": `{"name":"Ada"}`, "update": `{"$set":{"score":11}}`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.String(), `"modifiedCount": 1`)
}

func TestMongo_MalformedPayloadNeverReachesStore(t *testing.T) {
	cs := &countingStore{Store: store.NewMemory()}
	reg := newTestRegistry(t, Deps{Store: cs})

	tests := []struct {
		tool  string
		args  map[string]any
		field string
	}{
		{"mongo_find", map[string]any{"db": "g", "collection": "c", "filter": "{not json"}, "filter"},
		{"mongo_find", map[string]any{"db": "g", "collection": "c", "sort": "{"}, "sort"},
		{"mongo_insertOne", map[string]any{"db": "g", "collection": "c", "document": "nope"}, "document"},
		{"mongo_updateOne", map[string]any{"db": "g", "collection": "c", "filter": "{}", "update": "{"}, "update"},
		{"hybrid_game_context", map[string]any{"q": "x", "db": "g", "collection": "c", "filter": "]"}, "filter"},
	}
	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.field, func(t *testing.T) {
			_, err := reg.Invoke(context.Background(), tt.tool, tt.args)
			var malformed *tool.MalformedPayloadError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.field, malformed.Field)
		})
	}
	assert.Equal(t, int32(0), cs.calls.Load())
}

func TestMongoUpdateOne_RequiresOperators(t *testing.T) {
	cs := &countingStore{Store: store.NewMemory()}
	reg := newTestRegistry(t, Deps{Store: cs})

	_, err := reg.Invoke(context.Background(), "mongo_updateOne", map[string]any{
		"db": "g", "collection": "c", "filter": "{}", "update": `{"score":1}`,
	})
	var invalid *tool.InvalidArgumentsError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, int32(0), cs.calls.Load())
}

func TestHybridGameContext_RunsBranchesConcurrently(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.InsertOne(ctx, "game", "titles", bson.D{{Key: "title", Value: "Celeste"}})
	require.NoError(t, err)

	findStarted := make(chan struct{})
	searchStarted := make(chan struct{})

	cs := &countingStore{Store: mem, findHook: func(ctx context.Context) error {
		close(findStarted)
		select {
		case <-searchStarted:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("search branch never started")
		}
	}}
	s := &fakeSearch{fn: func(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error) {
		close(searchStarted)
		select {
		case <-findStarted:
		case <-time.After(2 * time.Second):
			return nil, errors.New("find branch never started")
		}
		assert.Equal(t, 3, max)
		return &search.Response{Query: q, Strategy: "fake", Items: []search.Item{{Title: "Celeste review", URL: "https://r.example"}}}, nil
	}}
	reg := newTestRegistry(t, Deps{Store: cs, Search: s})

	res, err := reg.Invoke(ctx, "hybrid_game_context", map[string]any{
		"q": "Celeste review", "db": "game", "collection": "titles",
	})
	require.NoError(t, err)

	text := res.String()
	assert.Contains(t, text, "Database (game.titles):")
	assert.Contains(t, text, `"title": "Celeste"`)
	assert.Contains(t, text, "Web:")
	assert.Contains(t, text, "1. Celeste review")
}

func TestHybridGameContext_FailsWholeCallOnBranchError(t *testing.T) {
	s := &fakeSearch{fn: func(ctx context.Context, q string, max int, depth search.Depth) (*search.Response, error) {
		return nil, context.Canceled
	}}
	reg := newTestRegistry(t, Deps{Search: s})

	res, err := reg.Invoke(context.Background(), "hybrid_game_context", map[string]any{
		"q": "x", "db": "game", "collection": "titles",
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "web search")
}
