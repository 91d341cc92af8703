package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func mustParse(t *testing.T, text string) bson.D {
	t.Helper()
	doc, err := ParseDocument(text)
	require.NoError(t, err)
	return doc
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument(`{"name":"Ada","age":36}`)
	require.NoError(t, err)
	assert.Equal(t, "Ada", lookup(doc, "name"))

	doc, err = ParseDocument("  ")
	require.NoError(t, err)
	assert.Empty(t, doc)

	_, err = ParseDocument(`{"name":`)
	assert.Error(t, err)

	_, err = ParseDocument(`[1,2]`)
	assert.Error(t, err)
}

func TestValidateUpdate(t *testing.T) {
	assert.NoError(t, ValidateUpdate(mustParse(t, `{"$set":{"a":1}}`)))
	assert.Error(t, ValidateUpdate(mustParse(t, `{"a":1}`)))
	assert.Error(t, ValidateUpdate(bson.D{}))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, MaxLimit, ClampLimit(5000))
}

func TestMemory_InsertThenFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	id, err := s.InsertOne(ctx, "game", "players", mustParse(t, `{"name":"Ada","score":10}`))
	require.NoError(t, err)
	require.IsType(t, bson.ObjectID{}, id)

	_, err = s.InsertOne(ctx, "game", "players", mustParse(t, `{"name":"Linus","score":7}`))
	require.NoError(t, err)

	docs, err := s.Find(ctx, FindRequest{DB: "game", Collection: "players", Filter: mustParse(t, `{"name":"Ada"}`)})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, lookup(docs[0], "_id"))
	assert.EqualValues(t, 10, lookup(docs[0], "score"))

	other, err := s.Find(ctx, FindRequest{DB: "game", Collection: "teams"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemory_FindOperatorsSortProjectionLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for _, doc := range []string{
		`{"name":"a","score":5,"team":"red"}`,
		`{"name":"b","score":12,"team":"blue"}`,
		`{"name":"c","score":9,"team":"red"}`,
		`{"name":"d","score":1.5,"team":"red"}`,
	} {
		_, err := s.InsertOne(ctx, "game", "players", mustParse(t, doc))
		require.NoError(t, err)
	}

	docs, err := s.Find(ctx, FindRequest{
		DB:         "game",
		Collection: "players",
		Filter:     mustParse(t, `{"team":"red","score":{"$gte":2}}`),
		Sort:       mustParse(t, `{"score":-1}`),
		Projection: mustParse(t, `{"name":1,"_id":0}`),
		Limit:      5,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, bson.D{{Key: "name", Value: "c"}}, docs[0])
	assert.Equal(t, bson.D{{Key: "name", Value: "a"}}, docs[1])

	docs, err = s.Find(ctx, FindRequest{DB: "game", Collection: "players", Filter: mustParse(t, `{"name":{"$in":["a","d"]}}`), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestMemory_UpdateOne(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.InsertOne(ctx, "game", "players", mustParse(t, `{"name":"Ada","score":10}`))
	require.NoError(t, err)

	res, err := s.UpdateOne(ctx, UpdateRequest{
		DB: "game", Collection: "players",
		Filter: mustParse(t, `{"name":"Ada"}`),
		Update: mustParse(t, `{"$inc":{"score":5},"$set":{"level":2}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Equal(t, int64(1), res.ModifiedCount)

	docs, err := s.Find(ctx, FindRequest{DB: "game", Collection: "players", Filter: mustParse(t, `{"name":"Ada"}`)})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.EqualValues(t, 15, lookup(docs[0], "score"))
	assert.EqualValues(t, 2, lookup(docs[0], "level"))

	res, err = s.UpdateOne(ctx, UpdateRequest{
		DB: "game", Collection: "players",
		Filter: mustParse(t, `{"name":"Grace"}`),
		Update: mustParse(t, `{"$set":{"score":1}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.MatchedCount)
	assert.Equal(t, int64(0), res.UpsertedCount)

	res, err = s.UpdateOne(ctx, UpdateRequest{
		DB: "game", Collection: "players",
		Filter: mustParse(t, `{"name":"Grace"}`),
		Update: mustParse(t, `{"$set":{"score":1}}`),
		Upsert: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.UpsertedCount)
	assert.NotNil(t, res.UpsertedID)

	docs, err = s.Find(ctx, FindRequest{DB: "game", Collection: "players", Filter: mustParse(t, `{"name":"Grace"}`)})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.EqualValues(t, 1, lookup(docs[0], "score"))

	_, err = s.UpdateOne(ctx, UpdateRequest{
		DB: "game", Collection: "players",
		Filter: mustParse(t, `{"name":"Ada"}`),
		Update: mustParse(t, `{"score":0}`),
	})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	oid, err := bson.ObjectIDFromHex("64b7f0c2a1b2c3d4e5f60718")
	require.NoError(t, err)

	out, err := Render([]bson.D{{{Key: "_id", Value: oid}, {Key: "name", Value: "Ada"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"_id":{"$oid":"64b7f0c2a1b2c3d4e5f60718"},"name":"Ada"}]`, out)
	assert.Contains(t, out, "\n  ")

	out, err = Render([]bson.D{})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	out, err = Render(bson.D{{Key: "insertedId", Value: oid}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"insertedId":{"$oid":"64b7f0c2a1b2c3d4e5f60718"}}`, out)
}

// TestMongo_RoundTrip runs against a real server when MONGODB_TEST_URI is set.
func TestMongo_RoundTrip(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	s := NewMongo(MongoConfig{URI: uri})
	defer s.Close(ctx)

	coll := "players_" + bson.NewObjectID().Hex()
	id, err := s.InsertOne(ctx, "infoxp_test", coll, mustParse(t, `{"name":"Ada"}`))
	require.NoError(t, err)

	docs, err := s.Find(ctx, FindRequest{DB: "infoxp_test", Collection: coll, Filter: bson.D{{Key: "_id", Value: id}}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Ada", lookup(docs[0], "name"))
}

func TestMongo_UnreachableIsNotCached(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for server selection")
	}
	s := NewMongo(MongoConfig{URI: "mongodb://127.0.0.1:1", ServerSelectionTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	require.Error(t, s.Ping(ctx))
	assert.Nil(t, s.client)
	require.Error(t, s.Ping(ctx))
}
