// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	DefaultMongoURI            = "mongodb://localhost:27017"
	DefaultServerSelectTimeout = 4 * time.Second
)

type MongoConfig struct {
	URI                    string
	ServerSelectionTimeout time.Duration
}

// Mongo is a Store backed by MongoDB. The client is created on first use
// and shared by every call afterwards; a failed attempt is not cached.
type Mongo struct {
	cfg MongoConfig

	mu     sync.Mutex
	client *mongo.Client
}

func NewMongo(cfg MongoConfig) *Mongo {
	if cfg.URI == "" {
		cfg.URI = DefaultMongoURI
	}
	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = DefaultServerSelectTimeout
	}
	return &Mongo{cfg: cfg}
}

func (m *Mongo) conn(ctx context.Context) (*mongo.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(m.cfg.URI).
		SetServerSelectionTimeout(m.cfg.ServerSelectionTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to reach mongo: %w", err)
	}

	slog.Debug("Connected to MongoDB")
	m.client = client
	return client, nil
}

func (m *Mongo) collection(ctx context.Context, db, name string) (*mongo.Collection, error) {
	if db == "" || name == "" {
		return nil, fmt.Errorf("db and collection are required")
	}
	client, err := m.conn(ctx)
	if err != nil {
		return nil, err
	}
	return client.Database(db).Collection(name), nil
}

func (m *Mongo) Find(ctx context.Context, req FindRequest) ([]bson.D, error) {
	coll, err := m.collection(ctx, req.DB, req.Collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetLimit(int64(ClampLimit(req.Limit)))
	if len(req.Projection) > 0 {
		opts.SetProjection(req.Projection)
	}
	if len(req.Sort) > 0 {
		opts.SetSort(req.Sort)
	}
	filter := req.Filter
	if filter == nil {
		filter = bson.D{}
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s.%s: %w", req.DB, req.Collection, err)
	}

	docs := []bson.D{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read %s.%s: %w", req.DB, req.Collection, err)
	}
	return docs, nil
}

func (m *Mongo) InsertOne(ctx context.Context, db, collection string, doc bson.D) (any, error) {
	coll, err := m.collection(ctx, db, collection)
	if err != nil {
		return nil, err
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert into %s.%s: %w", db, collection, err)
	}
	return res.InsertedID, nil
}

func (m *Mongo) UpdateOne(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	if err := ValidateUpdate(req.Update); err != nil {
		return nil, err
	}
	coll, err := m.collection(ctx, req.DB, req.Collection)
	if err != nil {
		return nil, err
	}

	res, err := coll.UpdateOne(ctx, req.Filter, req.Update, options.UpdateOne().SetUpsert(req.Upsert))
	if err != nil {
		return nil, fmt.Errorf("update %s.%s: %w", req.DB, req.Collection, err)
	}
	return &UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	_, err := m.conn(ctx)
	return err
}

func (m *Mongo) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

var _ Store = (*Mongo)(nil)
