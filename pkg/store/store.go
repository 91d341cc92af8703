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

// Package store adapts a document database to the store tools.
//
// Tool arguments arrive as JSON text; ParseDocument turns them into BSON
// before any call reaches a Store, so a malformed payload never touches the
// connection.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	MaxLimit     = 100
	DefaultLimit = 20
)

// Store is the document database seen by the tools.
type Store interface {
	Find(ctx context.Context, req FindRequest) ([]bson.D, error)
	InsertOne(ctx context.Context, db, collection string, doc bson.D) (any, error)
	UpdateOne(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type FindRequest struct {
	DB         string
	Collection string
	Filter     bson.D
	Projection bson.D
	Sort       bson.D
	Limit      int
}

type UpdateRequest struct {
	DB         string
	Collection string
	Filter     bson.D
	Update     bson.D
	Upsert     bool
}

type UpdateResult struct {
	MatchedCount  int64 `bson:"matchedCount" json:"matchedCount"`
	ModifiedCount int64 `bson:"modifiedCount" json:"modifiedCount"`
	UpsertedCount int64 `bson:"upsertedCount" json:"upsertedCount"`
	UpsertedID    any   `bson:"upsertedId,omitempty" json:"upsertedId,omitempty"`
}

// ClampLimit bounds n into [1, MaxLimit]; zero or less means DefaultLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// ParseDocument parses relaxed Extended JSON text into a document. Blank
// text yields an empty document.
func ParseDocument(text string) (bson.D, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateUpdate checks that every top-level key of update is an operator.
func ValidateUpdate(update bson.D) error {
	if len(update) == 0 {
		return fmt.Errorf("update document must not be empty")
	}
	for _, e := range update {
		if !strings.HasPrefix(e.Key, "$") {
			return fmt.Errorf("update document must contain only update operators, found %q", e.Key)
		}
	}
	return nil
}

// Render formats any BSON-marshalable value as indented relaxed Extended
// JSON. Slices are rendered element by element into a JSON array.
func Render(v any) (string, error) {
	if docs, ok := v.([]bson.D); ok {
		raws := make([]json.RawMessage, 0, len(docs))
		for _, d := range docs {
			data, err := bson.MarshalExtJSON(d, false, false)
			if err != nil {
				return "", fmt.Errorf("failed to encode document: %w", err)
			}
			raws = append(raws, data)
		}
		out, err := json.MarshalIndent(raws, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	data, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	var pretty json.RawMessage = data
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
