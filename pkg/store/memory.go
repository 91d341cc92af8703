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
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Memory is an in-process Store. It understands top-level equality filters,
// the comparison operators $eq $ne $gt $gte $lt $lte $in, and the update
// operators $set $unset $inc.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]bson.D
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]bson.D)}
}

func collectionKey(db, collection string) string {
	return db + "." + collection
}

func (m *Memory) Find(ctx context.Context, req FindRequest) ([]bson.D, error) {
	if req.DB == "" || req.Collection == "" {
		return nil, fmt.Errorf("db and collection are required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []bson.D
	for _, doc := range m.collections[collectionKey(req.DB, req.Collection)] {
		ok, err := matches(doc, req.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}

	if len(req.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, key := range req.Sort {
				c := compare(lookup(matched[i], key.Key), lookup(matched[j], key.Key))
				if c == 0 {
					continue
				}
				if n, _ := toFloat(key.Value); n < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	limit := ClampLimit(req.Limit)
	out := []bson.D{}
	for _, doc := range matched {
		if len(out) == limit {
			break
		}
		out = append(out, project(cloneDoc(doc), req.Projection))
	}
	return out, nil
}

func (m *Memory) InsertOne(ctx context.Context, db, collection string, doc bson.D) (any, error) {
	if db == "" || collection == "" {
		return nil, fmt.Errorf("db and collection are required")
	}
	doc = cloneDoc(doc)
	id := lookup(doc, "_id")
	if id == nil {
		id = bson.NewObjectID()
		doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectionKey(db, collection)
	for _, existing := range m.collections[key] {
		if compare(lookup(existing, "_id"), id) == 0 {
			return nil, fmt.Errorf("insert into %s: duplicate key _id %v", key, id)
		}
	}
	m.collections[key] = append(m.collections[key], doc)
	return id, nil
}

func (m *Memory) UpdateOne(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	if req.DB == "" || req.Collection == "" {
		return nil, fmt.Errorf("db and collection are required")
	}
	if err := ValidateUpdate(req.Update); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := collectionKey(req.DB, req.Collection)
	docs := m.collections[key]
	for i, doc := range docs {
		ok, err := matches(doc, req.Filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		updated, err := applyUpdate(cloneDoc(doc), req.Update)
		if err != nil {
			return nil, err
		}
		res := &UpdateResult{MatchedCount: 1}
		if !docsEqual(doc, updated) {
			docs[i] = updated
			res.ModifiedCount = 1
		}
		return res, nil
	}

	if !req.Upsert {
		return &UpdateResult{}, nil
	}

	seed := bson.D{}
	for _, e := range req.Filter {
		if strings.HasPrefix(e.Key, "$") || isOperatorDoc(e.Value) {
			continue
		}
		seed = append(seed, e)
	}
	doc, err := applyUpdate(seed, req.Update)
	if err != nil {
		return nil, err
	}
	id := lookup(doc, "_id")
	if id == nil {
		id = bson.NewObjectID()
		doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
	}
	m.collections[key] = append(docs, doc)
	return &UpdateResult{UpsertedCount: 1, UpsertedID: id}, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }

var _ Store = (*Memory)(nil)

func matches(doc, filter bson.D) (bool, error) {
	for _, cond := range filter {
		if strings.HasPrefix(cond.Key, "$") {
			return false, fmt.Errorf("unsupported top-level operator %s", cond.Key)
		}
		value := lookup(doc, cond.Key)

		ops, ok := cond.Value.(bson.D)
		if !ok || !isOperatorDoc(ops) {
			if compare(value, cond.Value) != 0 {
				return false, nil
			}
			continue
		}

		for _, op := range ops {
			ok, err := evalOperator(op.Key, value, op.Value)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func evalOperator(op string, value, operand any) (bool, error) {
	switch op {
	case "$eq":
		return compare(value, operand) == 0, nil
	case "$ne":
		return compare(value, operand) != 0, nil
	case "$gt":
		return value != nil && compare(value, operand) > 0, nil
	case "$gte":
		return value != nil && compare(value, operand) >= 0, nil
	case "$lt":
		return value != nil && compare(value, operand) < 0, nil
	case "$lte":
		return value != nil && compare(value, operand) <= 0, nil
	case "$in":
		list, ok := operand.(bson.A)
		if !ok {
			return false, fmt.Errorf("$in needs an array")
		}
		for _, v := range list {
			if compare(value, v) == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}

func applyUpdate(doc, update bson.D) (bson.D, error) {
	for _, op := range update {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return nil, fmt.Errorf("%s needs a document", op.Key)
		}
		for _, f := range fields {
			switch op.Key {
			case "$set":
				doc = set(doc, f.Key, f.Value)
			case "$unset":
				doc = unset(doc, f.Key)
			case "$inc":
				by, ok := toFloat(f.Value)
				if !ok {
					return nil, fmt.Errorf("$inc needs a number for %s", f.Key)
				}
				cur, _ := toFloat(lookup(doc, f.Key))
				doc = set(doc, f.Key, incResult(lookup(doc, f.Key), f.Value, cur+by))
			default:
				return nil, fmt.Errorf("unsupported update operator %s", op.Key)
			}
		}
	}
	return doc, nil
}

func incResult(current, by any, sum float64) any {
	_, curFloat := current.(float64)
	_, byFloat := by.(float64)
	if curFloat || byFloat {
		return sum
	}
	if _, ok := current.(int64); ok {
		return int64(sum)
	}
	if _, ok := by.(int64); ok {
		return int64(sum)
	}
	return int32(sum)
}

func isOperatorDoc(v any) bool {
	d, ok := v.(bson.D)
	if !ok || len(d) == 0 {
		return false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return false
		}
	}
	return true
}

func project(doc, projection bson.D) bson.D {
	if len(projection) == 0 {
		return doc
	}
	include := map[string]bool{}
	exclude := map[string]bool{}
	for _, p := range projection {
		if n, ok := toFloat(p.Value); ok && n == 0 {
			exclude[p.Key] = true
		} else if b, ok := p.Value.(bool); ok && !b {
			exclude[p.Key] = true
		} else {
			include[p.Key] = true
		}
	}

	out := bson.D{}
	for _, e := range doc {
		switch {
		case exclude[e.Key]:
		case len(include) == 0:
			out = append(out, e)
		case include[e.Key], e.Key == "_id":
			out = append(out, e)
		}
	}
	return out
}

func lookup(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func set(doc bson.D, key string, value any) bson.D {
	for i, e := range doc {
		if e.Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func unset(doc bson.D, key string) bson.D {
	out := doc[:0]
	for _, e := range doc {
		if e.Key != key {
			out = append(out, e)
		}
	}
	return out
}

func cloneDoc(doc bson.D) bson.D {
	out := make(bson.D, len(doc))
	copy(out, doc)
	return out
}

func docsEqual(a, b bson.D) bool {
	da, errA := bson.Marshal(a)
	db, errB := bson.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(da, db)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// compare orders two BSON values. Numbers compare by value regardless of
// width; other kinds compare by their Extended JSON form.
func compare(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb)
		}
	}
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}
		return 1
	}
	return strings.Compare(extJSON(a), extJSON(b))
}

func extJSON(v any) string {
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, true, false)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
