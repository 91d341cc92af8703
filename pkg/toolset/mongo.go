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

package toolset

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kadirpekel/infoxp/pkg/store"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

type MongoFindArgs struct {
	DB         string `json:"db" jsonschema:"required,description=Database name"`
	Collection string `json:"collection" jsonschema:"required,description=Collection name"`
	Filter     string `json:"filter,omitempty" jsonschema:"description=Query filter as JSON text,default={}"`
	Projection string `json:"projection,omitempty" jsonschema:"description=Projection as JSON text,default={}"`
	Sort       string `json:"sort,omitempty" jsonschema:"description=Sort specification as JSON text,default={}"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Maximum documents,default=20,minimum=1,maximum=100"`
}

type MongoInsertOneArgs struct {
	DB         string `json:"db" jsonschema:"required,description=Database name"`
	Collection string `json:"collection" jsonschema:"required,description=Collection name"`
	Document   string `json:"document" jsonschema:"required,description=Document as JSON text"`
}

type MongoUpdateOneArgs struct {
	DB         string `json:"db" jsonschema:"required,description=Database name"`
	Collection string `json:"collection" jsonschema:"required,description=Collection name"`
	Filter     string `json:"filter" jsonschema:"required,description=Query filter as JSON text"`
	Update     string `json:"update" jsonschema:"required,description=Update operators as JSON text"`
	Upsert     bool   `json:"upsert,omitempty" jsonschema:"description=Insert when nothing matches,default=false"`
}

func (t *tools) mongoFind(ctx context.Context, args MongoFindArgs) (*tool.Result, error) {
	const name = "mongo_find"

	filter, err := parseArg(name, "filter", args.Filter)
	if err != nil {
		return nil, err
	}
	projection, err := parseArg(name, "projection", args.Projection)
	if err != nil {
		return nil, err
	}
	sort, err := parseArg(name, "sort", args.Sort)
	if err != nil {
		return nil, err
	}

	docs, err := t.deps.Store.Find(ctx, store.FindRequest{
		DB:         args.DB,
		Collection: args.Collection,
		Filter:     filter,
		Projection: projection,
		Sort:       sort,
		Limit:      args.Limit,
	})
	if err != nil {
		return nil, err
	}
	return render(docs)
}

func (t *tools) mongoInsertOne(ctx context.Context, args MongoInsertOneArgs) (*tool.Result, error) {
	doc, err := parseArg("mongo_insertOne", "document", args.Document)
	if err != nil {
		return nil, err
	}

	id, err := t.deps.Store.InsertOne(ctx, args.DB, args.Collection, doc)
	if err != nil {
		return nil, err
	}
	return render(bson.D{{Key: "acknowledged", Value: true}, {Key: "insertedId", Value: id}})
}

func (t *tools) mongoUpdateOne(ctx context.Context, args MongoUpdateOneArgs) (*tool.Result, error) {
	const name = "mongo_updateOne"

	filter, err := parseArg(name, "filter", args.Filter)
	if err != nil {
		return nil, err
	}
	update, err := parseArg(name, "update", args.Update)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateUpdate(update); err != nil {
		return nil, &tool.InvalidArgumentsError{Tool: name, Field: "update", Reason: err.Error()}
	}

	res, err := t.deps.Store.UpdateOne(ctx, store.UpdateRequest{
		DB:         args.DB,
		Collection: args.Collection,
		Filter:     filter,
		Update:     update,
		Upsert:     args.Upsert,
	})
	if err != nil {
		return nil, err
	}
	return render(res)
}

func render(v any) (*tool.Result, error) {
	text, err := store.Render(v)
	if err != nil {
		return nil, err
	}
	return tool.Text(text), nil
}
