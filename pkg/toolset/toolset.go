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

// Package toolset registers the tool catalog served to the model: web
// search, page reading, document store access and the composite
// hybrid_game_context tool.
package toolset

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kadirpekel/infoxp/pkg/reader"
	"github.com/kadirpekel/infoxp/pkg/search"
	"github.com/kadirpekel/infoxp/pkg/store"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

// Searcher is satisfied by *search.Backend.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int, depth search.Depth) (*search.Response, error)
}

// PageReader is satisfied by *reader.Reader.
type PageReader interface {
	Read(ctx context.Context, url string) (string, error)
}

// Deps are the collaborators the tools call.
type Deps struct {
	Search Searcher
	Reader PageReader
	Store  store.Store
}

// New builds a registry holding the full catalog.
func New(deps Deps) (*tool.Registry, error) {
	reg := tool.NewRegistry()
	if err := Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds the catalog to reg in a fixed order.
func Register(reg *tool.Registry, deps Deps) error {
	if deps.Search == nil || deps.Reader == nil || deps.Store == nil {
		return fmt.Errorf("toolset: search, reader and store are required")
	}
	t := &tools{deps: deps}

	regs := []func() error{
		func() error {
			return tool.RegisterFunc(reg, "web_search", "Search the web and return top results.", t.webSearch)
		},
		func() error {
			return tool.RegisterFunc(reg, "fetch_url", "Fetch readable text from a web page.", t.fetchURL)
		},
		func() error {
			return tool.RegisterFunc(reg, "mongo_find", "Run find() with JSON filter/projection/sort/limit.", t.mongoFind)
		},
		func() error {
			return tool.RegisterFunc(reg, "mongo_insertOne", "Insert one JSON document into a collection.", t.mongoInsertOne)
		},
		func() error {
			return tool.RegisterFunc(reg, "mongo_updateOne", "Update one document using a JSON filter and update.", t.mongoUpdateOne)
		},
		func() error {
			return tool.RegisterFunc(reg, "hybrid_game_context",
				"Look up game records in the database and search the web about them at the same time.", t.hybridGameContext)
		},
	}
	for _, r := range regs {
		if err := r(); err != nil {
			return err
		}
	}
	return nil
}

type tools struct {
	deps Deps
}

// parseArg parses one JSON-text argument, reporting failures as malformed
// payloads before the store is touched.
func parseArg(toolName, field, text string) (bson.D, error) {
	doc, err := store.ParseDocument(text)
	if err != nil {
		return nil, &tool.MalformedPayloadError{Tool: toolName, Field: field, Err: err}
	}
	return doc, nil
}

var (
	_ Searcher   = (*search.Backend)(nil)
	_ PageReader = (*reader.Reader)(nil)
)
