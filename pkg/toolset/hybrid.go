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
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/infoxp/pkg/search"
	"github.com/kadirpekel/infoxp/pkg/store"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

type HybridGameContextArgs struct {
	Q          string `json:"q" jsonschema:"required,description=Web search query"`
	DB         string `json:"db" jsonschema:"required,description=Database name"`
	Collection string `json:"collection" jsonschema:"required,description=Collection name"`
	Filter     string `json:"filter,omitempty" jsonschema:"description=Query filter as JSON text,default={}"`
	Projection string `json:"projection,omitempty" jsonschema:"description=Projection as JSON text,default={}"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Maximum documents,default=1,minimum=1,maximum=20"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"description=Number of web results,default=3,minimum=1,maximum=5"`
	Depth      string `json:"depth,omitempty" jsonschema:"description=Search depth,enum=basic,enum=advanced,default=basic"`
}

// hybridGameContext reads the store and searches the web concurrently. Both
// branches must succeed; a failure in either fails the whole call.
func (t *tools) hybridGameContext(ctx context.Context, args HybridGameContextArgs) (*tool.Result, error) {
	const name = "hybrid_game_context"

	filter, err := parseArg(name, "filter", args.Filter)
	if err != nil {
		return nil, err
	}
	projection, err := parseArg(name, "projection", args.Projection)
	if err != nil {
		return nil, err
	}

	var (
		docs []bson.D
		web  *search.Response
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = t.deps.Store.Find(gctx, store.FindRequest{
			DB:         args.DB,
			Collection: args.Collection,
			Filter:     filter,
			Projection: projection,
			Limit:      args.Limit,
		})
		if err != nil {
			return fmt.Errorf("database lookup: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		web, err = t.deps.Search.Search(gctx, args.Q, args.MaxResults, search.ParseDepth(args.Depth))
		if err != nil {
			return fmt.Errorf("web search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dbText, err := store.Render(docs)
	if err != nil {
		return nil, err
	}

	result := tool.Textf("Database (%s.%s):\n%s\n\nWeb:\n%s", args.DB, args.Collection, dbText, web.Text())
	for _, item := range web.Items {
		if item.URL != "" {
			result.WithLink(item.URL, item.Title, item.Snippet, "text/html")
		}
	}
	return result, nil
}
