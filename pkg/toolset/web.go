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

	"github.com/kadirpekel/infoxp/pkg/reader"
	"github.com/kadirpekel/infoxp/pkg/search"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

type WebSearchArgs struct {
	Q          string `json:"q" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"description=Number of results,default=5,minimum=1,maximum=10"`
	Depth      string `json:"depth,omitempty" jsonschema:"description=Search depth,enum=basic,enum=advanced,default=basic"`
}

type FetchURLArgs struct {
	URL string `json:"url" jsonschema:"required,description=Page address with or without scheme"`
}

func (t *tools) webSearch(ctx context.Context, args WebSearchArgs) (*tool.Result, error) {
	resp, err := t.deps.Search.Search(ctx, args.Q, args.MaxResults, search.ParseDepth(args.Depth))
	if err != nil {
		return nil, err
	}

	result := tool.Text(resp.Text())
	for _, item := range resp.Items {
		if item.URL != "" {
			result.WithLink(item.URL, item.Title, item.Snippet, "text/html")
		}
	}
	return result, nil
}

func (t *tools) fetchURL(ctx context.Context, args FetchURLArgs) (*tool.Result, error) {
	text, err := t.deps.Reader.Read(ctx, args.URL)
	if err != nil {
		return nil, err
	}
	target := reader.Normalize(args.URL)
	return tool.Text(text).WithLink(target, target, "Fetched page", "text/plain"), nil
}
