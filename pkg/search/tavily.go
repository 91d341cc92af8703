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

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kadirpekel/infoxp/pkg/httpclient"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// Tavily queries the Tavily search API.
type Tavily struct {
	apiKey string
	url    string
	client *httpclient.Client
}

// NewTavily creates the strategy. An empty endpoint uses the public API.
func NewTavily(apiKey, endpoint string) *Tavily {
	if endpoint == "" {
		endpoint = defaultTavilyURL
	}
	return &Tavily{
		apiKey: apiKey,
		url:    endpoint,
		// The tier timeout bounds the call; a retry would only eat into it.
		client: httpclient.New(httpclient.WithMaxRetries(0)),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query       string `json:"query"`
	SearchDepth Depth  `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int, depth Depth) ([]Item, error) {
	body, err := json.Marshal(tavilyRequest{Query: query, SearchDepth: depth, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("tavily returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode tavily response: %w", err)
	}

	items := make([]Item, 0, min(len(out.Results), maxResults))
	for _, r := range out.Results {
		if len(items) == maxResults {
			break
		}
		snippet := r.Content
		if snippet == "" {
			snippet = r.Snippet
		}
		items = append(items, Item{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	return items, nil
}
