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
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/kadirpekel/infoxp/pkg/httpclient"
)

const (
	defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"
	userAgent            = "infoxp/1.0"
)

// DuckDuckGo scrapes the static HTML results page.
type DuckDuckGo struct {
	url     string
	client  *httpclient.Client
	limiter *rate.Limiter
}

// NewDuckDuckGo creates the strategy. An empty endpoint uses the public page.
func NewDuckDuckGo(endpoint string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = defaultDuckDuckGoURL
	}
	return &DuckDuckGo{
		url:     endpoint,
		client:  httpclient.New(httpclient.WithMaxRetries(0), httpclient.WithUserAgent(userAgent)),
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

func (d *DuckDuckGo) Name() string { return "ddg" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int, _ Depth) ([]Item, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", d.url, err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	return ParseDuckDuckGo(resp.Body, maxResults)
}

// ParseDuckDuckGo extracts results from a DuckDuckGo HTML page in order of
// appearance, stopping after maxResults.
func ParseDuckDuckGo(r io.Reader, maxResults int) ([]Item, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	var (
		items   []Item
		current *Item
	)
	flush := func() {
		if current != nil && len(items) < maxResults {
			items = append(items, *current)
		}
		current = nil
	}

	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				flush()
				if len(items) >= maxResults {
					return false
				}
				current = &Item{
					Title: textContent(n),
					URL:   unwrapRedirect(attr(n, "href")),
				}
				return true
			case hasClass(n, "result__snippet"):
				if current != nil {
					current.Snippet = textContent(n)
					flush()
				}
				return len(items) < maxResults
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	flush()

	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= tracking links.
func unwrapRedirect(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasPrefix(u.Path, "/l") {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
