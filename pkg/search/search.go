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

// Package search runs web searches through an ordered chain of providers.
//
// Each Tier pairs a Strategy with its own timeout. Tiers are tried in order
// and the first one that answers wins; a failing tier is logged and the next
// one is tried. When every tier fails the search yields no items rather than
// an error, so a flaky provider never breaks the conversation.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/infoxp/pkg/observability"
)

// ErrUnavailable is logged when no tier could answer.
var ErrUnavailable = errors.New("search unavailable")

const (
	MinResults = 1
	MaxResults = 10

	DefaultTimeout = 6 * time.Second
	MinTimeout     = time.Second
)

// Depth selects how much effort the provider spends.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthAdvanced Depth = "advanced"
)

// ParseDepth maps anything other than "advanced" to basic.
func ParseDepth(s string) Depth {
	if Depth(strings.ToLower(strings.TrimSpace(s))) == DepthAdvanced {
		return DepthAdvanced
	}
	return DepthBasic
}

type Item struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Response struct {
	Query    string        `json:"query"`
	Items    []Item        `json:"items"`
	Strategy string        `json:"strategy"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Text renders the response the way tool results present it.
func (r *Response) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Note: Using %s • %d ms\n\nResults for: %s\n", r.Strategy, r.Elapsed.Milliseconds(), r.Query)
	for i, it := range r.Items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n%s", i+1, it.Title, it.URL, it.Snippet)
	}
	return b.String()
}

// Strategy is one search provider.
type Strategy interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int, depth Depth) ([]Item, error)
}

// Tier is a strategy bounded by its own timeout.
type Tier struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Backend runs the tier chain.
type Backend struct {
	tiers   []Tier
	metrics *observability.Metrics
	logger  *slog.Logger
}

type Option func(*Backend)

func WithMetrics(m *observability.Metrics) Option {
	return func(b *Backend) {
		b.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// New creates a backend trying tiers in the given order.
func New(tiers []Tier, opts ...Option) *Backend {
	b := &Backend{logger: slog.Default()}
	for _, t := range tiers {
		if t.Timeout <= 0 {
			t.Timeout = DefaultTimeout
		}
		if t.Timeout < MinTimeout {
			t.Timeout = MinTimeout
		}
		b.tiers = append(b.tiers, t)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config selects the providers of the default chain.
type Config struct {
	TavilyAPIKey string
	TavilyURL    string

	// Preferred is "tavily" or "ddg". With "ddg" the primary is skipped even
	// when a key is configured.
	Preferred string

	DuckDuckGoURL string
	Timeout       time.Duration
}

// NewFromConfig builds the primary-then-fallback chain.
func NewFromConfig(cfg Config, opts ...Option) *Backend {
	var tiers []Tier
	if cfg.TavilyAPIKey != "" && !strings.EqualFold(cfg.Preferred, "ddg") {
		tiers = append(tiers, Tier{
			Strategy: NewTavily(cfg.TavilyAPIKey, cfg.TavilyURL),
			Timeout:  cfg.Timeout,
		})
	}
	tiers = append(tiers, Tier{
		Strategy: NewDuckDuckGo(cfg.DuckDuckGoURL),
		Timeout:  cfg.Timeout,
	})
	return New(tiers, opts...)
}

// Strategies lists the tier names in order.
func (b *Backend) Strategies() []string {
	names := make([]string, len(b.tiers))
	for i, t := range b.tiers {
		names[i] = t.Strategy.Name()
	}
	return names
}

// Search runs the chain. It only returns an error when ctx itself is done.
func (b *Backend) Search(ctx context.Context, query string, maxResults int, depth Depth) (*Response, error) {
	query = strings.TrimSpace(query)
	maxResults = ClampResults(maxResults)
	if depth != DepthAdvanced {
		depth = DepthBasic
	}

	start := time.Now()
	resp := &Response{Query: query, Items: []Item{}}

	for _, tier := range b.tiers {
		name := tier.Strategy.Name()
		items, err := b.runTier(ctx, tier, query, maxResults, depth)
		if err == nil {
			if len(items) > maxResults {
				items = items[:maxResults]
			}
			b.metrics.RecordSearch(ctx, name, observability.StatusOK)
			resp.Items = items
			resp.Strategy = name
			resp.Elapsed = time.Since(start)
			return resp, nil
		}

		b.metrics.RecordSearch(ctx, name, observability.StatusError)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn("Search strategy failed, falling back", "strategy", name, "query", query, "error", err)
	}

	b.logger.Error("All search strategies failed", "query", query, "error", ErrUnavailable)
	resp.Strategy = strings.Join(b.Strategies(), ",")
	resp.Elapsed = time.Since(start)
	return resp, nil
}

func (b *Backend) runTier(ctx context.Context, tier Tier, query string, maxResults int, depth Depth) ([]Item, error) {
	tctx, cancel := context.WithTimeout(ctx, tier.Timeout)
	defer cancel()
	return tier.Strategy.Search(tctx, query, maxResults, depth)
}

// ClampResults bounds n into [MinResults, MaxResults].
func ClampResults(n int) int {
	if n < MinResults {
		return MinResults
	}
	if n > MaxResults {
		return MaxResults
	}
	return n
}
