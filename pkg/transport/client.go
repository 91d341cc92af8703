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

// Package transport connects to the tool-serving MCP peer.
//
// A Client tries the configured remote endpoint first, bounded by a connect
// timeout, and falls back to spawning the local peer over stdio. The first
// channel that connects is kept for the lifetime of the client; there is no
// reconnect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/infoxp/pkg/observability"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

const (
	DefaultConnectTimeout = 1200 * time.Millisecond
	MinConnectTimeout     = 500 * time.Millisecond
	DefaultLocalTimeout   = 10 * time.Second

	DefaultCommand = "infoxp-mcp"

	TierRemote = "remote"
	TierLocal  = "local"
)

// Kind selects the remote wire protocol.
type Kind string

const (
	KindAuto       Kind = ""
	KindStreamable Kind = "http"
	KindSSE        Kind = "sse"
	KindWebSocket  Kind = "ws"
)

// State is the connection lifecycle of a Client.
type State int

const (
	StateUnconnected State = iota
	StateConnectingRemote
	StateConnectingLocal
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnectingRemote:
		return "connecting_remote"
	case StateConnectingLocal:
		return "connecting_local"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Channel is a live connection to a peer.
type Channel interface {
	ListTools(ctx context.Context) ([]tool.Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*tool.Result, error)
	Close() error
}

// Config configures a Client.
type Config struct {
	// Origin is the remote peer URL. Empty skips the remote tier.
	Origin string

	// Kind forces the remote protocol. Auto picks by scheme and path:
	// ws(s):// is WebSocket, a path ending in /sse is SSE, anything else
	// is streamable HTTP.
	Kind Kind

	// ConnectTimeout bounds the remote attempt (default 1.2s, floor 500ms).
	ConnectTimeout time.Duration

	// LocalTimeout bounds spawning and initializing the local peer
	// (default 10s).
	LocalTimeout time.Duration

	// Command and Args spawn the local peer.
	Command string
	Args    []string

	// Env is passed to the local peer on top of the inherited environment.
	Env map[string]string

	// DisableLocal turns remote failure into a connection failure.
	DisableLocal bool

	ClientName    string
	ClientVersion string
}

// ConnectionError reports that no tier produced a channel.
type ConnectionError struct {
	Remote error
	Local  error
}

func (e *ConnectionError) Error() string {
	var parts []string
	if e.Remote != nil {
		parts = append(parts, "remote: "+e.Remote.Error())
	}
	if e.Local != nil {
		parts = append(parts, "local: "+e.Local.Error())
	}
	if len(parts) == 0 {
		return "tool peer connection failed"
	}
	return "tool peer connection failed (" + strings.Join(parts, "; ") + ")"
}

func (e *ConnectionError) Unwrap() []error {
	errs := []error{tool.ErrUnavailable}
	if e.Remote != nil {
		errs = append(errs, e.Remote)
	}
	if e.Local != nil {
		errs = append(errs, e.Local)
	}
	return errs
}

type dialFunc func(ctx context.Context, cfg Config) (Channel, error)

// Client is a lazily connected tool dispatcher.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	dialRemote dialFunc
	dialLocal  dialFunc

	mu       sync.Mutex
	state    State
	ch       Channel
	tier     string
	err      error
	tools    []tool.Descriptor
	inflight *attempt
}

// attempt is the single connect in progress.
type attempt struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records connection outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates an unconnected client.
func New(cfg Config, opts ...Option) *Client {
	switch {
	case cfg.ConnectTimeout <= 0:
		cfg.ConnectTimeout = DefaultConnectTimeout
	case cfg.ConnectTimeout < MinConnectTimeout:
		cfg.ConnectTimeout = MinConnectTimeout
	}
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = DefaultLocalTimeout
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
		if len(cfg.Args) == 0 {
			cfg.Args = []string{"stdio"}
		}
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "infoxp"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}

	c := &Client{
		cfg:        cfg,
		logger:     slog.Default(),
		dialRemote: dialRemote,
		dialLocal:  dialLocal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tier reports which tier produced the channel, or "" before connecting.
func (c *Client) Tier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// Connect returns the client's channel, establishing it on first use.
// Concurrent callers wait for the single in-flight attempt. Once both tiers
// have failed every call returns the same *ConnectionError.
func (c *Client) Connect(ctx context.Context) (Channel, error) {
	for {
		c.mu.Lock()
		switch c.state {
		case StateConnected:
			ch := c.ch
			c.mu.Unlock()
			return ch, nil
		case StateFailed:
			err := c.err
			c.mu.Unlock()
			return nil, err
		case StateClosed:
			c.mu.Unlock()
			return nil, errClosed
		}

		if a := c.inflight; a != nil {
			c.mu.Unlock()
			select {
			case <-a.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		a := &attempt{done: make(chan struct{}), cancel: cancel}
		c.inflight = a
		c.mu.Unlock()

		ch, tier, connErr := c.dial(attemptCtx)
		cancel()
		return c.finish(a, ch, tier, connErr)
	}
}

var errClosed = fmt.Errorf("%w: client closed", tool.ErrUnavailable)

// dial runs the remote tier then the local tier. It holds no lock.
func (c *Client) dial(ctx context.Context) (Channel, string, *ConnectionError) {
	connErr := &ConnectionError{}
	if c.cfg.Origin != "" {
		c.setState(StateConnectingRemote)
		ch, err := c.connectRemote(ctx)
		if err == nil {
			return ch, TierRemote, nil
		}
		connErr.Remote = err
		if c.cfg.DisableLocal || ctx.Err() != nil {
			return nil, "", connErr
		}
		c.logger.Warn("Remote tool peer unavailable, starting local peer",
			"origin", redact(c.cfg.Origin), "error", err)
	}

	c.setState(StateConnectingLocal)
	ch, err := c.connectLocal(ctx)
	if err != nil {
		connErr.Local = err
		return nil, "", connErr
	}
	return ch, TierLocal, nil
}

// connectLocal spawns the local peer under its own deadline.
func (c *Client) connectLocal(ctx context.Context) (Channel, error) {
	localCtx, cancel := context.WithTimeout(ctx, c.cfg.LocalTimeout)
	defer cancel()

	ch, err := c.dialLocal(localCtx, c.cfg)
	if err != nil {
		c.metrics.RecordConnect(ctx, TierLocal, observability.StatusError)
		if errors.Is(localCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("local peer did not initialize within %v: %w", c.cfg.LocalTimeout, err)
		}
		return nil, err
	}
	c.metrics.RecordConnect(ctx, TierLocal, observability.StatusOK)
	return ch, nil
}

// finish records the outcome of a. A client closed meanwhile discards the
// channel.
func (c *Client) finish(a *attempt, ch Channel, tier string, connErr *ConnectionError) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(a.done)
	c.inflight = nil

	if c.state == StateClosed {
		if ch != nil {
			_ = ch.Close()
		}
		return nil, errClosed
	}
	if connErr != nil {
		return nil, c.failed(connErr)
	}
	return c.connected(ch, tier), nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

// connectRemote races the remote dial against the connect timeout. A dial
// that completes after the deadline is closed.
func (c *Client) connectRemote(ctx context.Context) (Channel, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	results := make(chan dialResult, 1)
	go func() {
		ch, err := c.dialRemote(dialCtx, c.cfg)
		results <- dialResult{ch, err}
	}()

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		cancel()
		if r.err != nil {
			c.metrics.RecordConnect(ctx, TierRemote, observability.StatusError)
			return nil, r.err
		}
		c.metrics.RecordConnect(ctx, TierRemote, observability.StatusOK)
		return r.ch, nil
	case <-timer.C:
		cancel()
		go discardLate(results)
		c.metrics.RecordConnect(ctx, TierRemote, observability.StatusTimeout)
		return nil, fmt.Errorf("connect timed out after %v", c.cfg.ConnectTimeout)
	case <-ctx.Done():
		cancel()
		go discardLate(results)
		return nil, ctx.Err()
	}
}

type dialResult struct {
	ch  Channel
	err error
}

func discardLate(results <-chan dialResult) {
	if r := <-results; r.err == nil && r.ch != nil {
		_ = r.ch.Close()
	}
}

func (c *Client) connected(ch Channel, tier string) Channel {
	c.ch = ch
	c.tier = tier
	c.state = StateConnected
	c.logger.Info("Connected to tool peer", "tier", tier)
	return ch
}

func (c *Client) failed(err *ConnectionError) error {
	c.err = err
	c.state = StateFailed
	c.logger.Error("Tool peer connection failed", "error", err)
	return err
}

// ListTools returns the peer's catalog. A successful listing is cached.
func (c *Client) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	ch, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached := c.tools
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	tools, err := ch.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

// CallTool invokes a tool on the peer. A result the peer marked as an error
// is returned as an error carrying its text.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	ch, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := ch.CallTool(ctx, name, args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	if res.IsError {
		return nil, &PeerError{Tool: name, Message: res.String()}
	}
	return res, nil
}

// Close releases the channel and cancels a connect in progress. The client
// cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil {
		c.inflight.cancel()
	}
	ch := c.ch
	c.ch = nil
	c.tools = nil
	c.state = StateClosed
	if ch != nil {
		return ch.Close()
	}
	return nil
}

// PeerError is a tool failure reported by the peer.
type PeerError struct {
	Tool    string
	Message string
}

func (e *PeerError) Error() string {
	return e.Message
}

// kindOf resolves the remote protocol for origin.
func kindOf(origin string, kind Kind) (Kind, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return KindWebSocket, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}
	if kind != KindAuto {
		return kind, nil
	}
	if strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), "/sse") {
		return KindSSE, nil
	}
	return KindStreamable, nil
}

func redact(origin string) string {
	if u, err := url.Parse(origin); err == nil {
		return u.Redacted()
	}
	return origin
}

var _ tool.Dispatcher = (*Client)(nil)
