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

// Package mcpserver publishes a tool registry as an MCP peer.
//
// The same registry is served over stdio, streamable HTTP (/mcp), SSE
// (/sse and /message) and a WebSocket JSON-RPC endpoint (/ws).
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/infoxp/pkg/observability"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

const (
	DefaultName    = "infoxp-tools"
	DefaultVersion = "1.0.0"

	wsReadLimit = 4 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithInfo sets the implementation name and version announced on initialize.
func WithInfo(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

// WithMetrics records tool call metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Stdio peers must log to stderr.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithOriginPatterns authorizes cross-origin WebSocket clients. Patterns
// match the Origin host, or scheme://host when they contain "://".
// Same-origin and Origin-less clients are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server serves a tool.Registry over MCP.
type Server struct {
	reg            *tool.Registry
	mcp            *server.MCPServer
	name           string
	version        string
	originPatterns []string
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// New registers every tool of reg with a fresh MCP server.
func New(reg *tool.Registry, opts ...Option) (*Server, error) {
	if reg == nil {
		return nil, errors.New("mcpserver: registry is required")
	}
	s := &Server{
		reg:     reg,
		name:    DefaultName,
		version: DefaultVersion,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(s.name, s.version, server.WithToolCapabilities(false))
	for _, desc := range reg.List() {
		schema, err := json.Marshal(desc.Parameters)
		if err != nil {
			return nil, fmt.Errorf("mcpserver: schema for %s: %w", desc.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(desc.Name, desc.Description, schema), s.handler(desc.Name))
	}
	return s, nil
}

// MCP exposes the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// handler adapts one registry tool. Execution failures are reported as
// isError results carrying the error text rather than protocol errors.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := s.reg.Invoke(ctx, name, req.GetArguments())
		if err != nil {
			s.metrics.RecordToolCall(ctx, name, time.Since(start), observability.StatusError)
			s.logger.Warn("Tool execution failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.metrics.RecordToolCall(ctx, name, time.Since(start), observability.StatusOK)
		return toCallToolResult(res), nil
	}
}

func toCallToolResult(res *tool.Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: res.IsError}
	for _, c := range res.Content {
		switch c.Type {
		case tool.ContentResourceLink:
			out.Content = append(out.Content, mcp.NewResourceLink(c.URI, c.Name, c.Description, c.MIMEType))
		default:
			out.Content = append(out.Content, mcp.NewTextContent(c.Text))
		}
	}
	if len(out.Content) == 0 {
		out.Content = []mcp.Content{mcp.NewTextContent("")}
	}
	return out
}

// ServeStdio speaks MCP over the given streams until ctx is done or in
// reaches EOF.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("MCP peer serving on stdio", "tools", len(s.reg.List()))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Handler returns the HTTP endpoints of the peer.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.metrics))

	streamable := server.NewStreamableHTTPServer(s.mcp)
	sse := server.NewSSEServer(s.mcp)

	r.Handle("/mcp", streamable)
	r.Handle("/sse", sse.SSEHandler())
	r.Handle("/message", sse.MessageHandler())
	r.Get("/ws", s.serveWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP peer listening", "addr", addr, "tools", len(s.reg.List()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// serveWebSocket reads one JSON-RPC message per frame and writes the reply,
// if any, as a text frame.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"mcp"},
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		reply := s.mcp.HandleMessage(ctx, data)
		if reply == nil {
			continue
		}
		payload, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error("Failed to encode JSON-RPC reply", "error", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			s.logger.Debug("WebSocket write failed", "error", err)
			return
		}
	}
}
