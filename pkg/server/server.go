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

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/infoxp/pkg/model"
	"github.com/kadirpekel/infoxp/pkg/observability"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

const (
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes = 2 << 20

	readyTimeout    = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Runner answers a prompt. *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, prompt string, history []model.Message) (string, error)
}

// ReadinessFunc reports whether the model backend can serve requests.
type ReadinessFunc func(ctx context.Context) (bool, error)

// Option configures a Server.
type Option func(*Server)

// WithStreamer enables POST /api/chat.
func WithStreamer(st model.Streamer) Option {
	return func(s *Server) { s.streamer = st }
}

// WithReadiness sets the /readyz probe. Without one the server is always ready.
func WithReadiness(fn ReadinessFunc) Option {
	return func(s *Server) { s.ready = fn }
}

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORSOrigin sets the allowed browser origin. "*" allows any.
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// Server is the HTTP bridge.
type Server struct {
	agent      Runner
	tools      tool.Dispatcher
	streamer   model.Streamer
	ready      ReadinessFunc
	metrics    *observability.Metrics
	logger     *slog.Logger
	corsOrigin string

	server *http.Server
}

// New creates a server around an agent and the tool dispatcher it uses.
func New(agent Runner, tools tool.Dispatcher, opts ...Option) (*Server, error) {
	if agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	s := &Server{
		agent:      agent,
		tools:      tools,
		logger:     slog.Default(),
		corsOrigin: "*",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.metrics))
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/agent", s.handleAgent)
		r.Post("/chat", s.handleChat)
		r.Get("/mcp/tools", s.handleListTools)
		r.Post("/mcp/tools/call", s.handleCallTool)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found", "path": r.URL.Path})
	})
	return r
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("HTTP server starting", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case s.corsOrigin == "*":
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && origin == s.corsOrigin:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware does not wrap the ResponseWriter so streaming handlers
// keep their http.Flusher.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
