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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/infoxp/pkg/model"
	"github.com/kadirpekel/infoxp/pkg/tool"
	"github.com/kadirpekel/infoxp/pkg/transport"
)

type promptRequest struct {
	Prompt  string          `json:"prompt"`
	History []model.Message `json:"history,omitempty"`
}

type agentResponse struct {
	Answer string `json:"answer"`
}

type callRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type toolsResponse struct {
	Tools []tool.Descriptor `json:"tools"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	ok, err := s.ready(ctx)
	if err != nil {
		s.logger.Debug("Readiness probe failed", "error", err)
	}
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}

	answer, err := s.agent.Run(r.Context(), req.Prompt, req.History)
	if err != nil {
		s.logger.Error("Agent run failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentResponse{Answer: answer})
}

// handleChat streams model output as chunked plain text. Errors before the
// first chunk get a JSON error; later ones end the stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.streamer == nil {
		writeError(w, http.StatusNotImplemented, "streaming not supported by the configured model")
		return
	}

	var req promptRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}

	messages := make([]model.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: req.Prompt})

	flusher, _ := w.(http.Flusher)
	started := false
	for resp, err := range s.streamer.Stream(r.Context(), &model.Request{Messages: messages}) {
		if err != nil {
			if !started {
				writeError(w, statusFor(err), err.Error())
				return
			}
			s.logger.Warn("Chat stream interrupted", "error", err)
			return
		}
		if resp.Content == "" {
			continue
		}
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, resp.Content); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.tools.ListTools(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if tools == nil {
		tools = []tool.Descriptor{}
	}
	writeJSON(w, http.StatusOK, toolsResponse{Tools: tools})
}

// handleCallTool relays a call to the dispatcher. Failures reported by the
// peer are returned as isError results, like the peer itself does.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	res, err := s.tools.CallTool(r.Context(), req.Name, req.Args)
	if err != nil {
		var peerErr *transport.PeerError
		if errors.As(err, &peerErr) {
			res = tool.Text(peerErr.Message)
			res.IsError = true
			writeJSON(w, http.StatusOK, res)
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps dispatcher and model errors to a response status.
func statusFor(err error) int {
	var (
		upstream  *model.UpstreamError
		invalid   *tool.InvalidArgumentsError
		malformed *tool.MalformedPayloadError
	)
	switch {
	case errors.Is(err, tool.ErrUnknownTool):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &malformed):
		return http.StatusBadRequest
	case errors.Is(err, tool.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
