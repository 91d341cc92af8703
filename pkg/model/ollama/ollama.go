// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ollama implements model.LLM on Ollama's chat API (/api/chat).
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/infoxp/pkg/httpclient"
	"github.com/kadirpekel/infoxp/pkg/model"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

const (
	defaultBaseURL   = "http://localhost:11434"
	defaultModel     = "llama3.1"
	defaultTimeout   = 120 * time.Second
	defaultKeepAlive = "5m"

	DefaultWaitTimeout  = 15 * time.Second
	DefaultPollInterval = 1500 * time.Millisecond
)

// Config configures the Ollama client.
type Config struct {
	// BaseURL is the Ollama server URL (default: http://localhost:11434)
	BaseURL string

	// Model is the model name (e.g., "llama3.1", "qwen2.5")
	Model string

	// Temperature is used when a request carries none.
	Temperature *float64

	// KeepAlive controls how long the model stays loaded (default: "5m")
	KeepAlive string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for retryable statuses. Zero means fail on first error.
	MaxRetries int
}

// Client is an Ollama chat model.
type Client struct {
	httpClient  *httpclient.Client
	baseURL     string
	modelName   string
	temperature *float64
	keepAlive   string
}

// New creates a new Ollama client.
func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid ollama url %q", cfg.BaseURL)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Second),
	)

	return &Client{
		httpClient:  hc,
		baseURL:     baseURL,
		modelName:   modelName,
		temperature: cfg.Temperature,
		keepAlive:   keepAlive,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Chat performs one non-streaming chat call.
func (c *Client) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, "/api/chat", c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &model.UpstreamError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return parseResponse(&apiResp), nil
}

// Stream performs a streaming chat call. Ollama answers with one JSON object
// per line; lines that fail to decode are logged and skipped.
func (c *Client) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, "/api/chat", c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var chunk chatResponse
				if jerr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jerr != nil {
					slog.Warn("Skipping malformed stream frame", "model", c.modelName, "error", jerr)
				} else {
					out := parseResponse(&chunk)
					out.Partial = !chunk.Done
					out.Done = chunk.Done
					if !yield(out, nil) || chunk.Done {
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					yield(nil, &model.UpstreamError{Err: fmt.Errorf("stream read error: %w", err)})
				}
				return
			}
		}
	}
}

// ModelAvailable reports whether the server lists the configured model.
// A name without a tag matches any tag of that model.
func (c *Client) ModelAvailable(ctx context.Context) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, &model.UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return false, &model.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, &model.UpstreamError{Err: fmt.Errorf("failed to decode tags: %w", err)}
	}
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == c.modelName || (!strings.Contains(c.modelName, ":") && strings.HasPrefix(name, c.modelName+":")) {
			return true, nil
		}
	}
	return false, nil
}

// WaitForModel polls ModelAvailable until it succeeds or timeout elapses.
func (c *Client) WaitForModel(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := c.ModelAvailable(ctx)
		if ok {
			return nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("model %s not pulled", c.modelName)
		}
		slog.Debug("Waiting for model", "model", c.modelName, "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("model %s not ready after %v: %w", c.modelName, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &model.UpstreamError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &model.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}
	return resp, nil
}

func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:     c.modelName,
		Stream:    stream,
		KeepAlive: c.keepAlive,
		Messages:  make([]*chatMessage, 0, len(req.Messages)),
	}

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}
	if temperature != nil {
		apiReq.Options = map[string]any{"temperature": *temperature}
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, &chatMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolName:   msg.ToolName,
			ToolCallID: msg.ToolCallID,
		})
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = convertTools(req.Tools)
	}
	return apiReq
}

func convertTools(tools []tool.Descriptor) []*apiTool {
	result := make([]*apiTool, len(tools))
	for i, t := range tools {
		result[i] = &apiTool{
			Type: "function",
			Function: &functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

func parseResponse(resp *chatResponse) *model.Response {
	result := &model.Response{}

	if resp.Message != nil {
		result.Content = resp.Message.Content
		for _, tc := range resp.Message.ToolCalls {
			if tc.Function == nil || tc.Function.Name == "" {
				continue
			}
			id := tc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			result.ToolCalls = append(result.ToolCalls, model.ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: decodeArguments(tc.Function.Name, tc.Function.Arguments),
			})
		}
	}

	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		result.Usage = &model.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return result
}

// decodeArguments accepts an object or a JSON string holding one. Anything
// else becomes an empty argument set so schema validation reports it.
func decodeArguments(name string, raw json.RawMessage) map[string]any {
	args := map[string]any{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			raw = []byte(s)
		}
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.Warn("Discarding undecodable tool arguments", "tool", name, "error", err)
		return map[string]any{}
	}
	return args
}

// API types

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []*chatMessage `json:"messages"`
	Tools     []*apiTool     `json:"tools,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

type chatMessage struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []*toolCall `json:"tool_calls,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string        `json:"id,omitempty"`
	Function *functionCall `json:"function,omitempty"`
}

type functionCall struct {
	Index     int             `json:"index,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type apiTool struct {
	Type     string       `json:"type"`
	Function *functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Model           string       `json:"model"`
	CreatedAt       string       `json:"created_at"`
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason,omitempty"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

var (
	_ model.LLM      = (*Client)(nil)
	_ model.Streamer = (*Client)(nil)
)
