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

// Package model defines the chat model interface the agent drives.
//
// A model receives the whole conversation plus the tool descriptors on every
// call and answers with text, tool calls, or both. Streaming backends also
// implement Streamer.
package model

import (
	"context"
	"fmt"
	"iter"

	"github.com/kadirpekel/infoxp/pkg/tool"
)

// LLM is a chat model.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Chat sends one non-streaming request.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// Streamer is implemented by models that can stream text.
//
// The sequence yields partial responses carrying content deltas and ends
// after the final frame. It is lazy: nothing is sent until it is ranged
// over, and ranging again issues a new request.
type Streamer interface {
	Stream(ctx context.Context, req *Request) iter.Seq2[*Response, error]
}

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Set on tool messages only.
	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Request contains the input for a model call.
type Request struct {
	Messages []Message
	Tools    []tool.Descriptor

	// Temperature overrides the model default when set.
	Temperature *float64
}

// Response is the model output.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage

	// Partial marks streamed deltas; Done marks the last one.
	Partial bool
	Done    bool
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UpstreamError reports a failed model backend call: a transport error, a
// non-2xx status, or an undecodable body.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("model backend error (status %d): %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("model backend error: %v", e.Err)
	}
	return "model backend error"
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
