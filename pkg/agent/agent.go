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

// Package agent drives the bounded tool-call loop between a chat model and
// a tool dispatcher.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/infoxp/pkg/model"
	"github.com/kadirpekel/infoxp/pkg/observability"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

const (
	DefaultMaxHops      = 4
	DefaultTemperature  = 0.2
	DefaultSystemPrompt = "You can call tools to search the web, fetch URLs, and query MongoDB. Prefer precise queries."

	// LimitReached is the answer when every hop ended in tool calls.
	LimitReached = "Tool loop limit reached."
)

// Config configures an Agent. Zero values take the defaults.
type Config struct {
	MaxHops      int
	Temperature  *float64
	SystemPrompt string
}

// Agent answers prompts by alternating model calls and tool calls.
// It holds no per-run state and is safe for concurrent use.
type Agent struct {
	llm     model.LLM
	tools   tool.Dispatcher
	cfg     Config
	metrics *observability.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures an Agent.
type Option func(*Agent)

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an agent.
func New(llm model.LLM, tools tool.Dispatcher, cfg Config, opts ...Option) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("agent: model is required")
	}
	if tools == nil {
		return nil, errors.New("agent: tool dispatcher is required")
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Temperature == nil {
		cfg.Temperature = model.Float64(DefaultTemperature)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	a := &Agent{
		llm:    llm,
		tools:  tools,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: observability.GetTracer("infoxp.agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Transcript is the outcome of one run.
type Transcript struct {
	Answer   string
	Messages []model.Message
	Hops     int

	// LimitReached is set when the hop budget ran out.
	LimitReached bool
}

// Run answers prompt given the prior conversation.
func (a *Agent) Run(ctx context.Context, prompt string, history []model.Message) (string, error) {
	t, err := a.RunTranscript(ctx, prompt, history)
	if err != nil {
		return "", err
	}
	return t.Answer, nil
}

// RunTranscript is Run that also returns every message of the run.
//
// Model failures and an unavailable dispatcher end the run with an error.
// Failures of individual tools are handed back to the model as marked tool
// messages and the loop continues.
func (a *Agent) RunTranscript(ctx context.Context, prompt string, history []model.Message) (*Transcript, error) {
	ctx, span := a.tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, a.llm.Name()),
			attribute.String("input_preview", truncate(prompt, 100)),
		),
	)
	defer span.End()

	t, err := a.run(ctx, prompt, history)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.RecordAgentRun(ctx, t.Hops, observability.OutcomeFailed)
		return nil, err
	case t.LimitReached:
		a.metrics.RecordAgentRun(ctx, t.Hops, observability.OutcomeLimit)
	default:
		a.metrics.RecordAgentRun(ctx, t.Hops, observability.OutcomeAnswered)
	}
	span.SetAttributes(
		attribute.Int(observability.AttrAgentHop, t.Hops),
		attribute.Bool("limit_reached", t.LimitReached),
	)
	return t, nil
}

func (a *Agent) run(ctx context.Context, prompt string, history []model.Message) (*Transcript, error) {
	t := &Transcript{}

	descriptors, err := a.tools.ListTools(ctx)
	if err != nil {
		return t, fmt.Errorf("list tools: %w", err)
	}

	messages := make([]model.Message, 0, len(history)+2)
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: a.cfg.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	for t.Hops < a.cfg.MaxHops {
		t.Hops++

		resp, err := a.chat(ctx, messages, descriptors, t.Hops)
		if err != nil {
			t.Messages = messages
			return t, err
		}

		if strings.TrimSpace(resp.Content) != "" {
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: resp.Content})
		}

		if len(resp.ToolCalls) == 0 {
			t.Answer = resp.Content
			t.Messages = messages
			return t, nil
		}

		for _, call := range resp.ToolCalls {
			text, err := a.callTool(ctx, call, t.Hops)
			if err != nil {
				t.Messages = messages
				return t, err
			}
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				Content:    text,
				ToolName:   call.Name,
				ToolCallID: call.ID,
			})
		}
	}

	a.logger.Warn("Tool loop limit reached", "hops", t.Hops)
	t.Answer = LimitReached
	t.LimitReached = true
	t.Messages = messages
	return t, nil
}

func (a *Agent) chat(ctx context.Context, messages []model.Message, tools []tool.Descriptor, hop int) (*model.Response, error) {
	ctx, span := a.tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, a.llm.Name()),
			attribute.Int(observability.AttrAgentHop, hop),
			attribute.Int("messages", len(messages)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := a.llm.Chat(ctx, &model.Request{
		Messages:    messages,
		Tools:       tools,
		Temperature: a.cfg.Temperature,
	})
	a.metrics.RecordLLMCall(ctx, a.llm.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("model call failed on hop %d: %w", hop, err)
	}
	span.SetAttributes(attribute.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// callTool runs one tool call and returns the text for the tool message.
// Only dispatcher unavailability is returned as an error.
func (a *Agent) callTool(ctx context.Context, call model.ToolCall, hop int) (string, error) {
	ctx, span := a.tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, call.Name),
			attribute.Int(observability.AttrAgentHop, hop),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := a.tools.CallTool(ctx, call.Name, call.Arguments)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.RecordToolCall(ctx, call.Name, duration, observability.StatusError)
		if errors.Is(err, tool.ErrUnavailable) {
			return "", err
		}
		a.logger.Warn("Tool call failed", "tool", call.Name, "hop", hop, "error", err)
		return ToolErrorText(call.Name, err), nil
	}

	a.metrics.RecordToolCall(ctx, call.Name, duration, observability.StatusOK)
	a.logger.Debug("Tool call completed", "tool", call.Name, "hop", hop, "duration", duration)
	return res.String(), nil
}

// ToolErrorText is the tool message content reported for a failed call.
func ToolErrorText(name string, err error) string {
	return fmt.Sprintf("Tool error (%s): %v", name, err)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
