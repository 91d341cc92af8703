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

// Package tool defines the tool registry the agent and the MCP peer share.
//
// A tool is a Descriptor (name, description, JSON schema of its parameters)
// bound to an Executor. The Registry validates and coerces raw arguments
// against the descriptor's schema before the executor ever sees them, so
// executors only deal with already-typed values.
//
// # Typed Tools
//
// Tools are normally declared from a typed argument struct; the schema is
// generated from its struct tags and the coerced arguments are decoded into
// the struct before the function runs:
//
//	type SearchArgs struct {
//	    Q          string `json:"q" jsonschema:"required,description=Search query"`
//	    MaxResults int    `json:"maxResults,omitempty" jsonschema:"default=5,minimum=1,maximum=10"`
//	}
//
//	err := tool.RegisterFunc(reg, "web_search", "Search the web.",
//	    func(ctx context.Context, args SearchArgs) (*tool.Result, error) {
//	        ...
//	    })
//
// # Dispatch
//
// Both the Registry (co-located mode) and the transport client (remote peer)
// implement Dispatcher, which is all the agent needs.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable marks dispatcher failures that make every further tool call
// pointless (no usable connection to a tool peer). Callers treat it as a
// request-level failure rather than a per-tool error.
var ErrUnavailable = errors.New("tool dispatcher unavailable")

// Descriptor announces a callable tool to the model.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Executor runs a tool with arguments already coerced to its schema.
type Executor func(ctx context.Context, args map[string]any) (*Result, error)

// Dispatcher lists and invokes tools by name.
type Dispatcher interface {
	ListTools(ctx context.Context) ([]Descriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// ContentType identifies a result content block.
type ContentType string

const (
	ContentText         ContentType = "text"
	ContentResourceLink ContentType = "resource_link"
)

// Content is one block of a tool result: either text or a resource link.
type Content struct {
	Type        ContentType `json:"type"`
	Text        string      `json:"text,omitempty"`
	URI         string      `json:"uri,omitempty"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	MIMEType    string      `json:"mimeType,omitempty"`
}

// Result is the output of a tool execution.
type Result struct {
	Content []Content `json:"content"`

	// IsError is set when the peer reported the execution as failed.
	IsError bool `json:"isError,omitempty"`
}

// Text creates a result holding a single text block.
func Text(text string) *Result {
	return &Result{Content: []Content{{Type: ContentText, Text: text}}}
}

// Textf is Text with formatting.
func Textf(format string, args ...any) *Result {
	return Text(fmt.Sprintf(format, args...))
}

// WithLink appends a resource link block and returns the result.
func (r *Result) WithLink(uri, name, description, mimeType string) *Result {
	r.Content = append(r.Content, Content{
		Type:        ContentResourceLink,
		URI:         uri,
		Name:        name,
		Description: description,
		MIMEType:    mimeType,
	})
	return r
}

// Links returns the resource link blocks of the result.
func (r *Result) Links() []Content {
	var links []Content
	for _, c := range r.Content {
		if c.Type == ContentResourceLink {
			links = append(links, c)
		}
	}
	return links
}

// String folds the result into the plain text handed back to the model.
// Text blocks are joined; resource links not already mentioned in the text
// are listed after it.
func (r *Result) String() string {
	if r == nil {
		return ""
	}

	var texts []string
	for _, c := range r.Content {
		if c.Type == ContentText && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	text := strings.Join(texts, "\n")

	var links []string
	for _, l := range r.Links() {
		if l.URI == "" || strings.Contains(text, l.URI) {
			continue
		}
		name := l.Name
		if name == "" {
			name = l.URI
		}
		links = append(links, fmt.Sprintf("- %s <%s>", name, l.URI))
	}
	if len(links) == 0 {
		return text
	}
	if text == "" {
		return "Links:\n" + strings.Join(links, "\n")
	}
	return text + "\n\nLinks:\n" + strings.Join(links, "\n")
}
