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

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/infoxp/pkg/tool"
)

// closeGrace is how long a local peer gets to exit after its stdin closes
// before it is killed.
const closeGrace = 2 * time.Second

// mcpChannel wraps an initialized mcp-go client. kill is set for a spawned
// peer and terminates its process.
type mcpChannel struct {
	client *client.Client
	kill   context.CancelFunc
}

func dialRemote(ctx context.Context, cfg Config) (Channel, error) {
	kind, err := kindOf(cfg.Origin, cfg.Kind)
	if err != nil {
		return nil, err
	}

	var c *client.Client
	switch kind {
	case KindWebSocket:
		return dialWebSocket(ctx, cfg)
	case KindSSE:
		c, err = client.NewSSEMCPClient(cfg.Origin)
	default:
		c, err = client.NewStreamableHttpClient(cfg.Origin)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	// Start may open a long-lived stream; it must outlive the dial deadline.
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	if err := initialize(ctx, c, cfg); err != nil {
		_ = c.Close()
		return nil, err
	}

	slog.Debug("Connected to remote MCP peer", "origin", redact(cfg.Origin), "kind", kind)
	return &mcpChannel{client: c}, nil
}

func dialLocal(ctx context.Context, cfg Config) (Channel, error) {
	// The process outlives ctx once connected; kill ends it.
	procCtx, kill := context.WithCancel(context.Background())
	c, err := client.NewStdioMCPClientWithOptions(cfg.Command, envList(cfg.Env), cfg.Args,
		mcptransport.WithCommandFunc(func(_ context.Context, command string, env, args []string) (*exec.Cmd, error) {
			cmd := exec.CommandContext(procCtx, command, args...)
			cmd.Env = append(os.Environ(), env...)
			return cmd, nil
		}))
	if err != nil {
		kill()
		return nil, fmt.Errorf("failed to spawn %s: %w", cfg.Command, err)
	}
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		kill()
		_ = c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	if err := initialize(ctx, c, cfg); err != nil {
		kill()
		_ = c.Close()
		return nil, err
	}

	slog.Debug("Connected to local MCP peer", "command", cfg.Command, "args", cfg.Args)
	return &mcpChannel{client: c, kill: kill}, nil
}

func initialize(ctx context.Context, c *client.Client, cfg Config) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    cfg.ClientName,
		Version: cfg.ClientVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	return nil
}

func (m *mcpChannel) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	resp, err := m.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return descriptors(resp.Tools), nil
}

func (m *mcpChannel) CallTool(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := m.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return fromCallToolResult(resp), nil
}

func (m *mcpChannel) Close() error {
	if m.kill == nil {
		return m.client.Close()
	}

	done := make(chan error, 1)
	go func() { done <- m.client.Close() }()
	select {
	case err := <-done:
		m.kill()
		return err
	case <-time.After(closeGrace):
		m.kill()
		<-done
		return nil
	}
}

func descriptors(tools []mcp.Tool) []tool.Descriptor {
	out := make([]tool.Descriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, tool.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  inputSchema(t),
		})
	}
	return out
}

// inputSchema reads the schema off the wire form of t so raw and
// structured schemas are handled alike.
func inputSchema(t mcp.Tool) map[string]any {
	data, err := json.Marshal(t)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || wire.InputSchema == nil {
		return map[string]any{"type": "object"}
	}
	return wire.InputSchema
}

func fromCallToolResult(resp *mcp.CallToolResult) *tool.Result {
	res := &tool.Result{IsError: resp.IsError}
	for _, content := range resp.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			res.Content = append(res.Content, tool.Content{Type: tool.ContentText, Text: c.Text})
		case *mcp.TextContent:
			res.Content = append(res.Content, tool.Content{Type: tool.ContentText, Text: c.Text})
		case mcp.ResourceLink:
			res.Content = append(res.Content, link(c))
		case *mcp.ResourceLink:
			res.Content = append(res.Content, link(*c))
		}
	}
	return res
}

func link(c mcp.ResourceLink) tool.Content {
	return tool.Content{
		Type:        tool.ContentResourceLink,
		URI:         c.URI,
		Name:        c.Name,
		Description: c.Description,
		MIMEType:    c.MIMEType,
	}
}

// envList converts env to KEY=VALUE pairs in a stable order.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}
