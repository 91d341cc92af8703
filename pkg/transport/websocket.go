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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/infoxp/pkg/tool"
)

const wsReadLimit = 4 << 20

// JSON-RPC types
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

var errChannelClosed = errors.New("websocket channel closed")

// wsChannel speaks MCP JSON-RPC over one WebSocket, one message per frame.
type wsChannel struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *rpcResponse
	done    chan struct{}
	readErr error
}

func dialWebSocket(ctx context.Context, cfg Config) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, cfg.Origin, &websocket.DialOptions{
		Subprotocols: []string{"mcp"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	ch := &wsChannel{
		conn:    conn,
		pending: make(map[int64]chan *rpcResponse),
		done:    make(chan struct{}),
	}
	go ch.readLoop()

	_, err = ch.call(ctx, "initialize", map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"clientInfo": map[string]any{
			"name":    cfg.ClientName,
			"version": cfg.ClientVersion,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if err := ch.notify(ctx, "notifications/initialized"); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (c *wsChannel) readLoop() {
	var err error
	for {
		var data []byte
		_, data, err = c.conn.Read(context.Background())
		if err != nil {
			break
		}
		var resp rpcResponse
		if json.Unmarshal(data, &resp) != nil || resp.ID == nil {
			continue
		}

		c.mu.Lock()
		waiter, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			waiter <- &resp
		}
	}

	c.mu.Lock()
	c.readErr = err
	c.pending = nil
	c.mu.Unlock()
	close(c.done)
}

func (c *wsChannel) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	waiter := make(chan *rpcResponse, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, errChannelClosed
	}
	c.pending[id] = waiter
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, body); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	select {
	case resp := <-waiter:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", errChannelClosed, err)
	}
}

func (c *wsChannel) notify(ctx context.Context, method string) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, body)
}

func (c *wsChannel) forget(id int64) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *wsChannel) ListTools(ctx context.Context) ([]tool.Descriptor, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools/list result: %w", err)
	}

	out := make([]tool.Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, tool.Descriptor{Name: t.Name, Description: t.Description, Parameters: schema})
	}
	return out, nil
}

func (c *wsChannel) CallTool(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tools/call result: %w", err)
	}
	return fromCallToolResult(result), nil
}

func (c *wsChannel) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "closing")
	<-c.done
	return err
}
