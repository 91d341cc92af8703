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

package tool

import (
	"context"
	"fmt"
	"sync"
)

type entry struct {
	desc Descriptor
	exec Executor
}

// Registry holds the tool catalog. It is filled at start-up and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(desc Descriptor, exec Executor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("tool %s: executor is required", desc.Name)
	}
	if desc.Parameters == nil {
		desc.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("tool %s already registered", desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, exec: exec}
	r.order = append(r.order, desc.Name)
	return nil
}

// List returns the descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// Invoke validates rawArgs against the tool's schema and runs it.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs map[string]any) (*Result, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args, err := Coerce(name, e.desc.Parameters, rawArgs)
	if err != nil {
		return nil, err
	}

	result, err := e.exec(ctx, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = Text("")
	}
	return result, nil
}

// ListTools implements Dispatcher.
func (r *Registry) ListTools(ctx context.Context) ([]Descriptor, error) {
	return r.List(), nil
}

// CallTool implements Dispatcher.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	return r.Invoke(ctx, name, args)
}

var _ Dispatcher = (*Registry)(nil)
