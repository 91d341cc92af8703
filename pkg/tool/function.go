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
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// RegisterFunc registers a typed function as a tool. The parameter schema is
// generated from the json and jsonschema tags of Args.
//
// Supported jsonschema tags:
//   - required
//   - description=...
//   - default=...
//   - enum=a,enum=b
//   - minimum=N,maximum=M
func RegisterFunc[Args any](r *Registry, name, description string, fn func(context.Context, Args) (*Result, error)) error {
	if description == "" {
		return fmt.Errorf("tool %s: description is required", name)
	}

	schema, err := SchemaFor[Args]()
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", name, err)
	}

	return r.Register(Descriptor{
		Name:        name,
		Description: description,
		Parameters:  schema,
	}, func(ctx context.Context, args map[string]any) (*Result, error) {
		var typed Args
		if err := decodeArgs(args, &typed); err != nil {
			return nil, &InvalidArgumentsError{Tool: name, Field: "arguments", Reason: err.Error()}
		}
		return fn(ctx, typed)
	})
}

// SchemaFor reflects the parameter schema of Args, which must be a struct
// or a pointer to one.
func SchemaFor[Args any]() (map[string]any, error) {
	t := reflect.TypeFor[Args]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("arguments must be a struct, got %s", t)
	}
	if t.NumField() == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}

	raw, err := reflectSchema(t)
	if err != nil {
		return nil, err
	}

	props, _ := raw["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req, ok := raw["required"]; ok && req != nil {
		schema["required"] = req
	}
	return schema, nil
}

// reflectSchema expands named structs in place. Unnamed structs have no
// definition to expand, so they go through the plain reflector.
func reflectSchema(t reflect.Type) (raw map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("reflect schema of %s: %v", t, r)
		}
	}()

	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             t.Name() != "",
		DoNotReference:             true,
	}
	data, err := json.Marshal(reflector.ReflectFromType(t))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
