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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coerce checks raw against a JSON object schema and returns the arguments
// the executor should see. Declared defaults fill missing optional fields,
// numeric bounds clamp, enums fall back to their default, and fields the
// schema does not declare are dropped.
//
// Models routinely send strings for numbers and objects where JSON text was
// asked for, so scalar values are converted towards the declared type
// whenever the conversion is lossless.
func Coerce(toolName string, schema map[string]any, raw map[string]any) (map[string]any, error) {
	props, _ := schema["properties"].(map[string]any)
	required := requiredSet(schema["required"])
	out := make(map[string]any, len(props))

	for field, p := range props {
		prop, _ := p.(map[string]any)
		value, present := raw[field]
		if present && value == nil {
			present = false
		}
		if present {
			if s, ok := value.(string); ok && strings.TrimSpace(s) == "" && required[field] {
				present = false
			}
		}

		if !present {
			if def, ok := prop["default"]; ok {
				v, err := coerceValue(toolName, field, prop, def)
				if err != nil {
					return nil, err
				}
				out[field] = v
				continue
			}
			if required[field] {
				return nil, &InvalidArgumentsError{Tool: toolName, Field: field, Reason: "is required"}
			}
			continue
		}

		v, err := coerceValue(toolName, field, prop, value)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}

	return out, nil
}

func requiredSet(v any) map[string]bool {
	set := map[string]bool{}
	switch req := v.(type) {
	case []string:
		for _, r := range req {
			set[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

func coerceValue(toolName, field string, prop map[string]any, value any) (any, error) {
	invalid := func(reason string) error {
		return &InvalidArgumentsError{Tool: toolName, Field: field, Reason: reason}
	}

	typ, _ := prop["type"].(string)
	var (
		v   any
		err error
	)
	switch typ {
	case "string":
		v, err = toString(value)
	case "integer":
		var n int64
		n, err = toInt(value, prop)
		if err == nil {
			v = int(n)
		}
	case "number":
		var f float64
		f, err = toFloat(value)
		if err == nil {
			v = clamp(f, prop)
		}
	case "boolean":
		v, err = toBool(value)
	default:
		v = value
	}
	if err != nil {
		return nil, invalid(err.Error())
	}

	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 && !inEnum(v, enum) {
		def, hasDefault := prop["default"]
		if !hasDefault {
			return nil, invalid(fmt.Sprintf("must be one of %v", enum))
		}
		return coerceValue(toolName, field, withoutEnum(prop), def)
	}

	return v, nil
}

func withoutEnum(prop map[string]any) map[string]any {
	cp := make(map[string]any, len(prop))
	for k, v := range prop {
		if k != "enum" {
			cp[k] = v
		}
	}
	return cp
}

func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func clamp(f float64, prop map[string]any) float64 {
	if lo, ok := number(prop["minimum"]); ok && f < lo {
		f = lo
	}
	if hi, ok := number(prop["maximum"]); ok && f > hi {
		f = hi
	}
	return f
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case bool:
		return strconv.FormatBool(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int, int64, int32:
		return fmt.Sprint(s), nil
	case json.Number:
		return s.String(), nil
	case map[string]any, []any:
		data, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("cannot be encoded as text: %v", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("must be a string, got %T", v)
}

// toInt clamps before converting so out-of-range values land on a bound
// instead of wrapping.
func toInt(v any, prop map[string]any) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("must be an integer, got %v", f)
	}
	f = clamp(f, prop)
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("is out of range, got %v", f)
	}
	return int64(f), nil
}

func toFloat(v any) (float64, error) {
	if f, ok := number(v); ok {
		return f, nil
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("must be a number, got %T", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err == nil {
			return parsed, nil
		}
	}
	return false, fmt.Errorf("must be a boolean, got %T", v)
}
