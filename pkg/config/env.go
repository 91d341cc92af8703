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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	envVarPatterns = struct {
		withDefault *regexp.Regexp
		braced      *regexp.Regexp
	}{
		withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
		braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	}
)

// expandEnvVars replaces ${VAR} and ${VAR:-default}. A bare $ is left
// alone so values such as Mongo operators survive.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	return envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
}

// LoadEnvFiles loads .env.local then .env. Variables already set win.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment variables onto cfg. Empty values are
// treated as unset.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("OLLAMA_URL", &cfg.LLM.BaseURL)
	env.str("LLM_MODEL", &cfg.LLM.Model)
	env.floatPtr("LLM_TEMPERATURE", &cfg.LLM.Temperature)
	env.millis("REQUEST_TIMEOUT_MS", &cfg.LLM.Timeout)
	env.int("LLM_MAX_RETRIES", &cfg.LLM.MaxRetries)
	env.int("AGENT_MAX_HOPS", &cfg.Agent.MaxHops)

	env.str("MONGODB_USER_URI", &cfg.Store.URI)
	env.str("MONGODB_URI", &cfg.Store.URI)
	var backend string
	if env.str("STORE_BACKEND", &backend) {
		cfg.Store.Backend = StoreBackend(strings.ToLower(backend))
	}

	env.str("TAVILY_API_KEY", &cfg.Search.TavilyAPIKey)
	if env.str("MCP_WEB_SEARCH_BACKEND", &cfg.Search.Backend) {
		cfg.Search.Backend = strings.ToLower(cfg.Search.Backend)
	}
	env.millis("MCP_WEB_SEARCH_TIMEOUT_MS", &cfg.Search.Timeout)

	env.str("READER_PROXY_URL", &cfg.Reader.ProxyURL)
	env.str("JINA_API_KEY", &cfg.Reader.APIKey)

	env.str("MCP_ORIGIN", &cfg.MCP.Origin)
	env.str("MCP_TRANSPORT", &cfg.MCP.Transport)
	env.millis("MCP_CONNECT_TIMEOUT_MS", &cfg.MCP.ConnectTimeout)
	env.millis("MCP_LOCAL_TIMEOUT_MS", &cfg.MCP.LocalTimeout)
	env.str("MCP_COMMAND", &cfg.MCP.Command)
	var args string
	if env.str("MCP_ARGS", &args) {
		cfg.MCP.Args = strings.Fields(args)
	}
	env.str("MCP_LISTEN", &cfg.MCP.Listen)
	var origins string
	if env.str("MCP_ALLOWED_ORIGINS", &origins) {
		cfg.MCP.AllowedOrigins = strings.FieldsFunc(origins, func(r rune) bool { return r == ',' || r == ' ' })
	}

	env.int("PORT", &cfg.Server.Port)
	env.str("CLIENT_ORIGIN", &cfg.Server.CORSOrigin)

	env.bool("METRICS_ENABLED", &cfg.Observability.MetricsEnabled)
	if env.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Observability.Tracing.EndpointURL) {
		cfg.Observability.Tracing.Enabled = true
	}

	env.str("LOG_LEVEL", &cfg.Logger.Level)
	env.str("LOG_FORMAT", &cfg.Logger.Format)

	return env.err
}

// envReader records the first parse failure and ignores the rest.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, value, want string) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: expected %s", key, value, want)
	}
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, "an integer")
		return
	}
	*dst = n
}

func (e *envReader) floatPtr(key string, dst **float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, "a number")
		return
	}
	*dst = &f
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, "a boolean")
		return
	}
	*dst = b
}

func (e *envReader) millis(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		e.fail(key, v, "a positive number of milliseconds")
		return
	}
	*dst = Duration(time.Duration(ms) * time.Millisecond)
}
