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

// Package config loads infoxp settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/infoxp/pkg/observability"
)

// Config is the complete runtime configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Store         StoreConfig         `yaml:"store"`
	Search        SearchConfig        `yaml:"search"`
	Reader        ReaderConfig        `yaml:"reader"`
	MCP           MCPConfig           `yaml:"mcp"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logger        LoggerConfig        `yaml:"logger"`
}

// LLMConfig configures the Ollama backend.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	Timeout     Duration `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
}

type AgentConfig struct {
	MaxHops      int    `yaml:"max_hops"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// StoreBackend selects the document store.
type StoreBackend string

const (
	StoreMongo  StoreBackend = "mongo"
	StoreMemory StoreBackend = "memory"
)

type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`
	URI     string       `yaml:"uri"`
}

type SearchConfig struct {
	TavilyAPIKey string   `yaml:"tavily_api_key"`
	Backend      string   `yaml:"backend"`
	Timeout      Duration `yaml:"timeout"`
}

type ReaderConfig struct {
	ProxyURL string `yaml:"proxy_url"`
	APIKey   string `yaml:"api_key"`
}

// MCPConfig configures both sides of the tool transport.
type MCPConfig struct {
	// Origin is the remote peer; empty means always spawn locally.
	Origin         string   `yaml:"origin"`
	Transport      string   `yaml:"transport"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	LocalTimeout   Duration `yaml:"local_timeout"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`

	// Listen is the address of the HTTP peer (infoxp-mcp http).
	Listen string `yaml:"listen"`

	// AllowedOrigins lists browser origins the HTTP peer accepts on /ws
	// besides its own.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ServerConfig struct {
	Port int `yaml:"port"`

	// CORSOrigin is the allowed browser origin; "*" allows any.
	CORSOrigin string `yaml:"cors_origin"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool                       `yaml:"metrics_enabled"`
	Tracing        observability.TracerConfig `yaml:"tracing"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Address returns the listen address of the HTTP bridge.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Defaults.
const (
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultModel          = "llama3.1"
	DefaultLLMTimeout     = 60 * time.Second
	DefaultMaxHops        = 4
	DefaultMongoURI       = "mongodb://localhost:27017"
	DefaultSearchTimeout  = 6 * time.Second
	DefaultReaderProxyURL = "https://r.jina.ai/"
	DefaultConnectTimeout = 1200 * time.Millisecond
	DefaultLocalTimeout   = 10 * time.Second
	DefaultCommand        = "infoxp-mcp"
	DefaultListen         = ":3030"
	DefaultPort           = 3000
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every zero field.
func (c *Config) SetDefaults() {
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultOllamaURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = Duration(DefaultLLMTimeout)
	}
	if c.Agent.MaxHops == 0 {
		c.Agent.MaxHops = DefaultMaxHops
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMongo
	}
	if c.Store.URI == "" {
		c.Store.URI = DefaultMongoURI
	}
	if c.Search.Backend == "" {
		c.Search.Backend = "tavily"
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = Duration(DefaultSearchTimeout)
	}
	if c.Reader.ProxyURL == "" {
		c.Reader.ProxyURL = DefaultReaderProxyURL
	}
	if c.MCP.ConnectTimeout == 0 {
		c.MCP.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.MCP.LocalTimeout == 0 {
		c.MCP.LocalTimeout = Duration(DefaultLocalTimeout)
	}
	if c.MCP.Command == "" {
		c.MCP.Command = DefaultCommand
		if len(c.MCP.Args) == 0 {
			c.MCP.Args = []string{"stdio"}
		}
	}
	if c.MCP.Listen == "" {
		c.MCP.Listen = DefaultListen
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = "*"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL("llm.base_url", c.LLM.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", *t))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0"))
	}
	if c.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive"))
	}
	if c.Agent.MaxHops < 1 || c.Agent.MaxHops > 16 {
		errs = append(errs, fmt.Errorf("agent.max_hops must be between 1 and 16, got %d", c.Agent.MaxHops))
	}
	switch c.Store.Backend {
	case StoreMongo, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be mongo or memory, got %q", c.Store.Backend))
	}
	if c.Store.Backend == StoreMongo {
		if err := validateURL("store.uri", c.Store.URI, "mongodb", "mongodb+srv"); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Search.Backend {
	case "tavily", "ddg":
	default:
		errs = append(errs, fmt.Errorf("search.backend must be tavily or ddg, got %q", c.Search.Backend))
	}
	if c.Search.Timeout < 0 {
		errs = append(errs, fmt.Errorf("search.timeout must be positive"))
	}
	if err := validateURL("reader.proxy_url", c.Reader.ProxyURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.MCP.Origin != "" {
		if err := validateURL("mcp.origin", c.MCP.Origin, "http", "https", "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.MCP.Transport {
	case "", "http", "sse", "ws":
	default:
		errs = append(errs, fmt.Errorf("mcp.transport must be http, sse or ws, got %q", c.MCP.Transport))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Logger.Format {
	case "simple", "verbose", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be simple, verbose or json, got %q", c.Logger.Format))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", field, schemes, raw)
}

// Load builds the configuration. The .env.local and .env files are loaded
// into the environment first; path may be empty.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// PeerEnv is the environment handed to a locally spawned tool peer: the
// store and search settings, and nothing the peer does not need.
func (c *Config) PeerEnv() map[string]string {
	env := map[string]string{
		"STORE_BACKEND":             string(c.Store.Backend),
		"MONGODB_URI":               c.Store.URI,
		"MCP_WEB_SEARCH_BACKEND":    c.Search.Backend,
		"MCP_WEB_SEARCH_TIMEOUT_MS": fmt.Sprint(c.Search.Timeout.Duration().Milliseconds()),
		"READER_PROXY_URL":          c.Reader.ProxyURL,
	}
	if c.Search.TavilyAPIKey != "" {
		env["TAVILY_API_KEY"] = c.Search.TavilyAPIKey
	}
	if c.Reader.APIKey != "" {
		env["JINA_API_KEY"] = c.Reader.APIKey
	}
	if c.Logger.Level != "" {
		env["LOG_LEVEL"] = strings.ToLower(c.Logger.Level)
	}
	return env
}
