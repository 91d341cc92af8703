package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultOllamaURL, cfg.LLM.BaseURL)
	assert.Equal(t, DefaultModel, cfg.LLM.Model)
	assert.Nil(t, cfg.LLM.Temperature)
	assert.Equal(t, 4, cfg.Agent.MaxHops)
	assert.Equal(t, StoreMongo, cfg.Store.Backend)
	assert.Equal(t, 6*time.Second, cfg.Search.Timeout.Duration())
	assert.Equal(t, 1200*time.Millisecond, cfg.MCP.ConnectTimeout.Duration())
	assert.Equal(t, 10*time.Second, cfg.MCP.LocalTimeout.Duration())
	assert.Equal(t, []string{"stdio"}, cfg.MCP.Args)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OLLAMA_URL":                  "http://gpu:11434",
		"LLM_MODEL":                   "qwen2.5",
		"LLM_TEMPERATURE":             "0.5",
		"REQUEST_TIMEOUT_MS":          "1500",
		"LLM_MAX_RETRIES":             "2",
		"AGENT_MAX_HOPS":              "6",
		"MONGODB_USER_URI":            "mongodb://user-db:27017",
		"STORE_BACKEND":               "Memory",
		"TAVILY_API_KEY":              "tvly-123",
		"MCP_WEB_SEARCH_BACKEND":      "DDG",
		"MCP_WEB_SEARCH_TIMEOUT_MS":   "2000",
		"MCP_ORIGIN":                  "ws://peer:3030/ws",
		"MCP_CONNECT_TIMEOUT_MS":      "800",
		"MCP_LOCAL_TIMEOUT_MS":        "4000",
		"MCP_ALLOWED_ORIGINS":         "https://app.example, *.corp.example",
		"MCP_ARGS":                    "stdio --verbose",
		"PORT":                        "8080",
		"METRICS_ENABLED":             "true",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
		"LOG_LEVEL":                   "   ",
	}
	cfg := Default()
	require.NoError(t, applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "http://gpu:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
	require.NotNil(t, cfg.LLM.Temperature)
	assert.Equal(t, 0.5, *cfg.LLM.Temperature)
	assert.Equal(t, 1500*time.Millisecond, cfg.LLM.Timeout.Duration())
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, 6, cfg.Agent.MaxHops)
	assert.Equal(t, "mongodb://user-db:27017", cfg.Store.URI)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "tvly-123", cfg.Search.TavilyAPIKey)
	assert.Equal(t, "ddg", cfg.Search.Backend)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout.Duration())
	assert.Equal(t, "ws://peer:3030/ws", cfg.MCP.Origin)
	assert.Equal(t, 800*time.Millisecond, cfg.MCP.ConnectTimeout.Duration())
	assert.Equal(t, 4*time.Second, cfg.MCP.LocalTimeout.Duration())
	assert.Equal(t, []string{"https://app.example", "*.corp.example"}, cfg.MCP.AllowedOrigins)
	assert.Equal(t, []string{"stdio", "--verbose"}, cfg.MCP.Args)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.True(t, cfg.Observability.Tracing.Enabled)
	assert.Equal(t, "info", cfg.Logger.Level)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_MongoURIWinsOverUserURI(t *testing.T) {
	env := map[string]string{
		"MONGODB_USER_URI": "mongodb://fallback",
		"MONGODB_URI":      "mongodb://primary",
	}
	cfg := Default()
	require.NoError(t, applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "mongodb://primary", cfg.Store.URI)
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := map[string]string{
		"LLM_TEMPERATURE":        "warm",
		"AGENT_MAX_HOPS":         "four",
		"MCP_CONNECT_TIMEOUT_MS": "-5",
		"METRICS_ENABLED":        "sometimes",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := applyEnv(Default(), func(k string) (string, bool) {
				if k == key {
					return value, true
				}
				return "", false
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad ollama url", func(c *Config) { c.LLM.BaseURL = "localhost:11434" }, "llm.base_url"},
		{"temperature", func(c *Config) { v := 3.0; c.LLM.Temperature = &v }, "llm.temperature"},
		{"hops", func(c *Config) { c.Agent.MaxHops = 0 }, "agent.max_hops"},
		{"store backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"mongo uri", func(c *Config) { c.Store.URI = "http://mongo" }, "store.uri"},
		{"search backend", func(c *Config) { c.Search.Backend = "bing" }, "search.backend"},
		{"origin", func(c *Config) { c.MCP.Origin = "ftp://peer" }, "mcp.origin"},
		{"transport", func(c *Config) { c.MCP.Transport = "grpc" }, "mcp.transport"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.Store.Backend = StoreMemory
	cfg.Store.URI = "not-used"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("INFOXP_TEST_MODEL", "mistral")
	t.Setenv("LLM_MAX_RETRIES", "3")

	path := writeFile(t, dir, "infoxp.yaml", `
llm:
  model: ${INFOXP_TEST_MODEL}
  base_url: ${INFOXP_TEST_UNSET:-http://ollama:11434}
  max_retries: 1
  timeout: 30s
agent:
  max_hops: 3
mcp:
  origin: http://peer:3030/mcp
  connect_timeout: 900
store:
  backend: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.BaseURL)
	assert.Equal(t, 3, cfg.LLM.MaxRetries, "environment overrides file")
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout.Duration())
	assert.Equal(t, 3, cfg.Agent.MaxHops)
	assert.Equal(t, 900*time.Millisecond, cfg.MCP.ConnectTimeout.Duration())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "LLM_MODEL=from-dotenv\nPORT=4000\n")
	t.Setenv("PORT", "5000")
	t.Cleanup(func() { os.Unsetenv("LLM_MODEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.LLM.Model)
	assert.Equal(t, 5000, cfg.Server.Port, "existing variables win over .env")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "llm: [")
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := writeFile(t, dir, "invalid.yaml", "agent:\n  max_hops: 99\n")
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.max_hops")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("INFOXP_TEST_HOST", "db")
	assert.Equal(t, "mongodb://db:27017", expandEnvVars("mongodb://${INFOXP_TEST_HOST}:27017"))
	assert.Equal(t, "fallback", expandEnvVars("${INFOXP_TEST_NOPE:-fallback}"))
	assert.Equal(t, `{"$set":{"a":1}}`, expandEnvVars(`{"$set":{"a":1}}`))
}

func TestPeerEnv(t *testing.T) {
	cfg := Default()
	cfg.Search.TavilyAPIKey = "tvly"
	env := cfg.PeerEnv()

	assert.Equal(t, DefaultMongoURI, env["MONGODB_URI"])
	assert.Equal(t, "tvly", env["TAVILY_API_KEY"])
	assert.Equal(t, "6000", env["MCP_WEB_SEARCH_TIMEOUT_MS"])
	assert.NotContains(t, env, "JINA_API_KEY")
	assert.NotContains(t, env, "OLLAMA_URL")
}
