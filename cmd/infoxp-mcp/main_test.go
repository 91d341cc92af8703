package main

import (
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsToStdio(t *testing.T) {
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("infoxp-mcp"))
	require.NoError(t, err)

	kctx, err := parser.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "stdio", kctx.Command())

	kctx, err = parser.Parse([]string{"--log-level", "debug", "http", "--listen", ":4040"})
	require.NoError(t, err)
	assert.Equal(t, "http", kctx.Command())
	assert.Equal(t, ":4040", cli.HTTP.Listen)
	assert.Equal(t, "debug", cli.LogLevel)
}

func TestPeer_BuildsCatalog(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Chdir(t.TempDir())

	p, err := (&CLI{LogLevel: "error"}).peer(false)
	require.NoError(t, err)
	defer p.close(t.Context())

	assert.Len(t, p.reg.List(), 6)
	assert.NotNil(t, p.srv.MCP())
	assert.Equal(t, ":3030", p.cfg.MCP.Listen)
}
