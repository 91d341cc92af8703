// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command infoxp-mcp serves the tool catalog as an MCP peer.
//
// Usage:
//
//	infoxp-mcp                 # stdio, the mode spawned by infoxp
//	infoxp-mcp http --listen :3030
//
// Logs always go to stderr; on stdio, stdout carries the protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/infoxp"
	"github.com/kadirpekel/infoxp/pkg/config"
	"github.com/kadirpekel/infoxp/pkg/logger"
	"github.com/kadirpekel/infoxp/pkg/mcpserver"
	"github.com/kadirpekel/infoxp/pkg/observability"
	"github.com/kadirpekel/infoxp/pkg/runtime"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

type CLI struct {
	Stdio   StdioCmd   `cmd:"" default:"withargs" help:"Serve MCP over stdin and stdout."`
	HTTP    HTTPCmd    `cmd:"" name:"http" help:"Serve MCP over streamable HTTP, SSE and WebSocket."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides LOG_LEVEL."`
	LogFormat string `help:"Log format (simple, verbose, json). Overrides LOG_FORMAT."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("infoxp-mcp %s\n", infoxp.GetVersion())
	return nil
}

type peer struct {
	cfg   *config.Config
	reg   *tool.Registry
	srv   *mcpserver.Server
	close func(context.Context) error
}

// peer builds the registry and the MCP server around it.
func (cli *CLI) peer(metricsEnabled bool) (*peer, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}
	log := logger.Init(logger.ParseLevel(cfg.Logger.Level), os.Stderr, cfg.Logger.Format)

	var metrics *observability.Metrics
	if metricsEnabled && cfg.Observability.MetricsEnabled {
		if metrics, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	reg, closeTools, err := runtime.NewToolset(cfg, metrics, log)
	if err != nil {
		return nil, err
	}
	srv, err := mcpserver.New(reg,
		mcpserver.WithInfo(mcpserver.DefaultName, infoxp.GetVersion().Version),
		mcpserver.WithMetrics(metrics),
		mcpserver.WithLogger(log),
		mcpserver.WithOriginPatterns(cfg.MCP.AllowedOrigins...),
	)
	if err != nil {
		_ = closeTools(context.Background())
		return nil, err
	}

	closeAll := func(ctx context.Context) error {
		err := closeTools(ctx)
		if metrics != nil {
			_ = metrics.Shutdown(ctx)
		}
		return err
	}
	return &peer{cfg: cfg, reg: reg, srv: srv, close: closeAll}, nil
}

type StdioCmd struct{}

func (c *StdioCmd) Run(cli *CLI, ctx context.Context) error {
	p, err := cli.peer(false)
	if err != nil {
		return err
	}
	defer p.close(context.WithoutCancel(ctx))
	return p.srv.ServeStdio(ctx, os.Stdin, os.Stdout)
}

type HTTPCmd struct {
	Listen string `help:"Listen address (overrides MCP_LISTEN)."`
}

func (c *HTTPCmd) Run(cli *CLI, ctx context.Context) error {
	p, err := cli.peer(true)
	if err != nil {
		return err
	}
	defer p.close(context.WithoutCancel(ctx))

	addr := c.Listen
	if addr == "" {
		addr = p.cfg.MCP.Listen
	}
	slog.Info("Endpoints", "mcp", "/mcp", "sse", "/sse", "ws", "/ws")
	return p.srv.ListenAndServe(ctx, addr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("infoxp-mcp"),
		kong.Description("MCP peer exposing web search, page reading and MongoDB tools."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
