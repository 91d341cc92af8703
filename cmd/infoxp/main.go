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

// Command infoxp runs the tool-augmented agent.
//
// Usage:
//
//	infoxp ask "who won the 2024 game awards?"
//	infoxp ask --local "find players named Ada"
//	infoxp serve --config infoxp.yaml
//	infoxp tools
//	infoxp call web_search --args '{"q":"golang"}'
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/infoxp"
	"github.com/kadirpekel/infoxp/pkg/config"
	"github.com/kadirpekel/infoxp/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Ask     AskCmd     `cmd:"" help:"Run the agent once and print the answer."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP bridge."`
	Tools   ToolsCmd   `cmd:"" help:"List the tools offered by the tool peer."`
	Call    CallCmd    `cmd:"" help:"Call one tool directly."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides LOG_LEVEL."`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json). Overrides LOG_FORMAT."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("infoxp %s\n", infoxp.GetVersion())
	return nil
}

// load reads the configuration and initializes the default logger. Flags win
// over the environment and the config file.
func (cli *CLI) load() (*config.Config, func(), error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}

	out := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, cleanup = file, closeFn
	}
	logger.Init(logger.ParseLevel(cfg.Logger.Level), out, cfg.Logger.Format)
	return cfg, cleanup, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("infoxp"),
		kong.Description("Tool-augmented model orchestration: web search, page reading and MongoDB access for a local model."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
