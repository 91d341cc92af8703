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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kadirpekel/infoxp/pkg/model/ollama"
	"github.com/kadirpekel/infoxp/pkg/runtime"
	"github.com/kadirpekel/infoxp/pkg/server"
	"github.com/kadirpekel/infoxp/pkg/tool"
)

// withRuntime loads the configuration, builds the runtime, runs fn and
// releases everything afterwards.
func (cli *CLI) withRuntime(ctx context.Context, local bool, fn func(rt *runtime.Runtime) error) error {
	cfg, cleanup, err := cli.load()
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := runtime.New(ctx, cfg, runtime.Options{Local: local})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Shutdown error", "error", err)
		}
	}()
	return fn(rt)
}

// AskCmd runs one agent turn.
type AskCmd struct {
	Prompt []string `arg:"" help:"Prompt to answer."`
	Local  bool     `help:"Serve tools in-process instead of through the tool peer."`
}

func (c *AskCmd) Run(cli *CLI, ctx context.Context) error {
	prompt := strings.TrimSpace(strings.Join(c.Prompt, " "))
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return cli.withRuntime(ctx, c.Local, func(rt *runtime.Runtime) error {
		answer, err := rt.Agent().Run(ctx, prompt, nil)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	})
}

// ServeCmd starts the HTTP bridge.
type ServeCmd struct {
	Port   int  `help:"Port to listen on (overrides PORT)."`
	Local  bool `help:"Serve tools in-process instead of through the tool peer."`
	NoWait bool `name:"no-wait" help:"Do not wait for the model at start-up."`
}

func (c *ServeCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.withRuntime(ctx, c.Local, func(rt *runtime.Runtime) error {
		cfg := rt.Config()
		if c.Port != 0 {
			cfg.Server.Port = c.Port
		}

		if !c.NoWait {
			if err := rt.LLM().WaitForModel(ctx, ollama.DefaultWaitTimeout, ollama.DefaultPollInterval); err != nil {
				slog.Warn("Model not ready, serving anyway", "model", rt.LLM().Name(), "error", err)
			} else {
				slog.Info("Model ready", "model", rt.LLM().Name())
			}
		}

		srv, err := server.New(rt.Agent(), rt.Tools(),
			server.WithStreamer(rt.LLM()),
			server.WithReadiness(rt.LLM().ModelAvailable),
			server.WithMetrics(rt.Metrics()),
			server.WithCORSOrigin(cfg.Server.CORSOrigin),
		)
		if err != nil {
			return err
		}

		addr := cfg.Server.Address()
		fmt.Printf("infoxp bridge ready\n")
		fmt.Printf("   Agent:   http://localhost%s/api/agent\n", addr)
		fmt.Printf("   Tools:   http://localhost%s/api/mcp/tools\n", addr)
		fmt.Printf("   Health:  http://localhost%s/healthz\n", addr)
		if rt.Metrics() != nil {
			fmt.Printf("   Metrics: http://localhost%s/metrics\n", addr)
		}
		return srv.Start(ctx, addr)
	})
}

// ToolsCmd lists the tool catalog.
type ToolsCmd struct {
	Local bool `help:"List the in-process catalog instead of asking the tool peer."`
	JSON  bool `name:"json" help:"Print descriptors as JSON."`
}

func (c *ToolsCmd) Run(cli *CLI, ctx context.Context) error {
	return cli.withRuntime(ctx, c.Local, func(rt *runtime.Runtime) error {
		tools, err := rt.Tools().ListTools(ctx)
		if err != nil {
			return err
		}
		return printTools(os.Stdout, tools, c.JSON)
	})
}

func printTools(w io.Writer, tools []tool.Descriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
	}
	return tw.Flush()
}

// CallCmd invokes one tool by name.
type CallCmd struct {
	Name  string `arg:"" help:"Tool name."`
	Args  string `help:"Arguments as a JSON object." default:"{}"`
	Local bool   `help:"Call the in-process catalog instead of the tool peer."`
}

func (c *CallCmd) Run(cli *CLI, ctx context.Context) error {
	args, err := parseArgs(c.Args)
	if err != nil {
		return err
	}
	return cli.withRuntime(ctx, c.Local, func(rt *runtime.Runtime) error {
		res, err := rt.Tools().CallTool(ctx, c.Name, args)
		if err != nil {
			return err
		}
		fmt.Println(res.String())
		return nil
	})
}

func parseArgs(text string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(text) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(text), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	return args, nil
}
