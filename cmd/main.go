// Copyright 2025 MCP Gateway Contributors
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
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	urfavecli "github.com/urfave/cli/v3"

	"github.com/nexigate/mcp-gateway/internal/aggregate"
	"github.com/nexigate/mcp-gateway/internal/capability"
	"github.com/nexigate/mcp-gateway/internal/config"
	"github.com/nexigate/mcp-gateway/internal/fleet"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
	"github.com/nexigate/mcp-gateway/internal/metatools"
	"github.com/nexigate/mcp-gateway/internal/script"
	"github.com/nexigate/mcp-gateway/internal/session"
	"github.com/nexigate/mcp-gateway/internal/shutdown"
	"github.com/nexigate/mcp-gateway/internal/transport"
)

// version is set by build flags during release.
var version = "dev"

func main() {
	app := &urfavecli.Command{
		Name:                  "mcp-gateway",
		Description:           "Multiplex several MCP servers behind a single downstream endpoint.",
		Usage:                 "mcp-gateway start",
		Version:               version,
		EnableShellCompletion: true,
		Commands: []*urfavecli.Command{
			startCommand,
			configCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

var startCommand = &urfavecli.Command{
	Name:  "start",
	Usage: "mcp-gateway start [--config-path <path>] [--log-level <level>] [--log-json]",
	Description: `Start the gateway for the configured upstream peers.

Configuration is loaded from ~/.mcp-gateway/config.json by default.

Example config structure:
  {
    "transport": "framed",
    "host": "127.0.0.1",
    "port": 8080,
    "mcpClients": {
      "docs": {
        "type": "streamed",
        "url": "https://example.com/mcp"
      },
      "local-tools": {
        "type": "child",
        "command": "my-mcp-server",
        "args": ["--stdio"]
      }
    }
  }

Examples:
  mcp-gateway start
  mcp-gateway start --config-path ./custom-config.json
`,
	Action: handleStartCommand,
	Flags: []urfavecli.Flag{
		&urfavecli.StringFlag{
			Name:  "config-path",
			Usage: "Path to config file (default: ~/.mcp-gateway/config.json)",
		},
		&urfavecli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn, or error",
			Value: "info",
		},
		&urfavecli.BoolFlag{
			Name:  "log-json",
			Usage: "emit structured JSON logs instead of console output",
		},
	},
}

func handleStartCommand(ctx context.Context, cmd *urfavecli.Command) error {
	if err := gwlog.Init(gwlog.Options{Level: cmd.String("log-level"), JSON: cmd.Bool("log-json")}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := gwlog.Component("main")

	configPath := cmd.String("config-path")
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to resolve default config path: %w", err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	logger.Info().Str("path", configPath).Str("transport", string(cfg.Transport)).Msg("loaded configuration")

	f := fleet.New()
	mt := &metatools.Registry{
		Fleet:     f,
		Tools:     aggregate.NewTools(),
		Resources: aggregate.NewResources(),
		Prompts:   aggregate.NewPrompts(),
		Executor:  script.NewExecutor(),
	}
	ctrl := session.New(cfg, f, capability.New(), mt.Tools, mt.Resources, mt.Prompts, mt)
	transport.SetVersion(version)
	binder := transport.New(ctrl)

	sd := shutdown.New()
	sd.Register("upstream peers", func(ctx context.Context) error {
		f.CloseAll()
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		switch cfg.Transport {
		case config.TransportStream:
			errChan <- binder.ServeStream(runCtx)
		case config.TransportFramed:
			logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("serving framed transport")
			errChan <- binder.ServeFramed(runCtx, cfg.Host, cfg.Port)
		default:
			errChan <- fmt.Errorf("unsupported transport %q", cfg.Transport)
		}
	}()

	select {
	case <-sigChan:
		logger.Info().Msg("received shutdown signal, draining")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		for _, err := range sd.Drain(shutdownCtx, 5*time.Second) {
			logger.Warn().Err(err).Msg("shutdown stage failed")
		}
		return nil
	case err := <-errChan:
		cancel()
		return err
	}
}

var configCommand = &urfavecli.Command{
	Name:  "config",
	Usage: "Inspect the gateway configuration file",
	Commands: []*urfavecli.Command{
		configShowCommand,
		configValidateCommand,
	},
}

var configShowCommand = &urfavecli.Command{
	Name:   "show",
	Usage:  "mcp-gateway config show [--config-path <path>]",
	Action: handleConfigShowCommand,
	Flags: []urfavecli.Flag{
		&urfavecli.StringFlag{Name: "config-path", Usage: "Path to config file (default: ~/.mcp-gateway/config.json)"},
	},
}

var configValidateCommand = &urfavecli.Command{
	Name:   "validate",
	Usage:  "mcp-gateway config validate [--config-path <path>]",
	Action: handleConfigValidateCommand,
	Flags: []urfavecli.Flag{
		&urfavecli.StringFlag{Name: "config-path", Usage: "Path to config file (default: ~/.mcp-gateway/config.json)"},
	},
}

func resolveConfigPath(cmd *urfavecli.Command) (string, error) {
	if p := cmd.String("config-path"); p != "" {
		return p, nil
	}
	return config.DefaultConfigPath()
}

func handleConfigShowCommand(_ context.Context, cmd *urfavecli.Command) error {
	path, err := resolveConfigPath(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func handleConfigValidateCommand(_ context.Context, cmd *urfavecli.Command) error {
	path, err := resolveConfigPath(cmd)
	if err != nil {
		return err
	}
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("invalid configuration at %s: %w", path, err)
	}
	fmt.Fprintf(os.Stdout, "%s is valid\n", path)
	return nil
}
