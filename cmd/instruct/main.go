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

// Command instruct proposes task instructions grounded in a dataset.
//
// Usage:
//
//	instruct propose --schema task.yaml --data train.jsonl -n 5
//	instruct serve --config instruct.yaml --watch
//	instruct validate instruct.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/instruct/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Propose  ProposeCmd  `cmd:"" help:"Propose instructions for a task schema."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration file."`
	Trials   TrialsCmd   `cmd:"" help:"Inspect and record optimization trials."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`

	logCleanup func()
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("instruct version %s\n", version())
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

// loadConfig reads the --config file, or builds a zero-config setup from
// defaults and the environment. The returned loader is nil in zero-config
// mode.
func (cli *CLI) loadConfig(ctx context.Context) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		if err := config.LoadEnvFiles("."); err != nil {
			slog.Warn("Failed to load .env files", "error", err)
		}
		cfg := config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("zero-config setup is invalid: %w", err)
		}
		slog.Debug("Using zero-config mode", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Debug("Loaded configuration", "path", cli.Config)

	if err := cli.applyConfigLogger(&cfg.Logger); err != nil {
		loader.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// applyConfigLogger re-initializes logging with the config file's logger
// section for every setting not given by a flag or the environment.
func (cli *CLI) applyConfigLogger(cfg *config.LoggerConfig) error {
	settings := resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, cfg)
	cleanup, err := initLogger(settings)
	if err != nil {
		return err
	}
	cli.closeLog()
	cli.logCleanup = cleanup
	return nil
}

func (cli *CLI) closeLog() {
	if cli.logCleanup != nil {
		cli.logCleanup()
		cli.logCleanup = nil
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("instruct"),
		kong.Description("Grounded instruction proposals for LLM program optimization"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	cli.logCleanup = cleanup

	err = ctx.Run(&cli)
	cli.closeLog()
	ctx.FatalIfErrorf(err)
}
