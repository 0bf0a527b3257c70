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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/instruct/pkg/auth"
	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/runtime"
	"github.com/kadirpekel/instruct/pkg/server"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Host  string `help:"Address to bind to (default from config)."`
	Port  int    `help:"Port to listen on (default from config)."`
	Watch bool   `help:"Watch the config file and apply proposer changes without restarting."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	var opts []server.Option
	validator, err := auth.NewValidatorFromConfig(ctx, cfg.Server.Auth)
	if err != nil {
		return err
	}
	if validator != nil {
		defer validator.Close()
		opts = append(opts, server.WithAuthValidator(validator))
	}

	if c.Watch {
		if loader == nil {
			slog.Warn("--watch needs --config, ignoring")
		} else {
			go c.watch(ctx, cli, loader, rt)
		}
	}

	srv := server.New(rt, opts...)
	printStartup(cfg, loader != nil && c.Watch)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watch reloads the config file on change and hands it to the runtime.
func (c *ServeCmd) watch(ctx context.Context, cli *CLI, loader *config.Loader, rt *runtime.Runtime) {
	loader.OnChange(func(next *config.Config) {
		if c.Host != "" {
			next.Server.Host = c.Host
		}
		if c.Port != 0 {
			next.Server.Port = c.Port
		}
		if err := cli.applyConfigLogger(&next.Logger); err != nil {
			slog.Warn("Keeping previous logger settings", "error", err)
		}
		rt.Reload(next)
	})
	if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Config watch error", "error", err)
	}
}

func printStartup(cfg *config.Config, watching bool) {
	scheme := "http"
	if cfg.Server.TLSEnabled() {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s", scheme, cfg.Server.Address())

	fmt.Printf("\ninstruct server ready\n")
	fmt.Printf("   Model:       %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("   Propose:     %s/v1/propose\n", base)
	fmt.Printf("   Program:     %s/v1/propose/program\n", base)
	fmt.Printf("   Trials:      %s/v1/runs\n", base)
	fmt.Printf("   Health:      %s/health\n", base)
	if cfg.Database != nil {
		fmt.Printf("   Trials DB:   %s (%s)\n", cfg.Database.Driver, cfg.Database.Database)
	} else {
		fmt.Printf("   Trials DB:   in-memory (not persisted)\n")
	}
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:     %s%s\n", base, cfg.Observability.Metrics.Endpoint)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.Server.Auth != nil && cfg.Server.Auth.IsEnabled() {
		fmt.Printf("   Auth:        JWT (%s)\n", cfg.Server.Auth.Issuer)
	}
	if rl := cfg.Server.RateLimit; rl.IsEnabled() {
		fmt.Printf("   Rate limit:  %d rule(s), %s store\n", len(rl.Limits), rl.Store)
	}
	if watching {
		fmt.Printf("   Config:      watching for changes\n")
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
