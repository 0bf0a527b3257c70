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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/instruct/pkg/config/provider"
)

// Loader reads configuration from a provider and keeps the last valid
// result.
type Loader struct {
	provider provider.Provider
	current  atomic.Pointer[Config]

	mu       sync.Mutex
	onChange []func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers a callback for reloaded configurations.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.OnChange(fn)
	}
}

// NewLoader creates a Loader reading from p.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnChange registers fn to run after every successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Load reads and parses the configuration. A valid result becomes Current.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	l.current.Store(cfg)
	return cfg, nil
}

// Current returns the last valid configuration, or nil before the first
// successful Load.
func (l *Loader) Current() *Config {
	return l.current.Load()
}

// Watch reloads on every provider change until ctx is done. An invalid
// document is logged and the previous configuration stays current.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("Config source cannot be watched", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("Config reload rejected, keeping previous configuration", "error", err)
				continue
			}
			slog.Info("Configuration reloaded", "type", l.provider.Type())

			l.mu.Lock()
			callbacks := append([]func(*Config){}, l.onChange...)
			l.mu.Unlock()
			for _, fn := range callbacks {
				fn(cfg)
			}
		}
	}
}

// Close closes the provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Provider returns the underlying provider.
func (l *Loader) Provider() provider.Provider {
	return l.provider
}

// Parse decodes a YAML or JSON document, expands environment variables,
// applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		if jsonErr := json.Unmarshal(data, &raw); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config as YAML or JSON: %w", err)
		}
	}

	cfg := &Config{}
	if raw != nil {
		expanded, _ := expandEnv(raw).(map[string]any)
		if err := decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func decode(input map[string]any, out *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// LoadConfig opens the source described by opts and loads it once.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config source: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// LoadConfigFile loads a local config file. .env files next to it are read
// first so the file can reference their variables.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	if err := LoadEnvFiles(filepath.Dir(path)); err != nil {
		return nil, nil, err
	}
	return LoadConfig(ctx, provider.ProviderConfig{Type: provider.TypeFile, Path: path})
}
