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

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client *api.Client
	key    string

	mu        sync.Mutex
	lastIndex uint64
	closed    bool
}

// NewConsulProvider creates a provider reading key from the first endpoint.
// An empty endpoint list uses the Consul defaults (CONSUL_HTTP_ADDR).
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client: client,
		key:    strings.TrimPrefix(key, "/"),
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the key value.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, meta, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}

	p.mu.Lock()
	p.lastIndex = meta.LastIndex
	p.mu.Unlock()

	return pair.Value, nil
}

// Watch signals when the key's modify index advances.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.Unlock()

	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	for {
		p.mu.Lock()
		index := p.lastIndex
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		opts := (&api.QueryOptions{WaitIndex: index, WaitTime: 5 * time.Minute}).WithContext(ctx)
		_, meta, err := p.client.KV().Get(p.key, opts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("Consul watch error", "key", p.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if meta.LastIndex == index {
			continue
		}

		p.mu.Lock()
		p.lastIndex = meta.LastIndex
		p.mu.Unlock()

		// The first query only establishes the baseline index.
		if index == 0 {
			continue
		}

		if signal(ch) {
			slog.Debug("Consul key changed", "key", p.key)
		}
	}
}

// Close stops future watch iterations.
func (p *ConsulProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
