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
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd key and watches it.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider connects to the given endpoints.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if key == "" {
		return nil, fmt.Errorf("etcd key is required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdProvider{client: client, key: key}, nil
}

// Type returns TypeEtcd.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the key value.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch signals on every put to the key.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	watchCh := p.client.Watch(ctx, p.key)
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				slog.Error("etcd watch error", "key", p.key, "error", err)
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					slog.Warn("etcd config key was deleted", "key", p.key)
					continue
				}
				if signal(ch) {
					slog.Debug("etcd key changed", "key", p.key)
				}
			}
		}
	}()

	slog.Info("Watching etcd key", "key", p.key)
	return ch, nil
}

// Close closes the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
