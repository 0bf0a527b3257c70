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

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a ZooKeeper node and watches it.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider connects to the given endpoints.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{conn: conn, path: path}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the node data.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read from zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms a data watch after every event and signals on data changes.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		for {
			_, _, events, err := p.conn.GetW(p.path)
			if err != nil {
				slog.Error("Failed to watch zookeeper path", "path", p.path, "error", err)
				return
			}

			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev.Type {
				case zk.EventNodeDataChanged:
					if signal(ch) {
						slog.Debug("Zookeeper node changed", "path", p.path)
					}
				case zk.EventNodeDeleted:
					slog.Warn("Zookeeper config node was deleted", "path", p.path)
					return
				case zk.EventNotWatching:
					slog.Warn("Zookeeper watch lost", "path", p.path)
					return
				}
			}
		}
	}()

	slog.Info("Watching zookeeper node", "path", p.path)
	return ch, nil
}

// Close closes the ZooKeeper session.
func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)
