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

// Package provider reads raw configuration bytes from a file or a remote
// key/value store and reports changes to them.
package provider

import (
	"context"
	"fmt"
)

// Type names a configuration source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType maps a source name (as given on the command line) to a Type.
// The empty string means a local file.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "file":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	}
	return "", fmt.Errorf("unknown config source %q (valid: file, consul, etcd, zookeeper)", s)
}

// Provider is a configuration source. Implementations are safe for
// concurrent use.
type Provider interface {
	Type() Type

	// Load returns the current configuration document.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives a value whenever the document
	// changes, until ctx is done. Several changes may collapse into one
	// signal. A nil channel means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig selects and addresses a source.
type ProviderConfig struct {
	Type Type

	// Path is a file path for TypeFile and a key or node path otherwise.
	Path string

	// Endpoints lists the servers of a remote source.
	Endpoints []string
}

// New opens the source described by cfg.
func New(cfg ProviderConfig) (Provider, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	switch cfg.Type {
	case "", TypeFile:
		return NewFileProvider(cfg.Path)
	case TypeConsul:
		return NewConsulProvider(cfg.Endpoints, cfg.Path)
	case TypeEtcd:
		return NewEtcdProvider(cfg.Endpoints, cfg.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(cfg.Endpoints, cfg.Path)
	}
	return nil, fmt.Errorf("unknown config source %q", cfg.Type)
}

// signal performs a non-blocking send. A full channel already carries a
// pending change.
func signal(ch chan<- struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}
