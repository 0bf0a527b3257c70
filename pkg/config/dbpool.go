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

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	pingTimeout     = 10 * time.Second
	connMaxLifetime = time.Hour
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
}

// DBPool hands out one *sql.DB per DSN so that several trial stores can
// share a connection pool. SQLite handles are capped at one connection.
type DBPool struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewDBPool returns an empty pool.
func NewDBPool() *DBPool {
	return &DBPool{dbs: make(map[string]*sql.DB)}
}

// Get opens (or reuses) the database described by cfg.
func (p *DBPool) Get(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	if cfg == nil {
		return nil, errors.New("database config is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.DSN()
	if db, ok := p.dbs[key]; ok {
		return db, nil
	}

	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.dbs[key] = db
	return db, nil
}

// Len reports how many distinct databases are open.
func (p *DBPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dbs)
}

func open(ctx context.Context, cfg *DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Redacted(), err)
	}

	sqlite := cfg.Dialect() == DialectSQLite
	switch {
	case sqlite:
		// a single writer avoids "database is locked"
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxIdle > 0 {
			db.SetMaxIdleConns(cfg.MaxIdle)
		}
	}
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Redacted(), err)
	}

	if sqlite {
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(pingCtx, pragma); err != nil {
				slog.Warn("SQLite pragma failed", "pragma", pragma, "error", err)
			}
		}
	}

	slog.Debug("Opened trial database", "driver", cfg.DriverName(), "dsn", cfg.Redacted())
	return db, nil
}

// Close closes every database and empties the pool.
func (p *DBPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	p.dbs = make(map[string]*sql.DB)
	return errors.Join(errs...)
}
