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

package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/kadirpekel/instruct/pkg/config"
)

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// SQLStore shares counters between server instances through a SQL
// database. Windows are stored as unix milliseconds.
type SQLStore struct {
	db      *sql.DB
	dialect string
	table   string
}

// NewSQLStore creates the quota table if needed. The connection is
// borrowed; Close does not close it.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect, tablePrefix string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	switch dialect {
	case config.DialectPostgres, config.DialectMySQL, config.DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if !tablePrefixPattern.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}

	s := &SQLStore{db: db, dialect: dialect, table: tablePrefix + "quotas"}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    caller VARCHAR(255) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    window_name VARCHAR(16) NOT NULL,
    amount BIGINT NOT NULL,
    window_end BIGINT NOT NULL,
    PRIMARY KEY (caller, kind, window_name)
)`, s.table)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return s, nil
}

// NewStoreFromConfig returns the store selected by cfg. The sql store
// borrows a connection for dbCfg from pool.
func NewStoreFromConfig(ctx context.Context, cfg *config.RateLimitConfig, dbCfg *config.DatabaseConfig, pool *config.DBPool) (Store, error) {
	if cfg.Store != config.RateLimitStoreSQL {
		return NewMemoryStore(), nil
	}
	if dbCfg == nil || pool == nil {
		return nil, errors.New("the sql rate limit store requires a database")
	}
	db, err := pool.Get(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	return NewSQLStore(ctx, db, dbCfg.Dialect(), dbCfg.TablePrefix)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) read(ctx context.Context, q queryer, key Key, now time.Time) (Counter, bool, error) {
	query := config.Rebind(s.dialect, fmt.Sprintf(
		`SELECT amount, window_end FROM %s WHERE caller = ? AND kind = ? AND window_name = ?`, s.table))

	var amount, endMillis int64
	err := q.QueryRowContext(ctx, query, key.Caller, string(key.Kind), string(key.Window)).Scan(&amount, &endMillis)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Counter{WindowEnd: now.Add(key.Window.Duration())}, false, nil
	case err != nil:
		return Counter{}, false, fmt.Errorf("failed to read counter: %w", err)
	}

	end := time.UnixMilli(endMillis)
	if !end.After(now) {
		return Counter{WindowEnd: now.Add(key.Window.Duration())}, false, nil
	}
	return Counter{Amount: amount, WindowEnd: end}, true, nil
}

func (s *SQLStore) Get(ctx context.Context, key Key, now time.Time) (Counter, error) {
	c, _, err := s.read(ctx, s.db, key, now)
	return c, err
}

func (s *SQLStore) Add(ctx context.Context, key Key, amount int64, now time.Time) (Counter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Counter{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, live, err := s.read(ctx, tx, key, now)
	if err != nil {
		return Counter{}, err
	}
	c.Amount += amount

	if live {
		query := config.Rebind(s.dialect, fmt.Sprintf(
			`UPDATE %s SET amount = amount + ? WHERE caller = ? AND kind = ? AND window_name = ?`, s.table))
		_, err = tx.ExecContext(ctx, query, amount, key.Caller, string(key.Kind), string(key.Window))
	} else {
		_, err = tx.ExecContext(ctx, s.upsertQuery(), key.Caller, string(key.Kind), string(key.Window), c.Amount, c.WindowEnd.UnixMilli())
	}
	if err != nil {
		return Counter{}, fmt.Errorf("failed to update counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Counter{}, fmt.Errorf("failed to commit counter: %w", err)
	}
	return c, nil
}

func (s *SQLStore) upsertQuery() string {
	insert := fmt.Sprintf(`
INSERT INTO %s (caller, kind, window_name, amount, window_end)
VALUES (?, ?, ?, ?, ?)`, s.table)

	switch s.dialect {
	case config.DialectPostgres:
		return config.Rebind(s.dialect, insert+`
ON CONFLICT (caller, kind, window_name) DO UPDATE SET
    amount = EXCLUDED.amount,
    window_end = EXCLUDED.window_end`)
	case config.DialectSQLite:
		return insert + `
ON CONFLICT(caller, kind, window_name) DO UPDATE SET
    amount = excluded.amount,
    window_end = excluded.window_end`
	default:
		return insert + `
ON DUPLICATE KEY UPDATE
    amount = VALUES(amount),
    window_end = VALUES(window_end)`
	}
}

func (s *SQLStore) Reset(ctx context.Context, caller string) error {
	query := config.Rebind(s.dialect, fmt.Sprintf(`DELETE FROM %s WHERE caller = ?`, s.table))
	if _, err := s.db.ExecContext(ctx, query, caller); err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}
	return nil
}

func (s *SQLStore) Sweep(ctx context.Context, now time.Time) error {
	query := config.Rebind(s.dialect, fmt.Sprintf(`DELETE FROM %s WHERE window_end <= ?`, s.table))
	if _, err := s.db.ExecContext(ctx, query, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to sweep counters: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the pool that opened it.
func (s *SQLStore) Close() error { return nil }

var _ Store = (*SQLStore)(nil)
