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

package trial

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/propose"
)

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// SQLStore persists trials in a SQL database. Supported dialects are
// postgres, mysql and sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect string
	table   string
	clock   clockwork.Clock
}

// NewSQLStore creates the trial table if needed and returns a store on db.
// The connection is borrowed; Close does not close it.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect, tablePrefix string, opts ...Option) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
	if !tablePrefixPattern.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}

	o := applyOptions(opts)
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		table:   tablePrefix + "trials",
		clock:   o.clock,
	}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    run_id VARCHAR(255) NOT NULL,
    trial_index INTEGER NOT NULL,
    instructions_json TEXT NOT NULL,
    score DOUBLE PRECISION,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, trial_index)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

func (s *SQLStore) Record(ctx context.Context, runID string, t Trial) (Trial, error) {
	if err := validate(runID, t); err != nil {
		return Trial{}, err
	}

	instructions := t.Instructions
	if instructions == nil {
		instructions = map[int]string{}
	}
	instructionsJSON, err := json.Marshal(instructions)
	if err != nil {
		return Trial{}, fmt.Errorf("failed to serialize instructions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Trial{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if t.Index == NextIndex {
		query := s.rebind(fmt.Sprintf(`SELECT COALESCE(MAX(trial_index), -1) + 1 FROM %s WHERE run_id = ?`, s.table))
		if err := tx.QueryRowContext(ctx, query, runID).Scan(&t.Index); err != nil {
			return Trial{}, fmt.Errorf("failed to allocate trial index: %w", err)
		}
	}

	var score sql.NullFloat64
	if t.Score != nil {
		score = sql.NullFloat64{Float64: *t.Score, Valid: true}
	}
	t.RunID = runID
	t.CreatedAt = s.clock.Now().UTC()

	if _, err := tx.ExecContext(ctx, s.upsertQuery(), runID, t.Index, string(instructionsJSON), score, t.CreatedAt); err != nil {
		return Trial{}, fmt.Errorf("failed to save trial: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Trial{}, fmt.Errorf("failed to commit trial: %w", err)
	}

	entry := toEntry(t.Instructions, t.Score)
	t.Instructions, t.Score = entry.Instructions, entry.Score
	return t, nil
}

func (s *SQLStore) upsertQuery() string {
	insert := fmt.Sprintf(`
INSERT INTO %s (run_id, trial_index, instructions_json, score, created_at)
VALUES (?, ?, ?, ?, ?)`, s.table)

	switch s.dialect {
	case "postgres":
		return s.rebind(insert + `
ON CONFLICT (run_id, trial_index) DO UPDATE SET
    instructions_json = EXCLUDED.instructions_json,
    score = EXCLUDED.score,
    created_at = EXCLUDED.created_at`)
	case "sqlite":
		return insert + `
ON CONFLICT(run_id, trial_index) DO UPDATE SET
    instructions_json = excluded.instructions_json,
    score = excluded.score,
    created_at = excluded.created_at`
	default:
		return insert + `
ON DUPLICATE KEY UPDATE
    instructions_json = VALUES(instructions_json),
    score = VALUES(score),
    created_at = VALUES(created_at)`
	}
}

func (s *SQLStore) Logs(ctx context.Context, runID string) (propose.TrialLogs, error) {
	query := s.rebind(fmt.Sprintf(`
SELECT trial_index, instructions_json, score FROM %s
WHERE run_id = ? ORDER BY trial_index`, s.table))

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	logs := make(propose.TrialLogs)
	for rows.Next() {
		var (
			index            int
			instructionsJSON string
			score            sql.NullFloat64
		)
		if err := rows.Scan(&index, &instructionsJSON, &score); err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}

		var entry propose.TrialLogEntry
		if err := json.Unmarshal([]byte(instructionsJSON), &entry.Instructions); err != nil {
			return nil, fmt.Errorf("failed to decode instructions of trial %d: %w", index, err)
		}
		if score.Valid {
			v := score.Float64
			entry.Score = &v
		}
		logs[index] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trials: %w", err)
	}
	if len(logs) == 0 {
		return nil, ErrRunNotFound
	}
	return logs, nil
}

func (s *SQLStore) Runs(ctx context.Context) ([]RunSummary, error) {
	query := fmt.Sprintf(`
SELECT run_id, COUNT(*), MAX(score) FROM %s
GROUP BY run_id ORDER BY run_id`, s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			summary RunSummary
			best    sql.NullFloat64
		)
		if err := rows.Scan(&summary.ID, &summary.Trials, &best); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if best.Valid {
			v := best.Float64
			summary.BestScore = &v
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// Close is a no-op; the connection belongs to the pool that opened it.
func (s *SQLStore) Close() error {
	return nil
}

func (s *SQLStore) rebind(query string) string {
	return config.Rebind(s.dialect, query)
}

var errNoPool = errors.New("database pool is required for the SQL trial store")
