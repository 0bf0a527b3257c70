package trial

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/propose"
)

func ptr(v float64) *float64 { return &v }

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	dbCfg := &config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "trials.db")}
	dbCfg.SetDefaults()
	store, err := NewStoreFromConfig(t.Context(), dbCfg, pool, WithClock(clockwork.NewFakeClockAt(epoch)))
	require.NoError(t, err)
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(WithClock(clockwork.NewFakeClockAt(epoch))),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_RecordAndLogs(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			run := NewRunID()

			first, err := store.Record(ctx, run, Trial{Index: NextIndex, Instructions: map[int]string{0: "Classify."}, Score: ptr(0.5)})
			require.NoError(t, err)
			assert.Equal(t, 0, first.Index)
			assert.Equal(t, run, first.RunID)
			assert.True(t, epoch.Equal(first.CreatedAt))

			second, err := store.Record(ctx, run, Trial{Index: NextIndex, Instructions: map[int]string{0: "Label the tone."}})
			require.NoError(t, err)
			assert.Equal(t, 1, second.Index)

			logs, err := store.Logs(ctx, run)
			require.NoError(t, err)
			assert.Equal(t, propose.TrialLogs{
				0: {Instructions: map[int]string{0: "Classify."}, Score: ptr(0.5)},
				1: {Instructions: map[int]string{0: "Label the tone."}},
			}, logs)
		})
	}
}

func TestStore_RecordReplacesIndex(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := store.Record(ctx, "run", Trial{Index: 3, Instructions: map[int]string{0: "old"}, Score: ptr(0.1)})
			require.NoError(t, err)
			_, err = store.Record(ctx, "run", Trial{Index: 3, Instructions: map[int]string{0: "new"}, Score: ptr(0.9)})
			require.NoError(t, err)

			logs, err := store.Logs(ctx, "run")
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, "new", logs[3].Instructions[0])
			assert.InDelta(t, 0.9, *logs[3].Score, 1e-9)

			next, err := store.Record(ctx, "run", Trial{Index: NextIndex})
			require.NoError(t, err)
			assert.Equal(t, 4, next.Index)
		})
	}
}

func TestStore_Runs(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			for _, tr := range []struct {
				run   string
				score *float64
			}{
				{"b", ptr(0.2)}, {"a", nil}, {"b", ptr(0.7)}, {"b", nil},
			} {
				_, err := store.Record(ctx, tr.run, Trial{Index: NextIndex, Score: tr.score})
				require.NoError(t, err)
			}

			runs, err := store.Runs(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, RunSummary{ID: "a", Trials: 1}, runs[0])
			assert.Equal(t, "b", runs[1].ID)
			assert.Equal(t, 3, runs[1].Trials)
			require.NotNil(t, runs[1].BestScore)
			assert.InDelta(t, 0.7, *runs[1].BestScore, 1e-9)
		})
	}
}

func TestStore_Errors(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := store.Logs(ctx, "missing")
			assert.ErrorIs(t, err, ErrRunNotFound)

			_, err = store.Record(ctx, "", Trial{})
			assert.Error(t, err)

			_, err = store.Record(ctx, "run", Trial{Index: -2})
			assert.Error(t, err)
		})
	}
}

func TestMemoryStore_CopiesInput(t *testing.T) {
	store := NewMemoryStore()
	instructions := map[int]string{0: "Classify."}
	score := 0.4

	_, err := store.Record(t.Context(), "run", Trial{Index: 0, Instructions: instructions, Score: &score})
	require.NoError(t, err)
	instructions[0] = "mutated"
	score = 1

	logs, err := store.Logs(t.Context(), "run")
	require.NoError(t, err)
	assert.Equal(t, "Classify.", logs[0].Instructions[0])
	assert.InDelta(t, 0.4, *logs[0].Score, 1e-9)
}

func TestLogsFeedInstructionHistory(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	for i, s := range []float64{0.3, 0.9} {
		_, err := store.Record(ctx, "run", Trial{Index: i, Instructions: map[int]string{0: []string{"weak", "strong"}[i]}, Score: ptr(s)})
		require.NoError(t, err)
	}

	logs, err := store.Logs(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, "weak | Score: 0.3000\nstrong | Score: 0.9000", propose.InstructionHistory(logs, 0))
}

func TestNewSQLStore_Validation(t *testing.T) {
	_, err := NewSQLStore(t.Context(), nil, "sqlite", "")
	assert.Error(t, err)

	_, err = NewStoreFromConfig(t.Context(), &config.DatabaseConfig{Driver: "sqlite", Database: "x.db"}, nil)
	assert.ErrorIs(t, err, errNoPool)

	s := &SQLStore{dialect: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))
	s.dialect = "mysql"
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestNewStoreFromConfig_Memory(t *testing.T) {
	store, err := NewStoreFromConfig(t.Context(), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}
