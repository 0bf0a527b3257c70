package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/instruct/pkg/auth"
	"github.com/kadirpekel/instruct/pkg/config"
)

func newLimiter(t *testing.T, store Store, rules ...Rule) (*Limiter, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	l, err := New(rules, store, WithClock(clock))
	require.NoError(t, err)
	return l, clock
}

func TestNew_Validation(t *testing.T) {
	store := NewMemoryStore()
	_, err := New(nil, store)
	assert.Error(t, err)

	_, err = New([]Rule{{Kind: KindRequests, Window: WindowMinute, Limit: 1}}, nil)
	assert.Error(t, err)

	_, err = New([]Rule{{Kind: KindRequests, Window: WindowMinute, Limit: 0}}, store)
	assert.Error(t, err)

	_, err = New([]Rule{{Kind: "bytes", Window: WindowMinute, Limit: 1}}, store)
	assert.Error(t, err)

	_, err = New([]Rule{
		{Kind: KindRequests, Window: WindowMinute, Limit: 1},
		{Kind: KindRequests, Window: WindowMinute, Limit: 2},
	}, store)
	assert.ErrorContains(t, err, "duplicate")
}

func TestLimiter_RequestWindow(t *testing.T) {
	l, clock := newLimiter(t, NewMemoryStore(), Rule{Kind: KindRequests, Window: WindowMinute, Limit: 2})
	ctx := context.Background()

	for i := range 2 {
		d, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}

	d, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "requests limit reached for the minute window (2/2)")
	assert.Equal(t, time.Minute, d.RetryAfter)
	require.Len(t, d.Usages, 1)
	assert.Equal(t, int64(0), d.Usages[0].Remaining)

	// denied requests are not counted
	usage, err := l.Usage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage[0].Current)

	d, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "callers are counted separately")

	clock.Advance(time.Minute)
	d, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts")
	assert.Equal(t, int64(1), d.Usages[0].Current)
}

func TestLimiter_TokenRule(t *testing.T) {
	l, clock := newLimiter(t, NewMemoryStore(),
		Rule{Kind: KindRequests, Window: WindowHour, Limit: 100},
		Rule{Kind: KindTokens, Window: WindowDay, Limit: 1000},
	)
	ctx := context.Background()

	d, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.NoError(t, l.Record(ctx, "alice", 1200))
	require.NoError(t, l.Record(ctx, "alice", 0))

	clock.Advance(time.Hour)
	d, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "tokens")
	assert.Equal(t, 23*time.Hour, d.RetryAfter)

	tight := d.Tightest()
	require.NotNil(t, tight)
	assert.Equal(t, KindTokens, tight.Kind)

	require.NoError(t, l.Reset(ctx, "alice"))
	d, err = l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_EmptyCaller(t *testing.T) {
	l, _ := newLimiter(t, NewMemoryStore(), Rule{Kind: KindRequests, Window: WindowMinute, Limit: 1})
	_, err := l.Allow(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyCaller)
	assert.ErrorIs(t, l.Record(context.Background(), "", 1), ErrEmptyCaller)
}

func TestLimiter_RunSweeps(t *testing.T) {
	store := NewMemoryStore()
	l, clock := newLimiter(t, store, Rule{Kind: KindRequests, Window: WindowMinute, Limit: 5})

	_, err := l.Allow(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, 10*time.Minute)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSQLStore(t *testing.T) {
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	dbCfg := &config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "quotas.db")}
	dbCfg.SetDefaults()
	rlCfg := &config.RateLimitConfig{Enabled: true, Store: config.RateLimitStoreSQL}
	rlCfg.SetDefaults()

	l, err := NewFromConfig(t.Context(), rlCfg, dbCfg, pool)
	require.NoError(t, err)
	require.NotNil(t, l)
	_, ok := l.store.(*SQLStore)
	require.True(t, ok)

	store := l.store
	ctx := t.Context()
	now := time.UnixMilli(1_700_000_000_000)
	key := Key{Caller: "alice", Kind: KindTokens, Window: WindowHour}

	c, err := store.Get(ctx, key, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Amount)

	c, err = store.Add(ctx, key, 40, now)
	require.NoError(t, err)
	assert.Equal(t, int64(40), c.Amount)
	assert.True(t, now.Add(time.Hour).Equal(c.WindowEnd))

	c, err = store.Add(ctx, key, 2, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.Amount)
	assert.True(t, now.Add(time.Hour).Equal(c.WindowEnd), "window is kept")

	later := now.Add(2 * time.Hour)
	c, err = store.Add(ctx, key, 5, later)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.Amount, "expired window restarts")

	require.NoError(t, store.Sweep(ctx, later.Add(2*time.Hour)))
	c, err = store.Get(ctx, key, later)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Amount)

	_, err = store.Add(ctx, key, 1, now)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "alice"))
	c, err = store.Get(ctx, key, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Amount)
}

func TestNewFromConfig(t *testing.T) {
	l, err := NewFromConfig(t.Context(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	cfg := &config.RateLimitConfig{Enabled: true}
	cfg.SetDefaults()
	l, err = NewFromConfig(t.Context(), cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []Rule{{Kind: KindRequests, Window: WindowMinute, Limit: 60}}, l.Rules())

	cfg.Store = config.RateLimitStoreSQL
	_, err = NewFromConfig(t.Context(), cfg, nil, nil)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter(t, NewMemoryStore(), Rule{Kind: KindRequests, Window: WindowMinute, Limit: 1})

	var seen string
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(claims *auth.Claims) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/propose", nil)
		req.RemoteAddr = "10.0.0.7:5123"
		if claims != nil {
			req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ip:10.0.0.7", seen)
	assert.Equal(t, "1", rec.Header().Get(HeaderLimit))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))

	rec = serve(nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	var body struct {
		Error string  `json:"error"`
		Usage []Usage `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "requests limit reached")
	require.Len(t, body.Usage, 1)

	rec = serve(&auth.Claims{Subject: "alice"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "sub:alice", seen)
}

func TestMiddleware_NilLimiter(t *testing.T) {
	h := Middleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWindowDuration(t *testing.T) {
	assert.Equal(t, time.Minute, WindowMinute.Duration())
	assert.Equal(t, 24*time.Hour, WindowDay.Duration())
	assert.Equal(t, 7*24*time.Hour, WindowWeek.Duration())
	assert.Equal(t, time.Hour, Window("fortnight").Duration())
}
