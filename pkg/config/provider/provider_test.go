package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"":          TypeFile,
		"file":      TypeFile,
		"consul":    TypeConsul,
		"etcd":      TypeEtcd,
		"zk":        TypeZookeeper,
		"zookeeper": TypeZookeeper,
	}
	for in, want := range tests {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseType("s3")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(ProviderConfig{Type: TypeFile})
	assert.ErrorContains(t, err, "path is required")

	_, err = New(ProviderConfig{Type: TypeEtcd, Path: "/instruct"})
	assert.ErrorContains(t, err, "endpoints are required")

	_, err = New(ProviderConfig{Type: TypeZookeeper, Path: "/instruct"})
	assert.ErrorContains(t, err, "endpoints are required")

	_, err = New(ProviderConfig{Type: "s3", Path: "x"})
	assert.Error(t, err)
}

func TestNewConsulProvider(t *testing.T) {
	p, err := New(ProviderConfig{Type: TypeConsul, Path: "/instruct/config", Endpoints: []string{"127.0.0.1:8500"}})
	require.NoError(t, err)
	assert.Equal(t, TypeConsul, p.Type())
	assert.Equal(t, "instruct/config", p.(*ConsulProvider).key)
	assert.NoError(t, p.Close())
}

func TestFileProvider_LoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruct.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: a\n", string(data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := p.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("name: b\n"), 0o644))
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestFileProvider_MissingFile(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	_, err = p.Load(context.Background())
	assert.Error(t, err)
}

func TestFileProvider_ChangedComparesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruct.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0o644))

	p, err := NewFileProvider(path, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, path, p.Path())

	_, err = p.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, p.changed())

	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0o644))
	assert.False(t, p.changed(), "rewriting identical content is not a change")

	require.NoError(t, os.WriteFile(path, []byte("name: b\n"), 0o644))
	assert.True(t, p.changed())
	assert.False(t, p.changed())

	require.NoError(t, os.Remove(path))
	assert.False(t, p.changed())
}

func TestSignal(t *testing.T) {
	ch := make(chan struct{}, 1)
	assert.True(t, signal(ch))
	assert.False(t, signal(ch))
}
