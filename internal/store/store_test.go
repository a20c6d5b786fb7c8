package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

func backends(t *testing.T) map[string]store.KV {
	t.Helper()
	ctx := context.Background()

	sqlite, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	out := map[string]store.KV{
		"memory": store.NewMemory(),
		"sqlite": sqlite,
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		r, err := store.NewRedis(ctx, store.RedisOptions{Addr: addr})
		require.NoError(t, err)
		out["redis"] = store.WithPrefix(r, "kvtest:"+t.Name()+":")
	}
	for _, kv := range out {
		t.Cleanup(func() { kv.Close() })
	}
	return out
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()

	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(ctx, "missing")
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, kv.Set(ctx, "session:b", []byte("2")))
			require.NoError(t, kv.Set(ctx, "session:a", []byte("1")))
			require.NoError(t, kv.Set(ctx, "queue", []byte("[]")))
			require.NoError(t, kv.Set(ctx, "SESSION:c", []byte("3")))
			require.NoError(t, kv.Set(ctx, "session:a", []byte("1b")))

			v, err := kv.Get(ctx, "session:a")
			require.NoError(t, err)
			assert.Equal(t, "1b", string(v))

			entries, err := kv.Scan(ctx, "session:")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "session:a", entries[0].Key)
			assert.Equal(t, "session:b", entries[1].Key)

			require.NoError(t, kv.Delete(ctx, "session:a"))
			_, err = kv.Get(ctx, "session:a")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestSQLiteScanEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	kv, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(ctx, "a_b", []byte("x")))
	require.NoError(t, kv.Set(ctx, "axb", []byte("y")))

	entries, err := kv.Scan(ctx, "a_")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_b", entries[0].Key)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	kv, err := store.NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "queue", []byte(`[{"id":"1"}]`)))
	require.NoError(t, kv.Close())

	kv, err = store.NewSQLite(ctx, path)
	require.NoError(t, err)
	defer kv.Close()

	v, err := kv.Get(ctx, "queue")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1"}]`, string(v))
}

func TestOpenPrefixesKeys(t *testing.T) {
	ctx := context.Background()
	kv, err := store.Open(ctx, store.Config{Driver: "memory", Prefix: "desk:"})
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))
	entries, err := kv.Scan(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Key)

	_, err = store.Open(ctx, store.Config{Driver: "etcd"})
	assert.Error(t, err)
}
