package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()

	_, ok, err := kv.Get("taxchat:missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Set("taxchat:theme", []byte("dark")))
	v, ok, err := kv.Get("taxchat:theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "dark", string(v))

	require.NoError(t, kv.Set("taxchat:theme", []byte("green")))
	v, _, err = kv.Get("taxchat:theme")
	require.NoError(t, err)
	require.Equal(t, "green", string(v))

	require.NoError(t, kv.Delete("taxchat:theme"))
	_, ok, err = kv.Get("taxchat:theme")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Delete("taxchat:never-set"))
}

func TestMemory(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "taxchat.db")
	kv, err := Open(DriverSQLite, path)
	require.NoError(t, err)
	exerciseKV(t, kv)

	require.NoError(t, kv.Set("k", []byte("persisted")))
	require.NoError(t, kv.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := reopened.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", string(v))
}

func TestBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxchat.bolt")
	kv, err := Open(DriverBolt, path)
	require.NoError(t, err)
	exerciseKV(t, kv)

	require.NoError(t, kv.Set("k", []byte("persisted")))
	require.NoError(t, kv.Close())

	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := reopened.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", string(v))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("redis", "x")
	require.Error(t, err)
}
