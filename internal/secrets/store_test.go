package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

func TestStatic(t *testing.T) {
	t.Parallel()

	store := Static{"db_password": "hunter2", "api_key": "abc123"}

	value, ok := store.Get("db_password")
	require.True(t, ok)
	require.Equal(t, "hunter2", value)

	_, ok = store.Get("missing")
	require.False(t, ok)

	require.Equal(t, []string{"api_key", "db_password"}, store.Names())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_password: hunter2\napi_key: abc123\n"), 0o600))

	store, err := LoadFile(path)
	require.NoError(t, err)

	value, ok := store.Get("db_password")
	require.True(t, ok)
	require.Equal(t, "hunter2", value)
	require.Len(t, store.Names(), 2)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var parseErr *nexuserrors.ParseError
	require.ErrorAs(t, err, &parseErr)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("not: [a: flat"), 0o600))
	_, err = LoadFile(bad)
	require.ErrorAs(t, err, &parseErr)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("NEXUS_SECRET_DB_PASSWORD", "hunter2")
	t.Setenv("NEXUS_SECRET_API_KEY", "abc123")
	t.Setenv("UNRELATED_VAR", "nope")

	store := FromEnv("NEXUS_SECRET_")

	value, ok := store.Get("db_password")
	require.True(t, ok)
	require.Equal(t, "hunter2", value)

	_, ok = store.Get("unrelated_var")
	require.False(t, ok)
	require.Contains(t, store.Names(), "api_key")
}
