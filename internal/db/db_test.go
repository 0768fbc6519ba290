package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	pair, err := Init(filepath.Join(t.TempDir(), "nested", "gateway.db"))
	require.NoError(t, err, "missing parent directories are created")
	t.Cleanup(func() { pair.Close() })

	// Schema is applied: both tables exist and accept writes.
	_, err = pair.Writer().Exec(`INSERT INTO presets (name, definition, created_at, updated_at) VALUES ('morning', '{}', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = pair.Writer().Exec(`INSERT INTO preset_runs (run_id, preset_name, status, started_at) VALUES ('r1', 'morning', 'started', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, pair.Reader().QueryRow("SELECT COUNT(*) FROM presets").Scan(&count))
	require.Equal(t, 1, count)

	// Name is the upsert key.
	_, err = pair.Writer().Exec(`INSERT INTO presets (name, definition, created_at, updated_at) VALUES ('morning', '{}', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.Error(t, err)
}

func TestInit_RequiresPath(t *testing.T) {
	_, err := Init("")
	require.Error(t, err)
}
