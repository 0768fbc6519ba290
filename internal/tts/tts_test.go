package tts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanCache(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "old.mp3")
	fresh := filepath.Join(dir, "fresh.mp3")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	require.NoError(t, CleanCache(dir, 24*time.Hour))

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err), "stale file removed")
	_, err = os.Stat(fresh)
	require.NoError(t, err, "fresh file kept")
}

func TestCleanCache_MissingDir(t *testing.T) {
	require.NoError(t, CleanCache(filepath.Join(t.TempDir(), "nope"), time.Hour))
}
