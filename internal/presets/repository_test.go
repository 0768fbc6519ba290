package presets

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/db"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })
	return NewRepository(pair)
}

func intPtr(v int) *int { return &v }

func morningPreset() Preset {
	return Preset{
		Name: "morning",
		Players: []Member{
			{RoomName: "Kitchen", Volume: intPtr(20)},
			{RoomName: "Den", Volume: intPtr(15)},
		},
		Favorite:    "Jazz24",
		PlayMode:    "NORMAL",
		PauseOthers: true,
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Save(morningPreset()))

	got, err := repo.GetByName("morning")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "morning", got.Name)
	require.Len(t, got.Players, 2)
	require.Equal(t, 20, *got.Players[0].Volume)
	require.True(t, got.PauseOthers)
	require.False(t, got.CreatedAt.IsZero())

	// Lookups are case-insensitive.
	got, err = repo.GetByName("MORNING")
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = repo.GetByName("evening")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRepository_SaveUpserts(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Save(morningPreset()))

	updated := morningPreset()
	updated.Favorite = "Classical KUSC"
	require.NoError(t, repo.Save(updated))

	got, err := repo.GetByName("morning")
	require.NoError(t, err)
	require.Equal(t, "Classical KUSC", got.Favorite)

	list, err := repo.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRepository_ListOrdered(t *testing.T) {
	repo := newTestRepository(t)
	for _, name := range []string{"evening", "morning", "dinner"} {
		p := morningPreset()
		p.Name = name
		require.NoError(t, repo.Save(p))
	}

	list, err := repo.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "dinner", list[0].Name)
	require.Equal(t, "evening", list[1].Name)
	require.Equal(t, "morning", list[2].Name)
}

func TestRepository_Delete(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Save(morningPreset()))

	require.NoError(t, repo.Delete("Morning"))
	got, err := repo.GetByName("morning")
	require.NoError(t, err)
	require.Nil(t, got)

	require.True(t, errors.Is(repo.Delete("morning"), sql.ErrNoRows))
}

func TestRepository_RunLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	require.NoError(t, repo.Save(morningPreset()))

	okRun, err := repo.RecordRun("morning")
	require.NoError(t, err)
	require.NotEmpty(t, okRun)
	require.NoError(t, repo.CompleteRun(okRun, RunCompleted, nil))

	badRun, err := repo.RecordRun("morning")
	require.NoError(t, err)
	require.NoError(t, repo.CompleteRun(badRun, RunFailed, errors.New("no players available")))

	runs, err := repo.RecentRuns("morning", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]Run{}
	for _, run := range runs {
		byID[run.RunID] = run
	}
	require.Equal(t, RunCompleted, byID[okRun].Status)
	require.Empty(t, byID[okRun].Error)
	require.NotNil(t, byID[okRun].EndedAt)
	require.Equal(t, RunFailed, byID[badRun].Status)
	require.Equal(t, "no players available", byID[badRun].Error)

	limited, err := repo.RecentRuns("morning", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := repo.RecentRuns("evening", 10)
	require.NoError(t, err)
	require.Empty(t, none)
}
