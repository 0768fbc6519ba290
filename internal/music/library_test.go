package music

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
)

func testTracks() []*CachedTrack {
	return []*CachedTrack{
		{ID: "T1", Title: "Holiday", Artist: "Green Day", Album: "American Idiot", URI: "x-file-cifs://nas/gd/holiday.mp3"},
		{ID: "T2", Title: "Jesus of Suburbia", Artist: "Green Day", Album: "American Idiot", URI: "x-file-cifs://nas/gd/jos.mp3"},
		{ID: "T3", Title: "Everlong", Artist: "Foo Fighters", Album: "The Colour and the Shape", URI: "x-file-cifs://nas/ff/everlong.mp3"},
		{ID: "T4", Title: "My Hero", Artist: "Foo Fighters", Album: "The Colour and the Shape", URI: "x-file-cifs://nas/ff/myhero.mp3"},
		{ID: "T5", Title: "The Pretender", Artist: "Foo Fighters", Album: "Echoes, Silence, Patience & Grace", URI: "x-file-cifs://nas/ff/pretender.mp3"},
	}
}

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	path := filepath.Join(t.TempDir(), "library.json")
	l := NewLibrary(nil, nil, nil, path, 3, 0, zerolog.Nop())
	l.index = buildIndex([]string{"Green Day", "Foo Fighters"}, testTracks())
	return l
}

func titles(tracks []CachedTrack) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

func TestLibrary_Search_NotReady(t *testing.T) {
	l := NewLibrary(nil, nil, nil, "", 0, 0, zerolog.Nop())
	_, err := l.Search("holiday")
	require.Equal(t, apperrors.KindLibraryNotReady, apperrors.Ensure(err).Kind)
}

func TestLibrary_Search_Title(t *testing.T) {
	l := newTestLibrary(t)
	hits, err := l.Search("holiday")
	require.NoError(t, err)
	require.Equal(t, []string{"Holiday"}, titles(hits))
}

func TestLibrary_Search_Artist(t *testing.T) {
	l := newTestLibrary(t)
	hits, err := l.Search("artist:green day")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Holiday", "Jesus of Suburbia"}, titles(hits))

	// A leading "the" on either side does not break the match.
	hits, err = l.Search("artist:the foo fighters")
	require.NoError(t, err)
	require.Len(t, hits, 3)
}

func TestLibrary_Search_Album(t *testing.T) {
	l := newTestLibrary(t)
	hits, err := l.Search("album:american idiot")
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestLibrary_Search_TwoFieldConjunction(t *testing.T) {
	l := newTestLibrary(t)
	hits, err := l.Search("holiday artist:green day")
	require.NoError(t, err)
	require.Equal(t, []string{"Holiday"}, titles(hits))

	// A failed conjunction retries the joined term through the fuzzy pass.
	hits, err = l.Search("everlong artist:green day")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Holiday", "Jesus of Suburbia"}, titles(hits))

	hits, err = l.Search("artist:nonexistent")
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestLibrary_Search_AlbumFallsBackToTitle(t *testing.T) {
	l := newTestLibrary(t)
	// No album named "everlong": the single-field search retries the term
	// against titles.
	hits, err := l.Search("album:everlong")
	require.NoError(t, err)
	require.Equal(t, []string{"Everlong"}, titles(hits))
}

func TestLibrary_Search_FuzzyAlbumPrefix(t *testing.T) {
	l := newTestLibrary(t)
	// "ameri" matches no title; the fuzzy pass finds the album prefix and
	// returns that album's tracks.
	hits, err := l.Search("ameri")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Holiday", "Jesus of Suburbia"}, titles(hits))
}

func TestLibrary_Search_FuzzyArtistPrefix(t *testing.T) {
	l := newTestLibrary(t)
	hits, err := l.Search("foo fighters live")
	require.NoError(t, err)
	require.Len(t, hits, 3)
}

func TestLibrary_Search_EmptyDrawsRandom(t *testing.T) {
	l := newTestLibrary(t)
	hits, err := l.Search("")
	require.NoError(t, err)
	require.Len(t, hits, 3, "empty query draws randomQueueLimit tracks")

	seen := map[string]bool{}
	for _, h := range hits {
		require.False(t, seen[h.ID], "random draw must be distinct")
		seen[h.ID] = true
	}
}

func TestLibrary_SearchContext_PrefixesTerm(t *testing.T) {
	l := newTestLibrary(t)

	results, err := l.SearchContext(context.Background(), TypeArtist, "green day", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotEmpty(t, results[0].URI)

	results, err = l.SearchContext(context.Background(), TypeAlbum, "american idiot", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// An already-prefixed term is not double-prefixed.
	results, err = l.SearchContext(context.Background(), TypeArtist, "artist:green day", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestLibrary_Status(t *testing.T) {
	l := newTestLibrary(t)
	status := l.Status()
	require.Equal(t, 5, status.Tracks)
	require.Equal(t, 3, status.Albums)
	require.Equal(t, 2, status.Artists)
	require.False(t, status.Stale)
	require.False(t, status.Indexing)
}

func TestLibrary_PersistRoundTrip(t *testing.T) {
	l := newTestLibrary(t)
	require.NoError(t, l.persist(l.index))

	reloaded := NewLibrary(nil, nil, nil, l.path, 3, 0, zerolog.Nop())
	require.NoError(t, reloaded.load())

	hits, err := reloaded.Search("artist:green day")
	require.NoError(t, err)
	require.Len(t, hits, 2, "lowercased search forms are rebuilt on load")
	require.Equal(t, l.index.builtAt.Unix(), reloaded.index.builtAt.Unix())

	artists, err := reloaded.Artists()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Green Day", "Foo Fighters"}, artists)
}
