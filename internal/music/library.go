package music

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

const (
	libraryPageSize = 500
	// Pause between every ten pages so a long sweep does not starve the
	// device's own control plane.
	libraryPauseEvery = 5000
	libraryPause      = 500 * time.Millisecond

	libraryStaleAfter = 24 * time.Hour
	reindexTaskID     = "library.reindex"
)

// CachedTrack is one library entry. Lowercased forms are precomputed; every
// search comparison runs on them.
type CachedTrack struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	URI    string `json:"uri"`

	TitleLower  string `json:"-"`
	ArtistLower string `json:"-"`
	AlbumLower  string `json:"-"`
}

// libraryIndex is one immutable generation of the index. A reindex builds a
// fresh instance and swaps it in whole.
type libraryIndex struct {
	tracks   map[string]*CachedTrack
	byAlbum  map[string][]string
	byArtist map[string][]string
	artists  []string
	builtAt  time.Time
}

// LibraryStatus summarises the index for the admin routes.
type LibraryStatus struct {
	Tracks    int       `json:"tracks"`
	Albums    int       `json:"albums"`
	Artists   int       `json:"artists"`
	IndexedAt time.Time `json:"indexedAt"`
	Indexing  bool      `json:"indexing"`
	Stale     bool      `json:"stale"`
	LastError string    `json:"lastError,omitempty"`
}

// Library indexes the household music library by paginated browse and
// serves structured-query search. A stale index keeps serving while a
// background reindex runs.
type Library struct {
	logger   zerolog.Logger
	registry *discovery.Registry
	client   *soap.Client
	sched    *scheduler.Scheduler
	path     string

	randomQueueLimit int
	reindexEvery     time.Duration

	mu        sync.RWMutex
	index     *libraryIndex
	indexing  bool
	lastError string
}

func NewLibrary(registry *discovery.Registry, client *soap.Client, sched *scheduler.Scheduler, path string, randomQueueLimit int, reindexEvery time.Duration, logger zerolog.Logger) *Library {
	if randomQueueLimit <= 0 {
		randomQueueLimit = 50
	}
	return &Library{
		logger:           logger.With().Str("component", "library").Logger(),
		registry:         registry,
		client:           client,
		sched:            sched,
		path:             path,
		randomQueueLimit: randomQueueLimit,
		reindexEvery:     reindexEvery,
	}
}

// Start loads the persisted index and schedules the periodic reindex. When
// nothing is on disk the first reindex runs in the background.
func (l *Library) Start() {
	if err := l.load(); err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn().Err(err).Msg("could not load library cache")
		}
		l.sched.ScheduleTimeout("library.initial", func() { l.runReindex() }, 30*time.Second, scheduler.TaskOptions{Unref: true})
	}

	if l.reindexEvery > 0 {
		l.sched.ScheduleInterval(reindexTaskID, l.runReindex, l.reindexEvery, scheduler.TaskOptions{Unref: true})
	}
}

func (l *Library) runReindex() {
	if err := l.Reindex(context.Background()); err != nil {
		l.logger.Warn().Err(err).Msg("library reindex failed")
	}
}

// Reindex sweeps the library root and swaps in a fresh index. Only one
// reindex runs at a time; concurrent calls are dropped.
func (l *Library) Reindex(ctx context.Context) error {
	l.mu.Lock()
	if l.indexing {
		l.mu.Unlock()
		return nil
	}
	l.indexing = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.indexing = false
		l.mu.Unlock()
	}()

	devices := l.registry.GetAll()
	if len(devices) == 0 {
		err := fmt.Errorf("no players available")
		l.noteError(err)
		return err
	}
	p := player.New(devices[0], l.client)

	started := time.Now()
	var artists []string
	var tracks []*CachedTrack

	// The artist roster and the track sweep are independent reads; run them
	// in parallel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		artists, err = l.sweepArtists(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		tracks, err = l.sweepTracks(gctx, p)
		return err
	})
	if err := g.Wait(); err != nil {
		l.noteError(err)
		return err
	}

	index := buildIndex(artists, tracks)

	l.mu.Lock()
	l.index = index
	l.lastError = ""
	l.mu.Unlock()

	l.logger.Info().
		Int("tracks", len(index.tracks)).
		Int("artists", len(index.artists)).
		Dur("took", time.Since(started)).
		Msg("library indexed")
	return l.persist(index)
}

func (l *Library) sweepArtists(ctx context.Context, p *player.Player) ([]string, error) {
	var out []string
	for offset := 0; ; offset += libraryPageSize {
		pageCtx, cancel := context.WithTimeout(ctx, soap.BrowseTimeout)
		page, err := p.Browse(pageCtx, "A:ALBUMARTIST", offset, libraryPageSize)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("browse album artists: %w", err)
		}
		for _, item := range page.Items {
			if item.Title != "" {
				out = append(out, item.Title)
			}
		}
		if offset+libraryPageSize >= page.TotalMatches || len(page.Items) == 0 {
			return out, nil
		}
	}
}

func (l *Library) sweepTracks(ctx context.Context, p *player.Player) ([]*CachedTrack, error) {
	var out []*CachedTrack
	for offset := 0; ; offset += libraryPageSize {
		pageCtx, cancel := context.WithTimeout(ctx, soap.BrowseTimeout)
		page, err := p.Browse(pageCtx, "A:TRACKS", offset, libraryPageSize)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("browse tracks: %w", err)
		}
		for _, item := range page.Items {
			out = append(out, &CachedTrack{
				ID:     item.ID,
				Title:  item.Title,
				Artist: item.Creator,
				Album:  item.Album,
				URI:    item.Res,
			})
		}
		if offset+libraryPageSize >= page.TotalMatches || len(page.Items) == 0 {
			return out, nil
		}
		if (offset+libraryPageSize)%libraryPauseEvery == 0 {
			select {
			case <-time.After(libraryPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

func buildIndex(artists []string, tracks []*CachedTrack) *libraryIndex {
	index := &libraryIndex{
		tracks:   make(map[string]*CachedTrack, len(tracks)),
		byAlbum:  make(map[string][]string),
		byArtist: make(map[string][]string),
		artists:  artists,
		builtAt:  time.Now(),
	}
	for _, t := range tracks {
		t.TitleLower = strings.ToLower(t.Title)
		t.ArtistLower = strings.ToLower(t.Artist)
		t.AlbumLower = strings.ToLower(t.Album)
		index.tracks[t.ID] = t
		if t.AlbumLower != "" {
			index.byAlbum[t.AlbumLower] = append(index.byAlbum[t.AlbumLower], t.ID)
		}
		if t.ArtistLower != "" {
			index.byArtist[t.ArtistLower] = append(index.byArtist[t.ArtistLower], t.ID)
		}
	}
	return index
}

// current returns the live index, or nil before the first build.
func (l *Library) current() *libraryIndex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index
}

// Artists returns the album-artist roster for typeahead.
func (l *Library) Artists() ([]string, error) {
	index := l.current()
	if index == nil {
		return nil, apperrors.LibraryNotReady()
	}
	out := make([]string, len(index.artists))
	copy(out, index.artists)
	return out, nil
}

// Status reports index size and freshness.
func (l *Library) Status() LibraryStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	status := LibraryStatus{Indexing: l.indexing, LastError: l.lastError}
	if l.index != nil {
		status.Tracks = len(l.index.tracks)
		status.Albums = len(l.index.byAlbum)
		status.Artists = len(l.index.artists)
		status.IndexedAt = l.index.builtAt
		status.Stale = time.Since(l.index.builtAt) > libraryStaleAfter
	}
	return status
}

// Tracks returns every cached track, for the detailed admin route.
func (l *Library) Tracks() ([]CachedTrack, error) {
	index := l.current()
	if index == nil {
		return nil, apperrors.LibraryNotReady()
	}
	out := make([]CachedTrack, 0, len(index.tracks))
	for _, t := range index.tracks {
		out = append(out, *t)
	}
	return out, nil
}

// Persistence

type storedLibrary struct {
	Artists   []string      `json:"artists"`
	Tracks    []CachedTrack `json:"tracks"`
	IndexedAt time.Time     `json:"indexedAt"`
}

func (l *Library) load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	var stored storedLibrary
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}

	tracks := make([]*CachedTrack, len(stored.Tracks))
	for i := range stored.Tracks {
		tracks[i] = &stored.Tracks[i]
	}
	index := buildIndex(stored.Artists, tracks)
	index.builtAt = stored.IndexedAt

	l.mu.Lock()
	l.index = index
	l.mu.Unlock()
	return nil
}

func (l *Library) persist(index *libraryIndex) error {
	stored := storedLibrary{Artists: index.artists, IndexedAt: index.builtAt}
	stored.Tracks = make([]CachedTrack, 0, len(index.tracks))
	for _, t := range index.tracks {
		stored.Tracks = append(stored.Tracks, *t)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return renameio.WriteFile(l.path, data, 0o644)
}

func (l *Library) noteError(err error) {
	l.mu.Lock()
	l.lastError = err.Error()
	l.mu.Unlock()
}
