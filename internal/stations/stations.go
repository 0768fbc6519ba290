// Package stations merges favourites-derived and API-derived Pandora
// station lists into one name-indexed catalogue.
package stations

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

const (
	favoritesRefreshEvery = 5 * time.Minute
	apiRefreshEvery       = 24 * time.Hour
	apiBackoff            = 6 * time.Hour

	favoritesTaskID = "stations.favorites"
	apiTaskID       = "stations.api"
)

// Source tags where a station record came from.
type Source string

const (
	SourceFavorite Source = "favorite"
	SourceAPI      Source = "api"
	SourceBoth     Source = "both"
)

// Record is one saved station.
type Record struct {
	StationID     string `json:"stationId"`
	StationName   string `json:"stationName"`
	URI           string `json:"uri,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
	Source        Source `json:"source"`
	SessionNumber int    `json:"sn,omitempty"`
	Flags         int    `json:"flags,omitempty"`
}

// ErrUpstreamDenied marks an API failure that should trigger the multi-hour
// backoff (bad credentials, quota exhausted).
var ErrUpstreamDenied = errors.New("upstream denied")

// API lists stations from the vendor service. Implementations live outside
// this package; a nil API leaves the manager favourites-only.
type API interface {
	ListStations(ctx context.Context) ([]Record, error)
}

// FeedbackAPI is implemented by API backends that can rate the currently
// playing track on a station.
type FeedbackAPI interface {
	Feedback(ctx context.Context, stationID string, up bool) error
}

// pandoraStation extracts the station id from a favourite transport URI,
// after percent-decoding ("ST:" prefix).
var pandoraStation = regexp.MustCompile(`^x-sonosapi-radio:ST:([0-9]+)`)

// Status summarises the table for the status route.
type Status struct {
	Stations         int       `json:"stations"`
	LastFavorites    time.Time `json:"lastFavoritesRefresh"`
	LastAPI          time.Time `json:"lastApiRefresh"`
	InBackoff        bool      `json:"inBackoff"`
	BackoffRemaining string    `json:"backoffRemaining,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
}

// Manager owns the station table. It is the only mutator.
type Manager struct {
	logger   zerolog.Logger
	registry *discovery.Registry
	client   *soap.Client
	sched    *scheduler.Scheduler
	api      API
	path     string

	mu           sync.RWMutex
	byID         map[string]*Record
	backoffUntil time.Time
	lastFav      time.Time
	lastAPI      time.Time
	lastError    string
}

func NewManager(registry *discovery.Registry, client *soap.Client, sched *scheduler.Scheduler, api API, path string, logger zerolog.Logger) *Manager {
	return &Manager{
		logger:   logger.With().Str("component", "stations").Logger(),
		registry: registry,
		client:   client,
		sched:    sched,
		api:      api,
		path:     path,
		byID:     make(map[string]*Record),
	}
}

// Start loads the persisted API list, refreshes favourites once, and
// schedules both refresh cycles.
func (m *Manager) Start() {
	if err := m.load(); err != nil && !os.IsNotExist(err) {
		m.logger.Warn().Err(err).Msg("could not load station cache")
	}

	m.sched.ScheduleInterval(favoritesTaskID, func() {
		if err := m.RefreshFavorites(context.Background()); err != nil {
			m.logger.Debug().Err(err).Msg("favourites refresh failed")
		}
	}, favoritesRefreshEvery, scheduler.TaskOptions{Unref: true})

	if m.api != nil {
		m.sched.ScheduleInterval(apiTaskID, func() { m.refreshAPI() }, apiRefreshEvery, scheduler.TaskOptions{Unref: true})
	}

	m.sched.ScheduleTimeout("stations.initial", func() {
		if err := m.RefreshFavorites(context.Background()); err != nil {
			m.logger.Debug().Err(err).Msg("initial favourites refresh failed")
		}
		if m.api != nil {
			m.refreshAPI()
		}
	}, 15*time.Second, scheduler.TaskOptions{Unref: true})
}

// RefreshFavorites mines the device favourites container for stations of
// the target service and merges them in. Favourite-sourced entries override
// API-sourced ones; matched records become SourceBoth.
func (m *Manager) RefreshFavorites(ctx context.Context) error {
	devices := m.registry.GetAll()
	if len(devices) == 0 {
		return errors.New("no players available")
	}

	browseCtx, cancel := context.WithTimeout(ctx, soap.BrowseTimeout)
	defer cancel()
	items, err := player.New(devices[0], m.client).Favorites(browseCtx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		uri, err := url.PathUnescape(item.Res)
		if err != nil {
			uri = item.Res
		}
		match := pandoraStation.FindStringSubmatch(uri)
		if match == nil {
			continue
		}

		record := &Record{
			StationID:   match[1],
			StationName: item.Title,
			URI:         item.Res,
			Metadata:    item.ResMD,
			Source:      SourceFavorite,
		}
		if idx := strings.IndexByte(uri, '?'); idx >= 0 {
			if values, err := url.ParseQuery(uri[idx+1:]); err == nil {
				record.SessionNumber, _ = strconv.Atoi(values.Get("sn"))
				record.Flags, _ = strconv.Atoi(values.Get("flags"))
			}
		}

		if existing, ok := m.byID[record.StationID]; ok && existing.Source != SourceFavorite {
			record.Source = SourceBoth
		}
		m.byID[record.StationID] = record
	}
	m.lastFav = time.Now()
	return nil
}

// refreshAPI pulls the upstream station list, honouring the backoff window.
func (m *Manager) refreshAPI() {
	m.mu.RLock()
	inBackoff := time.Now().Before(m.backoffUntil)
	m.mu.RUnlock()
	if inBackoff {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := m.api.ListStations(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		if errors.Is(err, ErrUpstreamDenied) {
			m.backoffUntil = time.Now().Add(apiBackoff)
		}
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("station api refresh failed")
		return
	}

	m.mu.Lock()
	for i := range records {
		record := records[i]
		record.Source = SourceAPI
		if existing, ok := m.byID[record.StationID]; ok && existing.Source != SourceAPI {
			// Favourite entries win; record the overlap.
			existing.Source = SourceBoth
			continue
		}
		m.byID[record.StationID] = &record
	}
	m.lastAPI = time.Now()
	m.lastError = ""
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		m.logger.Warn().Err(err).Msg("could not persist station cache")
	}
}

// FindStation resolves a name with priority exact > prefix > substring >
// word-start, all case-insensitive.
func (m *Manager) FindStation(name string) (Record, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return Record{}, apperrors.StationNotFound(name)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Record, 0, len(m.byID))
	for _, r := range m.byID {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StationName < records[j].StationName })

	for _, pass := range []func(string) bool{
		func(n string) bool { return n == want },
		func(n string) bool { return strings.HasPrefix(n, want) },
		func(n string) bool { return strings.Contains(n, want) },
		func(n string) bool {
			for _, word := range strings.Fields(n) {
				if strings.HasPrefix(word, want) {
					return true
				}
			}
			return false
		},
	} {
		for _, r := range records {
			if pass(strings.ToLower(r.StationName)) {
				return *r, nil
			}
		}
	}
	return Record{}, apperrors.StationNotFound(name)
}

// Stations returns the table sorted by name.
func (m *Manager) Stations() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.byID))
	for _, r := range m.byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationName < out[j].StationName })
	return out
}

// Clear drops the table; the next refresh cycle rebuilds it.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.byID = make(map[string]*Record)
	m.mu.Unlock()
}

// StationIDFromURI extracts the station id from a transport URI, or returns
// the empty string for non-station URIs.
func StationIDFromURI(uri string) string {
	decoded, err := url.PathUnescape(uri)
	if err != nil {
		decoded = uri
	}
	if match := pandoraStation.FindStringSubmatch(decoded); match != nil {
		return match[1]
	}
	return ""
}

// Feedback rates the current track on a station. Requires an API backend
// that supports rating.
func (m *Manager) Feedback(ctx context.Context, stationID string, up bool) error {
	fb, ok := m.api.(FeedbackAPI)
	if !ok {
		return apperrors.NotImplemented("station feedback")
	}
	return fb.Feedback(ctx, stationID, up)
}

// IsInBackoff reports whether API refreshes are currently suspended.
func (m *Manager) IsInBackoff() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Now().Before(m.backoffUntil)
}

// BackoffRemaining returns how long the API backoff has left to run.
func (m *Manager) BackoffRemaining() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remaining := time.Until(m.backoffUntil); remaining > 0 {
		return remaining
	}
	return 0
}

// GetStatus reports table size, refresh times and backoff state.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := Status{
		Stations:      len(m.byID),
		LastFavorites: m.lastFav,
		LastAPI:       m.lastAPI,
		InBackoff:     time.Now().Before(m.backoffUntil),
		LastError:     m.lastError,
	}
	if status.InBackoff {
		status.BackoffRemaining = time.Until(m.backoffUntil).Round(time.Second).String()
	}
	return status
}

// Persistence covers only API-derived records; favourites are re-mined from
// the device on every start.

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		r := records[i]
		r.Source = SourceAPI
		m.byID[r.StationID] = &r
	}
	return nil
}

func (m *Manager) persist() error {
	m.mu.RLock()
	var records []Record
	for _, r := range m.byID {
		if r.Source == SourceAPI || r.Source == SourceBoth {
			records = append(records, *r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].StationID < records[j].StationID })
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(m.path, data, 0o644)
}
