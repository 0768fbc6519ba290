// Package services maintains the per-household table of third-party music
// service descriptors, refreshed from a live player once a day.
package services

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/topology"
)

const (
	refreshEvery   = 24 * time.Hour
	initialRetryIn = 30 * time.Second

	refreshTaskID = "services.refresh"
	initialTaskID = "services.initial"
)

// ServiceType classifies how a service's content is played.
type ServiceType string

const (
	TypeStream   ServiceType = "stream"
	TypeRadio    ServiceType = "radio"
	TypeHLS      ServiceType = "hls"
	TypeSpotify  ServiceType = "spotify"
	TypePlaylist ServiceType = "playlist"
	TypeLibrary  ServiceType = "library"
	TypeMP3Radio ServiceType = "mp3radio"
	TypeUnknown  ServiceType = "unknown"
)

// uriTypeMarkers maps transport URI scheme markers to service types.
var uriTypeMarkers = []struct {
	marker string
	typ    ServiceType
}{
	{"x-sonos-spotify", TypeSpotify},
	{"x-sonosapi-stream", TypeStream},
	{"x-sonosapi-radio", TypeRadio},
	{"x-sonosapi-hls", TypeHLS},
	{"x-rincon-cpcontainer", TypePlaylist},
	{"x-rincon-mp3radio", TypeMP3Radio},
	{"x-file-cifs", TypeLibrary},
	{"x-sonos-http", TypeLibrary},
}

// TypeFromURI infers a service type from a transport or favourite URI.
func TypeFromURI(uri string) ServiceType {
	for _, m := range uriTypeMarkers {
		if strings.HasPrefix(uri, m.marker) {
			return m.typ
		}
	}
	return TypeUnknown
}

// Descriptor is one normalised service entry. Identity is the numeric ID.
type Descriptor struct {
	ID             int         `json:"id"`
	Name           string      `json:"name"`
	InternalName   string      `json:"internalName"`
	URI            string      `json:"uri"`
	SecureURI      string      `json:"secureUri"`
	AuthPolicy     string      `json:"authPolicy"`
	Capabilities   int         `json:"capabilities"`
	ContainerType  string      `json:"containerType"`
	Type           ServiceType `json:"type"`
	IsTuneIn       bool        `json:"isTuneIn"`
	IsPersonalized bool        `json:"isPersonalized"`
	IsDiscovered   bool        `json:"isDiscovered"`
}

// Status summarises the cache for diagnostics.
type Status struct {
	Count       int       `json:"count"`
	LastRefresh time.Time `json:"lastRefresh"`
	LastError   string    `json:"lastError,omitempty"`
}

// Cache holds the household service table. It is the only mutator of its
// map; discovered entries survive refreshes.
type Cache struct {
	logger   zerolog.Logger
	registry *discovery.Registry
	topo     *topology.Manager
	client   *soap.Client
	sched    *scheduler.Scheduler
	path     string

	mu          sync.RWMutex
	services    map[int]*Descriptor
	lastRefresh time.Time
	lastError   string
}

func NewCache(registry *discovery.Registry, topo *topology.Manager, client *soap.Client, sched *scheduler.Scheduler, path string, logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "services").Logger(),
		registry: registry,
		topo:     topo,
		client:   client,
		sched:    sched,
		path:     path,
		services: make(map[int]*Descriptor),
	}
}

// Start loads any persisted table, then refreshes now and every 24 hours.
// A failed initial refresh retries on a short timer until it succeeds.
func (c *Cache) Start() {
	if err := c.load(); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Msg("could not load services cache")
	}

	c.sched.ScheduleInterval(refreshTaskID, func() {
		if err := c.Refresh(); err != nil {
			c.logger.Warn().Err(err).Msg("services refresh failed")
		}
	}, refreshEvery, scheduler.TaskOptions{Unref: true})

	c.scheduleInitial()
}

func (c *Cache) scheduleInitial() {
	c.sched.ScheduleTimeout(initialTaskID, func() {
		if err := c.Refresh(); err != nil {
			c.logger.Debug().Err(err).Msg("initial services refresh failed, will retry")
			c.scheduleInitial()
		}
	}, initialRetryIn, scheduler.TaskOptions{Unref: true})
}

// Refresh pulls ListAvailableServices from the preferred player and rebuilds
// the table. Discovered entries are carried over.
func (c *Cache) Refresh() error {
	device := c.preferredDevice()
	if device == nil {
		err := fmt.Errorf("no players available")
		c.noteError(err)
		return err
	}

	ctx, cancel := soap.ControlContext()
	defer cancel()

	list, err := player.New(device, c.client).ListAvailableServices(ctx)
	if err != nil {
		c.noteError(err)
		return err
	}

	parsed, err := parseDescriptorList(list)
	if err != nil {
		c.noteError(err)
		return err
	}

	c.mu.Lock()
	for id, svc := range c.services {
		if svc.IsDiscovered {
			if _, ok := parsed[id]; !ok {
				parsed[id] = svc
			}
		}
	}
	c.services = parsed
	c.lastRefresh = time.Now()
	c.lastError = ""
	count := len(parsed)
	c.mu.Unlock()

	c.logger.Info().Int("services", count).Str("via", device.RoomName).Msg("services cache refreshed")
	return c.persist()
}

// preferredDevice picks the refresh target: a coordinator first, then any
// non-portable model, then whatever is left.
func (c *Cache) preferredDevice() *discovery.Device {
	devices := c.registry.GetAll()
	if len(devices) == 0 {
		return nil
	}
	for _, d := range devices {
		if c.topo.CoordinatorOf(d.UUID) == discovery.NormalizeUUID(d.UUID) {
			return d
		}
	}
	for _, d := range devices {
		if !d.Portable {
			return d
		}
	}
	return devices[0]
}

// GetServices returns the table ordered by id.
func (c *Cache) GetServices() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByID looks a service up by numeric id.
func (c *Cache) ByID(id int) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[id]
	if !ok {
		return Descriptor{}, false
	}
	return *svc, true
}

// ByName looks a service up by case-insensitive display name.
func (c *Cache) ByName(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, svc := range c.services {
		if strings.EqualFold(svc.Name, name) {
			return *svc, true
		}
	}
	return Descriptor{}, false
}

// AddDiscoveredServiceID clones the canonical entry under a new id seen in
// the wild (favourites may carry account-specific service ids the descriptor
// list does not). Discovered clones survive refreshes.
func (c *Cache) AddDiscoveredServiceID(id int, canonicalName string) {
	c.mu.Lock()
	if _, ok := c.services[id]; ok {
		c.mu.Unlock()
		return
	}
	var canonical *Descriptor
	for _, svc := range c.services {
		if strings.EqualFold(svc.Name, canonicalName) {
			canonical = svc
			break
		}
	}
	if canonical == nil {
		c.mu.Unlock()
		c.logger.Debug().Int("id", id).Str("name", canonicalName).Msg("no canonical service to clone")
		return
	}
	clone := *canonical
	clone.ID = id
	clone.IsDiscovered = true
	clone.IsPersonalized = personalized(id)
	c.services[id] = &clone
	c.mu.Unlock()

	c.logger.Info().Int("id", id).Str("name", canonicalName).Msg("discovered service id")
	if err := c.persist(); err != nil {
		c.logger.Warn().Err(err).Msg("could not persist services cache")
	}
}

// GetStatus reports cache freshness.
func (c *Cache) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{Count: len(c.services), LastRefresh: c.lastRefresh, LastError: c.lastError}
}

func (c *Cache) noteError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var stored struct {
		Services    []Descriptor `json:"services"`
		LastRefresh time.Time    `json:"lastRefresh"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[int]*Descriptor, len(stored.Services))
	for i := range stored.Services {
		svc := stored.Services[i]
		c.services[svc.ID] = &svc
	}
	c.lastRefresh = stored.LastRefresh
	return nil
}

func (c *Cache) persist() error {
	c.mu.RLock()
	stored := struct {
		Services    []Descriptor `json:"services"`
		LastRefresh time.Time    `json:"lastRefresh"`
	}{Services: c.GetServicesLocked(), LastRefresh: c.lastRefresh}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(c.path, data, 0o644)
}

// GetServicesLocked is GetServices without taking the lock; callers hold it.
func (c *Cache) GetServicesLocked() []Descriptor {
	out := make([]Descriptor, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// parseDescriptorList decodes the XML-escaped Services list returned by
// ListAvailableServices.
func parseDescriptorList(list string) (map[int]*Descriptor, error) {
	root, err := soap.ParseNode([]byte(html.UnescapeString(list)))
	if err != nil {
		return nil, fmt.Errorf("parse service list: %w", err)
	}

	out := make(map[int]*Descriptor)
	for _, node := range root.FindAll("Service") {
		id, err := strconv.Atoi(node.Attr("Id"))
		if err != nil {
			continue
		}
		svc := &Descriptor{
			ID:            id,
			Name:          node.Attr("Name"),
			InternalName:  strings.ToLower(strings.ReplaceAll(node.Attr("Name"), " ", "")),
			URI:           node.Attr("Uri"),
			SecureURI:     node.Attr("SecureUri"),
			ContainerType: node.Attr("ContainerType"),
		}
		if caps, err := strconv.Atoi(node.Attr("Capabilities")); err == nil {
			svc.Capabilities = caps
		}
		if policy := node.First("Policy"); policy != nil {
			svc.AuthPolicy = policy.Attr("Auth")
		}
		svc.Type = TypeFromURI(svc.URI)
		svc.IsTuneIn = strings.EqualFold(svc.Name, "TuneIn")
		svc.IsPersonalized = personalized(id)
		out[id] = svc
	}
	return out, nil
}

// Personalized service ids live in a reserved band; they carry an account
// suffix baked into the id.
func personalized(id int) bool {
	return id >= 80000 && id <= 99999
}
