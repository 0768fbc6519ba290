// Package router translates the REST surface into player, catalogue and
// event-bus calls, enforcing room resolution and group semantics.
package router

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/accounts"
	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/events"
	"github.com/homeaudio/sonos-gateway/internal/music"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/presets"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/services"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/stations"
	"github.com/homeaudio/sonos-gateway/internal/topology"
	"github.com/homeaudio/sonos-gateway/internal/tts"
)

// SpotifyAuth is the OAuth surface the router exposes without owning the
// exchange. A nil implementation leaves the auth routes unconfigured.
type SpotifyAuth interface {
	AuthURL() (string, error)
	HandleCallback(ctx context.Context, code string) error
	SetCallbackURL(url string) error
	Status() map[string]any
}

// Deps carries everything the route handlers call into.
type Deps struct {
	Logger      zerolog.Logger
	Registry    *discovery.Registry
	Topology    *topology.Manager
	Bus         *events.Bus
	Subscriber  *events.Subscriber
	Scheduler   *scheduler.Scheduler
	Client      *soap.Client
	Services    *services.Cache
	Accounts    *accounts.Extractor
	Spotify     *music.Spotify
	SpotifyAuth SpotifyAuth
	Library     *music.Library
	Stations    *stations.Manager
	Presets     *presets.Repository
	Runner      *player.PresetRunner
	Stream      http.Handler
	Metrics     http.Handler
	TTS         tts.Provider

	AnnounceVolume int
	Country        string
	DefaultRoom    string
	DefaultService string
	StartupInfo    map[string]any
}

// Router is the action router: one instance serves the whole REST surface.
type Router struct {
	Deps

	logger    zerolog.Logger
	startedAt time.Time

	mu             sync.RWMutex
	defaultRoom    string
	defaultService string
}

func New(deps Deps) *Router {
	rt := &Router{
		Deps:           deps,
		logger:         deps.Logger.With().Str("component", "router").Logger(),
		startedAt:      time.Now(),
		defaultRoom:    deps.DefaultRoom,
		defaultService: deps.DefaultService,
	}
	if rt.defaultService == "" {
		rt.defaultService = "library"
	}
	return rt
}

// Routes registers the full surface on a chi router.
func (rt *Router) Routes(r chi.Router) {
	rt.systemRoutes(r)
	rt.globalRoutes(r)
	rt.musicRoutes(r)
	rt.roomRoutes(r)
}

// Room resolution

// resolvePhysical maps a room name (or the default room when empty) to the
// named device itself, for volume and mute.
func (rt *Router) resolvePhysical(room string) (*player.Player, error) {
	device, err := rt.deviceForRoom(room)
	if err != nil {
		return nil, err
	}
	return player.New(device, rt.Client), nil
}

// resolveCoordinator maps a room to its zone coordinator, for
// playback-affecting actions.
func (rt *Router) resolveCoordinator(room string) (*player.Player, error) {
	device, err := rt.deviceForRoom(room)
	if err != nil {
		return nil, err
	}
	coordUUID := rt.Topology.CoordinatorOf(device.UUID)
	if coord := rt.Registry.GetByID(coordUUID); coord != nil {
		device = coord
	}
	return player.New(device, rt.Client), nil
}

func (rt *Router) deviceForRoom(room string) (*discovery.Device, error) {
	if room == "" {
		rt.mu.RLock()
		room = rt.defaultRoom
		rt.mu.RUnlock()
		if room == "" {
			return nil, apperrors.Validation("no room given and no default room configured")
		}
	}
	device := rt.Registry.GetByRoom(room)
	if device == nil {
		return nil, apperrors.RoomNotFound(room)
	}
	return device, nil
}

// Group semantics

// join detaches room's coordinator and joins it to target's group.
func (rt *Router) join(ctx context.Context, room, target string) error {
	p, err := rt.resolveCoordinator(room)
	if err != nil {
		return err
	}
	targetDevice, err := rt.deviceForRoom(target)
	if err != nil {
		return err
	}
	targetCoord := rt.Topology.CoordinatorOf(targetDevice.UUID)

	// A coordinator already in a group must leave before it can join;
	// failure here is fine for standalone players.
	if err := p.BecomeCoordinatorOfStandaloneGroup(ctx); err != nil {
		rt.logger.Debug().Err(err).Str("room", room).Msg("standalone before join failed")
	}
	return p.AddPlayerToGroup(ctx, targetCoord)
}

// leave makes room's player standalone. Forbidden on a pure stereo pair.
// Bonded rooms inside a larger group occasionally answer 1023/701 on the
// first member tried; the ladder retries on the stereo primary, then every
// member in order.
func (rt *Router) leave(ctx context.Context, room string) error {
	device, err := rt.deviceForRoom(room)
	if err != nil {
		return err
	}
	if rt.Topology.IsPureStereoPair(device.UUID) {
		return apperrors.StereoPairProtected(device.RoomName)
	}

	err = player.New(device, rt.Client).BecomeCoordinatorOfStandaloneGroup(ctx)
	if err == nil || !retryableLeave(err) {
		return err
	}

	var tried []string
	tried = append(tried, discovery.NormalizeUUID(device.UUID))

	if primary := rt.Topology.StereoPrimary(device.RoomName); primary != "" && !contains(tried, primary) {
		if d := rt.Registry.GetByID(primary); d != nil {
			if err = player.New(d, rt.Client).BecomeCoordinatorOfStandaloneGroup(ctx); err == nil || !retryableLeave(err) {
				return err
			}
			tried = append(tried, primary)
		}
	}

	for _, member := range rt.Topology.MembersOf(device.UUID) {
		if contains(tried, member) {
			continue
		}
		d := rt.Registry.GetByID(member)
		if d == nil {
			continue
		}
		if err = player.New(d, rt.Client).BecomeCoordinatorOfStandaloneGroup(ctx); err == nil || !retryableLeave(err) {
			return err
		}
		tried = append(tried, member)
	}
	return err
}

// retryableLeave matches the vendor faults seen when the wrong bond member
// is asked to leave.
func retryableLeave(err error) bool {
	code := soap.FaultCode(err)
	return code == "1023" || code == "701"
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// Defaults

func (rt *Router) setDefaultRoom(room string) error {
	if rt.Registry.GetByRoom(room) == nil {
		return apperrors.RoomNotFound(room)
	}
	rt.mu.Lock()
	rt.defaultRoom = room
	rt.mu.Unlock()
	return nil
}

func (rt *Router) setDefaultService(service string) {
	rt.mu.Lock()
	rt.defaultService = strings.ToLower(service)
	rt.mu.Unlock()
}

func (rt *Router) defaults() (room, service string) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.defaultRoom, rt.defaultService
}
