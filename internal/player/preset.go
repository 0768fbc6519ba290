package player

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/events"
	"github.com/homeaudio/sonos-gateway/internal/presets"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/topology"
)

const (
	presetSettleTimeout = 5 * time.Second
	presetStepTimeout   = soap.ControlTimeout
)

// StateWaiter is the slice of the event bus preset execution needs between
// steps.
type StateWaiter interface {
	WaitForStableState(uuid string, timeout time.Duration) (events.PlaybackState, bool)
	WaitForTopologyChange(timeout time.Duration) ([]topology.Zone, bool)
}

// PresetRunner executes preset recipes: group building, volumes, transport
// URI, play, in that order, waiting for state to settle between steps.
type PresetRunner struct {
	logger   zerolog.Logger
	registry *discovery.Registry
	topo     *topology.Manager
	client   *soap.Client
	waiter   StateWaiter
}

func NewPresetRunner(registry *discovery.Registry, topo *topology.Manager, client *soap.Client, waiter StateWaiter, logger zerolog.Logger) *PresetRunner {
	return &PresetRunner{
		logger:   logger.With().Str("component", "preset").Logger(),
		registry: registry,
		topo:     topo,
		client:   client,
		waiter:   waiter,
	}
}

// Run executes one preset. The first listed room becomes the coordinator.
func (r *PresetRunner) Run(ctx context.Context, preset presets.Preset) error {
	if len(preset.Players) == 0 {
		return apperrors.Validation("preset %q has no players", preset.Name)
	}

	members := make([]*Player, 0, len(preset.Players))
	for _, m := range preset.Players {
		device := r.registry.GetByRoom(m.RoomName)
		if device == nil {
			return apperrors.RoomNotFound(m.RoomName)
		}
		members = append(members, New(device, r.client))
	}
	coordinator := members[0]

	if preset.PauseOthers {
		r.pauseOthers(ctx, members)
	}

	// The coordinator must own its own group before others can join it.
	if err := coordinator.BecomeCoordinatorOfStandaloneGroup(ctx); err != nil {
		r.logger.Debug().Err(err).Str("room", coordinator.Room).Msg("standalone step failed, continuing")
	} else {
		r.waiter.WaitForTopologyChange(presetSettleTimeout)
	}

	for i, m := range members {
		if vol := preset.Players[i].Volume; vol != nil {
			if err := m.SetVolume(ctx, *vol); err != nil {
				return err
			}
		}
	}

	for _, m := range members[1:] {
		if err := m.AddPlayerToGroup(ctx, coordinator.UUID); err != nil {
			return err
		}
	}
	if len(members) > 1 {
		r.waiter.WaitForTopologyChange(presetSettleTimeout)
	}

	uri, metadata := preset.URI, preset.Metadata
	if preset.Favorite != "" {
		var err error
		uri, metadata, err = r.favoriteURI(ctx, coordinator, preset.Favorite)
		if err != nil {
			return err
		}
	}

	if preset.PlayMode != "" {
		if err := coordinator.SetPlayMode(ctx, preset.PlayMode); err != nil {
			return err
		}
	}

	if uri != "" {
		if err := coordinator.SetAVTransportURI(ctx, uri, metadata); err != nil {
			return err
		}
		r.waiter.WaitForStableState(coordinator.UUID, presetSettleTimeout)
	}

	if err := coordinator.Play(ctx); err != nil {
		return err
	}

	if preset.Sleep > 0 {
		if err := coordinator.ConfigureSleepTimer(ctx, preset.Sleep); err != nil {
			return err
		}
	}
	return nil
}

// pauseOthers pauses every coordinator outside the preset's member set.
// Failures are logged, not propagated.
func (r *PresetRunner) pauseOthers(ctx context.Context, members []*Player) {
	inPreset := make(map[string]bool, len(members))
	for _, m := range members {
		inPreset[discovery.NormalizeUUID(m.UUID)] = true
	}

	for _, zone := range r.topo.Zones() {
		uuid := discovery.NormalizeUUID(zone.Coordinator)
		if inPreset[uuid] {
			continue
		}
		device := r.registry.GetByID(uuid)
		if device == nil {
			continue
		}
		stepCtx, cancel := context.WithTimeout(ctx, presetStepTimeout)
		if err := New(device, r.client).Pause(stepCtx); err != nil {
			r.logger.Debug().Err(err).Str("room", device.RoomName).Msg("pause-others failed for zone")
		}
		cancel()
	}
}

// favoriteURI resolves a favourite by case-insensitive name to its transport
// URI and metadata.
func (r *PresetRunner) favoriteURI(ctx context.Context, p *Player, name string) (string, string, error) {
	items, err := p.Favorites(ctx)
	if err != nil {
		return "", "", err
	}
	for _, item := range items {
		if strings.EqualFold(item.Title, name) {
			return item.Res, item.ResMD, nil
		}
	}
	return "", "", apperrors.FavoriteNotFound(name)
}
