package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/homeaudio/sonos-gateway/internal/api"
	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/events"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/presets"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

const (
	defaultQueueLimit = 100
	sayTimeout        = 90 * time.Second
)

func (rt *Router) roomRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/{room}/state", api.Handler(rt.handleRoomState))
	r.Method(http.MethodGet, "/{room}/play", api.Handler(rt.handleTransport("play")))
	r.Method(http.MethodGet, "/{room}/pause", api.Handler(rt.handleTransport("pause")))
	r.Method(http.MethodGet, "/{room}/playpause", api.Handler(rt.handleTransport("playpause")))
	r.Method(http.MethodGet, "/{room}/stop", api.Handler(rt.handleTransport("stop")))
	r.Method(http.MethodGet, "/{room}/next", api.Handler(rt.handleTransport("next")))
	r.Method(http.MethodGet, "/{room}/previous", api.Handler(rt.handleTransport("previous")))

	r.Method(http.MethodGet, "/{room}/volume/{level}", api.Handler(rt.handleVolume))
	r.Method(http.MethodGet, "/{room}/groupVolume/{level}", api.Handler(rt.handleGroupVolume))
	r.Method(http.MethodGet, "/{room}/mute", api.Handler(rt.handleMute("mute")))
	r.Method(http.MethodGet, "/{room}/unmute", api.Handler(rt.handleMute("unmute")))
	r.Method(http.MethodGet, "/{room}/togglemute", api.Handler(rt.handleMute("toggle")))

	r.Method(http.MethodGet, "/{room}/repeat/{toggle}", api.Handler(rt.handlePlayMode("repeat")))
	r.Method(http.MethodGet, "/{room}/shuffle/{toggle}", api.Handler(rt.handlePlayMode("shuffle")))
	r.Method(http.MethodGet, "/{room}/crossfade/{toggle}", api.Handler(rt.handleCrossfade))
	r.Method(http.MethodGet, "/{room}/sleep/{seconds}", api.Handler(rt.handleSleep))

	r.Method(http.MethodGet, "/{room}/queue", api.Handler(rt.handleQueue))
	r.Method(http.MethodGet, "/{room}/queue/detailed", api.Handler(rt.handleQueue))
	r.Method(http.MethodGet, "/{room}/queue/{limit}", api.Handler(rt.handleQueue))
	r.Method(http.MethodGet, "/{room}/queue/{limit}/{offset}", api.Handler(rt.handleQueue))
	r.Method(http.MethodGet, "/{room}/queue/{limit}/{offset}/detailed", api.Handler(rt.handleQueue))
	r.Method(http.MethodPost, "/{room}/queue", api.Handler(rt.handleQueueAdd))
	r.Method(http.MethodGet, "/{room}/clearqueue", api.Handler(rt.handleClearQueue))

	r.Method(http.MethodGet, "/{room}/join/{target}", api.Handler(rt.handleJoin))
	r.Method(http.MethodGet, "/{room}/add/{other}", api.Handler(rt.handleAdd))
	for _, alias := range []string{"leave", "ungroup", "isolate"} {
		r.Method(http.MethodGet, "/{room}/"+alias, api.Handler(rt.handleLeave))
	}

	for _, alias := range []string{"favorites", "favourites"} {
		r.Method(http.MethodGet, "/{room}/"+alias, api.Handler(rt.handleFavorites(false)))
		r.Method(http.MethodGet, "/{room}/"+alias+"/detailed", api.Handler(rt.handleFavorites(true)))
	}
	for _, alias := range []string{"favorite", "favourite"} {
		r.Method(http.MethodGet, "/{room}/"+alias+"/{name}", api.Handler(rt.handleFavoritePlay))
	}
	r.Method(http.MethodGet, "/{room}/playlists", api.Handler(rt.handlePlaylists(false)))
	r.Method(http.MethodGet, "/{room}/playlists/detailed", api.Handler(rt.handlePlaylists(true)))
	r.Method(http.MethodGet, "/{room}/playlist/{name}", api.Handler(rt.handlePlaylistPlay))

	r.Method(http.MethodGet, "/{room}/preset/{name}", api.Handler(rt.handlePresetPlay))

	r.Method(http.MethodGet, "/{room}/linein", api.Handler(rt.handleLineIn))
	r.Method(http.MethodGet, "/{room}/linein/{source}", api.Handler(rt.handleLineIn))

	r.Method(http.MethodGet, "/{room}/say/{text}", api.Handler(rt.handleSay))
	r.Method(http.MethodGet, "/{room}/say/{text}/{volume}", api.Handler(rt.handleSay))
	r.Method(http.MethodGet, "/{room}/sayall/{text}", api.Handler(rt.handleSayAll))
	r.Method(http.MethodGet, "/{room}/sayall/{text}/{volume}", api.Handler(rt.handleSayAll))
}

func (rt *Router) handleRoomState(w http.ResponseWriter, r *http.Request) error {
	device, err := rt.deviceForRoom(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	if state, ok := rt.Bus.GetState(device.UUID); ok {
		return api.WriteResult(w, state)
	}

	// No event-derived state yet; poll the player directly.
	p := player.New(device, rt.Client)
	ctx, cancel := soap.ControlContext()
	defer cancel()
	info, err := p.GetTransportInfo(ctx)
	if err != nil {
		return err
	}
	volume, err := p.GetVolume(ctx)
	if err != nil {
		return err
	}
	return api.WriteResult(w, map[string]any{
		"playbackState": events.NormalizePlaybackState(info.State),
		"volume":        volume,
	})
}

func (rt *Router) handleTransport(action string) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
		if err != nil {
			return err
		}
		ctx, cancel := soap.ControlContext()
		defer cancel()

		switch action {
		case "play":
			err = p.Play(ctx)
		case "pause":
			err = p.Pause(ctx)
		case "stop":
			err = p.Stop(ctx)
		case "next":
			err = p.Next(ctx)
		case "previous":
			err = p.Previous(ctx)
		case "playpause":
			playing := false
			if state, ok := rt.Bus.GetCurrentState(p.UUID); ok {
				playing = state == events.StatePlaying
			} else {
				info, infoErr := p.GetTransportInfo(ctx)
				if infoErr != nil {
					return infoErr
				}
				playing = events.NormalizePlaybackState(info.State) == events.StatePlaying
			}
			if playing {
				err = p.Pause(ctx)
			} else {
				err = p.Play(ctx)
			}
		}
		if err != nil {
			return err
		}
		return api.WriteSuccess(w, nil)
	}
}

// handleVolume accepts absolute levels and +N / -N deltas, clamped to
// 0..100. Deltas resolve against the bus state when available.
func (rt *Router) handleVolume(w http.ResponseWriter, r *http.Request) error {
	p, err := rt.resolvePhysical(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()

	level, err := rt.targetVolume(ctx, p, chi.URLParam(r, "level"))
	if err != nil {
		return err
	}
	if err := p.SetVolume(ctx, level); err != nil {
		return err
	}
	return api.WriteSuccess(w, map[string]any{"volume": level})
}

func (rt *Router) targetVolume(ctx context.Context, p *player.Player, raw string) (int, error) {
	relative := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-")
	value, err := strconv.Atoi(strings.TrimPrefix(raw, "+"))
	if err != nil {
		return 0, apperrors.Validation("volume must be an integer, got %q", raw)
	}
	if !relative {
		if value < 0 || value > 100 {
			return 0, apperrors.Validation("volume must be 0..100, got %d", value)
		}
		return value, nil
	}

	current, ok := -1, false
	if state, found := rt.Bus.GetState(p.UUID); found {
		current, ok = state.Volume, true
	}
	if !ok {
		if current, err = p.GetVolume(ctx); err != nil {
			return 0, err
		}
	}
	return clampVolume(current + value), nil
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (rt *Router) handleGroupVolume(w http.ResponseWriter, r *http.Request) error {
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level < 0 || level > 100 {
		return apperrors.Validation("group volume must be 0..100")
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := p.SetGroupVolume(ctx, level); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

func (rt *Router) handleMute(mode string) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := rt.resolvePhysical(chi.URLParam(r, "room"))
		if err != nil {
			return err
		}
		ctx, cancel := soap.ControlContext()
		defer cancel()

		var mute bool
		switch mode {
		case "mute":
			mute = true
		case "unmute":
			mute = false
		case "toggle":
			current, ok := rt.Bus.GetCurrentMute(p.UUID)
			if !ok {
				if current, err = p.GetMute(ctx); err != nil {
					return err
				}
			}
			mute = !current
		}
		if err := p.SetMute(ctx, mute); err != nil {
			return err
		}
		return api.WriteSuccess(w, map[string]any{"mute": mute})
	}
}

func parseToggle(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, apperrors.Validation("expected on or off, got %q", raw)
}

// handlePlayMode flips one axis of the transport play mode, preserving the
// other from the player's current settings.
func (rt *Router) handlePlayMode(axis string) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		on, err := parseToggle(chi.URLParam(r, "toggle"))
		if err != nil {
			return err
		}
		p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
		if err != nil {
			return err
		}
		ctx, cancel := soap.ControlContext()
		defer cancel()

		settings, err := p.GetTransportSettings(ctx)
		if err != nil {
			return err
		}
		repeat, shuffle := events.DecodePlayMode(settings.PlayMode)
		switch axis {
		case "repeat":
			if on {
				repeat = "all"
			} else {
				repeat = "none"
			}
		case "shuffle":
			shuffle = on
		}
		if err := p.SetPlayMode(ctx, events.EncodePlayMode(repeat, shuffle)); err != nil {
			return err
		}
		return api.WriteSuccess(w, map[string]any{"repeat": repeat, "shuffle": shuffle})
	}
}

func (rt *Router) handleCrossfade(w http.ResponseWriter, r *http.Request) error {
	on, err := parseToggle(chi.URLParam(r, "toggle"))
	if err != nil {
		return err
	}
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := p.SetCrossfadeMode(ctx, on); err != nil {
		return err
	}
	return api.WriteSuccess(w, map[string]any{"crossfade": on})
}

func (rt *Router) handleSleep(w http.ResponseWriter, r *http.Request) error {
	seconds, err := strconv.Atoi(chi.URLParam(r, "seconds"))
	if err != nil || seconds < 0 {
		return apperrors.Validation("sleep seconds must be a non-negative integer")
	}
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := p.ConfigureSleepTimer(ctx, seconds); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// Queue

func (rt *Router) handleQueue(w http.ResponseWriter, r *http.Request) error {
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	limit := defaultQueueLimit
	offset := 0
	if raw := chi.URLParam(r, "limit"); raw != "" && raw != "detailed" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return apperrors.Validation("queue limit must be a positive integer")
		}
	}
	if raw := chi.URLParam(r, "offset"); raw != "" && raw != "detailed" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return apperrors.Validation("queue offset must be a non-negative integer")
		}
	}
	detailed := strings.HasSuffix(r.URL.Path, "/detailed")

	ctx, cancel := soap.BrowseContext()
	defer cancel()
	result, err := p.GetQueue(ctx, offset, limit)
	if err != nil {
		return err
	}
	if detailed {
		return api.WriteResult(w, result)
	}
	titles := make([]map[string]string, 0, len(result.Items))
	for _, item := range result.Items {
		titles = append(titles, map[string]string{
			"title":  item.Title,
			"artist": item.Creator,
			"album":  item.Album,
		})
	}
	return api.WriteResult(w, titles)
}

func (rt *Router) handleQueueAdd(w http.ResponseWriter, r *http.Request) error {
	var body struct {
		URI      string `json:"uri"`
		Metadata string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URI == "" {
		return apperrors.Validation("body must be {\"uri\": \"...\", \"metadata\"?: \"...\"}")
	}
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	position, err := p.AddURIToQueue(ctx, body.URI, body.Metadata, false, 0)
	if err != nil {
		return err
	}
	return api.WriteSuccess(w, map[string]any{"firstTrackNumberEnqueued": position})
}

func (rt *Router) handleClearQueue(w http.ResponseWriter, r *http.Request) error {
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := p.ClearQueue(ctx); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// Groups

func (rt *Router) handleJoin(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := rt.join(ctx, chi.URLParam(r, "room"), chi.URLParam(r, "target")); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// handleAdd is join with the arguments reversed: pull {other} into {room}'s
// group.
func (rt *Router) handleAdd(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := rt.join(ctx, chi.URLParam(r, "other"), chi.URLParam(r, "room")); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

func (rt *Router) handleLeave(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := rt.leave(ctx, chi.URLParam(r, "room")); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// Favourites and playlists

func (rt *Router) handleFavorites(detailed bool) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := rt.resolvePhysical(chi.URLParam(r, "room"))
		if err != nil {
			return err
		}
		ctx, cancel := soap.BrowseContext()
		defer cancel()
		items, err := p.Favorites(ctx)
		if err != nil {
			return err
		}
		if detailed {
			return api.WriteResult(w, items)
		}
		names := make([]string, 0, len(items))
		for _, item := range items {
			names = append(names, item.Title)
		}
		return api.WriteResult(w, names)
	}
}

func (rt *Router) handleFavoritePlay(w http.ResponseWriter, r *http.Request) error {
	return rt.playFavorite(w, r, chi.URLParam(r, "name"))
}

func (rt *Router) playFavorite(w http.ResponseWriter, r *http.Request, name string) error {
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.BrowseContext()
	defer cancel()
	items, err := p.Favorites(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if strings.EqualFold(item.Title, name) {
			if err := p.SetAVTransportURI(ctx, item.Res, item.ResMD); err != nil {
				return err
			}
			if err := p.Play(ctx); err != nil {
				return err
			}
			return api.WriteSuccess(w, map[string]any{"favorite": item.Title})
		}
	}
	return apperrors.FavoriteNotFound(name)
}

func (rt *Router) handlePlaylists(detailed bool) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := rt.resolvePhysical(chi.URLParam(r, "room"))
		if err != nil {
			return err
		}
		ctx, cancel := soap.BrowseContext()
		defer cancel()
		items, err := p.Playlists(ctx)
		if err != nil {
			return err
		}
		if detailed {
			return api.WriteResult(w, items)
		}
		names := make([]string, 0, len(items))
		for _, item := range items {
			names = append(names, item.Title)
		}
		return api.WriteResult(w, names)
	}
}

// handlePlaylistPlay replaces the queue with a saved queue's contents and
// plays from the queue.
func (rt *Router) handlePlaylistPlay(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.BrowseContext()
	defer cancel()
	items, err := p.Playlists(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if strings.EqualFold(item.Title, name) {
			if err := p.ClearQueue(ctx); err != nil {
				return err
			}
			if _, err := p.AddURIToQueue(ctx, item.Res, item.ResMD, false, 0); err != nil {
				return err
			}
			if err := rt.playFromQueue(ctx, p); err != nil {
				return err
			}
			return api.WriteSuccess(w, map[string]any{"playlist": item.Title})
		}
	}
	return apperrors.PlaylistNotFound(name)
}

// Presets

func (rt *Router) handlePresetPlay(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	preset, err := rt.Presets.GetByName(name)
	if err != nil {
		return err
	}
	if preset == nil {
		return apperrors.PresetNotFound(name)
	}

	// An explicit room (path param on room-scoped form, or /room/{room})
	// retargets a single-member preset.
	if room := chi.URLParam(r, "room"); room != "" && len(preset.Players) == 1 {
		preset.Players[0].RoomName = room
	}

	runID, err := rt.Presets.RecordRun(preset.Name)
	if err != nil {
		rt.logger.Warn().Err(err).Str("preset", preset.Name).Msg("could not record preset run")
	}
	runErr := rt.Runner.Run(r.Context(), *preset)
	if runID != "" {
		status := presetRunStatus(runErr)
		if err := rt.Presets.CompleteRun(runID, status, runErr); err != nil {
			rt.logger.Warn().Err(err).Str("preset", preset.Name).Msg("could not complete preset run")
		}
	}
	if runErr != nil {
		return runErr
	}
	return api.WriteSuccess(w, map[string]any{"preset": preset.Name})
}

// Line-in

func (rt *Router) handleLineIn(w http.ResponseWriter, r *http.Request) error {
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	source := chi.URLParam(r, "source")
	if source == "" {
		source = chi.URLParam(r, "room")
	}
	sourceDevice, err := rt.deviceForRoom(source)
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := p.PlayLineIn(ctx, sourceDevice.UUID); err != nil {
		return err
	}
	if err := p.Play(ctx); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// TTS

func (rt *Router) handleSay(w http.ResponseWriter, r *http.Request) error {
	device, err := rt.deviceForRoom(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	text, volume, err := rt.sayParams(r)
	if err != nil {
		return err
	}
	if err := rt.announce(r.Context(), device, text, volume); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// handleSayAll announces on every zone coordinator in parallel.
func (rt *Router) handleSayAll(w http.ResponseWriter, r *http.Request) error {
	text, volume, err := rt.sayParams(r)
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, zone := range rt.Topology.Zones() {
		device := rt.Registry.GetByID(zone.Coordinator)
		if device == nil {
			continue
		}
		g.Go(func() error {
			if err := rt.announce(r.Context(), device, text, volume); err != nil {
				rt.logger.Warn().Err(err).Str("room", device.RoomName).Msg("announcement failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return api.WriteSuccess(w, nil)
}

func (rt *Router) sayParams(r *http.Request) (text string, volume int, err error) {
	if rt.TTS == nil {
		return "", 0, apperrors.NotImplemented("text to speech")
	}
	text = chi.URLParam(r, "text")
	volume = rt.AnnounceVolume
	if raw := chi.URLParam(r, "volume"); raw != "" {
		if volume, err = strconv.Atoi(raw); err != nil || volume < 0 || volume > 100 {
			return "", 0, apperrors.Validation("announce volume must be 0..100")
		}
	}
	return text, volume, nil
}

// announce plays a synthesised clip on one player, saving and restoring the
// transport and volume around it.
func (rt *Router) announce(ctx context.Context, device *discovery.Device, text string, volume int) error {
	audioURL, err := rt.TTS.Say(ctx, text, "")
	if err != nil {
		return err
	}
	coordUUID := rt.Topology.CoordinatorOf(device.UUID)
	if coord := rt.Registry.GetByID(coordUUID); coord != nil {
		device = coord
	}
	p := player.New(device, rt.Client)

	callCtx, cancel := soap.ControlContext()
	defer cancel()

	position, err := p.GetPositionInfo(callCtx)
	if err != nil {
		return err
	}
	wasPlaying := false
	if state, ok := rt.Bus.GetCurrentState(device.UUID); ok {
		wasPlaying = state == events.StatePlaying
	}
	savedVolume, err := p.GetVolume(callCtx)
	if err != nil {
		return err
	}

	if err := p.SetVolume(callCtx, volume); err != nil {
		return err
	}
	if err := p.SetAVTransportURI(callCtx, audioURL, ""); err != nil {
		return err
	}
	if err := p.Play(callCtx); err != nil {
		return err
	}
	rt.Bus.WaitForState(device.UUID, events.StateStopped, sayTimeout)

	restoreCtx, restoreCancel := soap.ControlContext()
	defer restoreCancel()
	if err := p.SetVolume(restoreCtx, savedVolume); err != nil {
		rt.logger.Warn().Err(err).Str("room", device.RoomName).Msg("volume restore failed")
	}
	if position.TrackURI != "" && !strings.HasPrefix(position.TrackURI, audioURL) {
		if err := p.SetAVTransportURI(restoreCtx, position.TrackURI, position.TrackMetaData); err != nil {
			rt.logger.Warn().Err(err).Str("room", device.RoomName).Msg("transport restore failed")
			return nil
		}
		if position.RelTime != "" {
			if err := p.Seek(restoreCtx, "REL_TIME", position.RelTime); err != nil {
				rt.logger.Debug().Err(err).Str("room", device.RoomName).Msg("seek restore failed")
			}
		}
		if wasPlaying {
			if err := p.Play(restoreCtx); err != nil {
				rt.logger.Warn().Err(err).Str("room", device.RoomName).Msg("resume after announcement failed")
			}
		}
	}
	return nil
}

func presetRunStatus(err error) presets.RunStatus {
	if err != nil {
		return presets.RunFailed
	}
	return presets.RunCompleted
}
