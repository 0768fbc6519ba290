package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/homeaudio/sonos-gateway/internal/api"
	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/logging"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// zoneMember mirrors the public zone shape.
type zoneMember struct {
	ID            string `json:"id"`
	RoomName      string `json:"roomName"`
	IsCoordinator bool   `json:"isCoordinator"`
}

type zoneView struct {
	Coordinator string       `json:"coordinator"`
	Members     []zoneMember `json:"members"`
}

func (rt *Router) systemRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/zones", api.Handler(rt.handleZones))
	r.Method(http.MethodGet, "/devices", api.Handler(rt.handleDevices))
	r.Method(http.MethodGet, "/devices/id/{id}", api.Handler(rt.handleDeviceByID))
	r.Method(http.MethodGet, "/devices/room/{room}", api.Handler(rt.handleDeviceByRoom))
	r.Method(http.MethodGet, "/state", api.Handler(rt.handleGlobalState))
	r.Method(http.MethodGet, "/health", api.Handler(rt.handleHealth))
	r.Method(http.MethodGet, "/services", api.Handler(rt.handleServices))
	r.Method(http.MethodGet, "/services/refresh", api.Handler(rt.handleServicesRefresh))
	r.Method(http.MethodGet, "/presets", api.Handler(rt.handlePresets(false)))
	r.Method(http.MethodGet, "/presets/detailed", api.Handler(rt.handlePresets(true)))
	r.Method(http.MethodGet, "/settings", api.Handler(rt.handleSettings))

	if rt.Stream != nil {
		r.Handle("/events", rt.Stream)
	}
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics)
	}

	r.Route("/debug", func(r chi.Router) {
		r.Method(http.MethodGet, "/", api.Handler(rt.handleDebug))
		r.Method(http.MethodGet, "/level/{level}", api.Handler(rt.handleLogLevel))
		r.Method(http.MethodGet, "/category/{category}/{enabled}", api.Handler(rt.handleDebugCategory))
		r.Method(http.MethodGet, "/enable-all", api.Handler(rt.handleDebugAll(true)))
		r.Method(http.MethodGet, "/disable-all", api.Handler(rt.handleDebugAll(false)))
		r.Method(http.MethodGet, "/startup", api.Handler(rt.handleStartup(false)))
		r.Method(http.MethodGet, "/startup/config", api.Handler(rt.handleStartup(true)))
		r.Method(http.MethodGet, "/device-health", api.Handler(rt.handleDeviceHealth))
		r.Method(http.MethodGet, "/scheduler", api.Handler(rt.handleSchedulerDebug))
		r.Method(http.MethodGet, "/subscriptions", api.Handler(rt.handleSubscriptionsDebug))
		r.Method(http.MethodGet, "/spotify/parse/{id}", api.Handler(rt.handleSpotifyParse))
		r.Method(http.MethodGet, "/spotify/browse/{objectID}", api.Handler(rt.handleSpotifyBrowse))
		r.Method(http.MethodGet, "/spotify/account", api.Handler(rt.handleSpotifyAccount))
	})
}

func (rt *Router) globalRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/pauseall", api.Handler(rt.handleAll(false)))
	r.Method(http.MethodGet, "/resumeAll", api.Handler(rt.handleAll(true)))
	r.Method(http.MethodGet, "/resumeall", api.Handler(rt.handleAll(true)))
	r.Method(http.MethodGet, "/loglevel/{level}", api.Handler(rt.handleLogLevel))
	r.Method(http.MethodGet, "/default", api.Handler(rt.handleDefaults))
	r.Method(http.MethodGet, "/default/room/{room}", api.Handler(rt.handleDefaultRoom))
	r.Method(http.MethodGet, "/default/service/{service}", api.Handler(rt.handleDefaultService))
	r.Method(http.MethodGet, "/preset/{name}", api.Handler(rt.handlePresetPlay))
	r.Method(http.MethodGet, "/preset/{name}/room/{room}", api.Handler(rt.handlePresetPlay))
	r.Method(http.MethodGet, "/sayall/{text}", api.Handler(rt.handleSayAll))
	r.Method(http.MethodGet, "/sayall/{text}/{volume}", api.Handler(rt.handleSayAll))
	r.Method(http.MethodGet, "/pandora/stations", api.Handler(rt.handlePandoraStations(false)))
	r.Method(http.MethodGet, "/pandora/status", api.Handler(rt.handlePandoraStatus))
}

func (rt *Router) zoneViews() []zoneView {
	zones := rt.Topology.Zones()
	views := make([]zoneView, 0, len(zones))
	for _, zone := range zones {
		view := zoneView{}
		for _, member := range zone.Members {
			isCoord := discovery.NormalizeUUID(member.UUID) == discovery.NormalizeUUID(zone.Coordinator)
			if isCoord {
				view.Coordinator = member.RoomName
			}
			view.Members = append(view.Members, zoneMember{
				ID:            "uuid:" + discovery.NormalizeUUID(member.UUID),
				RoomName:      member.RoomName,
				IsCoordinator: isCoord,
			})
		}
		views = append(views, view)
	}
	return views
}

func (rt *Router) handleZones(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.zoneViews())
}

func (rt *Router) handleDevices(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.Registry.GetAll())
}

func (rt *Router) handleDeviceByID(w http.ResponseWriter, r *http.Request) error {
	device := rt.Registry.GetByID(chi.URLParam(r, "id"))
	if device == nil {
		return apperrors.RoomNotFound(chi.URLParam(r, "id"))
	}
	return api.WriteResult(w, device)
}

func (rt *Router) handleDeviceByRoom(w http.ResponseWriter, r *http.Request) error {
	device, err := rt.deviceForRoom(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	return api.WriteResult(w, device)
}

func (rt *Router) handleGlobalState(w http.ResponseWriter, _ *http.Request) error {
	type roomState struct {
		Room  string `json:"room"`
		UUID  string `json:"uuid"`
		State any    `json:"state,omitempty"`
	}
	var out []roomState
	for _, device := range rt.Registry.GetAll() {
		entry := roomState{Room: device.RoomName, UUID: device.UUID}
		if state, ok := rt.Bus.GetState(device.UUID); ok {
			entry.State = state
		}
		out = append(out, entry)
	}
	return api.WriteResult(w, out)
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteSuccess(w, map[string]any{
		"uptime":  time.Since(rt.startedAt).Round(time.Second).String(),
		"devices": len(rt.Registry.GetAll()),
		"zones":   len(rt.Topology.Zones()),
	})
}

func (rt *Router) handleServices(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.Services.GetServices())
}

func (rt *Router) handleServicesRefresh(w http.ResponseWriter, _ *http.Request) error {
	if err := rt.Services.Refresh(); err != nil {
		return err
	}
	return api.WriteSuccess(w, map[string]any{"services": rt.Services.GetStatus()})
}

func (rt *Router) handlePresets(detailed bool) api.Handler {
	return func(w http.ResponseWriter, _ *http.Request) error {
		all, err := rt.Presets.List()
		if err != nil {
			return err
		}
		if detailed {
			return api.WriteResult(w, all)
		}
		names := make([]string, 0, len(all))
		for _, p := range all {
			names = append(names, p.Name)
		}
		return api.WriteResult(w, names)
	}
}

func (rt *Router) handleSettings(w http.ResponseWriter, _ *http.Request) error {
	room, service := rt.defaults()
	return api.WriteResult(w, map[string]any{
		"defaultRoom":    room,
		"defaultService": service,
		"announceVolume": rt.AnnounceVolume,
		"country":        rt.Country,
		"logLevel":       logging.Level(),
	})
}

// handleAll pauses or resumes every zone coordinator in parallel.
// Individual failures are logged, never propagated.
func (rt *Router) handleAll(resume bool) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var g errgroup.Group
		for _, zone := range rt.Topology.Zones() {
			device := rt.Registry.GetByID(zone.Coordinator)
			if device == nil {
				continue
			}
			g.Go(func() error {
				ctx, cancel := soap.ControlContext()
				defer cancel()
				p := player.New(device, rt.Client)
				var err error
				if resume {
					err = p.Play(ctx)
				} else {
					err = p.Pause(ctx)
				}
				if err != nil {
					rt.logger.Warn().Err(err).Str("room", device.RoomName).Bool("resume", resume).Msg("bulk transport action failed")
				}
				return nil
			})
		}
		_ = g.Wait()
		return api.WriteSuccess(w, nil)
	}
}

func (rt *Router) handleLogLevel(w http.ResponseWriter, r *http.Request) error {
	level := chi.URLParam(r, "level")
	if err := logging.SetLevel(level); err != nil {
		return apperrors.Validation("%v", err)
	}
	return api.WriteSuccess(w, map[string]any{"level": logging.Level()})
}

func (rt *Router) handleDefaults(w http.ResponseWriter, _ *http.Request) error {
	room, service := rt.defaults()
	return api.WriteResult(w, map[string]string{"room": room, "service": service})
}

func (rt *Router) handleDefaultRoom(w http.ResponseWriter, r *http.Request) error {
	if err := rt.setDefaultRoom(chi.URLParam(r, "room")); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

func (rt *Router) handleDefaultService(w http.ResponseWriter, r *http.Request) error {
	rt.setDefaultService(chi.URLParam(r, "service"))
	return api.WriteSuccess(w, nil)
}

// Debug surface

func (rt *Router) handleDebug(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, map[string]any{
		"level":      logging.Level(),
		"categories": logging.Categories(),
	})
}

func (rt *Router) handleDebugCategory(w http.ResponseWriter, r *http.Request) error {
	enabled, err := strconv.ParseBool(chi.URLParam(r, "enabled"))
	if err != nil {
		return apperrors.Validation("enabled must be true or false")
	}
	logging.SetCategory(chi.URLParam(r, "category"), enabled)
	return api.WriteSuccess(w, map[string]any{"categories": logging.Categories()})
}

func (rt *Router) handleDebugAll(enable bool) api.Handler {
	return func(w http.ResponseWriter, _ *http.Request) error {
		if enable {
			logging.EnableAll()
		} else {
			logging.DisableAll()
		}
		return api.WriteSuccess(w, map[string]any{"categories": logging.Categories()})
	}
}

func (rt *Router) handleStartup(withConfig bool) api.Handler {
	return func(w http.ResponseWriter, _ *http.Request) error {
		out := map[string]any{
			"startedAt": rt.startedAt,
			"uptime":    time.Since(rt.startedAt).Round(time.Second).String(),
			"library":   rt.Library.Status(),
			"services":  rt.Services.GetStatus(),
			"stations":  rt.Stations.GetStatus(),
		}
		if withConfig {
			out["config"] = rt.StartupInfo
		}
		return api.WriteResult(w, out)
	}
}

func (rt *Router) handleDeviceHealth(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, map[string]any{
		"devices":     rt.Bus.GetDeviceHealth(),
		"staleNotify": rt.Bus.GetStaleNotifyDevices(),
		"unhealthy":   rt.Bus.GetUnhealthyDevices(),
	})
}

func (rt *Router) handleSchedulerDebug(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.Scheduler.DetailedTasks())
}

func (rt *Router) handleSubscriptionsDebug(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.Subscriber.Subscriptions())
}

func (rt *Router) handleSpotifyParse(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	uri, err := rt.Spotify.URIForID(id)
	if err != nil {
		return err
	}
	metadata, err := rt.Spotify.MetadataForID(id, id)
	if err != nil {
		return err
	}
	return api.WriteResult(w, map[string]string{"uri": uri, "metadata": metadata})
}

func (rt *Router) handleSpotifyBrowse(w http.ResponseWriter, r *http.Request) error {
	p, err := rt.resolveCoordinator("")
	if err != nil {
		return err
	}
	ctx, cancel := soap.BrowseContext()
	defer cancel()
	result, err := p.Browse(ctx, chi.URLParam(r, "objectID"), 0, 100)
	if err != nil {
		return err
	}
	return api.WriteResult(w, result)
}

func (rt *Router) handleSpotifyAccount(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, map[string]any{
		"accounts":    rt.Accounts.Accounts(),
		"usedDefault": rt.Accounts.UsedDefault(),
	})
}
