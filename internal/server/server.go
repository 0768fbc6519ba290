// Package server wires every component together and owns startup and
// shutdown ordering.
package server

import (
	"context"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/accounts"
	"github.com/homeaudio/sonos-gateway/internal/api"
	"github.com/homeaudio/sonos-gateway/internal/config"
	"github.com/homeaudio/sonos-gateway/internal/db"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/events"
	"github.com/homeaudio/sonos-gateway/internal/music"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/presets"
	"github.com/homeaudio/sonos-gateway/internal/router"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/services"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/stations"
	"github.com/homeaudio/sonos-gateway/internal/topology"
	"github.com/homeaudio/sonos-gateway/internal/tts"
)

const (
	controlTimeout      = 5 * time.Second
	unsubscribeBudget   = 2 * time.Second
	ttsCleanTaskID      = "tts.clean"
	spotifyMineTaskID   = "accounts.spotify"
	spotifyMineInterval = 12 * time.Hour
)

// Options controls wiring details that differ between production and tests.
type Options struct {
	DisableDiscovery bool
	TTS              tts.Provider
	PandoraAPI       stations.API
}

// NewHandler assembles the gateway and returns the HTTP handler plus a
// shutdown function that drains everything in order.
func NewHandler(cfg config.Config, logger zerolog.Logger, options Options) (http.Handler, func(context.Context) error, error) {
	dbPair, err := db.Init(cfg.DataPath("gateway.db"))
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(logger)
	soapClient := soap.NewClient(controlTimeout)

	registry := discovery.NewRegistry(sched, logger)
	registry.OnDeviceAdded(func(d *discovery.Device) { soapClient.MarkDiscovered(d.BaseURL) })
	topo := topology.NewManager(logger)

	bus := events.NewBus(sched, logger)
	bus.SetTopology(topo)
	bus.Start()

	subscriber := events.NewSubscriber(registry, bus, sched, logger)

	serviceCache := services.NewCache(registry, topo, soapClient, sched, cfg.DataPath("services-cache.json"), logger)
	extractor := accounts.NewExtractor(serviceCache, logger)

	spotifyAuth := music.NewSpotifyOAuth(cfg.SpotifyClientID, cfg.SpotifyClientSecret,
		cfg.DataPath("spotify-tokens.json"), logger)
	spotify := music.NewSpotify(extractor, spotifyAuth, logger)

	library := music.NewLibrary(registry, soapClient, sched, cfg.DataPath("music-library.json"),
		cfg.RandomQueueLimit, cfg.ReindexInterval(), logger)

	stationManager := stations.NewManager(registry, soapClient, sched, options.PandoraAPI,
		cfg.DataPath("pandora-stations.json"), logger)

	presetRepo := presets.NewRepository(dbPair)
	runner := player.NewPresetRunner(registry, topo, soapClient, bus, logger)

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	if !options.DisableDiscovery {
		localIP := registry.LocalIP()
		if localIP == "" {
			if localIP, err = discovery.LocalIP(); err != nil {
				shutdownCancel()
				return nil, nil, err
			}
		}
		if err := subscriber.Start(localIP); err != nil {
			shutdownCancel()
			return nil, nil, err
		}
		registry.Start(shutdownCtx)
		serviceCache.Start()
		library.Start()
		stationManager.Start()
		scheduleAccountMining(sched, registry, topo, soapClient, extractor, logger)
	}

	if cfg.TTSCacheMaxAgeHours > 0 {
		maxAge := time.Duration(cfg.TTSCacheMaxAgeHours) * time.Hour
		ttsDir := cfg.DataPath("tts")
		sched.ScheduleInterval(ttsCleanTaskID, func() {
			if err := tts.CleanCache(ttsDir, maxAge); err != nil {
				logger.Debug().Err(err).Msg("tts cache cleanup failed")
			}
		}, time.Hour, scheduler.TaskOptions{Unref: true})
	}

	rt := router.New(router.Deps{
		Logger:      logger,
		Registry:    registry,
		Topology:    topo,
		Bus:         bus,
		Subscriber:  subscriber,
		Scheduler:   sched,
		Client:      soapClient,
		Services:    serviceCache,
		Accounts:    extractor,
		Spotify:     spotify,
		SpotifyAuth: spotifyAuth,
		Library:     library,
		Stations:    stationManager,
		Presets:     presetRepo,
		Runner:      runner,
		Stream:      events.NewStreamHandler(bus, logger),
		Metrics:     promhttp.Handler(),
		TTS:         options.TTS,

		AnnounceVolume: cfg.AnnounceVolume,
		Country:        cfg.Country,
		DefaultRoom:    cfg.DefaultRoom,
		DefaultService: cfg.DefaultService,
		StartupInfo:    startupInfo(cfg),
	})

	mux := chi.NewRouter()
	mux.Use(middleware.StripSlashes)
	mux.Use(api.CORS)
	mux.Use(api.RequestID)
	mux.Use(api.Recoverer(logger))
	mux.Use(api.BasicAuth(cfg.AuthUsername, cfg.AuthPassword, cfg.TrustedNetworks,
		[]string{"/health", "/spotify/callback"}, logger))
	mux.Use(api.AccessLog(logger))
	rt.Routes(mux)

	shutdown := func(ctx context.Context) error {
		shutdownCancel()
		sched.Stop()
		registry.Stop()

		if ctx == nil {
			ctx = context.Background()
		}
		unsubCtx, cancel := context.WithTimeout(ctx, unsubscribeBudget)
		subscriber.Stop(unsubCtx)
		cancel()

		return dbPair.Close()
	}

	return mux, shutdown, nil
}

// scheduleAccountMining refreshes the Spotify account credentials from
// favourites once a coordinator is reachable, then periodically.
func scheduleAccountMining(sched *scheduler.Scheduler, registry *discovery.Registry, topo *topology.Manager, client *soap.Client, extractor *accounts.Extractor, logger zerolog.Logger) {
	mine := func() {
		device := pickDevice(registry, topo)
		if device == nil {
			return
		}
		ctx, cancel := soap.BrowseContext()
		defer cancel()
		if err := extractor.Refresh(ctx, player.New(device, client)); err != nil {
			logger.Debug().Err(err).Msg("account mining failed")
		}
	}
	sched.ScheduleTimeout(spotifyMineTaskID+".initial", mine, 30*time.Second, scheduler.TaskOptions{Unref: true})
	sched.ScheduleInterval(spotifyMineTaskID, mine, spotifyMineInterval, scheduler.TaskOptions{Unref: true})
}

func pickDevice(registry *discovery.Registry, topo *topology.Manager) *discovery.Device {
	devices := registry.GetAll()
	for _, d := range devices {
		if topo.CoordinatorOf(d.UUID) == discovery.NormalizeUUID(d.UUID) {
			return d
		}
	}
	if len(devices) > 0 {
		return devices[0]
	}
	return nil
}

// startupInfo is the redacted configuration snapshot behind the debug
// surface.
func startupInfo(cfg config.Config) map[string]any {
	return map[string]any{
		"host":                   cfg.Host,
		"port":                   cfg.Port,
		"dataDir":                cfg.DataDir,
		"defaultRoom":            cfg.DefaultRoom,
		"defaultService":         cfg.DefaultService,
		"announceVolume":         cfg.AnnounceVolume,
		"country":                cfg.Country,
		"libraryReindexInterval": cfg.LibraryReindexInterval,
		"randomQueueLimit":       cfg.RandomQueueLimit,
		"trustedNetworks":        cfg.TrustedNetworks,
		"authConfigured":         cfg.AuthUsername != "",
		"spotifyConfigured":      cfg.SpotifyClientID != "",
		"pandoraConfigured":      cfg.PandoraUsername != "",
		"logLevel":               cfg.LogLevel,
	}
}
