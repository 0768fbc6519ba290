package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/homeaudio/sonos-gateway/internal/api"
	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/music"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/stations"
)

func (rt *Router) musicRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/{room}/musicsearch/{service}/{type}/{term}", api.Handler(rt.handleMusicSearch))
	for _, typ := range []string{"song", "album", "station", "artist"} {
		r.Method(http.MethodGet, "/"+typ+"/{term}", api.Handler(rt.handleDefaultSearch(typ)))
	}

	r.Method(http.MethodGet, "/library/index", api.Handler(rt.handleLibraryReindex))
	r.Method(http.MethodGet, "/library/refresh", api.Handler(rt.handleLibraryReindex))
	r.Method(http.MethodGet, "/library/summary", api.Handler(rt.handleLibrarySummary))
	r.Method(http.MethodGet, "/library/detailed", api.Handler(rt.handleLibraryDetailed))

	r.Method(http.MethodGet, "/{room}/spotify/play/{id}", api.Handler(rt.handleSpotifyPlay))
	r.Method(http.MethodGet, "/spotify/auth", api.Handler(rt.handleSpotifyAuth))
	r.Method(http.MethodGet, "/spotify/auth-url", api.Handler(rt.handleSpotifyAuthURL))
	r.Method(http.MethodGet, "/spotify/callback", api.Handler(rt.handleSpotifyCallback))
	r.Method(http.MethodPost, "/spotify/callback", api.Handler(rt.handleSpotifyCallback))
	r.Method(http.MethodGet, "/spotify/status", api.Handler(rt.handleSpotifyStatus))
	r.Method(http.MethodPost, "/spotify/callback-url", api.Handler(rt.handleSpotifyCallbackURL))

	r.Method(http.MethodGet, "/{room}/pandora/play/{name}", api.Handler(rt.handlePandoraPlay))
	r.Method(http.MethodGet, "/{room}/pandora/thumbsup", api.Handler(rt.handlePandoraFeedback(true)))
	r.Method(http.MethodGet, "/{room}/pandora/thumbsdown", api.Handler(rt.handlePandoraFeedback(false)))
	r.Method(http.MethodGet, "/{room}/pandora/stations", api.Handler(rt.handlePandoraStations(false)))
	r.Method(http.MethodGet, "/{room}/pandora/stations/detailed", api.Handler(rt.handlePandoraStations(true)))
	r.Method(http.MethodGet, "/{room}/pandora/clear", api.Handler(rt.handlePandoraClear))

	r.Method(http.MethodGet, "/{room}/siriusxm/{name}", api.Handler(rt.handleSiriusXM))
}

// adapterFor maps a service route segment to its catalogue adapter.
func (rt *Router) adapterFor(service string) (music.Adapter, error) {
	switch strings.ToLower(service) {
	case "library":
		return libraryAdapter{rt.Library}, nil
	case "spotify":
		if rt.Spotify == nil {
			return nil, apperrors.ServiceUnconfigured("spotify")
		}
		return rt.Spotify, nil
	default:
		return nil, apperrors.Validation("unknown music service: %s", service)
	}
}

// libraryAdapter adapts the indexer to the catalogue contract. Library
// results already carry playable URIs, so URI generation is pass-through.
type libraryAdapter struct {
	lib *music.Library
}

func (a libraryAdapter) Search(ctx context.Context, typ music.SearchType, term, country string) ([]music.SearchResult, error) {
	return a.lib.SearchContext(ctx, typ, term, country)
}

func (a libraryAdapter) GenerateURI(_ music.SearchType, result music.SearchResult) (string, error) {
	return result.URI, nil
}

func (a libraryAdapter) GenerateMetadata(music.SearchType, music.SearchResult) (string, error) {
	return "", nil
}

func (rt *Router) handleMusicSearch(w http.ResponseWriter, r *http.Request) error {
	return rt.musicSearch(w, r,
		chi.URLParam(r, "room"),
		chi.URLParam(r, "service"),
		chi.URLParam(r, "type"),
		chi.URLParam(r, "term"))
}

// handleDefaultSearch serves the /{type}/{term} shortcuts against the
// default room and service.
func (rt *Router) handleDefaultSearch(typ string) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		_, service := rt.defaults()
		return rt.musicSearch(w, r, "", service, typ, chi.URLParam(r, "term"))
	}
}

func (rt *Router) musicSearch(w http.ResponseWriter, r *http.Request, room, service, typ, term string) error {
	if !music.ValidSearchType(typ) {
		return apperrors.Validation("unknown search type: %s", typ)
	}
	adapter, err := rt.adapterFor(service)
	if err != nil {
		return err
	}

	results, err := adapter.Search(r.Context(), music.SearchType(typ), term, rt.Country)
	if err != nil {
		return err
	}
	if r.URL.Query().Get("play") == "false" {
		return api.WriteResult(w, results)
	}
	if len(results) == 0 {
		return apperrors.Validation("no results for %q", term)
	}

	p, err := rt.resolveCoordinator(room)
	if err != nil {
		return err
	}

	isLibrary := strings.EqualFold(service, "library")
	searchType := music.SearchType(typ)

	ctx, cancel := soap.BrowseContext()
	defer cancel()

	if searchType == music.TypeStation || searchType == music.TypeArtist {
		uri, err := adapter.GenerateURI(searchType, results[0])
		if err != nil {
			return err
		}
		metadata, err := adapter.GenerateMetadata(searchType, results[0])
		if err != nil {
			return err
		}
		if err := p.SetAVTransportURI(ctx, uri, metadata); err != nil {
			return err
		}
		if err := p.Play(ctx); err != nil {
			return err
		}
		return api.WriteSuccess(w, map[string]any{"playing": results[0]})
	}

	// Songs and albums play from the queue.
	if err := p.ClearQueue(ctx); err != nil {
		return err
	}
	toQueue := results[:1]
	if isLibrary {
		toQueue = results
	}
	for _, result := range toQueue {
		uri, err := adapter.GenerateURI(searchType, result)
		if err != nil {
			return err
		}
		metadata, err := adapter.GenerateMetadata(searchType, result)
		if err != nil {
			return err
		}
		if _, err := p.AddURIToQueue(ctx, uri, metadata, false, 0); err != nil {
			return err
		}
	}
	if err := rt.playFromQueue(ctx, p); err != nil {
		return err
	}
	return api.WriteSuccess(w, map[string]any{"queued": len(toQueue), "playing": results[0]})
}

func (rt *Router) playFromQueue(ctx context.Context, p *player.Player) error {
	queueURI := "x-rincon-queue:" + discovery.NormalizeUUID(p.UUID) + "#0"
	if err := p.SetAVTransportURI(ctx, queueURI, ""); err != nil {
		return err
	}
	return p.Play(ctx)
}

// Library admin

func (rt *Router) handleLibraryReindex(w http.ResponseWriter, r *http.Request) error {
	go func() {
		if err := rt.Library.Reindex(context.Background()); err != nil {
			rt.logger.Warn().Err(err).Msg("manual reindex failed")
		}
	}()
	return api.WriteSuccess(w, map[string]any{"status": rt.Library.Status()})
}

func (rt *Router) handleLibrarySummary(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.Library.Status())
}

func (rt *Router) handleLibraryDetailed(w http.ResponseWriter, _ *http.Request) error {
	tracks, err := rt.Library.Tracks()
	if err != nil {
		return err
	}
	artists, err := rt.Library.Artists()
	if err != nil {
		return err
	}
	return api.WriteResult(w, map[string]any{
		"status":  rt.Library.Status(),
		"artists": artists,
		"tracks":  tracks,
	})
}

// Spotify

func (rt *Router) handleSpotifyPlay(w http.ResponseWriter, r *http.Request) error {
	if rt.Spotify == nil {
		return apperrors.ServiceUnconfigured("spotify")
	}
	id := chi.URLParam(r, "id")
	uri, err := rt.Spotify.URIForID(id)
	if err != nil {
		return err
	}
	metadata, err := rt.Spotify.MetadataForID(id, id)
	if err != nil {
		return err
	}
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}

	ctx, cancel := soap.BrowseContext()
	defer cancel()

	// Containers (album, playlist) play directly; tracks go via the queue.
	if strings.HasPrefix(uri, "x-rincon-cpcontainer:") {
		if err := p.SetAVTransportURI(ctx, uri, metadata); err != nil {
			return err
		}
		if err := p.Play(ctx); err != nil {
			return err
		}
		return api.WriteSuccess(w, nil)
	}
	if err := p.ClearQueue(ctx); err != nil {
		return err
	}
	if _, err := p.AddURIToQueue(ctx, uri, metadata, false, 0); err != nil {
		return err
	}
	if err := rt.playFromQueue(ctx, p); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

func (rt *Router) handleSpotifyAuth(w http.ResponseWriter, r *http.Request) error {
	if rt.SpotifyAuth == nil {
		return apperrors.ServiceUnconfigured("spotify")
	}
	url, err := rt.SpotifyAuth.AuthURL()
	if err != nil {
		return err
	}
	http.Redirect(w, r, url, http.StatusFound)
	return nil
}

func (rt *Router) handleSpotifyAuthURL(w http.ResponseWriter, _ *http.Request) error {
	if rt.SpotifyAuth == nil {
		return apperrors.ServiceUnconfigured("spotify")
	}
	url, err := rt.SpotifyAuth.AuthURL()
	if err != nil {
		return err
	}
	return api.WriteResult(w, map[string]string{"url": url})
}

func (rt *Router) handleSpotifyCallback(w http.ResponseWriter, r *http.Request) error {
	if rt.SpotifyAuth == nil {
		return apperrors.ServiceUnconfigured("spotify")
	}
	code := r.URL.Query().Get("code")
	if code == "" && r.Method == http.MethodPost {
		var body struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			code = body.Code
		}
	}
	if code == "" {
		return apperrors.Validation("missing authorization code")
	}
	if err := rt.SpotifyAuth.HandleCallback(r.Context(), code); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

func (rt *Router) handleSpotifyStatus(w http.ResponseWriter, _ *http.Request) error {
	if rt.SpotifyAuth == nil {
		return api.WriteResult(w, map[string]any{"configured": false})
	}
	return api.WriteResult(w, rt.SpotifyAuth.Status())
}

func (rt *Router) handleSpotifyCallbackURL(w http.ResponseWriter, r *http.Request) error {
	if rt.SpotifyAuth == nil {
		return apperrors.ServiceUnconfigured("spotify")
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		return apperrors.Validation("body must be {\"url\": \"...\"}")
	}
	if err := rt.SpotifyAuth.SetCallbackURL(body.URL); err != nil {
		return err
	}
	return api.WriteSuccess(w, nil)
}

// Pandora

func (rt *Router) handlePandoraPlay(w http.ResponseWriter, r *http.Request) error {
	station, err := rt.Stations.FindStation(chi.URLParam(r, "name"))
	if err != nil {
		return err
	}
	p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
	if err != nil {
		return err
	}
	ctx, cancel := soap.ControlContext()
	defer cancel()
	if err := p.SetAVTransportURI(ctx, station.URI, station.Metadata); err != nil {
		return err
	}
	if err := p.Play(ctx); err != nil {
		return err
	}
	return api.WriteSuccess(w, map[string]any{"station": station.StationName})
}

func (rt *Router) handlePandoraFeedback(up bool) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := rt.resolveCoordinator(chi.URLParam(r, "room"))
		if err != nil {
			return err
		}
		ctx, cancel := soap.ControlContext()
		defer cancel()
		position, err := p.GetPositionInfo(ctx)
		if err != nil {
			return err
		}
		station := stations.StationIDFromURI(position.TrackURI)
		if station == "" {
			return apperrors.Validation("current track is not a pandora station")
		}
		if err := rt.Stations.Feedback(r.Context(), station, up); err != nil {
			return err
		}
		return api.WriteSuccess(w, nil)
	}
}

func (rt *Router) handlePandoraStations(detailed bool) api.Handler {
	return func(w http.ResponseWriter, _ *http.Request) error {
		records := rt.Stations.Stations()
		if detailed {
			return api.WriteResult(w, records)
		}
		names := make([]string, 0, len(records))
		for _, record := range records {
			names = append(names, record.StationName)
		}
		return api.WriteResult(w, names)
	}
}

func (rt *Router) handlePandoraStatus(w http.ResponseWriter, _ *http.Request) error {
	return api.WriteResult(w, rt.Stations.GetStatus())
}

func (rt *Router) handlePandoraClear(w http.ResponseWriter, _ *http.Request) error {
	rt.Stations.Clear()
	return api.WriteSuccess(w, nil)
}

// SiriusXM plays a channel by favourite name; channels are only reachable
// through favourites on current firmware.
func (rt *Router) handleSiriusXM(w http.ResponseWriter, r *http.Request) error {
	return rt.playFavorite(w, r, chi.URLParam(r, "name"))
}
