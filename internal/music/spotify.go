package music

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/accounts"
	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/didl"
)

const spotifySearchURL = "https://api.spotify.com/v1/search"

// TokenSource supplies a bearer token for the web API. The OAuth exchange
// lives outside this package.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// spotifyFlags is the SMAPI flag table by search type. These integers are
// part of the wire contract; a wrong value makes the player silently refuse
// the URI.
var spotifyFlags = map[SearchType]int{
	TypeSong:    8224,
	TypeAlbum:   108,
	TypeStation: 8200,
	TypeArtist:  8200,
}

// upnpClasses by search type, used in generated DIDL-Lite.
var spotifyClasses = map[SearchType]string{
	TypeSong:    "object.item.audioItem.musicTrack",
	TypeAlbum:   "object.container.album.musicAlbum",
	TypeStation: "object.item.audioItem.audioBroadcast.#artistRadio",
	TypeArtist:  "object.item.audioItem.audioBroadcast.#artistRadio",
}

// Spotify is the Spotify-class catalogue adapter. URI construction depends
// on the per-household account extracted from favourites.
type Spotify struct {
	logger   zerolog.Logger
	accounts *accounts.Extractor
	tokens   TokenSource
	client   *http.Client
}

func NewSpotify(extractor *accounts.Extractor, tokens TokenSource, logger zerolog.Logger) *Spotify {
	return &Spotify{
		logger:   logger.With().Str("component", "spotify").Logger(),
		accounts: extractor,
		tokens:   tokens,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Search queries the web API. Structured prefixes in term map onto the API's
// own field qualifiers; results unavailable in country are filtered out.
func (s *Spotify) Search(ctx context.Context, typ SearchType, term, country string) ([]SearchResult, error) {
	if s.tokens == nil {
		return nil, apperrors.ServiceUnconfigured("spotify")
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, apperrors.ServiceUnconfigured("spotify")
	}

	query := buildSpotifyQuery(typ, ParseQuery(term))
	apiType := map[SearchType]string{
		TypeSong:    "track",
		TypeAlbum:   "album",
		TypeStation: "artist",
		TypeArtist:  "artist",
	}[typ]

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", apiType)
	params.Set("limit", "25")
	if country != "" {
		params.Set("market", strings.ToUpper(country))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spotifySearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, apperrors.ServiceUnconfigured("spotify")
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("spotify search: %s", resp.Status)
	}

	var payload spotifySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.results(apiType, strings.ToUpper(country)), nil
}

// buildSpotifyQuery maps the structured query onto web-API field qualifiers.
func buildSpotifyQuery(typ SearchType, q Query) string {
	var parts []string
	if q.Track != "" {
		if typ == TypeSong {
			parts = append(parts, "track:"+q.Track)
		} else {
			parts = append(parts, q.Track)
		}
	}
	if q.Artist != "" {
		parts = append(parts, "artist:"+q.Artist)
	}
	if q.Album != "" {
		parts = append(parts, "album:"+q.Album)
	}
	return strings.Join(parts, " ")
}

// GenerateURI builds the transport URI for one result. The sid/sn pair and
// container prefixes come from the extracted account.
func (s *Spotify) GenerateURI(typ SearchType, result SearchResult) (string, error) {
	acct, ok := s.accounts.Primary()
	if !ok {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	return s.uriFor(typ, result.ID, acct)
}

func (s *Spotify) uriFor(typ SearchType, spotifyID string, acct accounts.SpotifyAccount) (string, error) {
	flags := spotifyFlags[typ]
	encoded := url.QueryEscape(spotifyID)
	suffix := fmt.Sprintf("?sid=%d&flags=%d&sn=%d", acct.SID, flags, acct.SerialNumber)

	switch typ {
	case TypeSong:
		return "x-sonos-spotify:" + encoded + suffix, nil
	case TypeAlbum:
		return "x-rincon-cpcontainer:" + acct.AlbumPrefix + encoded + suffix, nil
	case TypeStation, TypeArtist:
		radio := strings.Replace(spotifyID, "spotify:artist:", "spotify:artistRadio:", 1)
		return "x-sonosapi-radio:" + url.QueryEscape(radio) + suffix, nil
	}
	return "", apperrors.Validation("unsupported search type %q", typ)
}

// PlaylistURI builds a container URI for a raw spotify:playlist: id, used by
// the direct-play route.
func (s *Spotify) PlaylistURI(spotifyID string) (string, error) {
	acct, ok := s.accounts.Primary()
	if !ok {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	suffix := fmt.Sprintf("?sid=%d&flags=%d&sn=%d", acct.SID, 8300, acct.SerialNumber)
	return "x-rincon-cpcontainer:" + acct.PlaylistPrefix + url.QueryEscape(spotifyID) + suffix, nil
}

// URIForID builds a transport URI straight from a spotify:<kind>:<id> string.
func (s *Spotify) URIForID(spotifyID string) (string, error) {
	acct, ok := s.accounts.Primary()
	if !ok {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	switch {
	case strings.HasPrefix(spotifyID, "spotify:track:"):
		return s.uriFor(TypeSong, spotifyID, acct)
	case strings.HasPrefix(spotifyID, "spotify:album:"):
		return s.uriFor(TypeAlbum, spotifyID, acct)
	case strings.HasPrefix(spotifyID, "spotify:playlist:"), strings.HasPrefix(spotifyID, "spotify:user:"):
		return s.PlaylistURI(spotifyID)
	case strings.HasPrefix(spotifyID, "spotify:artist:"), strings.HasPrefix(spotifyID, "spotify:artistRadio:"):
		return s.uriFor(TypeStation, spotifyID, acct)
	}
	return "", apperrors.Validation("unrecognised spotify id %q", spotifyID)
}

// GenerateMetadata renders the DIDL-Lite the player needs alongside the URI.
func (s *Spotify) GenerateMetadata(typ SearchType, result SearchResult) (string, error) {
	acct, ok := s.accounts.Primary()
	if !ok {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	return s.metadataFor(typ, result.ID, result.Title, acct), nil
}

func (s *Spotify) metadataFor(typ SearchType, spotifyID, title string, acct accounts.SpotifyAccount) string {
	itemID := ""
	switch typ {
	case TypeSong:
		itemID = "00032020" + url.QueryEscape(spotifyID)
	case TypeAlbum:
		itemID = "0004206c" + url.QueryEscape(spotifyID)
	case TypeStation, TypeArtist:
		radio := strings.Replace(spotifyID, "spotify:artist:", "spotify:artistRadio:", 1)
		itemID = "000c206c" + url.QueryEscape(radio)
	}
	desc := fmt.Sprintf("SA_RINCON%d_X_#Svc%d-%s-Token", acct.SID, acct.SID, acct.AccountID)
	return didl.BuildItem(itemID, "-1", spotifyClasses[typ], title, "cdudn", desc)
}

// MetadataForID renders DIDL-Lite for a raw spotify id, inferring the type.
func (s *Spotify) MetadataForID(spotifyID, title string) (string, error) {
	acct, ok := s.accounts.Primary()
	if !ok {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	typ := TypeSong
	switch {
	case strings.HasPrefix(spotifyID, "spotify:album:"):
		typ = TypeAlbum
	case strings.HasPrefix(spotifyID, "spotify:artist:"), strings.HasPrefix(spotifyID, "spotify:artistRadio:"):
		typ = TypeStation
	case strings.HasPrefix(spotifyID, "spotify:playlist:"), strings.HasPrefix(spotifyID, "spotify:user:"):
		desc := fmt.Sprintf("SA_RINCON%d_X_#Svc%d-%s-Token", acct.SID, acct.SID, acct.AccountID)
		itemID := "1006286c" + url.QueryEscape(spotifyID)
		return didl.BuildItem(itemID, "-1", "object.container.playlistContainer", title, "cdudn", desc), nil
	}
	return s.metadataFor(typ, spotifyID, title, acct), nil
}

// Web API response shapes, trimmed to what the adapter reads.

type spotifySearchResponse struct {
	Tracks  *spotifyPage `json:"tracks"`
	Albums  *spotifyPage `json:"albums"`
	Artists *spotifyPage `json:"artists"`
}

type spotifyPage struct {
	Items []spotifyItem `json:"items"`
}

type spotifyItem struct {
	ID      string `json:"id"`
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album *struct {
		Name string `json:"name"`
	} `json:"album"`
	AvailableMarkets []string `json:"available_markets"`
}

func (r spotifySearchResponse) results(apiType, market string) []SearchResult {
	var page *spotifyPage
	switch apiType {
	case "track":
		page = r.Tracks
	case "album":
		page = r.Albums
	case "artist":
		page = r.Artists
	}
	if page == nil {
		return nil
	}

	var out []SearchResult
	for _, item := range page.Items {
		if market != "" && len(item.AvailableMarkets) > 0 && !containsString(item.AvailableMarkets, market) {
			continue
		}
		result := SearchResult{ID: item.URI, Title: item.Name}
		if len(item.Artists) > 0 {
			result.Artist = item.Artists[0].Name
		}
		if item.Album != nil {
			result.Album = item.Album.Name
		}
		out = append(out, result)
	}
	return out
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
