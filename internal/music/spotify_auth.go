package music

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
)

const (
	spotifyAuthorizeURL = "https://accounts.spotify.com/authorize"
	spotifyTokenURL     = "https://accounts.spotify.com/api/token"
	spotifyScopes       = "user-read-private"

	// Refresh slightly early so an in-flight search never carries an
	// expired token.
	tokenExpirySlack = 30 * time.Second
)

// SpotifyOAuth owns the authorization-code exchange and token persistence
// for the web API. It implements TokenSource.
type SpotifyOAuth struct {
	logger       zerolog.Logger
	httpClient   *http.Client
	clientID     string
	clientSecret string
	path         string

	mu          sync.Mutex
	callbackURL string
	tokens      spotifyTokens
}

type spotifyTokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func NewSpotifyOAuth(clientID, clientSecret, path string, logger zerolog.Logger) *SpotifyOAuth {
	o := &SpotifyOAuth{
		logger:       logger.With().Str("component", "spotify").Logger(),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		path:         path,
	}
	if err := o.load(); err != nil && !os.IsNotExist(err) {
		o.logger.Warn().Err(err).Msg("could not load spotify tokens")
	}
	return o
}

// Configured reports whether application credentials are present.
func (o *SpotifyOAuth) Configured() bool {
	return o.clientID != "" && o.clientSecret != ""
}

// AuthURL builds the user-consent URL. The callback URL must be set first.
func (o *SpotifyOAuth) AuthURL() (string, error) {
	if !o.Configured() {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	o.mu.Lock()
	callback := o.callbackURL
	o.mu.Unlock()
	if callback == "" {
		return "", apperrors.Validation("spotify callback url not set")
	}
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {o.clientID},
		"scope":         {spotifyScopes},
		"redirect_uri":  {callback},
	}
	return spotifyAuthorizeURL + "?" + params.Encode(), nil
}

// SetCallbackURL stores the redirect URI used for the code exchange.
func (o *SpotifyOAuth) SetCallbackURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return apperrors.Validation("callback url must be absolute")
	}
	o.mu.Lock()
	o.callbackURL = raw
	o.mu.Unlock()
	return nil
}

// HandleCallback exchanges the authorization code and persists the tokens.
func (o *SpotifyOAuth) HandleCallback(ctx context.Context, code string) error {
	o.mu.Lock()
	callback := o.callbackURL
	o.mu.Unlock()

	tokens, err := o.exchange(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {callback},
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.tokens = tokens
	o.mu.Unlock()
	if err := o.persist(); err != nil {
		o.logger.Warn().Err(err).Msg("could not persist spotify tokens")
	}
	o.logger.Info().Time("expiresAt", tokens.ExpiresAt).Msg("spotify authorized")
	return nil
}

// Token returns a valid bearer token, refreshing when near expiry.
func (o *SpotifyOAuth) Token(ctx context.Context) (string, error) {
	if !o.Configured() {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	o.mu.Lock()
	current := o.tokens
	o.mu.Unlock()
	if current.RefreshToken == "" && current.AccessToken == "" {
		return "", apperrors.ServiceUnconfigured("spotify")
	}
	if time.Until(current.ExpiresAt) > tokenExpirySlack {
		return current.AccessToken, nil
	}

	refreshed, err := o.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	})
	if err != nil {
		return "", err
	}
	// Spotify omits the refresh token on rotation-free refreshes.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}

	o.mu.Lock()
	o.tokens = refreshed
	o.mu.Unlock()
	if err := o.persist(); err != nil {
		o.logger.Warn().Err(err).Msg("could not persist spotify tokens")
	}
	return refreshed.AccessToken, nil
}

// Status reports authorization state without exposing token material.
func (o *SpotifyOAuth) Status() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := map[string]any{
		"configured": o.Configured(),
		"authorized": o.tokens.RefreshToken != "",
	}
	if !o.tokens.ExpiresAt.IsZero() {
		out["tokenExpiresAt"] = o.tokens.ExpiresAt
	}
	if o.callbackURL != "" {
		out["callbackUrl"] = o.callbackURL
	}
	return out
}

func (o *SpotifyOAuth) exchange(ctx context.Context, form url.Values) (spotifyTokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spotifyTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return spotifyTokens{}, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(o.clientID + ":" + o.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return spotifyTokens{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return spotifyTokens{}, apperrors.Validation("spotify token endpoint answered %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return spotifyTokens{}, err
	}
	return spotifyTokens{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

func (o *SpotifyOAuth) load() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return json.Unmarshal(data, &o.tokens)
}

func (o *SpotifyOAuth) persist() error {
	o.mu.Lock()
	data, err := json.MarshalIndent(o.tokens, "", "  ")
	o.mu.Unlock()
	if err != nil {
		return err
	}
	return renameio.WriteFile(o.path, data, 0o600)
}
