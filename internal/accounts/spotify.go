// Package accounts mines per-household service account identifiers out of
// device favourites. Newer firmware exposes no API for these, so the token
// fragments embedded in favourite metadata are the only source.
package accounts

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/didl"
	"github.com/homeaudio/sonos-gateway/internal/player"
)

// SpotifyAccount is one extracted account instance.
type SpotifyAccount struct {
	SID            int    `json:"sid"`
	SerialNumber   int    `json:"sn"`
	AccountID      string `json:"accountId"`
	AlbumPrefix    string `json:"albumPrefix"`
	PlaylistPrefix string `json:"playlistPrefix"`
}

// Hard-coded prefixes used when no favourite reveals the household's own.
const (
	DefaultAlbumPrefix    = "1004206c"
	DefaultPlaylistPrefix = "1006286c"
	DefaultSpotifySID     = 9
)

// saRinconToken matches the service descriptor token inside favourite
// metadata: SA_RINCON<sid>_X_#Svc<sid>-<accountId>-Token.
var saRinconToken = regexp.MustCompile(`SA_RINCON(\d+)_X_#Svc\d+-(\w+)-Token`)

// containerPrefix captures the hex tag of an x-rincon-cpcontainer URI.
var containerPrefix = regexp.MustCompile(`x-rincon-cpcontainer:([0-9a-fA-F]{8})`)

// ServiceIDObserver receives service ids seen in the wild; the services
// cache implements it to keep its table in sync.
type ServiceIDObserver interface {
	AddDiscoveredServiceID(id int, canonicalName string)
}

// Extractor owns the Spotify account cache. It is the only mutator.
type Extractor struct {
	logger   zerolog.Logger
	observer ServiceIDObserver

	mu          sync.RWMutex
	accounts    []SpotifyAccount
	extractedAt time.Time
	usedDefault bool
}

func NewExtractor(observer ServiceIDObserver, logger zerolog.Logger) *Extractor {
	return &Extractor{
		logger:   logger.With().Str("component", "accounts").Logger(),
		observer: observer,
	}
}

// Refresh browses the favourites container on p and rebuilds the account
// cache. Falls back to defaults when no favourite reveals credentials.
func (e *Extractor) Refresh(ctx context.Context, p *player.Player) error {
	items, err := p.Favorites(ctx)
	if err != nil {
		return err
	}

	accounts := e.mine(items)
	e.mu.Lock()
	if len(accounts) > 0 {
		e.accounts = accounts
		e.usedDefault = false
	} else if len(e.accounts) == 0 {
		e.accounts = []SpotifyAccount{{
			SID:            DefaultSpotifySID,
			SerialNumber:   1,
			AlbumPrefix:    DefaultAlbumPrefix,
			PlaylistPrefix: DefaultPlaylistPrefix,
		}}
		e.usedDefault = true
	}
	e.extractedAt = time.Now()
	usedDefault := e.usedDefault
	e.mu.Unlock()

	if usedDefault {
		e.logger.Warn().Msg("no spotify favourites found, using default account prefixes")
	} else {
		e.logger.Info().Int("accounts", len(accounts)).Msg("spotify accounts extracted")
	}
	return nil
}

// mine walks favourites for spotify items and collapses their tokens into
// per-account records. The SID inside the token supersedes the sid query
// parameter of the favourite URI.
func (e *Extractor) mine(items []didl.Item) []SpotifyAccount {
	byAccount := make(map[string]*SpotifyAccount)
	var order []string

	for _, item := range items {
		if !strings.Contains(item.Res, "spotify") {
			continue
		}

		sid, sn := uriCredentials(item.Res)
		accountID := ""
		if tokenSID, id, ok := tokenCredentials(item.ResMD); ok {
			accountID = id
			sid = tokenSID
		}
		if sid == 0 {
			continue
		}

		key := strconv.Itoa(sid) + "/" + accountID
		acct, seen := byAccount[key]
		if !seen {
			acct = &SpotifyAccount{SID: sid, SerialNumber: sn, AccountID: accountID}
			byAccount[key] = acct
			order = append(order, key)
			if e.observer != nil {
				e.observer.AddDiscoveredServiceID(sid, "Spotify")
			}
		}
		if sn > 0 && acct.SerialNumber == 0 {
			acct.SerialNumber = sn
		}

		if prefix := containerPrefix.FindStringSubmatch(item.Res); prefix != nil {
			tag := strings.ToLower(prefix[1])
			switch {
			case strings.Contains(item.Res, "album"):
				acct.AlbumPrefix = tag
			case strings.Contains(item.Res, "playlist"):
				acct.PlaylistPrefix = tag
			}
		}
	}

	accounts := make([]SpotifyAccount, 0, len(order))
	for _, key := range order {
		acct := byAccount[key]
		if acct.AlbumPrefix == "" {
			acct.AlbumPrefix = DefaultAlbumPrefix
		}
		if acct.PlaylistPrefix == "" {
			acct.PlaylistPrefix = DefaultPlaylistPrefix
		}
		if acct.SerialNumber == 0 {
			acct.SerialNumber = 1
		}
		accounts = append(accounts, *acct)
	}
	return accounts
}

// uriCredentials pulls sid and sn from a favourite URI's query string.
func uriCredentials(rawURI string) (sid, sn int) {
	idx := strings.IndexByte(rawURI, '?')
	if idx < 0 {
		return 0, 0
	}
	values, err := url.ParseQuery(rawURI[idx+1:])
	if err != nil {
		return 0, 0
	}
	sid, _ = strconv.Atoi(values.Get("sid"))
	sn, _ = strconv.Atoi(values.Get("sn"))
	return sid, sn
}

// tokenCredentials digs the SA_RINCON token out of the double-escaped
// metadata carried in r:resMD.
func tokenCredentials(resMD string) (sid int, accountID string, ok bool) {
	if resMD == "" {
		return 0, "", false
	}
	inner := html.UnescapeString(resMD)
	match := saRinconToken.FindStringSubmatch(inner)
	if match == nil {
		return 0, "", false
	}
	sid, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, "", false
	}
	return sid, match[2], true
}

// Accounts returns a snapshot of the extracted accounts.
func (e *Extractor) Accounts() []SpotifyAccount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SpotifyAccount, len(e.accounts))
	copy(out, e.accounts)
	return out
}

// Primary returns the first extracted account.
func (e *Extractor) Primary() (SpotifyAccount, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.accounts) == 0 {
		return SpotifyAccount{}, false
	}
	return e.accounts[0], true
}

// UsedDefault reports whether the current account came from the hard-coded
// fallback rather than a favourite.
func (e *Extractor) UsedDefault() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.usedDefault
}
