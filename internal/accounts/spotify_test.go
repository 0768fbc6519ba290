package accounts

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/didl"
)

const tokenResMD = `&lt;DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/"&gt;&lt;item id="1004206cspotify%3aalbum%3a1"&gt;&lt;desc id="cdudn"&gt;SA_RINCON3079_X_#Svc3079-a1b2c3-Token&lt;/desc&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;`

type recordingObserver struct {
	ids []int
}

func (r *recordingObserver) AddDiscoveredServiceID(id int, canonicalName string) {
	r.ids = append(r.ids, id)
}

func TestURICredentials(t *testing.T) {
	sid, sn := uriCredentials("x-sonos-spotify:spotify%3atrack%3aabc?sid=9&flags=8224&sn=2")
	require.Equal(t, 9, sid)
	require.Equal(t, 2, sn)

	sid, sn = uriCredentials("x-rincon-stream:RINCON_A")
	require.Zero(t, sid)
	require.Zero(t, sn)
}

func TestTokenCredentials(t *testing.T) {
	sid, accountID, ok := tokenCredentials(tokenResMD)
	require.True(t, ok)
	require.Equal(t, 3079, sid)
	require.Equal(t, "a1b2c3", accountID)

	_, _, ok = tokenCredentials("")
	require.False(t, ok)
	_, _, ok = tokenCredentials("&lt;DIDL-Lite&gt;&lt;item/&gt;&lt;/DIDL-Lite&gt;")
	require.False(t, ok)
}

func TestExtractor_Mine(t *testing.T) {
	obs := &recordingObserver{}
	e := NewExtractor(obs, zerolog.Nop())

	items := []didl.Item{
		// Album container: the token SID supersedes the URI's sid.
		{
			Title: "American Idiot",
			Res:   "x-rincon-cpcontainer:1004206Cspotify%3aalbum%3a1?sid=9&flags=8300&sn=2",
			ResMD: tokenResMD,
		},
		// Playlist container for the same account.
		{
			Title: "Road Trip",
			Res:   "x-rincon-cpcontainer:1006286cspotify%3aplaylist%3a2?sid=9&flags=8300&sn=2",
			ResMD: tokenResMD,
		},
		// Non-spotify favourites are ignored.
		{
			Title: "Jazz24",
			Res:   "x-sonosapi-stream:s12345?sid=254",
		},
	}

	accounts := e.mine(items)
	require.Len(t, accounts, 1)

	acct := accounts[0]
	require.Equal(t, 3079, acct.SID)
	require.Equal(t, "a1b2c3", acct.AccountID)
	require.Equal(t, 2, acct.SerialNumber)
	require.Equal(t, "1004206c", acct.AlbumPrefix, "container tags are lowercased")
	require.Equal(t, "1006286c", acct.PlaylistPrefix)

	require.Equal(t, []int{3079}, obs.ids, "discovered sid reported once per account")
}

func TestExtractor_Mine_URIOnlyFallsBackToDefaults(t *testing.T) {
	e := NewExtractor(nil, zerolog.Nop())

	accounts := e.mine([]didl.Item{{
		Title: "Holiday",
		Res:   "x-sonos-spotify:spotify%3atrack%3aabc?sid=9&flags=8224&sn=0",
	}})
	require.Len(t, accounts, 1)

	acct := accounts[0]
	require.Equal(t, 9, acct.SID)
	require.Empty(t, acct.AccountID)
	require.Equal(t, 1, acct.SerialNumber)
	require.Equal(t, DefaultAlbumPrefix, acct.AlbumPrefix)
	require.Equal(t, DefaultPlaylistPrefix, acct.PlaylistPrefix)
}

func TestExtractor_Mine_SkipsCredentiallessItems(t *testing.T) {
	e := NewExtractor(nil, zerolog.Nop())
	require.Empty(t, e.mine([]didl.Item{{
		Title: "Broken",
		Res:   "x-sonos-spotify:spotify%3atrack%3aabc",
	}}))
}

func TestExtractor_Accessors(t *testing.T) {
	e := NewExtractor(nil, zerolog.Nop())
	_, ok := e.Primary()
	require.False(t, ok)

	e.accounts = []SpotifyAccount{{SID: 3079, AccountID: "a1b2c3"}}
	acct, ok := e.Primary()
	require.True(t, ok)
	require.Equal(t, "a1b2c3", acct.AccountID)

	snapshot := e.Accounts()
	snapshot[0].AccountID = "mutated"
	acct, _ = e.Primary()
	require.Equal(t, "a1b2c3", acct.AccountID, "Accounts returns a copy")
}
