package services

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/topology"
)

const serviceList = `&lt;Services SchemaVersion="1"&gt;
&lt;Service Id="9" Name="Spotify" Version="1.1" Uri="https://spotify.ws.sonos.com/smapi" SecureUri="https://spotify.ws.sonos.com/smapi" ContainerType="MService" Capabilities="2563"&gt;
&lt;Policy Auth="DeviceLink" PollInterval="30"/&gt;
&lt;/Service&gt;
&lt;Service Id="254" Name="TuneIn" Version="1.1" Uri="http://legato.radiotime.com/Radio.asmx" SecureUri="http://legato.radiotime.com/Radio.asmx" ContainerType="MService" Capabilities="0"&gt;
&lt;Policy Auth="Anonymous"/&gt;
&lt;/Service&gt;
&lt;Service Id="85255" Name="Pandora" Version="1.1" Uri="http://sonos.pandora.com/services/Sonos" SecureUri="https://sonos.pandora.com/services/Sonos" ContainerType="SoundLab" Capabilities="63"&gt;
&lt;Policy Auth="UserId"/&gt;
&lt;/Service&gt;
&lt;/Services&gt;`

func TestParseDescriptorList(t *testing.T) {
	parsed, err := parseDescriptorList(serviceList)
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	spotify := parsed[9]
	require.NotNil(t, spotify)
	require.Equal(t, "Spotify", spotify.Name)
	require.Equal(t, "spotify", spotify.InternalName)
	require.Equal(t, "DeviceLink", spotify.AuthPolicy)
	require.Equal(t, 2563, spotify.Capabilities)
	require.False(t, spotify.IsPersonalized)
	require.False(t, spotify.IsTuneIn)

	tunein := parsed[254]
	require.True(t, tunein.IsTuneIn)

	pandora := parsed[85255]
	require.True(t, pandora.IsPersonalized, "ids in 80000..99999 are personalized")
}

func TestTypeFromURI(t *testing.T) {
	cases := []struct {
		uri string
		typ ServiceType
	}{
		{"x-sonos-spotify:spotify%3atrack%3aabc?sid=9", TypeSpotify},
		{"x-sonosapi-stream:s12345?sid=254", TypeStream},
		{"x-sonosapi-radio:ST%3a42?sid=236", TypeRadio},
		{"x-sonosapi-hls:something", TypeHLS},
		{"x-rincon-cpcontainer:1006286cplaylist", TypePlaylist},
		{"x-rincon-mp3radio://stream.example/live", TypeMP3Radio},
		{"x-file-cifs://nas/music/track.mp3", TypeLibrary},
		{"http://example.com/a.mp3", TypeUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.typ, TypeFromURI(tc.uri), tc.uri)
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	sched := scheduler.New(zerolog.Nop())
	t.Cleanup(sched.Stop)
	registry := discovery.NewRegistry(sched, zerolog.Nop())
	topo := topology.NewManager(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "services-cache.json")
	return NewCache(registry, topo, soap.NewClient(0), sched, path, zerolog.Nop())
}

func TestCache_AddDiscoveredServiceID(t *testing.T) {
	c := newTestCache(t)
	parsed, err := parseDescriptorList(serviceList)
	require.NoError(t, err)
	c.services = parsed

	c.AddDiscoveredServiceID(83231, "Spotify")

	svc, ok := c.ByID(83231)
	require.True(t, ok)
	require.Equal(t, "Spotify", svc.Name)
	require.True(t, svc.IsDiscovered)
	require.True(t, svc.IsPersonalized)

	// Existing ids are never overwritten.
	c.AddDiscoveredServiceID(254, "Spotify")
	svc, ok = c.ByID(254)
	require.True(t, ok)
	require.Equal(t, "TuneIn", svc.Name)
	require.False(t, svc.IsDiscovered)

	// Unknown canonical names are ignored.
	c.AddDiscoveredServiceID(90000, "Nonesuch")
	_, ok = c.ByID(90000)
	require.False(t, ok)
}

func TestCache_ByName(t *testing.T) {
	c := newTestCache(t)
	parsed, err := parseDescriptorList(serviceList)
	require.NoError(t, err)
	c.services = parsed

	svc, ok := c.ByName("spotify")
	require.True(t, ok)
	require.Equal(t, 9, svc.ID)

	_, ok = c.ByName("deezer")
	require.False(t, ok)
}

func TestCache_PersistRoundTrip(t *testing.T) {
	c := newTestCache(t)
	parsed, err := parseDescriptorList(serviceList)
	require.NoError(t, err)
	c.services = parsed
	require.NoError(t, c.persist())

	reloaded := NewCache(c.registry, c.topo, c.client, c.sched, c.path, zerolog.Nop())
	require.NoError(t, reloaded.load())
	require.Len(t, reloaded.GetServices(), 3)
	svc, ok := reloaded.ByID(9)
	require.True(t, ok)
	require.Equal(t, TypeUnknown, svc.Type, "descriptor endpoint URIs carry no scheme marker")
}
