package didl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const favoriteDIDL = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">
  <item id="FV:2/13" parentID="FV:2" restricted="false">
    <dc:title>Morning Jazz</dc:title>
    <upnp:class>object.itemobject.item.sonos-favorite</upnp:class>
    <r:resMD>&lt;DIDL-Lite&gt;&lt;item id=&quot;10092020spotify%3atrack%3aabc&quot;&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;</r:resMD>
    <res protocolInfo="sonos.com-spotify:*:audio/x-spotify:*">x-sonos-spotify:spotify%3atrack%3aabc?sid=9&amp;flags=8224&amp;sn=2</res>
    <upnp:albumArtURI>/getaa?s=1&amp;u=x-sonos-spotify</upnp:albumArtURI>
  </item>
  <container id="A:ALBUM/Blue" parentID="A:ALBUM" restricted="true">
    <dc:title>Blue</dc:title>
    <dc:creator>Joni Mitchell</dc:creator>
    <upnp:class>object.container.album.musicAlbum</upnp:class>
  </container>
</DIDL-Lite>`

func TestParse_ItemsAndContainers(t *testing.T) {
	items, err := Parse(favoriteDIDL)
	require.NoError(t, err)
	require.Len(t, items, 2)

	fav := items[0]
	require.Equal(t, "FV:2/13", fav.ID)
	require.Equal(t, "Morning Jazz", fav.Title)
	require.Equal(t, "x-sonos-spotify:spotify%3atrack%3aabc?sid=9&flags=8224&sn=2", fav.Res)
	require.Equal(t, "sonos.com-spotify:*:audio/x-spotify:*", fav.ProtocolInfo)
	// The inner document stays escaped; unwrapping is the caller's job.
	require.Contains(t, fav.ResMD, `<item id="10092020spotify%3atrack%3aabc">`)

	album := items[1]
	require.Equal(t, "Blue", album.Title)
	require.Equal(t, "Joni Mitchell", album.Creator)
	require.Equal(t, "object.container.album.musicAlbum", album.Class)
}

func TestParse_IgnoresUnknownElements(t *testing.T) {
	items, err := Parse(`<DIDL-Lite><desc>stray</desc></DIDL-Lite>`)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestEscapeTitle(t *testing.T) {
	require.Equal(t, "Rock &amp; Roll", EscapeTitle("Rock & Roll"))
	require.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", EscapeTitle("<b>bold</b>"))
	require.Equal(t, "&quot;air&quot; &apos;quotes&apos;", EscapeTitle(`"air" 'quotes'`))
}

func TestEscapeTitle_LeavesExistingEntities(t *testing.T) {
	require.Equal(t, "Rock &amp; Roll", EscapeTitle("Rock &amp; Roll"))
	require.Equal(t, "A &#233; B", EscapeTitle("A &#233; B"))
	require.Equal(t, "&lt;kept&gt;", EscapeTitle("&lt;kept&gt;"))
}

func TestBuildItem_RoundTripsThroughParse(t *testing.T) {
	doc := BuildItem("00032020spotify%3atrack%3aabc", "-1", "object.item.audioItem.musicTrack",
		"Song & Dance", "cite", "SA_RINCON2311_X_#Svc2311-0-Token")

	items, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "00032020spotify%3atrack%3aabc", items[0].ID)
	require.Equal(t, "Song & Dance", items[0].Title)
	require.Equal(t, "object.item.audioItem.musicTrack", items[0].Class)
	require.Equal(t, "cite", items[0].DescID)
	require.Equal(t, "SA_RINCON2311_X_#Svc2311-0-Token", items[0].Desc)
}
