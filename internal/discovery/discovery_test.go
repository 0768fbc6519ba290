package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const deviceDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:ZonePlayer:1</deviceType>
    <UDN>uuid:RINCON_KITCHEN01</UDN>
    <roomName>Kitchen</roomName>
    <modelName>Sonos One</modelName>
    <modelNumber>S18</modelNumber>
  </device>
</root>`

func TestNormalizeUUID(t *testing.T) {
	require.Equal(t, "RINCON_A", NormalizeUUID("uuid:RINCON_A"))
	require.Equal(t, "RINCON_A", NormalizeUUID("RINCON_A"))
	require.Empty(t, NormalizeUUID(""))
}

func TestParseDescription(t *testing.T) {
	device, err := parseDescription([]byte(deviceDescription))
	require.NoError(t, err)
	require.Equal(t, "RINCON_KITCHEN01", device.UUID, "uuid: prefix is stripped")
	require.Equal(t, "Kitchen", device.RoomName)
	require.Equal(t, "Sonos One", device.ModelName)
	require.Equal(t, "S18", device.ModelNumber)
	require.False(t, device.Portable)
}

func TestParseDescription_DisplayNameFallback(t *testing.T) {
	body := `<root><device><UDN>uuid:RINCON_ROAM01</UDN><displayName>Patio</displayName><modelName>Sonos Roam</modelName></device></root>`
	device, err := parseDescription([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "Patio", device.RoomName)
	require.True(t, device.Portable)
}

func TestParseDescription_Invalid(t *testing.T) {
	_, err := parseDescription([]byte(`<root><device><roomName>Kitchen</roomName></device></root>`))
	require.Error(t, err, "missing UDN")

	_, err = parseDescription([]byte(`<root></root>`))
	require.Error(t, err, "missing device element")
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xml/device_description.xml", r.URL.Path)
		w.Write([]byte(deviceDescription))
	}))
	defer srv.Close()

	device, err := Probe(context.Background(), srv.Client(), srv.URL+"/xml/device_description.xml")
	require.NoError(t, err)
	require.Equal(t, "RINCON_KITCHEN01", device.UUID)
	require.Equal(t, srv.URL, device.BaseURL)
	require.Equal(t, srv.URL+"/xml/device_description.xml", device.Location)
	require.False(t, device.DiscoveredAt.IsZero())
}

func TestProbe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Probe(context.Background(), srv.Client(), srv.URL+"/desc.xml")
	require.Error(t, err)
}

func TestParseSSDPResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age = 1800\r\n" +
		"LOCATION: http://192.168.1.50:1400/xml/device_description.xml\r\n" +
		"ST: urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"USN: uuid:RINCON_KITCHEN01::urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"X-RINCON-HOUSEHOLD: Sonos_abc123\r\n" +
		"\r\n"

	resp := parseResponse(raw)
	require.Equal(t, "http://192.168.1.50:1400/xml/device_description.xml", resp.Location)
	require.Equal(t, "uuid:RINCON_KITCHEN01::urn:schemas-upnp-org:device:ZonePlayer:1", resp.USN)
	require.Equal(t, "Sonos_abc123", resp.Headers["X-RINCON-HOUSEHOLD"])
	require.Equal(t, "max-age = 1800", resp.Headers["CACHE-CONTROL"])
}

func TestParseSSDPResponse_Malformed(t *testing.T) {
	resp := parseResponse("HTTP/1.1 200 OK\r\nGARBAGE\r\n\r\n")
	require.Empty(t, resp.Location)
	require.Empty(t, resp.USN)
}
