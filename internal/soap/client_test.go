package soap

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const faultBody = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>%CODE%</errorCode>
          <errorDescription>Transition not available</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`

const playResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:PlayResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"/>
  </s:Body>
</s:Envelope>`

const volumeResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1">
      <CurrentVolume>27</CurrentVolume>
    </u:GetVolumeResponse>
  </s:Body>
</s:Envelope>`

func newTestClient() *Client {
	c := NewClient(2 * time.Second)
	c.sleep = func(time.Duration) {}
	return c
}

func TestClient_Call_ParsesResponseFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/MediaRenderer/RenderingControl/Control", r.URL.Path)
		require.Contains(t, r.Header.Get("SOAPACTION"), "RenderingControl:1#GetVolume")
		w.Write([]byte(volumeResponse))
	}))
	defer srv.Close()

	fields, err := newTestClient().Call(context.Background(), srv.URL, ServiceRenderingControl, "GetVolume",
		Args("InstanceID", "0", "Channel", "Master"))
	require.NoError(t, err)
	require.Equal(t, "27", fields["CurrentVolume"])
}

func TestClient_Call_RetriesTransientFault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(strings.ReplaceAll(faultBody, "%CODE%", "701")))
			return
		}
		w.Write([]byte(playResponse))
	}))
	defer srv.Close()

	_, err := newTestClient().Call(context.Background(), srv.URL, ServiceAVTransport, "Play",
		Args("InstanceID", "0", "Speed", "1"))
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestClient_Call_NoRetryOnPermanentFault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.ReplaceAll(faultBody, "%CODE%", "800")))
	}))
	defer srv.Close()

	_, err := newTestClient().Call(context.Background(), srv.URL, ServiceAVTransport, "Play",
		Args("InstanceID", "0", "Speed", "1"))
	require.Error(t, err)
	require.Equal(t, "800", FaultCode(err))
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_CallOnce_NeverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.ReplaceAll(faultBody, "%CODE%", "701")))
	}))
	defer srv.Close()

	_, err := newTestClient().CallOnce(context.Background(), srv.URL, ServiceAVTransport, "Next",
		Args("InstanceID", "0"))
	require.Error(t, err)
	require.Equal(t, "701", FaultCode(err))
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_Call_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.ReplaceAll(faultBody, "%CODE%", "701")))
	}))
	defer srv.Close()

	_, err := newTestClient().Call(context.Background(), srv.URL, ServiceAVTransport, "Play",
		Args("InstanceID", "0", "Speed", "1"))
	require.Error(t, err)
	require.EqualValues(t, maxAttempts, calls.Load())
}

func TestClient_Call_RetriesRefusedWithinDiscoveryGrace(t *testing.T) {
	// Reserve a port with no listener so dials are actively refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	var retries int
	c := NewClient(2 * time.Second)
	c.sleep = func(time.Duration) { retries++ }

	// Outside the grace window a refused dial fails on the first attempt.
	_, err = c.Call(context.Background(), baseURL, ServiceAVTransport, "Play",
		Args("InstanceID", "0", "Speed", "1"))
	require.Error(t, err)
	require.Zero(t, retries)

	c.MarkDiscovered(baseURL)
	_, err = c.Call(context.Background(), baseURL, ServiceAVTransport, "Play",
		Args("InstanceID", "0", "Speed", "1"))
	require.Error(t, err)
	require.Equal(t, maxAttempts-1, retries, "refused dials inside the window use the full retry schedule")

	var unreach *UnreachableError
	require.ErrorAs(t, err, &unreach)
	require.True(t, unreach.ConnectionRefused())
}

func TestBuildEnvelope_PreservesArgOrderAndEscapes(t *testing.T) {
	envelope := string(buildEnvelope("urn:schemas-upnp-org:service:AVTransport:1", "SetAVTransportURI",
		Args(
			"InstanceID", "0",
			"CurrentURI", "x-rincon:RINCON_1",
			"CurrentURIMetaData", `<DIDL-Lite>&"quoted"</DIDL-Lite>`,
		)))

	instance := strings.Index(envelope, "<InstanceID>")
	uri := strings.Index(envelope, "<CurrentURI>")
	meta := strings.Index(envelope, "<CurrentURIMetaData>")
	require.True(t, instance < uri && uri < meta, "argument order must be preserved")
	require.Contains(t, envelope, "&lt;DIDL-Lite&gt;&amp;")
	require.NotContains(t, envelope, `<CurrentURIMetaData><DIDL-Lite>`)
}

func TestFault_IsTransient(t *testing.T) {
	cases := []struct {
		code      string
		transient bool
	}{
		{"701", true},
		{"402", true},
		{"800", false},
		{"401", false},
		{"714", false},
	}
	for _, tc := range cases {
		f := &Fault{Code: tc.code}
		require.Equal(t, tc.transient, f.IsTransient(), "code %s", tc.code)
	}

	// No vendor code: only 5xx counts as transient.
	require.True(t, (&Fault{HTTPStatus: 503}).IsTransient())
	require.False(t, (&Fault{HTTPStatus: 405}).IsTransient())
}

func TestFaultCode_NonFaultError(t *testing.T) {
	require.Empty(t, FaultCode(context.DeadlineExceeded))
	require.Empty(t, FaultCode(nil))
}
