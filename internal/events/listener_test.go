package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/soap"
)

const pausedNotify = `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <LastChange>&lt;Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/"&gt;&lt;InstanceID val="0"&gt;&lt;TransportState val="PAUSED_PLAYBACK"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange>
  </e:property>
</e:propertyset>`

func newTestListener(t *testing.T) (*Listener, *Bus) {
	t.Helper()
	bus := newTestBus(t)
	l := NewListener(bus, zerolog.Nop())
	require.NoError(t, l.Start("127.0.0.1"))
	t.Cleanup(func() { l.Stop(context.Background()) })
	return l, bus
}

func notify(t *testing.T, l *Listener, id, body string) {
	t.Helper()
	req := httptest.NewRequest("NOTIFY", "/notify/"+url.PathEscape(id), strings.NewReader(body))
	rec := httptest.NewRecorder()
	l.handleNotify(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListener_AppliesBodiesInArrivalOrder(t *testing.T) {
	l, bus := newTestListener(t)
	bus.Register("RINCON_A")

	id := makeSubscriptionID("RINCON_A", soap.ServiceAVTransport)
	notify(t, l, id, playingNotify)
	notify(t, l, id, pausedNotify)

	require.Eventually(t, func() bool {
		return len(bus.StateHistory("RINCON_A")) == 2
	}, 2*time.Second, 10*time.Millisecond, "both bodies must be applied")

	history := bus.StateHistory("RINCON_A")
	require.Equal(t, StatePlaying, history[0].State, "first body arrives first")
	require.Equal(t, StatePaused, history[1].State, "last body wins")

	state, ok := bus.GetCurrentState("RINCON_A")
	require.True(t, ok)
	require.Equal(t, StatePaused, state)
}

func TestListener_AcksBeforeApplying(t *testing.T) {
	l, bus := newTestListener(t)
	bus.Register("RINCON_A")

	// An unparseable body is still acknowledged with 200.
	id := makeSubscriptionID("RINCON_A", soap.ServiceAVTransport)
	notify(t, l, id, "not xml at all")

	// Unknown subscription ids are acknowledged and dropped.
	notify(t, l, "garbage", playingNotify)
}

func TestListener_RejectsNonNotifyMethods(t *testing.T) {
	l, _ := newTestListener(t)

	req := httptest.NewRequest(http.MethodGet, "/notify/x", nil)
	rec := httptest.NewRecorder()
	l.handleNotify(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
