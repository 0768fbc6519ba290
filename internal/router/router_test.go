package router

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/events"
	"github.com/homeaudio/sonos-gateway/internal/player"
	"github.com/homeaudio/sonos-gateway/internal/presets"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/topology"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	sched := scheduler.New(zerolog.Nop())
	t.Cleanup(sched.Stop)
	bus := events.NewBus(sched, zerolog.Nop())
	return New(Deps{
		Logger:   zerolog.Nop(),
		Registry: discovery.NewRegistry(sched, zerolog.Nop()),
		Topology: topology.NewManager(zerolog.Nop()),
		Bus:      bus,
		Client:   soap.NewClient(0),
	})
}

func TestClampVolume(t *testing.T) {
	require.Equal(t, 0, clampVolume(-5))
	require.Equal(t, 0, clampVolume(0))
	require.Equal(t, 55, clampVolume(55))
	require.Equal(t, 100, clampVolume(100))
	require.Equal(t, 100, clampVolume(140))
}

func TestParseToggle(t *testing.T) {
	on, err := parseToggle("on")
	require.NoError(t, err)
	require.True(t, on)

	off, err := parseToggle("OFF")
	require.NoError(t, err)
	require.False(t, off)

	_, err = parseToggle("maybe")
	require.Error(t, err)
}

func TestPresetRunStatus(t *testing.T) {
	require.Equal(t, presets.RunCompleted, presetRunStatus(nil))
	require.Equal(t, presets.RunFailed, presetRunStatus(errors.New("boom")))
}

func TestRetryableLeave(t *testing.T) {
	require.True(t, retryableLeave(&soap.Fault{Action: "BecomeCoordinatorOfStandaloneGroup", Code: "1023"}))
	require.True(t, retryableLeave(&soap.Fault{Action: "BecomeCoordinatorOfStandaloneGroup", Code: "701"}))
	require.False(t, retryableLeave(&soap.Fault{Action: "BecomeCoordinatorOfStandaloneGroup", Code: "800"}))
	require.False(t, retryableLeave(errors.New("network down")))
}

func TestRouter_DeviceForRoom_Errors(t *testing.T) {
	rt := newTestRouter(t)

	_, err := rt.deviceForRoom("")
	require.Equal(t, apperrors.KindValidation, apperrors.Ensure(err).Kind, "no default room configured")

	_, err = rt.deviceForRoom("Kitchen")
	require.Equal(t, apperrors.KindRoomNotFound, apperrors.Ensure(err).Kind)
}

func TestRouter_Defaults(t *testing.T) {
	rt := newTestRouter(t)

	_, service := rt.defaults()
	require.Equal(t, "library", service, "default service falls back to library")

	rt.setDefaultService("Spotify")
	_, service = rt.defaults()
	require.Equal(t, "spotify", service)

	require.Error(t, rt.setDefaultRoom("Kitchen"), "unknown rooms are rejected")
}

func TestRouter_ZoneViews(t *testing.T) {
	rt := newTestRouter(t)
	rt.Topology.Apply([]topology.Zone{{
		ID:          "RINCON_KITCHEN01:12",
		Coordinator: "RINCON_KITCHEN01",
		Members: []topology.Member{
			{UUID: "RINCON_KITCHEN01", RoomName: "Kitchen", IsCoordinator: true},
			{UUID: "RINCON_DEN01", RoomName: "Den"},
		},
	}})

	views := rt.zoneViews()
	require.Len(t, views, 1)
	require.Equal(t, "Kitchen", views[0].Coordinator, "coordinator is reported by room name")
	require.Len(t, views[0].Members, 2)
	require.Equal(t, "uuid:RINCON_KITCHEN01", views[0].Members[0].ID)
	require.True(t, views[0].Members[0].IsCoordinator)
	require.Equal(t, "uuid:RINCON_DEN01", views[0].Members[1].ID)
	require.False(t, views[0].Members[1].IsCoordinator)
}

const denVolumeNotify = `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <LastChange>&lt;Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/"&gt;&lt;InstanceID val="0"&gt;&lt;Volume channel="Master" val="40"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange>
  </e:property>
</e:propertyset>`

func TestRouter_TargetVolume(t *testing.T) {
	rt := newTestRouter(t)
	rt.Bus.Register("RINCON_DEN01")
	rt.Bus.HandleNotify("RINCON_DEN01", soap.ServiceRenderingControl, []byte(denVolumeNotify))

	p := player.New(&discovery.Device{UUID: "RINCON_DEN01", RoomName: "Den"}, rt.Client)
	ctx := context.Background()

	v, err := rt.targetVolume(ctx, p, "25")
	require.NoError(t, err)
	require.Equal(t, 25, v)

	v, err = rt.targetVolume(ctx, p, "+10")
	require.NoError(t, err)
	require.Equal(t, 50, v, "relative delta resolves against the bus volume")

	v, err = rt.targetVolume(ctx, p, "-100")
	require.NoError(t, err)
	require.Zero(t, v, "deltas clamp to 0..100")

	_, err = rt.targetVolume(ctx, p, "150")
	require.Error(t, err)
	_, err = rt.targetVolume(ctx, p, "loud")
	require.Error(t, err)
}
