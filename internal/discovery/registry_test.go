package discovery

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/scheduler"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	sched := scheduler.New(zerolog.Nop())
	t.Cleanup(sched.Stop)
	return NewRegistry(sched, zerolog.Nop())
}

func kitchenDevice() *Device {
	return &Device{
		UUID:         "RINCON_KITCHEN01",
		RoomName:     "Kitchen",
		ModelName:    "Sonos One",
		BaseURL:      "http://192.168.1.50:1400",
		DiscoveredAt: time.Now(),
	}
}

func TestRegistry_UpsertAndLookup(t *testing.T) {
	r := newTestRegistry(t)

	var added []*Device
	r.OnDeviceAdded(func(d *Device) { added = append(added, d) })

	r.upsert(kitchenDevice())
	require.Len(t, added, 1)
	require.Len(t, r.GetAll(), 1)

	require.NotNil(t, r.GetByID("RINCON_KITCHEN01"))
	require.NotNil(t, r.GetByID("uuid:RINCON_KITCHEN01"))
	require.Nil(t, r.GetByID("RINCON_GHOST01"))

	require.NotNil(t, r.GetByRoom("kitchen"))
	require.NotNil(t, r.GetByRoom("KITCHEN"))
	require.Nil(t, r.GetByRoom("Den"))

	// Re-probing the same device is an update, not a second add.
	moved := kitchenDevice()
	moved.BaseURL = "http://192.168.1.51:1400"
	r.upsert(moved)
	require.Len(t, added, 1)
	require.Equal(t, "http://192.168.1.51:1400", r.GetByID("RINCON_KITCHEN01").BaseURL)
}

func TestRegistry_SubscriptionFailuresBelowThresholdKeepDevice(t *testing.T) {
	r := newTestRegistry(t)
	r.upsert(kitchenDevice())

	// Rapid failures stay inside the failure window; no eviction, no probe.
	for i := 0; i < 5; i++ {
		r.ReportSubscriptionFailure("RINCON_KITCHEN01")
	}
	require.NotNil(t, r.GetByID("RINCON_KITCHEN01"))

	r.ReportSubscriptionSuccess("RINCON_KITCHEN01")
	require.Empty(t, r.failures)
}

func TestRegistry_SubscriptionFailureUnknownDevice(t *testing.T) {
	r := newTestRegistry(t)
	r.ReportSubscriptionFailure("RINCON_GHOST01")
	require.Empty(t, r.failures)
}
