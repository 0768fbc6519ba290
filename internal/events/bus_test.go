package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/topology"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	sched := scheduler.New(zerolog.Nop())
	t.Cleanup(sched.Stop)
	return NewBus(sched, zerolog.Nop())
}

const playingNotify = `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <LastChange>&lt;Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/"&gt;&lt;InstanceID val="0"&gt;&lt;TransportState val="PLAYING"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange>
  </e:property>
</e:propertyset>`

const volumeMuteNotify = `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <LastChange>&lt;Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/"&gt;&lt;InstanceID val="0"&gt;&lt;Volume channel="Master" val="40"/&gt;&lt;Mute channel="Master" val="1"/&gt;&lt;/InstanceID&gt;&lt;/Event&gt;</LastChange>
  </e:property>
</e:propertyset>`

func TestBus_HandleNotify_EmitsDeltasInOrder(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")

	stream := bus.Stream(10)
	defer bus.Unstream(stream)

	bus.HandleNotify("RINCON_A", soap.ServiceAVTransport, []byte(playingNotify))
	bus.HandleNotify("RINCON_A", soap.ServiceRenderingControl, []byte(volumeMuteNotify))

	first := <-stream
	require.Equal(t, EventStateChange, first.Type)
	require.Equal(t, StatePlaying, first.Data)

	second := <-stream
	require.Equal(t, EventVolumeChange, second.Type)
	require.Equal(t, 40, second.Data)

	third := <-stream
	require.Equal(t, EventMuteChange, third.Type)
	require.Equal(t, true, third.Data)

	state, ok := bus.GetState("RINCON_A")
	require.True(t, ok)
	require.Equal(t, StatePlaying, state.State)
	require.Equal(t, 40, state.Volume)
	require.True(t, state.Mute)
}

func TestBus_HandleNotify_NoEventWithoutChange(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")
	bus.HandleNotify("RINCON_A", soap.ServiceAVTransport, []byte(playingNotify))

	stream := bus.Stream(10)
	defer bus.Unstream(stream)

	// Same state again: no delta, no emission.
	bus.HandleNotify("RINCON_A", soap.ServiceAVTransport, []byte(playingNotify))
	select {
	case evt := <-stream:
		t.Fatalf("unexpected event %v", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_WaitForState_FastPath(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")
	bus.HandleNotify("RINCON_A", soap.ServiceAVTransport, []byte(playingNotify))

	start := time.Now()
	require.True(t, bus.WaitForState("RINCON_A", StatePlaying, 5*time.Second))
	require.Less(t, time.Since(start), time.Second, "already-satisfied wait must not block")
}

func TestBus_WaitForState_WakesOnEvent(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")

	resolved := make(chan bool, 1)
	go func() {
		resolved <- bus.WaitForState("RINCON_A", StatePlaying, 5*time.Second)
	}()

	// Give the waiter time to install before the event lands.
	time.Sleep(20 * time.Millisecond)
	bus.HandleNotify("RINCON_A", soap.ServiceAVTransport, []byte(playingNotify))

	select {
	case ok := <-resolved:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not resolve")
	}
}

func TestBus_WaitForState_Timeout(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")
	require.False(t, bus.WaitForState("RINCON_A", StatePlaying, 30*time.Millisecond))
}

func TestBus_WaitForVolume(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")

	resolved := make(chan bool, 1)
	go func() {
		resolved <- bus.WaitForVolume("RINCON_A", 40, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	bus.HandleNotify("RINCON_A", soap.ServiceRenderingControl, []byte(volumeMuteNotify))

	select {
	case ok := <-resolved:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not resolve")
	}
}

func TestBus_GroupAwareWait(t *testing.T) {
	bus := newTestBus(t)
	topo := topology.NewManager(zerolog.Nop())
	bus.SetTopology(topo)
	bus.Register("RINCON_A")
	bus.Register("RINCON_B")

	topo.Apply([]topology.Zone{{
		ID:          "RINCON_A:1",
		Coordinator: "RINCON_A",
		Members: []topology.Member{
			{UUID: "RINCON_A", RoomName: "Kitchen", IsCoordinator: true},
			{UUID: "RINCON_B", RoomName: "Den"},
		},
	}})

	// Waiting on the member resolves from the coordinator's event.
	resolved := make(chan bool, 1)
	go func() {
		resolved <- bus.WaitForState("RINCON_B", StatePlaying, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	bus.HandleNotify("RINCON_A", soap.ServiceAVTransport, []byte(playingNotify))

	select {
	case ok := <-resolved:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("group waiter did not resolve")
	}
}

func TestBus_WaitForTopologyChange(t *testing.T) {
	bus := newTestBus(t)
	topo := topology.NewManager(zerolog.Nop())
	bus.SetTopology(topo)

	type result struct {
		zones []topology.Zone
		ok    bool
	}
	resolved := make(chan result, 1)
	go func() {
		zones, ok := bus.WaitForTopologyChange(5 * time.Second)
		resolved <- result{zones, ok}
	}()
	time.Sleep(20 * time.Millisecond)
	topo.Apply([]topology.Zone{{
		ID:          "RINCON_A:1",
		Coordinator: "RINCON_A",
		Members:     []topology.Member{{UUID: "RINCON_A", RoomName: "Kitchen", IsCoordinator: true}},
	}})

	select {
	case r := <-resolved:
		require.True(t, r.ok)
		require.Len(t, r.zones, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("topology waiter did not resolve")
	}
}

func TestBus_ApplyTransportPoll(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")

	bus.ApplyTransportPoll("RINCON_A", "PAUSED_PLAYBACK")
	state, ok := bus.GetCurrentState("RINCON_A")
	require.True(t, ok)
	require.Equal(t, StatePaused, state)
}

func TestBus_StateHistory(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")

	bus.ApplyTransportPoll("RINCON_A", "PLAYING")
	bus.ApplyTransportPoll("RINCON_A", "PAUSED_PLAYBACK")

	history := bus.StateHistory("RINCON_A")
	require.Len(t, history, 2)
	require.Equal(t, StatePlaying, history[0].State)
	require.Equal(t, StatePaused, history[1].State)
}

func TestBus_GetDeviceHealth(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")

	health := bus.GetDeviceHealth()
	require.Contains(t, health, "RINCON_A")
	require.Empty(t, health["RINCON_A"].LastState, "no transition recorded yet")
	require.False(t, health["RINCON_A"].StaleNotify)

	bus.ApplyTransportPoll("RINCON_A", "PLAYING")
	bus.ApplyTransportPoll("RINCON_A", "PAUSED_PLAYBACK")
	health = bus.GetDeviceHealth()
	require.Equal(t, StatePaused, health["RINCON_A"].LastState)
}

func TestBus_Unregister(t *testing.T) {
	bus := newTestBus(t)
	bus.Register("RINCON_A")
	bus.ApplyTransportPoll("RINCON_A", "PLAYING")

	// Temporary unregister keeps state for the device's return.
	bus.Unregister("RINCON_A", false)
	_, ok := bus.GetState("RINCON_A")
	require.True(t, ok)

	bus.Unregister("RINCON_A", true)
	_, ok = bus.GetState("RINCON_A")
	require.False(t, ok)
}

func TestPlayModeCodec(t *testing.T) {
	cases := []struct {
		mode    string
		repeat  string
		shuffle bool
	}{
		{"NORMAL", "none", false},
		{"REPEAT_ALL", "all", false},
		{"REPEAT_ONE", "one", false},
		{"SHUFFLE_NOREPEAT", "none", true},
		{"SHUFFLE", "all", true},
		{"SHUFFLE_REPEAT_ONE", "one", true},
	}
	for _, tc := range cases {
		repeat, shuffle := DecodePlayMode(tc.mode)
		require.Equal(t, tc.repeat, repeat, tc.mode)
		require.Equal(t, tc.shuffle, shuffle, tc.mode)
		require.Equal(t, tc.mode, EncodePlayMode(tc.repeat, tc.shuffle), tc.mode)
	}
}
