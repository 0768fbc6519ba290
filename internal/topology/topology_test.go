package topology

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const householdState = `<ZoneGroupState>
  <ZoneGroups>
    <ZoneGroup Coordinator="RINCON_KITCHEN01" ID="RINCON_KITCHEN01:12">
      <ZoneGroupMember UUID="RINCON_KITCHEN01" ZoneName="Kitchen" SoftwareVersion="83.1-61240"/>
      <ZoneGroupMember UUID="RINCON_DEN01" ZoneName="Den"/>
    </ZoneGroup>
    <ZoneGroup Coordinator="RINCON_LIVINGL01" ID="RINCON_LIVINGL01:7">
      <ZoneGroupMember UUID="RINCON_LIVINGL01" ZoneName="Living Room" ChannelMapSet="RINCON_LIVINGL01:LF,LF;RINCON_LIVINGR01:RF,RF"/>
      <ZoneGroupMember UUID="RINCON_LIVINGR01" ZoneName="Living Room" ChannelMapSet="RINCON_LIVINGL01:LF,LF;RINCON_LIVINGR01:RF,RF"/>
    </ZoneGroup>
    <ZoneGroup Coordinator="RINCON_TV01" ID="RINCON_TV01:3">
      <ZoneGroupMember UUID="RINCON_TV01" ZoneName="TV Room" HTSatChanMapSet="RINCON_TV01:LF,RF;RINCON_SUB01:SW">
        <Satellite UUID="RINCON_SUB01" ZoneName="TV Room" HTSatChanMapSet="RINCON_TV01:LF,RF;RINCON_SUB01:SW"/>
      </ZoneGroupMember>
    </ZoneGroup>
  </ZoneGroups>
</ZoneGroupState>`

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Update(householdState))
	return m
}

func TestParseZoneGroupState(t *testing.T) {
	zones, err := ParseZoneGroupState(householdState)
	require.NoError(t, err)
	require.Len(t, zones, 3)

	kitchen := zones[0]
	require.Equal(t, "RINCON_KITCHEN01", kitchen.Coordinator)
	require.Len(t, kitchen.Members, 2)
	require.True(t, kitchen.Members[0].IsCoordinator)
	require.False(t, kitchen.Members[1].IsCoordinator)
	require.Equal(t, "Den", kitchen.Members[1].RoomName)

	tv := zones[2]
	require.Len(t, tv.Members, 2, "satellite should be lifted into the member list")
	require.True(t, tv.Members[1].Invisible)
	require.Equal(t, "RINCON_SUB01", tv.Members[1].UUID)
}

func TestManager_CoordinatorOf(t *testing.T) {
	m := newTestManager(t)
	require.Equal(t, "RINCON_KITCHEN01", m.CoordinatorOf("RINCON_DEN01"))
	require.Equal(t, "RINCON_KITCHEN01", m.CoordinatorOf("RINCON_KITCHEN01"))
	// The uuid: prefix is normalized away.
	require.Equal(t, "RINCON_KITCHEN01", m.CoordinatorOf("uuid:RINCON_DEN01"))
	// Unknown members coordinate themselves.
	require.Equal(t, "RINCON_GHOST01", m.CoordinatorOf("RINCON_GHOST01"))
}

func TestManager_MembersOf(t *testing.T) {
	m := newTestManager(t)
	require.ElementsMatch(t, []string{"RINCON_KITCHEN01", "RINCON_DEN01"}, m.MembersOf("RINCON_DEN01"))
	require.Equal(t, []string{"RINCON_GHOST01"}, m.MembersOf("RINCON_GHOST01"))
}

func TestManager_IsPureStereoPair(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.IsPureStereoPair("RINCON_LIVINGL01"))
	require.True(t, m.IsPureStereoPair("RINCON_LIVINGR01"))
	// Two members but different rooms: a regular group, not a bond.
	require.False(t, m.IsPureStereoPair("RINCON_KITCHEN01"))
	require.False(t, m.IsPureStereoPair("RINCON_GHOST01"))
}

func TestManager_StereoPrimary(t *testing.T) {
	m := newTestManager(t)
	require.Equal(t, "RINCON_LIVINGL01", m.StereoPrimary("Living Room"))
	require.Equal(t, "RINCON_LIVINGL01", m.StereoPrimary("living room"))
	require.Empty(t, m.StereoPrimary("Kitchen"))
}

func TestParseChannelMap(t *testing.T) {
	roles := ParseChannelMap("RINCON_A:LF,LF;RINCON_B:RF,RF")
	require.Equal(t, []string{"LF", "LF"}, roles["RINCON_A"])
	require.Equal(t, []string{"RF", "RF"}, roles["RINCON_B"])
	require.Empty(t, ParseChannelMap(""))
}

func TestManager_Apply_AtomicSwapAndCallback(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var seen [][]Zone
	m.OnChange(func(zones []Zone) {
		mu.Lock()
		seen = append(seen, zones)
		mu.Unlock()
	})

	m.Apply([]Zone{{
		ID:          "RINCON_DEN01:1",
		Coordinator: "RINCON_DEN01",
		Members:     []Member{{UUID: "RINCON_DEN01", RoomName: "Den", IsCoordinator: true}},
	}})

	require.Len(t, m.Zones(), 1)
	require.Equal(t, "RINCON_DEN01", m.CoordinatorOf("RINCON_DEN01"))
	// The old snapshot is gone entirely.
	require.Equal(t, "RINCON_KITCHEN01", m.CoordinatorOf("RINCON_KITCHEN01"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	require.Len(t, seen[0], 1)
}
