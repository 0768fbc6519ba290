// Package topology tracks the household zone groups and stereo/surround
// bonds, derived from ZoneGroupTopology events.
package topology

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/soap"
)

// Member is one player's entry in a zone group.
type Member struct {
	UUID            string `json:"id"`
	RoomName        string `json:"roomName"`
	IsCoordinator   bool   `json:"isCoordinator"`
	ChannelMapSet   string `json:"channelMapSet,omitempty"`
	SoftwareVersion string `json:"softwareVersion,omitempty"`
	Invisible       bool   `json:"-"`
}

// Zone is one group: a set of members with exactly one coordinator.
type Zone struct {
	ID          string   `json:"id"`
	Coordinator string   `json:"coordinator"`
	Members     []Member `json:"members"`
}

// MemberInfo is the per-player detail view.
type MemberInfo struct {
	RoomName      string `json:"roomName"`
	ChannelMapSet string `json:"channelMapSet,omitempty"`
}

type snapshot struct {
	zones       []Zone
	coordinator map[string]string   // member uuid -> coordinator uuid
	members     map[string][]string // member uuid -> all uuids in its zone
	details     map[string]MemberInfo
}

// Manager holds the current topology snapshot. Updates replace the snapshot
// atomically: readers see either the pre- or post-state, never a mix.
type Manager struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	snap *snapshot

	changeMu  sync.Mutex
	onChange  []func([]Zone)
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "topology").Logger(),
		snap:   &snapshot{coordinator: map[string]string{}, members: map[string][]string{}, details: map[string]MemberInfo{}},
	}
}

// OnChange registers a callback invoked with the new zone list after every
// applied topology update.
func (m *Manager) OnChange(fn func([]Zone)) {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Update parses a ZoneGroupState document and swaps in the new snapshot.
func (m *Manager) Update(zoneGroupState string) error {
	zones, err := ParseZoneGroupState(zoneGroupState)
	if err != nil {
		return err
	}
	m.Apply(zones)
	return nil
}

// Apply installs a parsed zone list as the current snapshot.
func (m *Manager) Apply(zones []Zone) {
	snap := &snapshot{
		zones:       zones,
		coordinator: make(map[string]string),
		members:     make(map[string][]string),
		details:     make(map[string]MemberInfo),
	}
	for _, zone := range zones {
		uuids := make([]string, 0, len(zone.Members))
		for _, member := range zone.Members {
			uuids = append(uuids, member.UUID)
		}
		for _, member := range zone.Members {
			snap.coordinator[member.UUID] = zone.Coordinator
			snap.members[member.UUID] = uuids
			snap.details[member.UUID] = MemberInfo{RoomName: member.RoomName, ChannelMapSet: member.ChannelMapSet}
		}
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	m.logger.Debug().Int("zones", len(zones)).Msg("topology updated")

	m.changeMu.Lock()
	callbacks := make([]func([]Zone), len(m.onChange))
	copy(callbacks, m.onChange)
	m.changeMu.Unlock()
	for _, fn := range callbacks {
		fn(zones)
	}
}

func (m *Manager) snapshot() *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Zones returns the current zone list.
func (m *Manager) Zones() []Zone {
	return m.snapshot().zones
}

// CoordinatorOf returns the coordinator UUID for a member. Unknown members
// coordinate themselves.
func (m *Manager) CoordinatorOf(uuid string) string {
	uuid = discovery.NormalizeUUID(uuid)
	if c, ok := m.snapshot().coordinator[uuid]; ok {
		return c
	}
	return uuid
}

// MembersOf returns the UUIDs of every player in the same zone as uuid,
// including uuid itself.
func (m *Manager) MembersOf(uuid string) []string {
	uuid = discovery.NormalizeUUID(uuid)
	if members, ok := m.snapshot().members[uuid]; ok {
		return members
	}
	return []string{uuid}
}

// MemberDetails returns the room name and channel map for a member.
func (m *Manager) MemberDetails(uuid string) (MemberInfo, bool) {
	info, ok := m.snapshot().details[discovery.NormalizeUUID(uuid)]
	return info, ok
}

// StereoPrimary resolves a bonded room to its primary: the member whose
// channel-map role contains LF. Returns empty when the room is not bonded.
func (m *Manager) StereoPrimary(room string) string {
	snap := m.snapshot()

	var inRoom []Member
	for _, zone := range snap.zones {
		for _, member := range zone.Members {
			if strings.EqualFold(member.RoomName, room) {
				inRoom = append(inRoom, member)
			}
		}
	}
	if len(inRoom) < 2 {
		return ""
	}

	for _, member := range inRoom {
		roles := ParseChannelMap(member.ChannelMapSet)
		for _, role := range roles[member.UUID] {
			if strings.Contains(role, "LF") {
				return member.UUID
			}
		}
	}
	return ""
}

// IsPureStereoPair reports whether uuid's zone is exactly a bonded pair:
// two members sharing one room name. Such zones must not be broken apart.
func (m *Manager) IsPureStereoPair(uuid string) bool {
	snap := m.snapshot()
	uuid = discovery.NormalizeUUID(uuid)
	for _, zone := range snap.zones {
		for _, member := range zone.Members {
			if member.UUID != uuid {
				continue
			}
			if len(zone.Members) != 2 {
				return false
			}
			return strings.EqualFold(zone.Members[0].RoomName, zone.Members[1].RoomName)
		}
	}
	return false
}

// ParseChannelMap parses the semicolon-delimited channel-map string
// ("RINCON_A:LF,LF;RINCON_B:RF,RF") into uuid -> roles.
func ParseChannelMap(channelMap string) map[string][]string {
	out := make(map[string][]string)
	if channelMap == "" {
		return out
	}
	for _, entry := range strings.Split(channelMap, ";") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		uuid := discovery.NormalizeUUID(strings.TrimSpace(parts[0]))
		for _, role := range strings.Split(parts[1], ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				out[uuid] = append(out[uuid], role)
			}
		}
	}
	return out
}

// ParseZoneGroupState parses the ZoneGroupState XML carried in topology
// events and GetZoneGroupState responses.
func ParseZoneGroupState(data string) ([]Zone, error) {
	root, err := soap.ParseNode([]byte(data))
	if err != nil {
		return nil, err
	}

	var zones []Zone
	groupsNode := root.Find("ZoneGroups")
	if groupsNode == nil {
		return zones, nil
	}

	for _, groupNode := range groupsNode.Children {
		if groupNode.Name != "ZoneGroup" {
			continue
		}
		zone := Zone{
			ID:          groupNode.Attr("ID"),
			Coordinator: discovery.NormalizeUUID(groupNode.Attr("Coordinator")),
		}
		for _, memberNode := range groupNode.Children {
			if memberNode.Name != "ZoneGroupMember" {
				continue
			}
			member := Member{
				UUID:            discovery.NormalizeUUID(memberNode.Attr("UUID")),
				RoomName:        memberNode.Attr("ZoneName"),
				ChannelMapSet:   memberNode.Attr("ChannelMapSet"),
				SoftwareVersion: memberNode.Attr("SoftwareVersion"),
				Invisible:       memberNode.Attr("Invisible") == "1",
			}
			if member.ChannelMapSet == "" {
				member.ChannelMapSet = memberNode.Attr("HTSatChanMapSet")
			}
			member.IsCoordinator = member.UUID == zone.Coordinator
			zone.Members = append(zone.Members, member)

			// Bonded satellites ride inside the member element.
			for _, satNode := range memberNode.Children {
				if satNode.Name != "Satellite" {
					continue
				}
				sat := Member{
					UUID:          discovery.NormalizeUUID(satNode.Attr("UUID")),
					RoomName:      satNode.Attr("ZoneName"),
					ChannelMapSet: satNode.Attr("HTSatChanMapSet"),
					Invisible:     true,
				}
				zone.Members = append(zone.Members, sat)
			}
		}
		zones = append(zones, zone)
	}
	return zones, nil
}
