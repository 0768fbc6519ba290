package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/discovery"
	"github.com/homeaudio/sonos-gateway/internal/metrics"
	"github.com/homeaudio/sonos-gateway/internal/scheduler"
	"github.com/homeaudio/sonos-gateway/internal/soap"
	"github.com/homeaudio/sonos-gateway/internal/topology"
)

const (
	staleNotifyAfter = 90 * time.Second
	unhealthyAfter   = 3600 * time.Second
	healthSweepEvery = 60 * time.Second
	healthTaskID     = "events.health"
)

// Bus is the single convergence point for all observable player state. It
// parses NOTIFY bodies into typed events, keeps last-known state, and offers
// the wait-for-condition primitives used by action verification.
//
// One process-wide instance is constructed at startup and injected.
type Bus struct {
	logger zerolog.Logger
	sched  *scheduler.Scheduler

	// topo is late-bound via SetTopology to break the construction cycle
	// between the bus and the topology manager.
	topo *topology.Manager

	mu          sync.Mutex
	registered  map[string]bool
	states      map[string]*PlayerState
	stateHist   map[string]*ring
	muteHist    map[string]*ring
	groups      map[string][]string // reverse map: uuid -> zone member uuids
	lastEventAt map[string]time.Time
	staleFlag   map[string]bool
	waiters     map[int]*waiter
	nextWaiter  int
	streams     map[chan Event]struct{}

	resubMu     sync.Mutex
	resubscribe []func([]string)
}

func NewBus(sched *scheduler.Scheduler, logger zerolog.Logger) *Bus {
	return &Bus{
		logger:      logger.With().Str("component", "events").Logger(),
		sched:       sched,
		registered:  make(map[string]bool),
		states:      make(map[string]*PlayerState),
		stateHist:   make(map[string]*ring),
		muteHist:    make(map[string]*ring),
		groups:      make(map[string][]string),
		lastEventAt: make(map[string]time.Time),
		staleFlag:   make(map[string]bool),
		waiters:     make(map[int]*waiter),
		streams:     make(map[chan Event]struct{}),
	}
}

// SetTopology late-binds the topology manager and keeps the reverse group
// map current across topology changes.
func (b *Bus) SetTopology(topo *topology.Manager) {
	b.topo = topo
	topo.OnChange(b.applyTopology)
}

// Start schedules the periodic subscription-health sweep.
func (b *Bus) Start() {
	b.sched.ScheduleInterval(healthTaskID, b.sweepHealth, healthSweepEvery, scheduler.TaskOptions{Unref: true})
}

// Register attaches the per-player state slot for a discovered device.
func (b *Bus) Register(uuid string) {
	uuid = discovery.NormalizeUUID(uuid)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered[uuid] = true
	if _, ok := b.states[uuid]; !ok {
		b.states[uuid] = &PlayerState{State: StateStopped, PlayMode: PlayMode{Repeat: "none"}}
		b.stateHist[uuid] = &ring{}
		b.muteHist[uuid] = &ring{}
	}
	b.lastEventAt[uuid] = time.Now()
}

// Unregister detaches a player. A permanent unregister drops cached state and
// history; a temporary one keeps them for when the device reappears.
func (b *Bus) Unregister(uuid string, permanent bool) {
	uuid = discovery.NormalizeUUID(uuid)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registered, uuid)
	delete(b.lastEventAt, uuid)
	delete(b.staleFlag, uuid)
	if permanent {
		delete(b.states, uuid)
		delete(b.stateHist, uuid)
		delete(b.muteHist, uuid)
	}
}

// OnResubscribeNeeded registers the subscription manager's handler for the
// devices-need-resubscribe signal.
func (b *Bus) OnResubscribeNeeded(fn func(uuids []string)) {
	b.resubMu.Lock()
	defer b.resubMu.Unlock()
	b.resubscribe = append(b.resubscribe, fn)
}

// HandleNotify demultiplexes one NOTIFY body into typed events. Events
// derived from a single body are emitted in fixed order (state, volume,
// mute, track) before the guard is released.
func (b *Bus) HandleNotify(uuid string, service soap.Service, body []byte) {
	uuid = discovery.NormalizeUUID(uuid)
	metrics.NotifyReceived.Inc()

	b.mu.Lock()
	b.lastEventAt[uuid] = time.Now()
	b.staleFlag[uuid] = false
	b.mu.Unlock()

	switch service {
	case soap.ServiceAVTransport:
		delta, err := parseAVTransportBody(body)
		if err != nil {
			b.logger.Debug().Err(err).Str("uuid", uuid).Msg("bad avtransport body")
			return
		}
		b.applyAVTransport(uuid, delta)
	case soap.ServiceRenderingControl:
		delta, err := parseRenderingControlBody(body)
		if err != nil {
			b.logger.Debug().Err(err).Str("uuid", uuid).Msg("bad renderingcontrol body")
			return
		}
		b.applyRendering(uuid, delta)
	case soap.ServiceZoneGroupTopology:
		zoneState, err := parseTopologyBody(body)
		if err != nil || zoneState == "" {
			return
		}
		if b.topo != nil {
			if err := b.topo.Update(zoneState); err != nil {
				b.logger.Debug().Err(err).Msg("bad topology body")
				return
			}
		}
	case soap.ServiceContentDirectory:
		update := parseContentUpdateBody(body)
		if update == "" {
			return
		}
		b.mu.Lock()
		b.emitLocked(Event{Type: EventContentUpdate, UUID: uuid, Data: update})
		b.mu.Unlock()
	default:
		return
	}
	metrics.NotifyProcessed.Inc()
}

// applyAVTransport merges an AVTransport delta, emitting state-change then
// track-change for each changed field.
func (b *Bus) applyAVTransport(uuid string, delta *avTransportDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(uuid)

	if delta.TransportState != nil {
		next := NormalizePlaybackState(*delta.TransportState)
		if next != state.State {
			state.State = next
			b.stateHist[uuid].push(stateEntry{At: time.Now(), State: next})
			b.emitLocked(Event{Type: EventStateChange, UUID: uuid, Data: next})
		}
	}
	if delta.PlayMode != nil {
		state.PlayMode.Repeat, state.PlayMode.Shuffle = DecodePlayMode(*delta.PlayMode)
	}
	if delta.Crossfade != nil {
		state.PlayMode.Crossfade = *delta.Crossfade
	}
	if delta.AVTransportURI != nil {
		state.CoordinatorRef = coordinatorRef(*delta.AVTransportURI)
	}
	if delta.NextTrack != nil {
		state.NextTrack = *delta.NextTrack
	}
	if delta.CurrentTrack != nil && !delta.CurrentTrack.SameTrack(state.CurrentTrack) {
		state.CurrentTrack = *delta.CurrentTrack
		b.emitLocked(Event{Type: EventTrackChange, UUID: uuid, Data: *delta.CurrentTrack})
	} else if delta.CurrentTrack != nil {
		// Metadata-only variation: refresh fields without emitting.
		state.CurrentTrack = *delta.CurrentTrack
	}
	state.UpdatedAt = time.Now()
}

// applyRendering merges a RenderingControl delta, emitting volume-change then
// mute-change.
func (b *Bus) applyRendering(uuid string, delta *renderingDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(uuid)

	if delta.Volume != nil && *delta.Volume != state.Volume {
		state.Volume = *delta.Volume
		b.emitLocked(Event{Type: EventVolumeChange, UUID: uuid, Data: *delta.Volume})
	}
	if delta.Mute != nil && *delta.Mute != state.Mute {
		state.Mute = *delta.Mute
		b.muteHist[uuid].push(stateEntry{At: time.Now(), Mute: *delta.Mute})
		b.emitLocked(Event{Type: EventMuteChange, UUID: uuid, Data: *delta.Mute})
	}
	if delta.Bass != nil {
		state.Equalizer.Bass = *delta.Bass
	}
	if delta.Treble != nil {
		state.Equalizer.Treble = *delta.Treble
	}
	if delta.Loudness != nil {
		state.Equalizer.Loudness = *delta.Loudness
	}
	state.UpdatedAt = time.Now()
}

// ApplyTransportPoll feeds a GetTransportInfo poll result through the same
// delta path as NOTIFY events.
func (b *Bus) ApplyTransportPoll(uuid, rawTransportState string) {
	uuid = discovery.NormalizeUUID(uuid)
	state := rawTransportState
	b.applyAVTransport(uuid, &avTransportDelta{TransportState: &state})
}

// applyTopology refreshes the reverse member map and emits a topology event.
// Registered as the topology manager's change callback.
func (b *Bus) applyTopology(zones []topology.Zone) {
	groups := make(map[string][]string)
	for _, zone := range zones {
		uuids := make([]string, 0, len(zone.Members))
		for _, member := range zone.Members {
			uuids = append(uuids, member.UUID)
		}
		for _, member := range zone.Members {
			groups[member.UUID] = uuids
		}
	}

	b.mu.Lock()
	b.groups = groups
	b.emitLocked(Event{Type: EventTopologyChange, Data: zones})
	b.mu.Unlock()
}

// stateLocked returns the mutable state slot for uuid, creating it for
// devices that send events before registration completes.
func (b *Bus) stateLocked(uuid string) *PlayerState {
	state, ok := b.states[uuid]
	if !ok {
		state = &PlayerState{State: StateStopped, PlayMode: PlayMode{Repeat: "none"}}
		b.states[uuid] = state
		b.stateHist[uuid] = &ring{}
		b.muteHist[uuid] = &ring{}
	}
	return state
}

// emitLocked delivers an event to waiters and stream subscribers. Callers
// hold b.mu; emission order within a NOTIFY body is therefore fixed.
func (b *Bus) emitLocked(evt Event) {
	metrics.EventsEmitted.WithLabelValues(string(evt.Type)).Inc()

	for id, w := range b.waiters {
		if w.match(evt) {
			select {
			case w.done <- evt:
			default:
			}
			delete(b.waiters, id)
		}
	}

	for ch := range b.streams {
		select {
		case ch <- evt:
		default:
			// Slow consumer: drop rather than block the emitter.
		}
	}
}

// groupOf snapshots the zone membership of uuid at call entry.
func (b *Bus) groupOf(uuid string) map[string]bool {
	uuid = discovery.NormalizeUUID(uuid)
	b.mu.Lock()
	members, ok := b.groups[uuid]
	b.mu.Unlock()

	set := map[string]bool{uuid: true}
	if !ok && b.topo != nil {
		members = b.topo.MembersOf(uuid)
	}
	for _, m := range members {
		set[m] = true
	}
	return set
}

// GetState returns a copy of the last-known state for uuid.
func (b *Bus) GetState(uuid string) (PlayerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[discovery.NormalizeUUID(uuid)]
	if !ok {
		return PlayerState{}, false
	}
	return *state, true
}

// GetCurrentState returns the last-known playback state for uuid.
func (b *Bus) GetCurrentState(uuid string) (PlaybackState, bool) {
	state, ok := b.GetState(uuid)
	return state.State, ok
}

// GetCurrentMute returns the last-known mute flag for uuid.
func (b *Bus) GetCurrentMute(uuid string) (bool, bool) {
	state, ok := b.GetState(uuid)
	return state.Mute, ok
}

// StateHistory returns the recorded state transitions, oldest first.
func (b *Bus) StateHistory(uuid string) []stateEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.stateHist[discovery.NormalizeUUID(uuid)]; ok {
		return r.snapshot()
	}
	return nil
}

// Stream attaches a subscriber channel for the live event feed.
func (b *Bus) Stream(buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.streams[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unstream detaches a subscriber channel.
func (b *Bus) Unstream(ch chan Event) {
	b.mu.Lock()
	delete(b.streams, ch)
	b.mu.Unlock()
}

// sweepHealth evaluates the stale and unhealthy thresholds and signals the
// subscription manager once per stale transition.
func (b *Bus) sweepHealth() {
	now := time.Now()
	var stale []string

	b.mu.Lock()
	for uuid := range b.registered {
		last, ok := b.lastEventAt[uuid]
		if !ok {
			continue
		}
		if now.Sub(last) > staleNotifyAfter && !b.staleFlag[uuid] {
			b.staleFlag[uuid] = true
			stale = append(stale, uuid)
		}
	}
	b.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	b.logger.Warn().Strs("uuids", stale).Msg("devices need resubscribe")

	b.resubMu.Lock()
	callbacks := make([]func([]string), len(b.resubscribe))
	copy(callbacks, b.resubscribe)
	b.resubMu.Unlock()
	for _, fn := range callbacks {
		fn(stale)
	}
}

// GetDeviceHealth reports per-device event freshness.
func (b *Bus) GetDeviceHealth() map[string]DeviceHealth {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]DeviceHealth, len(b.registered))
	for uuid := range b.registered {
		last := b.lastEventAt[uuid]
		health := DeviceHealth{
			UUID:        uuid,
			LastEventAt: last,
			StaleNotify: now.Sub(last) > staleNotifyAfter,
			Unhealthy:   now.Sub(last) > unhealthyAfter,
		}
		if hist, ok := b.stateHist[uuid]; ok {
			if entry, recorded := hist.last(); recorded {
				health.LastState = entry.State
			}
		}
		out[uuid] = health
	}
	return out
}

// GetStaleNotifyDevices lists devices whose subscriptions look dead.
func (b *Bus) GetStaleNotifyDevices() []string {
	var out []string
	for uuid, h := range b.GetDeviceHealth() {
		if h.StaleNotify {
			out = append(out, uuid)
		}
	}
	return out
}

// GetUnhealthyDevices lists devices with no events for the unhealthy window.
func (b *Bus) GetUnhealthyDevices() []string {
	var out []string
	for uuid, h := range b.GetDeviceHealth() {
		if h.Unhealthy {
			out = append(out, uuid)
		}
	}
	return out
}


// DecodePlayMode splits a vendor play mode into its repeat and shuffle axes.
func DecodePlayMode(mode string) (repeat string, shuffle bool) {
	switch mode {
	case "REPEAT_ALL":
		return "all", false
	case "REPEAT_ONE":
		return "one", false
	case "SHUFFLE_NOREPEAT":
		return "none", true
	case "SHUFFLE":
		return "all", true
	case "SHUFFLE_REPEAT_ONE":
		return "one", true
	default:
		return "none", false
	}
}

// EncodePlayMode is the inverse of DecodePlayMode, used when setting modes.
func EncodePlayMode(repeat string, shuffle bool) string {
	switch {
	case repeat == "all" && shuffle:
		return "SHUFFLE"
	case repeat == "one" && shuffle:
		return "SHUFFLE_REPEAT_ONE"
	case shuffle:
		return "SHUFFLE_NOREPEAT"
	case repeat == "all":
		return "REPEAT_ALL"
	case repeat == "one":
		return "REPEAT_ONE"
	default:
		return "NORMAL"
	}
}

// coordinatorRef extracts the coordinator UUID from an x-rincon: transport
// URI, empty when the player is its own coordinator.
func coordinatorRef(uri string) string {
	const prefix = "x-rincon:"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		return uri[len(prefix):]
	}
	return ""
}
