package events

import (
	"time"

	"github.com/homeaudio/sonos-gateway/internal/topology"
)

// waiter is one installed wait-for condition. Resolution happens under the
// bus guard; done is buffered so the emitter never blocks.
type waiter struct {
	match func(Event) bool
	done  chan Event
}

// addWaiterLocked installs a waiter. Callers hold b.mu: checking the current
// state and installing the waiter under the same lock is what prevents a lost
// wakeup between the fast-path check and event delivery.
func (b *Bus) addWaiterLocked(match func(Event) bool) (int, chan Event) {
	id := b.nextWaiter
	b.nextWaiter++
	w := &waiter{match: match, done: make(chan Event, 1)}
	b.waiters[id] = w
	return id, w.done
}

func (b *Bus) removeWaiter(id int) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}

// await blocks until done yields or the timeout elapses.
func (b *Bus) await(id int, done chan Event, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case evt := <-done:
		return evt, true
	case <-timer.C:
		b.removeWaiter(id)
		return Event{}, false
	}
}

// WaitForStateFunc resolves when any member of uuid's zone reaches a state
// accepted by pred, or immediately if one already has. Group membership is
// snapshotted at entry: state events may come from the coordinator or from
// bonded secondaries.
func (b *Bus) WaitForStateFunc(uuid string, pred func(PlaybackState) bool, timeout time.Duration) bool {
	group := b.groupOf(uuid)

	b.mu.Lock()
	for member := range group {
		if state, ok := b.states[member]; ok && pred(state.State) {
			b.mu.Unlock()
			return true
		}
	}
	id, done := b.addWaiterLocked(func(evt Event) bool {
		if evt.Type != EventStateChange || !group[evt.UUID] {
			return false
		}
		state, ok := evt.Data.(PlaybackState)
		return ok && pred(state)
	})
	b.mu.Unlock()

	_, ok := b.await(id, done, timeout)
	return ok
}

// WaitForState resolves when the zone reaches the target state.
func (b *Bus) WaitForState(uuid string, target PlaybackState, timeout time.Duration) bool {
	return b.WaitForStateFunc(uuid, func(s PlaybackState) bool { return s == target }, timeout)
}

// WaitForAnyState resolves when the zone reaches any of the target states.
func (b *Bus) WaitForAnyState(uuid string, targets []PlaybackState, timeout time.Duration) bool {
	return b.WaitForStateFunc(uuid, func(s PlaybackState) bool {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
		return false
	}, timeout)
}

// WaitForStableState resolves with the settled state once the zone leaves
// TRANSITIONING, or reports failure on timeout.
func (b *Bus) WaitForStableState(uuid string, timeout time.Duration) (PlaybackState, bool) {
	group := b.groupOf(uuid)

	b.mu.Lock()
	for member := range group {
		if state, ok := b.states[member]; ok && state.State != StateTransitioning {
			settled := state.State
			b.mu.Unlock()
			return settled, true
		}
	}
	id, done := b.addWaiterLocked(func(evt Event) bool {
		if evt.Type != EventStateChange || !group[evt.UUID] {
			return false
		}
		state, ok := evt.Data.(PlaybackState)
		return ok && state != StateTransitioning
	})
	b.mu.Unlock()

	evt, ok := b.await(id, done, timeout)
	if !ok {
		return "", false
	}
	return evt.Data.(PlaybackState), true
}

// WaitForVolume resolves when any zone member reports the target volume.
func (b *Bus) WaitForVolume(uuid string, target int, timeout time.Duration) bool {
	group := b.groupOf(uuid)

	b.mu.Lock()
	for member := range group {
		if state, ok := b.states[member]; ok && state.Volume == target {
			b.mu.Unlock()
			return true
		}
	}
	id, done := b.addWaiterLocked(func(evt Event) bool {
		if evt.Type != EventVolumeChange || !group[evt.UUID] {
			return false
		}
		vol, ok := evt.Data.(int)
		return ok && vol == target
	})
	b.mu.Unlock()

	_, ok := b.await(id, done, timeout)
	return ok
}

// WaitForMute resolves when any zone member reports the target mute flag.
func (b *Bus) WaitForMute(uuid string, target bool, timeout time.Duration) bool {
	group := b.groupOf(uuid)

	b.mu.Lock()
	for member := range group {
		if state, ok := b.states[member]; ok && state.Mute == target {
			b.mu.Unlock()
			return true
		}
	}
	id, done := b.addWaiterLocked(func(evt Event) bool {
		if evt.Type != EventMuteChange || !group[evt.UUID] {
			return false
		}
		mute, ok := evt.Data.(bool)
		return ok && mute == target
	})
	b.mu.Unlock()

	_, ok := b.await(id, done, timeout)
	return ok
}

// WaitForTrackChange resolves on the next track-change in uuid's zone.
// There is no fast path: the caller wants a future change, not the current
// track.
func (b *Bus) WaitForTrackChange(uuid string, timeout time.Duration) bool {
	group := b.groupOf(uuid)

	b.mu.Lock()
	id, done := b.addWaiterLocked(func(evt Event) bool {
		return evt.Type == EventTrackChange && group[evt.UUID]
	})
	b.mu.Unlock()

	_, ok := b.await(id, done, timeout)
	return ok
}

// WaitForContentUpdate resolves with the raw ContainerUpdateIDs value on the
// next content-directory change from uuid.
func (b *Bus) WaitForContentUpdate(uuid string, timeout time.Duration) (string, bool) {
	target := map[string]bool{uuid: true}

	b.mu.Lock()
	id, done := b.addWaiterLocked(func(evt Event) bool {
		return evt.Type == EventContentUpdate && target[evt.UUID]
	})
	b.mu.Unlock()

	evt, ok := b.await(id, done, timeout)
	if !ok {
		return "", false
	}
	raw, _ := evt.Data.(string)
	return raw, true
}

// WaitForTopologyChange resolves with the new zone list on the next applied
// topology update.
func (b *Bus) WaitForTopologyChange(timeout time.Duration) ([]topology.Zone, bool) {
	b.mu.Lock()
	id, done := b.addWaiterLocked(func(evt Event) bool {
		return evt.Type == EventTopologyChange
	})
	b.mu.Unlock()

	evt, ok := b.await(id, done, timeout)
	if !ok {
		return nil, false
	}
	zones, _ := evt.Data.([]topology.Zone)
	return zones, true
}
