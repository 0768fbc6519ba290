package events

import "time"

const historySize = 50

// stateEntry is one recorded state or mute transition.
type stateEntry struct {
	At    time.Time     `json:"at"`
	State PlaybackState `json:"state,omitempty"`
	Mute  bool          `json:"mute"`
}

// ring is a fixed-size ring buffer of transitions; diagnostics only.
type ring struct {
	entries [historySize]stateEntry
	next    int
	filled  bool
}

func (r *ring) push(e stateEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % historySize
	if r.next == 0 {
		r.filled = true
	}
}

// snapshot returns entries oldest-first.
func (r *ring) snapshot() []stateEntry {
	if !r.filled {
		out := make([]stateEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]stateEntry, 0, historySize)
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// last returns the most recent entry, if any.
func (r *ring) last() (stateEntry, bool) {
	if r.next == 0 && !r.filled {
		return stateEntry{}, false
	}
	idx := (r.next - 1 + historySize) % historySize
	return r.entries[idx], true
}
