package events

import (
	"time"
)

// PlaybackState is the normalized transport state.
type PlaybackState string

const (
	StateStopped       PlaybackState = "STOPPED"
	StatePlaying       PlaybackState = "PLAYING"
	StatePaused        PlaybackState = "PAUSED"
	StateTransitioning PlaybackState = "TRANSITIONING"
)

// NormalizePlaybackState maps vendor transport states onto the four
// normalized values. PAUSED_PLAYBACK is the vendor spelling of PAUSED.
func NormalizePlaybackState(raw string) PlaybackState {
	switch raw {
	case "PLAYING":
		return StatePlaying
	case "PAUSED_PLAYBACK", "PAUSED":
		return StatePaused
	case "TRANSITIONING":
		return StateTransitioning
	default:
		return StateStopped
	}
}

// TrackState describes one track. Comparable by value; equality for
// track-change purposes uses the (URI, Title, Artist) triple so album-art
// URL churn does not count as a change.
type TrackState struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtURI string `json:"albumArtUri"`
	Duration    int    `json:"duration"`
	URI         string `json:"uri"`
	Type        string `json:"type"`
	StationName string `json:"stationName,omitempty"`
}

// SameTrack reports track identity by (uri, title, artist).
func (t TrackState) SameTrack(other TrackState) bool {
	return t.URI == other.URI && t.Title == other.Title && t.Artist == other.Artist
}

// PlayMode mirrors the player's repeat/shuffle/crossfade settings.
type PlayMode struct {
	Repeat    string `json:"repeat"` // none, all, one
	Shuffle   bool   `json:"shuffle"`
	Crossfade bool   `json:"crossfade"`
}

// Equalizer carries the rendering EQ settings.
type Equalizer struct {
	Bass     int  `json:"bass"`
	Treble   int  `json:"treble"`
	Loudness bool `json:"loudness"`
}

// PlayerState is the last-known state of one player. Mutated only by the Bus
// while holding its guard.
type PlayerState struct {
	State          PlaybackState `json:"playbackState"`
	Volume         int           `json:"volume"`
	Mute           bool          `json:"mute"`
	CurrentTrack   TrackState    `json:"currentTrack"`
	NextTrack      TrackState    `json:"nextTrack"`
	PlayMode       PlayMode      `json:"playMode"`
	Equalizer      Equalizer     `json:"equalizer"`
	CoordinatorRef string        `json:"coordinatorRef,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// EventType identifies a typed bus event.
type EventType string

const (
	EventStateChange    EventType = "state-change"
	EventVolumeChange   EventType = "volume-change"
	EventMuteChange     EventType = "mute-change"
	EventTrackChange    EventType = "track-change"
	EventTopologyChange EventType = "topology-change"
	EventContentUpdate  EventType = "content-update"
)

// Event is one typed state-change emission.
type Event struct {
	Type EventType `json:"type"`
	UUID string    `json:"uuid"`
	Data any       `json:"data"`
}

// DeviceHealth is the diagnostic view of one registered player.
type DeviceHealth struct {
	UUID        string        `json:"uuid"`
	LastEventAt time.Time     `json:"lastEventAt"`
	LastState   PlaybackState `json:"lastState,omitempty"`
	StaleNotify bool          `json:"staleNotify"`
	Unhealthy   bool          `json:"unhealthy"`
}

// avTransportDelta is the parsed AVTransport LastChange payload. Pointer
// fields distinguish "absent" from "empty".
type avTransportDelta struct {
	TransportState *string
	CurrentTrack   *TrackState
	NextTrack      *TrackState
	PlayMode       *string
	Crossfade      *bool
	AVTransportURI *string
}

// renderingDelta is the parsed RenderingControl LastChange payload.
type renderingDelta struct {
	Volume   *int
	Mute     *bool
	Bass     *int
	Treble   *int
	Loudness *bool
}
