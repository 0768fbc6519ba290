// Package presets stores declarative playback recipes: which rooms to
// group, at what volumes, and what to play.
package presets

import "time"

// Member is one room in a preset. The first member becomes the group
// coordinator.
type Member struct {
	RoomName string `json:"roomName"`
	Volume   *int   `json:"volume,omitempty"`
}

// Preset is a declarative action recipe executed by the player layer.
type Preset struct {
	Name        string   `json:"name"`
	Players     []Member `json:"players"`
	URI         string   `json:"uri,omitempty"`
	Metadata    string   `json:"metadata,omitempty"`
	Favorite    string   `json:"favorite,omitempty"`
	PlayMode    string   `json:"playMode,omitempty"`
	PauseOthers bool     `json:"pauseOthers,omitempty"`
	Sleep       int      `json:"sleep,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RunStatus is the lifecycle of one recorded execution.
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded preset execution.
type Run struct {
	RunID      string     `json:"runId"`
	PresetName string     `json:"presetName"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}
