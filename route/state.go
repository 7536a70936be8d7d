package route

import (
	"fmt"

	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/wind"
)

type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
)

var stateNames = [...]string{"idle", "running", "completed", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, n := range stateNames {
		if n == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown run state '%s'", text)
}

// Terminal reports whether no more ticks will be run.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled
}

// BoatState is the published state of a simulated boat.
type BoatState struct {
	Position latlon.LatLon `json:"position"`
	// Heading is the bearing of the last displacement, in degrees.
	Heading float64 `json:"heading"`
	// Speed is in knots.
	Speed float64 `json:"speed"`
	// Segment is the index of the leg route[Segment] -> route[Segment+1].
	Segment int         `json:"segment"`
	Next    int         `json:"next"`
	Tick    int         `json:"tick"`
	Wind    wind.Sample `json:"wind"`
	State   State       `json:"state"`
}

func (b BoatState) String() string {
	return fmt.Sprintf("%s %s %.1f° %.2f kt leg %d", b.State, b.Position, b.Heading, b.Speed, b.Segment)
}

// Event is published by a run after each tick and when it ends.
type Event struct {
	RunID string    `json:"runId"`
	State BoatState `json:"state"`
	Error string    `json:"error,omitempty"`
}

func segmentIndex(next, waypoints int) int {
	seg := next - 1
	if seg > waypoints-2 {
		seg = waypoints - 2
	}
	if seg < 0 {
		seg = 0
	}
	return seg
}
