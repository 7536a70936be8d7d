package route

import (
	"errors"
	"fmt"

	"github.com/a-bouts/nav-sim/latlon"
)

var (
	ErrInvalidRoute     = errors.New("invalid route")
	ErrRunAlreadyActive = errors.New("a run is already active")
	ErrRunNotStarted    = errors.New("run not started")
	ErrRunFinished      = errors.New("run finished")
	ErrTickInProgress   = errors.New("tick already in progress")
)

// WindFetchError reports a failed wind lookup. The tick that hit it did not
// move the boat, which is still at Position.
type WindFetchError struct {
	Position latlon.LatLon
	At       latlon.LatLon
	Err      error
}

func (e *WindFetchError) Error() string {
	return fmt.Sprintf("wind fetch at %s failed, boat held at %s: %v", e.At, e.Position, e.Err)
}

func (e *WindFetchError) Unwrap() error {
	return e.Err
}
