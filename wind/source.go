package wind

import (
	"context"
	"errors"
	"fmt"

	"github.com/a-bouts/nav-sim/latlon"
)

// Sample is the wind at a coordinate. Direction is the compass direction the
// wind blows toward, in degrees [0,360). Speed is in knots.
type Sample struct {
	Direction float64       `json:"windDirection"`
	Speed     float64       `json:"windSpeed"`
	At        latlon.LatLon `json:"at"`
}

func (s Sample) String() string {
	return fmt.Sprintf("%.1f° %.1f kt", s.Direction, s.Speed)
}

// Source returns the current wind at a coordinate. Implementations may block on
// the network and must honour ctx cancellation.
type Source interface {
	Fetch(ctx context.Context, at latlon.LatLon) (Sample, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, at latlon.LatLon) (Sample, error)

func (f SourceFunc) Fetch(ctx context.Context, at latlon.LatLon) (Sample, error) {
	return f(ctx, at)
}

var (
	ErrMalformedPayload = errors.New("malformed wind payload")
	ErrOutOfGrid        = errors.New("coordinate outside wind grid")
	ErrNoForecast       = errors.New("no wind forecast loaded")
)

// Static always returns the same wind.
type Static struct {
	Direction float64
	Speed     float64
}

func (s Static) Fetch(ctx context.Context, at latlon.LatLon) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	return Sample{Direction: latlon.Wrap360(s.Direction), Speed: s.Speed, At: at}, nil
}
