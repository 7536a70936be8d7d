package polar

import (
	"math"

	"github.com/a-bouts/nav-sim/wind"
)

// DefaultDamping scales the wind contribution to the boat speed.
const DefaultDamping = 0.3

// Polar gives the speed in knots a boat achieves on a heading under a wind.
type Polar interface {
	BoatSpeed(heading float64, w wind.Sample) float64
}

// Resistance adds the along-track wind component, damped, to a fixed base
// speed. A wind blowing the way the boat goes helps, a head wind slows it.
type Resistance struct {
	BaseSpeed float64
	Damping   float64
}

func NewResistance(baseSpeed float64) Resistance {
	return Resistance{BaseSpeed: baseSpeed, Damping: DefaultDamping}
}

func (r Resistance) BoatSpeed(heading float64, w wind.Sample) float64 {
	return effectiveSpeed(heading, w, r.BaseSpeed, r.Damping)
}

// EffectiveSpeed returns the speed in knots, never negative, of a boat with
// base speed baseSpeed sailing on bearing under w.
func EffectiveSpeed(bearing float64, w wind.Sample, baseSpeed float64) float64 {
	return effectiveSpeed(bearing, w, baseSpeed, DefaultDamping)
}

func effectiveSpeed(bearing float64, w wind.Sample, baseSpeed, damping float64) float64 {
	angle := wind.Angle(bearing, w.Direction) * math.Pi / 180
	return math.Max(0, baseSpeed+w.Speed*math.Cos(angle)*damping)
}
