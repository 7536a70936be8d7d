package wind

import "math"

func Twa(heading, wind float64) float64 {
	twa := wind - heading
	if twa <= -180 {
		twa += 360
	}
	if twa > 180 {
		twa -= 360
	}

	return twa
}

// Angle returns the unsigned angle in [0,180] between a heading and a wind
// direction, both in degrees.
func Angle(heading, wind float64) float64 {
	a := math.Mod(math.Abs(wind-heading), 360)
	if a > 180 {
		a = 360 - a
	}
	return a
}
