package latlon

import (
	"fmt"
	"math"
)

const π = math.Pi

// R is the mean Earth radius in kilometers.
const R = 6371.0

const (
	KnotsToKmh = 1.852
	MsToKnots  = 1.9438444924406
)

type LatLonInterface interface {
	DistanceTo(from, to LatLon) float64
	BearingTo(from, to LatLon) float64
	DistanceAndBearingTo(from, to LatLon) (float64, float64)
	Destination(from LatLon, bearing float64, distance float64) LatLon
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies in the usual degree ranges.
func (l LatLon) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return -90 <= l.Lat && l.Lat <= 90 && -180 <= l.Lon && l.Lon <= 180
}

func (l LatLon) String() string {
	return fmt.Sprintf("(%.5f,%.5f)", l.Lat, l.Lon)
}

func toRadians(a float64) float64 {
	return a * π / 180.0
}

func toDegrees(a float64) float64 {
	return a * 180.0 / π
}

func wrap360(d float64) float64 {
	if 0.0 <= d && d < 360.0 {
		return d
	}
	d = math.Mod(d, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d
}

func wrap180(d float64) float64 {
	if -180.0 <= d && d <= 180.0 {
		return d
	}
	return wrap360(d+180.0) - 180.0
}

// Wrap360 normalizes an angle in degrees into [0,360).
func Wrap360(d float64) float64 {
	return wrap360(d)
}
