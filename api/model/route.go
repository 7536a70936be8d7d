package model

import (
	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/route"
	"github.com/a-bouts/nav-sim/wind"
)

// Route is the body of a run request.
type Route struct {
	Route []latlon.LatLon `json:"route"`
}

type Wind struct {
	Direction float64 `json:"windDirection"`
	Speed     float64 `json:"windSpeed"`
}

type Run struct {
	ID    string          `json:"id"`
	Route []latlon.LatLon `json:"route"`
	State route.BoatState `json:"state"`
	Wind  wind.Sample     `json:"wind"`
}

func NewRun(r *route.Run) Run {
	s := r.State()
	return Run{
		ID:    r.ID(),
		Route: r.Route(),
		State: s,
		Wind:  s.Wind,
	}
}

type Error struct {
	Error string `json:"error"`
}
