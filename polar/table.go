package polar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/wind"
)

// Table is a boat polar: for each sail, the speed in knots by true wind angle
// (rows) and true wind speed in knots (columns).
type Table struct {
	Label            string    `json:"label"`
	GlobalSpeedRatio float64   `json:"globalSpeedRatio"`
	MaxSpeed         float64   `json:"maxSpeed"`
	Foil             Foil      `json:"foil"`
	Hull             Hull      `json:"hull"`
	Tws              []float64 `json:"tws"`
	Twa              []float64 `json:"twa"`
	Sail             []Sail    `json:"sail"`

	// Options of the simulated boat.
	WithFoil bool `json:"-"`
	WithHull bool `json:"-"`
}

type Foil struct {
	SpeedRatio float64 `json:"speedRatio"`
	TwaMin     float64 `json:"twaMin"`
	TwaMax     float64 `json:"twaMax"`
	TwaMerge   float64 `json:"twaMerge"`
	TwsMin     float64 `json:"twsMin"`
	TwsMax     float64 `json:"twsMax"`
	TwsMerge   float64 `json:"twsMerge"`
}

type Hull struct {
	SpeedRatio float64 `json:"speedRatio"`
}

type Sail struct {
	Id    int         `json:"id"`
	Name  string      `json:"name"`
	Speed [][]float64 `json:"speed"`
}

var ErrInvalidTable = errors.New("invalid polar table")

func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening polar %s: %w", path, err)
	}
	defer f.Close()

	t, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("loading polar %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"label": t.Label,
		"sails": len(t.Sail),
	}).Info("Polar loaded")

	return t, nil
}

func ParseTable(r io.Reader) (*Table, error) {
	var t Table
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	if len(t.Tws) == 0 || len(t.Twa) == 0 || len(t.Sail) == 0 {
		return nil, fmt.Errorf("%w: tws, twa and sail must not be empty", ErrInvalidTable)
	}
	for _, s := range t.Sail {
		if len(s.Speed) != len(t.Twa) {
			return nil, fmt.Errorf("%w: sail %s has %d rows, want %d", ErrInvalidTable, s.Name, len(s.Speed), len(t.Twa))
		}
		for _, row := range s.Speed {
			if len(row) != len(t.Tws) {
				return nil, fmt.Errorf("%w: sail %s has %d columns, want %d", ErrInvalidTable, s.Name, len(row), len(t.Tws))
			}
		}
	}

	if t.GlobalSpeedRatio == 0 {
		t.GlobalSpeedRatio = 1
	}

	return &t, nil
}

// interpolationIndex returns the indexes surrounding value and the weight of
// the first one.
func interpolationIndex(values []float64, value float64) (int, int, float64) {
	i := 0
	for i < len(values) && values[i] < value {
		i++
	}

	if i == len(values) {
		return i - 1, 0, 1
	}
	if i == 0 {
		return 0, 0, 0
	}
	return i - 1, i, (values[i] - value) / (values[i] - values[i-1])
}

func (t *Table) foil(twa float64, ws float64) float64 {
	f := t.Foil
	ct := 0.0
	cv := 0.0
	if twa <= f.TwaMin-f.TwaMerge {
		return 1.0
	} else if twa < f.TwaMin {
		ct = (twa - (f.TwaMin - f.TwaMerge)) / f.TwaMerge
	} else if twa < f.TwaMax {
		ct = 1
	} else if twa < f.TwaMax+f.TwaMerge {
		ct = (f.TwaMax + f.TwaMerge - twa) / f.TwaMerge
	} else {
		return 1.0
	}
	if ws <= f.TwsMin-f.TwsMerge {
		return 1.0
	} else if ws < f.TwsMin {
		cv = (ws - (f.TwsMin - f.TwsMerge)) / f.TwsMerge
	} else if ws < f.TwsMax {
		cv = 1
	} else if ws < f.TwsMax+f.TwsMerge {
		cv = (f.TwsMax + f.TwsMerge - ws) / f.TwsMerge
	} else {
		return 1.0
	}
	return 1.0 + (f.SpeedRatio-1)*ct*cv
}

// Speed returns the best speed over all sails and the index of that sail.
// twa is in degrees, either side, and ws in knots.
func (t *Table) Speed(twa float64, ws float64) (float64, int) {
	a := math.Abs(twa)
	if a > 180 {
		a = 360 - a
	}

	twsIndex0, twsIndex1, twsFactor := interpolationIndex(t.Tws, ws)
	twaIndex0, twaIndex1, twaFactor := interpolationIndex(t.Twa, a)

	maxBs := 0.0
	maxS := 0
	for s, sail := range t.Sail {
		ti0 := sail.Speed[twaIndex0]
		ti1 := sail.Speed[twaIndex1]
		bs := (ti0[twsIndex0]*twsFactor+ti0[twsIndex1]*(1-twsFactor))*twaFactor + (ti1[twsIndex0]*twsFactor+ti1[twsIndex1]*(1-twsFactor))*(1-twaFactor)
		if bs > maxBs {
			maxBs = bs
			maxS = s
		}
	}

	maxBs *= t.GlobalSpeedRatio
	if t.WithHull && t.Hull.SpeedRatio > 0 {
		maxBs *= t.Hull.SpeedRatio
	}
	if t.WithFoil {
		maxBs *= t.foil(a, ws)
	}
	if t.MaxSpeed > 0 {
		maxBs = math.Min(maxBs, t.MaxSpeed)
	}

	return math.Max(0, maxBs), maxS
}

// BoatSpeed looks the heading up against the direction the wind comes from.
func (t *Table) BoatSpeed(heading float64, w wind.Sample) float64 {
	bs, _ := t.Speed(wind.Twa(heading, latlon.Wrap360(w.Direction+180)), w.Speed)
	return bs
}
