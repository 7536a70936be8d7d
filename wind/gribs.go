package wind

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jasonlvhit/gocron"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/nav-sim/latlon"
)

const stampLayout = "2006010215"

// Gribs serves wind from a directory of GRIB2 forecasts named
// <run>.f<hour>, e.g. 2024061206.f003. Files are re-scanned periodically.
type Gribs struct {
	dir   string
	grids map[string]*Grid
	lock  sync.RWMutex

	now  func() time.Time
	load func(path string, date time.Time) (*Grid, error)

	stop     chan bool
	stopOnce sync.Once
}

// NewGribs loads the forecasts found in dir. When refresh is positive the
// directory is scanned again at that interval until Close is called.
func NewGribs(dir string, refresh time.Duration) (*Gribs, error) {
	g := newGribs(dir, LoadGrid, time.Now)
	if err := g.Refresh(); err != nil {
		return nil, err
	}

	if refresh > 0 {
		s := gocron.NewScheduler()
		s.Every(uint64(math.Max(1, refresh.Seconds()))).Seconds().Do(g.Refresh)
		g.stop = s.Start()
	}

	return g, nil
}

func newGribs(dir string, load func(string, time.Time) (*Grid, error), now func() time.Time) *Gribs {
	return &Gribs{
		dir:   dir,
		grids: make(map[string]*Grid),
		now:   now,
		load:  load,
	}
}

func (g *Gribs) Close() {
	g.stopOnce.Do(func() {
		if g.stop != nil {
			g.stop <- true
		}
	})
}

// parseFileName returns the forecast time of a <run>.f<hour> file name.
func parseFileName(name string) (time.Time, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 || len(parts[1]) < 2 {
		return time.Time{}, fmt.Errorf("unexpected grib file name '%s'", name)
	}

	t, err := time.Parse(stampLayout, parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing run date of '%s': %w", name, err)
	}

	h, err := strconv.Atoi(parts[1][1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing forecast hour of '%s': %w", name, err)
	}

	return t.Add(time.Hour * time.Duration(h)), nil
}

// Refresh drops forecasts whose file disappeared and loads new ones. For a
// given forecast time the most recent run wins.
func (g *Gribs) Refresh() error {
	var files []string
	err := filepath.Walk(g.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.WithError(err).Errorf("Error walking file '%s'", path)
		} else if info.Mode().IsRegular() && !strings.HasSuffix(info.Name(), ".tmp") {
			files = append(files, info.Name())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking grib files: %w", err)
	}

	sort.Strings(files)

	g.lock.Lock()
	defer g.lock.Unlock()

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	for k, grid := range g.grids {
		if !present[filepath.Base(grid.File)] {
			log.Debugf("Remove from winds %s", k)
			delete(g.grids, k)
		}
	}

	now := g.now()
	for cpt, f := range files {
		date, err := parseFileName(f)
		if err != nil {
			log.WithError(err).Warn("Skipping grib file")
			continue
		}

		if date.Sub(now).Hours() < -3 && cpt < len(files)-1 {
			continue
		}

		stamp := date.Format(stampLayout)
		if prev, found := g.grids[stamp]; found && filepath.Base(prev.File) >= f {
			continue
		}

		grid, err := g.load(filepath.Join(g.dir, f), date)
		if err != nil {
			log.WithError(err).Errorf("Error loading grib file '%s'", f)
			continue
		}
		log.Debugf("Init %s %s", stamp, f)
		g.grids[stamp] = grid
	}

	return nil
}

// findGrids returns the forecasts surrounding m and the interpolation factor
// between them.
func (g *Gribs) findGrids(m time.Time) (*Grid, *Grid, float64) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	if len(g.grids) == 0 {
		return nil, nil, 0
	}

	stamp := m.Format(stampLayout)

	keys := make([]string, 0, len(g.grids))
	for k := range g.grids {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if keys[0] > stamp {
		return g.grids[keys[0]], nil, 0
	}
	for i := range keys {
		if keys[i] > stamp {
			w0, w1 := g.grids[keys[i-1]], g.grids[keys[i]]
			h := m.Sub(w0.Date).Minutes()
			delta := w1.Date.Sub(w0.Date).Minutes()
			return w0, w1, h / delta
		}
	}
	return g.grids[keys[len(keys)-1]], nil, 0
}

func (g *Gribs) Fetch(ctx context.Context, at latlon.LatLon) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	w0, w1, x := g.findGrids(g.now().UTC())
	if w0 == nil {
		return Sample{}, ErrNoForecast
	}

	u, v, err := w0.interpolate(at.Lat, at.Lon)
	if err != nil {
		return Sample{}, err
	}
	if w1 != nil {
		u1, v1, err := w1.interpolate(at.Lat, at.Lon)
		if err != nil {
			return Sample{}, err
		}
		u = u1*x + u*(1-x)
		v = v1*x + v*(1-x)
	}

	s := vectorToSample(u, v)
	s.At = at
	return s, nil
}
