package wind

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-bouts/nav-sim/latlon"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestParseFileName(t *testing.T) {
	d, err := parseFileName("2024061206.f003")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC), d)

	_, err = parseFileName("2024061206")
	assert.Error(t, err)

	_, err = parseFileName("notadate.f003")
	assert.Error(t, err)

	_, err = parseFileName("2024061206.fxyz")
	assert.Error(t, err)
}

func TestGribsRefreshAndFetch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "2024061200.f006")
	touch(t, dir, "2024061200.f009")
	touch(t, dir, "2024061206.f003") // newer run for 09h
	touch(t, dir, "2024061206.f006.tmp")

	loaded := map[string]int{}
	load := func(path string, date time.Time) (*Grid, error) {
		loaded[filepath.Base(path)]++
		// 06h blows north, 09h blows east, both 10 m/s.
		g := uniformGrid(0, 10)
		if date.Hour() == 9 {
			g = uniformGrid(10, 0)
		}
		g.Date = date
		g.File = path
		return g, nil
	}
	now := time.Date(2024, 6, 12, 6, 0, 0, 0, time.UTC)

	g := newGribs(dir, load, func() time.Time { return now })
	require.NoError(t, g.Refresh())

	assert.Len(t, g.grids, 2)
	assert.Equal(t, 1, loaded["2024061206.f003"])
	assert.Zero(t, loaded["2024061206.f006.tmp"])
	assert.Equal(t, filepath.Join(dir, "2024061206.f003"), g.grids["2024061209"].File)

	at := latlon.LatLon{Lat: 0, Lon: 0}

	s, err := g.Fetch(context.Background(), at)
	require.NoError(t, err)
	assert.InDelta(t, 0, s.Direction, 1e-9)
	assert.Equal(t, at, s.At)

	// Half way between the two forecasts.
	now = time.Date(2024, 6, 12, 7, 30, 0, 0, time.UTC)
	s, err = g.Fetch(context.Background(), at)
	require.NoError(t, err)
	assert.InDelta(t, 45, s.Direction, 1e-9)

	// Refreshing again does not reload known files.
	require.NoError(t, g.Refresh())
	assert.Equal(t, 1, loaded["2024061206.f003"])

	// Removed files are dropped.
	require.NoError(t, os.Remove(filepath.Join(dir, "2024061206.f003")))
	require.NoError(t, os.Remove(filepath.Join(dir, "2024061200.f009")))
	require.NoError(t, g.Refresh())
	assert.Len(t, g.grids, 1)
}

func TestGribsFetchWithoutForecast(t *testing.T) {
	g := newGribs(t.TempDir(), LoadGrid, time.Now)
	require.NoError(t, g.Refresh())

	_, err := g.Fetch(context.Background(), latlon.LatLon{})
	assert.ErrorIs(t, err, ErrNoForecast)
}
