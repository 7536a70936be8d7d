package wind_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/wind"
)

func TestNewProvider(t *testing.T) {
	t.Run("static", func(t *testing.T) {
		src, closer, err := wind.NewProvider(wind.ProviderConfig{Type: wind.ProviderStatic, Direction: 370, Speed: 4})
		require.NoError(t, err)
		defer closer()

		s, err := src.Fetch(context.Background(), latlon.LatLon{Lat: 1, Lon: 1})
		require.NoError(t, err)
		assert.InDelta(t, 10, s.Direction, 1e-9)
		assert.Equal(t, 4.0, s.Speed)
	})

	t.Run("decorated", func(t *testing.T) {
		src, _, err := wind.NewProvider(wind.ProviderConfig{
			Type:      wind.ProviderHTTP,
			URL:       "http://localhost:1/wind",
			Timeout:   time.Second,
			Retries:   1,
			CacheSize: 8,
		})
		require.NoError(t, err)
		assert.IsType(t, &wind.Cache{}, src)
	})

	t.Run("missing settings", func(t *testing.T) {
		_, _, err := wind.NewProvider(wind.ProviderConfig{Type: wind.ProviderHTTP})
		assert.ErrorContains(t, err, "URL is required")

		_, _, err = wind.NewProvider(wind.ProviderConfig{Type: wind.ProviderGrib})
		assert.ErrorContains(t, err, "grib directory is required")
	})

	t.Run("unsupported", func(t *testing.T) {
		_, _, err := wind.NewProvider(wind.ProviderConfig{Type: "carrier-pigeon"})
		assert.ErrorContains(t, err, "unsupported wind provider type")
	})

	t.Run("grib directory", func(t *testing.T) {
		src, closer, err := wind.NewProvider(wind.ProviderConfig{Type: wind.ProviderGrib, GribDir: t.TempDir(), GribRefresh: time.Minute})
		require.NoError(t, err)
		closer()

		_, err = src.Fetch(context.Background(), latlon.LatLon{})
		assert.ErrorIs(t, err, wind.ErrNoForecast)
	})
}
