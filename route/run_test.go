package route

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/metrics"
	"github.com/a-bouts/nav-sim/polar"
	"github.com/a-bouts/nav-sim/wind"
)

type countingSource struct {
	source wind.Source
	calls  atomic.Int32
}

func (c *countingSource) Fetch(ctx context.Context, at latlon.LatLon) (wind.Sample, error) {
	c.calls.Add(1)
	return c.source.Fetch(ctx, at)
}

type chanNotifier chan string

func (n chanNotifier) Notify(message string) error {
	n <- message
	return nil
}

func calm() *countingSource {
	return &countingSource{source: wind.Static{}}
}

func startRun(t *testing.T, config Config, waypoints []latlon.LatLon) *Run {
	t.Helper()
	r, err := NewRun(config, waypoints)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Cancel)
	return r
}

func TestIstanbulCompletesOnFirstTick(t *testing.T) {
	src := calm()
	route := []latlon.LatLon{{Lat: 41.0, Lon: 29.0}, {Lat: 41.1, Lon: 29.0}}
	r := startRun(t, Config{Source: src, Polar: polar.NewResistance(7)}, route)

	s, err := r.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Completed, s.State)
	assert.Equal(t, route[1], s.Position)
	assert.Equal(t, 2, s.Next)
	assert.Equal(t, 0, s.Segment)
	assert.Equal(t, 1, s.Tick)
	assert.InDelta(t, 0, s.Heading, 1e-9)
	assert.InDelta(t, 7, s.Speed, 1e-9)
	assert.Equal(t, int32(1), src.calls.Load())

	select {
	case <-r.Done():
	default:
		t.Fatal("run should be done")
	}

	_, err = r.Tick(context.Background())
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestSeveralWaypointsInOneTick(t *testing.T) {
	src := calm()
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 0.02}, {Lat: 0, Lon: 10}}
	r := startRun(t, Config{Source: src}, route)

	s, err := r.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Running, s.State)
	assert.Equal(t, 3, s.Next)
	assert.Equal(t, 2, s.Segment)
	// 12.964 km budget, 2 x 1.112 km consumed by the short legs
	assert.InDelta(t, 0, s.Position.Lat, 1e-9)
	assert.InDelta(t, 0.116588, s.Position.Lon, 1e-4)
	assert.InDelta(t, 90, s.Heading, 1e-9)
	// start, two waypoints and the stop point
	assert.Equal(t, int32(4), src.calls.Load())
	assert.Equal(t, s.Position, r.Wind().At)
}

func TestDistanceFixedAtTickStart(t *testing.T) {
	src := &countingSource{source: wind.SourceFunc(func(_ context.Context, at latlon.LatLon) (wind.Sample, error) {
		if at.Lon == 0 {
			return wind.Sample{}, nil
		}
		return wind.Sample{Direction: 90, Speed: 10}, nil
	})}
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 10}}
	r := startRun(t, Config{Source: src}, route)

	s, err := r.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, s.Next)
	// speed at the start of the tick, the wind at the waypoint is only sampled
	assert.InDelta(t, 7, s.Speed, 1e-9)
	assert.InDelta(t, 90, s.Heading, 1e-9)
	assert.Equal(t, wind.Sample{Direction: 90, Speed: 10, At: s.Position}, s.Wind)
	assert.Equal(t, int32(3), src.calls.Load())

	geo := latlon.LatLonSpherical{}
	travelled := geo.DistanceTo(route[0], route[1]) + geo.DistanceTo(route[1], s.Position)
	assert.InDelta(t, 7*latlon.KnotsToKmh, travelled, 1e-6)
	assert.InDelta(t, 12.964, travelled, 1e-3)
	assert.InDelta(t, 0.116588, s.Position.Lon, 1e-4)
}

func TestSegmentNeverDecreases(t *testing.T) {
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0.05, Lon: 0.05}, {Lat: 0.1, Lon: 0}, {Lat: 0.2, Lon: 0.1}, {Lat: 0.2, Lon: 0.5}}
	r := startRun(t, Config{Source: wind.Static{Direction: 45, Speed: 12}, HoursPerTick: 0.1}, route)

	prev := r.State()
	for i := 0; i < 200; i++ {
		s, err := r.Tick(context.Background())
		if errors.Is(err, ErrRunFinished) {
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.Segment, prev.Segment)
		assert.LessOrEqual(t, s.Segment, len(route)-2)
		assert.GreaterOrEqual(t, s.Heading, 0.0)
		assert.Less(t, s.Heading, 360.0)
		prev = s
	}
	assert.Equal(t, Completed, r.State().State)
	assert.Equal(t, route[len(route)-1], r.State().Position)
}

func TestBecalmed(t *testing.T) {
	src := calm()
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 0}}
	r := startRun(t, Config{Source: src, Polar: polar.NewResistance(0)}, route)

	for i := 0; i < 3; i++ {
		s, err := r.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, route[0], s.Position)
		assert.Equal(t, 0.0, s.Speed)
		assert.Equal(t, Running, s.State)
	}
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestWindFailureAbandonsTick(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	src := wind.SourceFunc(func(_ context.Context, at latlon.LatLon) (wind.Sample, error) {
		if down.Load() {
			return wind.Sample{}, errors.New("service unavailable")
		}
		return wind.Sample{At: at}, nil
	})
	notifications := make(chanNotifier, 4)
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}
	r := startRun(t, Config{Source: src, Notifier: notifications}, route)
	before := r.State()

	s, err := r.Tick(context.Background())

	var windErr *WindFetchError
	require.ErrorAs(t, err, &windErr)
	assert.Equal(t, route[0], windErr.Position)
	assert.Equal(t, route[0], windErr.At)
	assert.ErrorContains(t, err, "service unavailable")
	assert.Equal(t, before, s)
	assert.Equal(t, before, r.State())

	select {
	case m := <-notifications:
		assert.Contains(t, m, "service unavailable")
	case <-time.After(time.Second):
		t.Fatal("no notification for the failure")
	}

	// Still failing: no new notification.
	_, err = r.Tick(context.Background())
	require.Error(t, err)

	down.Store(false)
	s, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Tick)
	assert.Greater(t, s.Position.Lon, 0.0)
	assert.Empty(t, notifications)
}

func TestWindFailureMidTickKeepsPosition(t *testing.T) {
	src := wind.SourceFunc(func(_ context.Context, at latlon.LatLon) (wind.Sample, error) {
		if at.Lon > 0 {
			return wind.Sample{}, errors.New("no data")
		}
		return wind.Sample{}, nil
	})
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 1}}
	r := startRun(t, Config{Source: src}, route)

	_, err := r.Tick(context.Background())

	var windErr *WindFetchError
	require.ErrorAs(t, err, &windErr)
	assert.Equal(t, route[0], windErr.Position)
	assert.Equal(t, route[1], windErr.At)
	s := r.State()
	assert.Equal(t, route[0], s.Position)
	assert.Equal(t, 1, s.Next)
	assert.Equal(t, Running, s.State)
}

func TestTickWhileTickInFlightIsSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	src := wind.SourceFunc(func(_ context.Context, at latlon.LatLon) (wind.Sample, error) {
		once.Do(func() { close(started) })
		<-release
		return wind.Sample{At: at}, nil
	})
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}
	r := startRun(t, Config{Source: src}, route)
	before := r.State()

	first := make(chan error, 1)
	go func() {
		_, err := r.Tick(context.Background())
		first <- err
	}()
	<-started

	s, err := r.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.Equal(t, before, s)
	assert.Equal(t, before, r.State())

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, r.State().Tick)
}

func TestCancelDiscardsInFlightTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	// Ignores ctx so the result arrives after the cancellation.
	src := wind.SourceFunc(func(_ context.Context, at latlon.LatLon) (wind.Sample, error) {
		once.Do(func() { close(started) })
		<-release
		return wind.Sample{Direction: 90, Speed: 30, At: at}, nil
	})
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}
	r, err := NewRun(Config{Source: src}, route)
	require.NoError(t, err)
	require.NoError(t, r.Start())

	result := make(chan error, 1)
	go func() {
		_, err := r.Tick(context.Background())
		result <- err
	}()
	<-started

	r.Cancel()
	close(release)

	assert.ErrorIs(t, <-result, ErrRunFinished)
	s := r.State()
	assert.Equal(t, Cancelled, s.State)
	assert.Equal(t, route[0], s.Position)
	assert.Equal(t, 0, s.Tick)
	assert.Equal(t, wind.Sample{}, s.Wind)
}

func TestCancelAbortsPendingFetch(t *testing.T) {
	started := make(chan struct{})
	src := wind.SourceFunc(func(ctx context.Context, _ latlon.LatLon) (wind.Sample, error) {
		close(started)
		<-ctx.Done()
		return wind.Sample{}, ctx.Err()
	})
	r, err := NewRun(Config{Source: src}, []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	result := make(chan error, 1)
	go func() {
		_, err := r.Tick(context.Background())
		result <- err
	}()
	<-started
	r.Cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrRunFinished)
	case <-time.After(time.Second):
		t.Fatal("tick not aborted by cancel")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	r, err := NewRun(Config{Source: calm()}, []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	assert.NotPanics(t, func() {
		r.Cancel()
		r.Cancel()
	})
	assert.Equal(t, Cancelled, r.State().State)

	events, unsubscribe := r.Subscribe()
	e, ok := <-events
	assert.True(t, ok)
	assert.Equal(t, Cancelled, e.State.State)
	_, ok = <-events
	assert.False(t, ok)
	assert.NotPanics(t, unsubscribe)
	<-r.Done()

	assert.ErrorIs(t, r.Start(), ErrRunAlreadyActive)
}

func TestCancelIdleRun(t *testing.T) {
	r, err := NewRun(Config{Source: calm()}, []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}})
	require.NoError(t, err)

	_, err = r.Tick(context.Background())
	assert.ErrorIs(t, err, ErrRunNotStarted)

	assert.NotPanics(t, r.Cancel)
	assert.Equal(t, Cancelled, r.State().State)
}

func TestStartTwice(t *testing.T) {
	r := startRun(t, Config{Source: calm()}, []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}})

	assert.ErrorIs(t, r.Start(), ErrRunAlreadyActive)
}

func TestNewRunInvalid(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		waypoints []latlon.LatLon
	}{
		{"empty", Config{Source: calm()}, nil},
		{"single waypoint", Config{Source: calm()}, []latlon.LatLon{{Lat: 1, Lon: 1}}},
		{"latitude out of range", Config{Source: calm()}, []latlon.LatLon{{Lat: 91, Lon: 0}, {Lat: 0, Lon: 0}}},
		{"longitude out of range", Config{Source: calm()}, []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 181}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRun(tt.config, tt.waypoints)
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}

	_, err := NewRun(Config{}, []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}})
	assert.Error(t, err)
}

func TestRunCopiesRoute(t *testing.T) {
	waypoints := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}
	r, err := NewRun(Config{Source: calm()}, waypoints)
	require.NoError(t, err)

	waypoints[1] = latlon.LatLon{Lat: 5, Lon: 5}

	assert.Equal(t, latlon.LatLon{Lat: 0, Lon: 1}, r.Route()[1])
	assert.NotEmpty(t, r.ID())
	assert.Equal(t, Idle, r.State().State)
	assert.InDelta(t, 90, r.State().Heading, 1e-9)
}

func TestTimerDrivesTicks(t *testing.T) {
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}}
	r := startRun(t, Config{Source: calm(), Interval: 10 * time.Millisecond}, route)

	require.Eventually(t, func() bool {
		return r.State().Tick >= 3
	}, 2*time.Second, 5*time.Millisecond)

	r.Cancel()
	<-r.Done()
	ticks := r.State().Tick
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, r.State().Tick)
}

func TestEvents(t *testing.T) {
	route := []latlon.LatLon{{Lat: 41.0, Lon: 29.0}, {Lat: 41.1, Lon: 29.0}}
	r, err := NewRun(Config{Source: calm()}, route)
	require.NoError(t, err)
	t.Cleanup(r.Cancel)

	events, unsubscribe := r.Subscribe()
	defer unsubscribe()

	require.NoError(t, r.Start())
	_, err = r.Tick(context.Background())
	require.NoError(t, err)

	var got []Event
	for e := range events {
		got = append(got, e)
	}
	require.Len(t, got, 3)
	assert.Equal(t, Idle, got[0].State.State)
	assert.Equal(t, Running, got[1].State.State)
	assert.Equal(t, Completed, got[2].State.State)
	assert.Equal(t, r.ID(), got[2].RunID)
}

func TestLateSubscriberSeesCurrentState(t *testing.T) {
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}}
	r := startRun(t, Config{Source: calm()}, route)

	for i := 0; i < 30; i++ {
		_, err := r.Tick(context.Background())
		require.NoError(t, err)
	}

	events, unsubscribe := r.Subscribe()
	defer unsubscribe()

	e := <-events
	assert.Equal(t, 30, e.State.Tick)

	_, err := r.Tick(context.Background())
	require.NoError(t, err)
	e = <-events
	assert.Equal(t, 31, e.State.Tick)
}

func TestEverySubscriberGetsEveryTick(t *testing.T) {
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}}
	r := startRun(t, Config{Source: calm()}, route)

	first, unsubscribeFirst := r.Subscribe()
	defer unsubscribeFirst()
	second, unsubscribeSecond := r.Subscribe()
	defer unsubscribeSecond()

	for i := 0; i < 5; i++ {
		_, err := r.Tick(context.Background())
		require.NoError(t, err)
	}

	for _, events := range []<-chan Event{first, second} {
		for want := 0; want <= 5; want++ {
			e := <-events
			assert.Equal(t, want, e.State.Tick)
		}
	}
}

func TestSlowSubscriberKeepsLatestEvents(t *testing.T) {
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}}
	r := startRun(t, Config{Source: calm(), EventBuffer: 2}, route)

	events, unsubscribe := r.Subscribe()

	for i := 0; i < 10; i++ {
		_, err := r.Tick(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 9, (<-events).State.Tick)
	assert.Equal(t, 10, (<-events).State.Tick)

	unsubscribe()
	unsubscribe()
	_, ok := <-events
	assert.False(t, ok)

	_, err := r.Tick(context.Background())
	assert.NoError(t, err)
}

func TestRunMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	route := []latlon.LatLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 0.5}}
	r := startRun(t, Config{Source: calm(), Metrics: m}, route)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))

	for i := 0; i < 10 && r.State().State == Running; i++ {
		_, err := r.Tick(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, Completed, r.State().State)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WaypointsReached))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks.WithLabelValues(metrics.TickCompleted)))
	assert.Equal(t, float64(r.State().Tick-1), testutil.ToFloat64(m.Ticks.WithLabelValues(metrics.TickAdvanced)))
}
