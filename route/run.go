package route

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/nav-sim/latlon"
	"github.com/a-bouts/nav-sim/metrics"
	"github.com/a-bouts/nav-sim/polar"
	"github.com/a-bouts/nav-sim/wind"
)

const (
	DefaultBaseSpeed   = 7.0
	DefaultEventBuffer = 16
)

type Config struct {
	Source wind.Source
	Polar  polar.Polar

	// Interval between timer ticks. Zero disables the timer, ticks are then
	// driven by calling Tick.
	Interval time.Duration
	// HoursPerTick is the simulated time covered by a tick.
	HoursPerTick float64

	// RejectActive makes Simulation.Start fail instead of replacing the
	// active run.
	RejectActive bool

	EventBuffer int
	Notifier    Notifier
	Metrics     *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.Polar == nil {
		c.Polar = polar.NewResistance(DefaultBaseSpeed)
	}
	if c.HoursPerTick <= 0 {
		c.HoursPerTick = 1
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.Notifier == nil {
		c.Notifier = LogNotifier{}
	}
	return c
}

// Run sails a boat along a route, one tick at a time.
type Run struct {
	id     string
	config Config
	route  []latlon.LatLon
	geo    latlon.LatLonInterface

	lock    sync.RWMutex
	state   BoatState
	sampled bool
	failing bool

	busy atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	eventsLock  sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewRun returns an idle run over a copy of waypoints.
func NewRun(config Config, waypoints []latlon.LatLon) (*Run, error) {
	if config.Source == nil {
		return nil, errors.New("wind source is required")
	}
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: %d waypoint(s), at least 2 needed", ErrInvalidRoute, len(waypoints))
	}
	for i, w := range waypoints {
		if !w.Valid() {
			return nil, fmt.Errorf("%w: waypoint %d %s out of range", ErrInvalidRoute, i, w)
		}
	}

	config = config.withDefaults()
	r := &Run{
		id:     uuid.NewString(),
		config: config,
		route:  append([]latlon.LatLon(nil), waypoints...),
		geo:    latlon.LatLonSpherical{},
		done:   make(chan struct{}),

		subscribers: make(map[chan Event]struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.state = BoatState{
		Position: r.route[0],
		Heading:  r.geo.BearingTo(r.route[0], r.route[1]),
		Next:     1,
		State:    Idle,
	}
	return r, nil
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) Route() []latlon.LatLon {
	return append([]latlon.LatLon(nil), r.route...)
}

func (r *Run) State() BoatState {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.state
}

// Wind returns the last wind sampled by the run.
func (r *Run) Wind() wind.Sample {
	return r.State().Wind
}

// Done is closed once the run is completed or cancelled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Subscribe returns a stream of events starting with the current state, and
// a function to stop receiving them. The stream is closed when the run ends
// or on unsubscribe. A subscriber that falls behind loses its oldest events.
func (r *Run) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, r.config.EventBuffer)

	r.eventsLock.Lock()
	defer r.eventsLock.Unlock()

	ch <- Event{RunID: r.id, State: r.State()}
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	r.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.eventsLock.Lock()
			defer r.eventsLock.Unlock()
			if _, ok := r.subscribers[ch]; ok {
				delete(r.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (r *Run) logger() *log.Entry {
	return log.WithField("run", r.id)
}

func (r *Run) Start() error {
	r.lock.Lock()
	if r.state.State != Idle {
		r.lock.Unlock()
		return ErrRunAlreadyActive
	}
	r.state.State = Running
	s := r.state
	timer := r.config.Interval > 0
	if timer {
		r.wg.Add(1)
	}
	r.lock.Unlock()

	if m := r.config.Metrics; m != nil {
		m.ActiveRuns.Inc()
	}
	r.logger().WithFields(log.Fields{
		"waypoints": len(r.route),
		"interval":  r.config.Interval,
	}).Infof("Run started from %s", s.Position)
	r.publish(Event{RunID: r.id, State: s})

	if timer {
		go r.loop()
	}
	return nil
}

func (r *Run) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			go r.Tick(r.ctx)
		}
	}
}

// Cancel stops the run. Ticks still in flight are discarded. Cancelling a
// finished run does nothing.
func (r *Run) Cancel() {
	r.lock.Lock()
	if r.state.State.Terminal() {
		r.lock.Unlock()
		return
	}
	wasRunning := r.state.State == Running
	r.state.State = Cancelled
	s := r.state
	r.lock.Unlock()

	r.logger().Infof("Run cancelled at %s", s.Position)
	r.publish(Event{RunID: r.id, State: s})
	r.terminate(wasRunning)
}

func (r *Run) terminate(wasRunning bool) {
	r.cancel()
	r.wg.Wait()
	if m := r.config.Metrics; m != nil && wasRunning {
		m.ActiveRuns.Dec()
	}

	r.eventsLock.Lock()
	r.closed = true
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	r.eventsLock.Unlock()

	close(r.done)
}

func (r *Run) publish(e Event) {
	r.eventsLock.Lock()
	defer r.eventsLock.Unlock()

	if r.closed {
		return
	}
	for ch := range r.subscribers {
		select {
		case ch <- e:
			continue
		default:
		}
		select {
		case <-ch:
			r.logger().Debug("Event dropped, subscriber behind")
		default:
		}
		select {
		case ch <- e:
		default:
		}
	}
}

func (r *Run) count(result string) {
	if m := r.config.Metrics; m != nil {
		m.Ticks.WithLabelValues(result).Inc()
	}
}

func (r *Run) notify(message string) {
	go func() {
		if err := r.config.Notifier.Notify(message); err != nil {
			r.logger().WithError(err).Warn("Notification failed")
		}
	}()
}

// Tick advances the boat by one tick. A tick started while another is in
// flight returns ErrTickInProgress and changes nothing. A failed wind lookup
// returns a *WindFetchError and leaves the boat where it was.
func (r *Run) Tick(ctx context.Context) (BoatState, error) {
	if !r.busy.CompareAndSwap(false, true) {
		r.count(metrics.TickSkipped)
		r.logger().Debug("Tick skipped, previous tick still in flight")
		return r.State(), ErrTickInProgress
	}
	defer r.busy.Store(false)

	r.lock.RLock()
	current, sampled := r.state, r.sampled
	r.lock.RUnlock()

	switch current.State {
	case Idle:
		return current, ErrRunNotStarted
	case Completed, Cancelled:
		return current, ErrRunFinished
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	next, reached, err := r.advance(tctx, current, sampled)

	r.lock.Lock()
	if r.state.State != Running {
		s := r.state
		r.lock.Unlock()
		r.logger().Debug("Tick result discarded, run ended meanwhile")
		return s, ErrRunFinished
	}
	if err != nil {
		first := !r.failing
		r.failing = true
		r.lock.Unlock()

		r.count(metrics.TickFailed)
		r.logger().WithError(err).Warn("Tick abandoned")
		if first {
			r.notify(err.Error())
		}
		r.publish(Event{RunID: r.id, State: current, Error: err.Error()})
		return current, err
	}
	next.Tick = current.Tick + 1
	r.state = next
	r.sampled = true
	r.failing = false
	r.lock.Unlock()

	if m := r.config.Metrics; m != nil && reached > 0 {
		m.WaypointsReached.Add(float64(reached))
	}
	r.logger().WithFields(log.Fields{
		"tick":    next.Tick,
		"reached": reached,
	}).Debugf("Boat %s", next)
	r.publish(Event{RunID: r.id, State: next})

	if next.State == Completed {
		r.count(metrics.TickCompleted)
		r.logger().Infof("Run completed after %d ticks", next.Tick)
		r.notify(fmt.Sprintf("Route of %d waypoints completed in %d ticks", len(r.route), next.Tick))
		r.terminate(true)
	} else {
		r.count(metrics.TickAdvanced)
	}

	return next, nil
}

func (r *Run) fetch(ctx context.Context, from, at latlon.LatLon) (wind.Sample, error) {
	start := time.Now()
	w, err := r.config.Source.Fetch(ctx, at)
	if m := r.config.Metrics; m != nil {
		m.WindFetchSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return wind.Sample{}, &WindFetchError{Position: from, At: at, Err: err}
	}
	w.At = at
	return w, nil
}

// advance computes the state after one tick from s without touching the run.
// It also returns the number of waypoints reached.
func (r *Run) advance(ctx context.Context, s BoatState, sampled bool) (BoatState, int, error) {
	from := s.Position
	n := len(r.route)
	if s.Next >= n {
		s.State = Completed
		return s, 0, nil
	}

	fresh := false
	if !sampled {
		w, err := r.fetch(ctx, from, s.Position)
		if err != nil {
			return s, 0, err
		}
		s.Wind, fresh = w, true
	}

	seg, bearing := r.geo.DistanceAndBearingTo(s.Position, r.route[s.Next])
	speed := r.config.Polar.BoatSpeed(bearing, s.Wind)
	s.Heading, s.Speed = bearing, speed

	// The distance covered by a tick is fixed by the speed at its start.
	remaining := speed * latlon.KnotsToKmh * r.config.HoursPerTick
	reached := 0

	if remaining <= 0 {
		// Becalmed, the wind is sampled again so a later tick may move.
		if !fresh {
			w, err := r.fetch(ctx, from, s.Position)
			if err != nil {
				return s, 0, err
			}
			s.Wind = w
		}
	}

	for remaining > 0 {
		s.Heading = bearing
		if remaining >= seg {
			remaining -= seg
			s.Position = r.route[s.Next]
			s.Next++
			reached++
			if s.Next == n {
				s.State = Completed
				break
			}

			w, err := r.fetch(ctx, from, s.Position)
			if err != nil {
				return s, 0, err
			}
			s.Wind = w
			seg, bearing = r.geo.DistanceAndBearingTo(s.Position, r.route[s.Next])
			continue
		}

		s.Position = r.geo.Destination(s.Position, bearing, remaining)
		w, err := r.fetch(ctx, from, s.Position)
		if err != nil {
			return s, 0, err
		}
		s.Wind = w
		remaining = 0
	}

	s.Segment = segmentIndex(s.Next, n)
	return s, reached, nil
}
