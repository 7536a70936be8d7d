package route

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/nav-sim/latlon"
)

// Simulation owns at most one active run.
type Simulation struct {
	config Config

	lock    sync.Mutex
	current *Run
}

func NewSimulation(config Config) *Simulation {
	return &Simulation{config: config}
}

// Start starts a run over waypoints. An active run is cancelled first, unless
// the simulation is configured with RejectActive, in which case
// ErrRunAlreadyActive is returned. An invalid route leaves the active run
// untouched.
func (s *Simulation) Start(waypoints []latlon.LatLon) (*Run, error) {
	run, err := NewRun(s.config, waypoints)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.current != nil && s.current.State().State == Running {
		if s.config.RejectActive {
			return nil, ErrRunAlreadyActive
		}
		log.WithField("run", s.current.ID()).Info("Replacing active run")
		s.current.Cancel()
	}

	if err := run.Start(); err != nil {
		return nil, err
	}
	s.current = run
	return run, nil
}

// Cancel cancels the current run, if any.
func (s *Simulation) Cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.current != nil {
		s.current.Cancel()
	}
}

// Current returns the last started run, or nil.
func (s *Simulation) Current() *Run {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current
}

// State returns the state of the current run. It is Idle when no run was
// started.
func (s *Simulation) State() BoatState {
	if run := s.Current(); run != nil {
		return run.State()
	}
	return BoatState{State: Idle}
}
