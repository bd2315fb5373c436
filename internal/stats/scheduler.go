package stats

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Roller applies a rollover check at the given instant.
type Roller interface {
	CheckRollover(now time.Time) bool
}

// Scheduler calls CheckRollover at every local midnight. It re-arms a one-shot
// timer after each firing instead of ticking at a fixed period, so it follows
// the wall clock across DST changes and suspended hosts.
type Scheduler struct {
	roller Roller
	clock  Clock
	loc    *time.Location
	logger *zap.Logger

	mu      sync.Mutex
	timer   Timer
	next    time.Time
	started bool
	stopped bool
}

// NewScheduler builds a scheduler. Nil clock, location or logger fall back to
// the system clock, time.Local and a no-op logger.
func NewScheduler(roller Roller, clock Clock, loc *time.Location, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{roller: roller, clock: clock, loc: loc, logger: logger}
}

// Start checks for a missed rollover right away, covering downtime across a
// midnight, then arms the timer for the next one.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	s.tick()
}

func (s *Scheduler) tick() {
	now := s.clock.Now()
	if s.roller.CheckRollover(now) {
		s.logger.Debug("rollover applied", zap.Time("at", now))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	now = s.clock.Now()
	s.next = NextMidnight(now, s.loc)
	s.timer = s.clock.AfterFunc(s.next.Sub(now), s.tick)
	s.logger.Debug("next rollover scheduled", zap.Time("at", s.next))
}

// Next reports when the timer will fire next.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Stop cancels the pending timer. A firing already in progress completes but
// does not re-arm.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
