package client

import (
	"context"
	"sync"
	"time"

	"github.com/boltlabs/runtimed/pkg/logger"
)

// Refresh scheduling defaults.
const (
	visibleRefreshInterval = 20 * time.Second
	maxHiddenInterval      = 300 * time.Second
)

// Scheduler runs a refresh function periodically. While visible the next run
// is scheduled a fixed interval after the previous one completes; while
// hidden the delay doubles after each run up to a cap. Resume returns to the
// visible interval immediately. Runs never overlap.
type Scheduler struct {
	refresh func(ctx context.Context) error

	visibleInterval time.Duration
	maxInterval     time.Duration

	mu       sync.Mutex
	hidden   bool
	interval time.Duration
	started  bool

	kick chan struct{}
	done chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithVisibleInterval overrides the visible refresh interval.
func WithVisibleInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.visibleInterval = d
	}
}

// WithMaxHiddenInterval overrides the hidden backoff cap.
func WithMaxHiddenInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.maxInterval = d
	}
}

// NewScheduler creates a scheduler around the refresh function.
func NewScheduler(refresh func(ctx context.Context) error, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		refresh:         refresh,
		visibleInterval: visibleRefreshInterval,
		maxInterval:     maxHiddenInterval,
		kick:            make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.interval = s.visibleInterval
	return s
}

// Start begins scheduling. The first run happens after one interval; call
// Kick for an immediate run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.loop(ctx)
}

// Stop halts scheduling. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.done)
		s.started = false
	}
}

// Pause switches to hidden backoff, mirroring a hidden page.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = true
}

// Resume restores the visible interval and triggers an immediate run.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.hidden = false
	s.interval = s.visibleInterval
	s.mu.Unlock()
	s.Kick()
}

// Kick requests a run as soon as the current one, if any, completes.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		timer := time.NewTimer(s.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.done:
			timer.Stop()
			return
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
		}

		if err := s.refresh(ctx); err != nil {
			logger.Debugw("scheduled refresh failed", "error", err.Error())
		}
		s.advance()
	}
}

// nextInterval returns the delay before the next run.
func (s *Scheduler) nextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// advance applies hidden backoff after a completed run.
func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hidden {
		s.interval = s.visibleInterval
		return
	}
	next := s.interval * 2
	if next > s.maxInterval {
		next = s.maxInterval
	}
	s.interval = next
}
