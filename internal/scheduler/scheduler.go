package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"competitor/scraper/internal/domain"
	"competitor/scraper/internal/metrics"

	log "github.com/sirupsen/logrus"
)

var (
	ErrOriginBlocked     = errors.New("origin is blocked")
	ErrNoOriginAvailable = errors.New("no origin available")
)

type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a uniformly random duration in [Min, Max].
func (r DelayRange) Pick() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

type Policy struct {
	MaxConsecutiveFailures int
	Cooldown               time.Duration
	RequestDelay           DelayRange
	SwitchDelay            DelayRange
	FailureDelay           DelayRange
}

func DefaultPolicy() Policy {
	return Policy{
		MaxConsecutiveFailures: 3,
		Cooldown:               30 * time.Minute,
		RequestDelay:           DelayRange{Min: 2 * time.Second, Max: 5 * time.Second},
		SwitchDelay:            DelayRange{Min: 10 * time.Second, Max: 20 * time.Second},
		FailureDelay:           DelayRange{Min: 30 * time.Second, Max: 60 * time.Second},
	}
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithSleeper(sleep Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

type originState struct {
	mu      sync.Mutex
	health  domain.OriginHealth
	blocked bool
}

// Scheduler tracks per-origin health and decides which origin to visit next.
// Lock order is Scheduler.mu before originState.mu.
type Scheduler struct {
	policy Policy
	now    func() time.Time
	sleep  Sleeper

	mu     sync.Mutex
	order  []string
	cursor int
	states map[string]*originState
}

func New(origins []string, policy Policy, opts ...Option) *Scheduler {
	if policy.MaxConsecutiveFailures <= 0 {
		policy.MaxConsecutiveFailures = 3
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = 30 * time.Minute
	}

	s := &Scheduler{
		policy: policy,
		now:    time.Now,
		sleep:  contextSleep,
		states: make(map[string]*originState, len(origins)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range origins {
		if _, ok := s.states[name]; ok {
			continue
		}
		s.order = append(s.order, name)
		s.states[name] = &originState{health: domain.OriginHealth{Origin: name}}
	}
	return s
}

func (s *Scheduler) state(origin string) *originState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(origin)
}

// stateLocked registers unknown origins on first sight. Caller holds s.mu.
func (s *Scheduler) stateLocked(origin string) *originState {
	st, ok := s.states[origin]
	if !ok {
		st = &originState{health: domain.OriginHealth{Origin: origin}}
		s.states[origin] = st
		s.order = append(s.order, origin)
	}
	return st
}

// NextOrigin revives origins whose cooldown has passed and returns the next active
// origin in rotation.
func (s *Scheduler) NextOrigin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := 0; i < len(s.order); i++ {
		idx := (s.cursor + i) % len(s.order)
		name := s.order[idx]
		st := s.states[name]

		st.mu.Lock()
		s.reviveLocked(st, now)
		blocked := st.blocked
		st.mu.Unlock()

		if !blocked {
			s.cursor = (idx + 1) % len(s.order)
			return name, nil
		}
	}
	return "", ErrNoOriginAvailable
}

// reviveLocked unblocks an origin whose retry time has passed. Caller holds st.mu.
func (s *Scheduler) reviveLocked(st *originState, now time.Time) {
	if !st.blocked || st.health.RetryAfter == nil || now.Before(*st.health.RetryAfter) {
		return
	}
	st.blocked = false
	st.health.IsBlocked = false
	st.health.RetryAfter = nil
	st.health.ConsecutiveFailures = 0
	metrics.OriginsBlocked.Dec()
	log.Infof("✅ Origin %s cooled down and is active again", st.health.Origin)
}

// ReportSuccess resets the failure streak and lifts any block.
func (s *Scheduler) ReportSuccess(origin string) {
	st := s.state(origin)
	now := s.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.health.ConsecutiveFailures = 0
	st.health.LastSuccess = &now
	if st.blocked {
		st.blocked = false
		st.health.IsBlocked = false
		st.health.RetryAfter = nil
		metrics.OriginsBlocked.Dec()
		log.Infof("✅ Origin %s answered again and is unblocked", origin)
	}
}

// ReportFailure records a failed request and reports whether the origin is now blocked.
// A blocked origin keeps its original retry time.
func (s *Scheduler) ReportFailure(origin, reason string) bool {
	st := s.state(origin)
	now := s.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.health.ConsecutiveFailures++
	st.health.LastFailure = &now
	metrics.OriginFailures.WithLabelValues(origin).Inc()

	if st.blocked {
		return true
	}
	if st.health.ConsecutiveFailures < s.policy.MaxConsecutiveFailures {
		log.Debugf("Origin %s failure %d/%d: %s", origin, st.health.ConsecutiveFailures, s.policy.MaxConsecutiveFailures, reason)
		return false
	}

	retryAfter := now.Add(s.policy.Cooldown)
	st.blocked = true
	st.health.IsBlocked = true
	st.health.RetryAfter = &retryAfter
	metrics.OriginsBlocked.Inc()
	log.Warnf("🚫 Origin %s blocked after %d consecutive failures until %v (last: %s)",
		origin, st.health.ConsecutiveFailures, retryAfter.Format("15:04:05"), reason)
	return true
}

// Blocked reports whether the origin is in cooldown, reviving it if the cooldown passed.
func (s *Scheduler) Blocked(origin string) bool {
	st := s.state(origin)

	st.mu.Lock()
	defer st.mu.Unlock()

	s.reviveLocked(st, s.now())
	return st.blocked
}

func (s *Scheduler) Health(origin string) domain.OriginHealth {
	st := s.state(origin)

	st.mu.Lock()
	defer st.mu.Unlock()
	return copyHealth(st.health)
}

func (s *Scheduler) Snapshot() []domain.OriginHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.OriginHealth, 0, len(s.order))
	for _, name := range s.order {
		st := s.states[name]
		st.mu.Lock()
		out = append(out, copyHealth(st.health))
		st.mu.Unlock()
	}
	return out
}

// NextRetry returns the earliest retry time among the named blocked origins.
func (s *Scheduler) NextRetry(origins ...string) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, name := range origins {
		h := s.Health(name)
		if !h.IsBlocked || h.RetryAfter == nil {
			continue
		}
		if !found || h.RetryAfter.Before(earliest) {
			earliest = *h.RetryAfter
			found = true
		}
	}
	return earliest, found
}

func (s *Scheduler) PaceRequest(ctx context.Context) error {
	return s.sleep(ctx, s.policy.RequestDelay.Pick())
}

func (s *Scheduler) PaceSwitch(ctx context.Context) error {
	return s.sleep(ctx, s.policy.SwitchDelay.Pick())
}

func (s *Scheduler) PaceFailure(ctx context.Context) error {
	return s.sleep(ctx, s.policy.FailureDelay.Pick())
}

// Sleep waits using the configured sleeper.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}

func copyHealth(h domain.OriginHealth) domain.OriginHealth {
	out := h
	if h.RetryAfter != nil {
		t := *h.RetryAfter
		out.RetryAfter = &t
	}
	if h.LastSuccess != nil {
		t := *h.LastSuccess
		out.LastSuccess = &t
	}
	if h.LastFailure != nil {
		t := *h.LastFailure
		out.LastFailure = &t
	}
	return out
}

// Restore seeds health from a previous process. Blocks whose retry time has already
// passed are dropped; origins not known to the scheduler are ignored.
func (s *Scheduler) Restore(health []domain.OriginHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, h := range health {
		st, ok := s.states[h.Origin]
		if !ok {
			continue
		}

		st.mu.Lock()
		wasBlocked := st.blocked
		st.health = copyHealth(h)
		st.blocked = h.IsBlocked && h.RetryAfter != nil && now.Before(*h.RetryAfter)
		if !st.blocked {
			st.health.IsBlocked = false
			st.health.RetryAfter = nil
		}
		switch {
		case st.blocked && !wasBlocked:
			metrics.OriginsBlocked.Inc()
		case !st.blocked && wasBlocked:
			metrics.OriginsBlocked.Dec()
		}
		st.mu.Unlock()
	}
}
