// Package retry wraps a failing operation with bounded attempts and
// exponential backoff. Silent sessions retry in the background and only
// surface the final exhaustion; manual runs are single user-triggered
// attempts that never chain into the silent loop.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"app-swap-go/internal/pkg/logger"
)

// Mode distinguishes background retrying from user-triggered attempts.
type Mode int

const (
	Silent Mode = iota
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "silent"
}

// Status is the session state machine value.
type Status int

const (
	Idle Status = iota
	Pending
	Retrying
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// maximum random jitter added to each computed delay
const jitterRange = time.Second

// Config tunes a session.
type Config struct {
	MaxAttempts int           // additional attempts after the first
	BaseDelay   time.Duration // backoff base
	MaxDelay    time.Duration // backoff cap, jitter included
}

// DefaultConfig returns the standard retry tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Operation is the retried unit of work. It must honor ctx cancellation.
type Operation func(ctx context.Context) error

// Notify observes session state transitions.
type Notify func(status Status, attempt int, err error)

// Session orchestrates attempts of one logical operation. All methods are
// safe for concurrent use.
type Session struct {
	cfg Config
	lc  logger.LoggingClient

	mu        sync.Mutex
	status    Status
	mode      Mode
	attempt   int
	lastErr   error
	gen       int // invalidates results of superseded or cancelled runs
	cancelRun context.CancelFunc
	notify    Notify
}

// NewSession creates an idle session.
func NewSession(cfg Config, lc logger.LoggingClient) *Session {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Session{cfg: cfg, lc: lc}
}

// OnTransition installs a state-change observer. Must be set before Start.
func (s *Session) OnTransition(n Notify) {
	s.mu.Lock()
	s.notify = n
	s.mu.Unlock()
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Attempt returns the 0-based attempt counter.
func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// LastError returns the error of the most recent failed attempt.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start launches the silent retry loop for op. A prior run, if any, is
// superseded: its in-flight result will be dropped.
func (s *Session) Start(ctx context.Context, op Operation) {
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.gen++
	gen := s.gen
	s.mode = Silent
	s.attempt = 0
	s.lastErr = nil
	s.status = Pending
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	notify := s.notify
	s.mu.Unlock()

	s.emit(notify, Pending, 0, nil)
	go s.loop(runCtx, gen, op)
}

func (s *Session) loop(ctx context.Context, gen int, op Operation) {
	for {
		err := op(ctx)

		s.mu.Lock()
		if gen != s.gen || ctx.Err() != nil {
			// superseded or cancelled; do not apply the result
			s.mu.Unlock()
			return
		}
		notify := s.notify
		if err == nil {
			s.status = Succeeded
			s.lastErr = nil
			s.mu.Unlock()
			s.emit(notify, Succeeded, 0, nil)
			return
		}
		s.lastErr = err
		if s.attempt >= s.cfg.MaxAttempts {
			s.status = Failed
			attempt := s.attempt
			s.mu.Unlock()
			s.lc.Warnf("Giving up after %d attempts: %s", attempt+1, err.Error())
			s.emit(notify, Failed, attempt, err)
			return
		}
		delay := Delay(s.cfg, s.attempt)
		s.attempt++
		attempt := s.attempt
		s.status = Retrying
		s.mu.Unlock()

		s.lc.Debugf("Attempt %d failed (%s), retrying in %s", attempt, err.Error(), delay)
		s.emit(notify, Retrying, attempt, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.status = Pending
		notify = s.notify
		s.mu.Unlock()
		s.emit(notify, Pending, attempt, nil)
	}
}

// RunManual executes one user-triggered attempt, forcing the session back to
// Pending and resetting the attempt counter. Any scheduled silent retry is
// superseded. The outcome is returned directly for immediate feedback.
func (s *Session) RunManual(ctx context.Context, op Operation) error {
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.gen++
	gen := s.gen
	s.mode = Manual
	s.attempt = 0
	s.lastErr = nil
	s.status = Pending
	notify := s.notify
	s.mu.Unlock()

	s.emit(notify, Pending, 0, nil)
	err := op(ctx)

	s.mu.Lock()
	if gen != s.gen {
		// session was reset while the attempt was in flight
		s.mu.Unlock()
		return err
	}
	if err == nil {
		s.status = Succeeded
	} else {
		s.status = Failed
		s.lastErr = err
	}
	notify = s.notify
	s.mu.Unlock()

	s.emit(notify, s.Status(), 0, err)
	return err
}

// Cancel stops any scheduled retry, drops in-flight results, and returns the
// session to Idle. Cancellation propagates to the operation's context.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.gen++
	s.status = Idle
	s.attempt = 0
	s.mu.Unlock()
}

func (s *Session) emit(n Notify, status Status, attempt int, err error) {
	if n != nil {
		n(status, attempt, err)
	}
}

// Delay computes the backoff before retry number attempt (0-based):
// min(base×2^attempt + jitter, max). The un-jittered component never
// decreases with attempt.
func Delay(cfg Config, attempt int) time.Duration {
	d := baseComponent(cfg, attempt)
	d += time.Duration(rand.Int63n(int64(jitterRange)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

func baseComponent(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	return d
}
