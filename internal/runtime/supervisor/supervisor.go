// Package supervisor runs the app's long-lived goroutines under one
// cancellable context, recovering panics and restarting tasks that ask for
// it.
package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	logx "agendabot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	firstErr atomic.Pointer[error]

	wg       sync.WaitGroup
	waitOnce sync.Once
	idle     chan struct{}

	mu    sync.Mutex
	tasks map[string]*Stats
}

// Stats describes one task name. Several goroutines may share a name.
type Stats struct {
	Name     string    `json:"name"`
	Active   int       `json:"active"`
	Starts   int       `json:"starts"`
	Restarts int       `json:"restarts"`
	Panics   int       `json:"panics"`
	LastErr  string    `json:"last_err,omitempty"`
	LastStop time.Time `json:"last_stop"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first task failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
		tasks:  make(map[string]*Stats),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first task failure, nil if none.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Snapshot returns a copy of every task's stats ordered by name.
func (s *Supervisor) Snapshot() []Stats {
	s.mu.Lock()
	out := make([]Stats, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, *st)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Stats) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (s *Supervisor) update(name string, fn func(st *Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[name]
	if !ok {
		st = &Stats{Name: name}
		s.tasks[name] = st
	}
	fn(st)
}

// restartPolicy is the zero value for run-once tasks.
type restartPolicy struct {
	enabled      bool
	minBackoff   time.Duration
	maxBackoff   time.Duration
	maxRestarts  int // <= 0 is unlimited
	restartClean bool
}

type RestartOption func(*restartPolicy)

// WithRestartBackoff bounds the exponential wait between restarts.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if lo > 0 {
			p.minBackoff = lo
		}
		if hi > 0 {
			p.maxBackoff = hi
		}
	}
}

// WithMaxRestarts gives up after n restarts; the first run is not one.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithStopOnCleanExit(false) restarts the task even when it returns nil.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.restartClean = !enabled }
}

// Go runs fn once. A non-nil error other than context.Canceled counts as a
// failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.spawn(name, fn, restartPolicy{})
}

// Go0 runs fn once; it cannot fail except by panicking.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.spawn(name, func(ctx context.Context) error { fn(ctx); return nil }, restartPolicy{})
}

// GoRestart runs fn and restarts it after a failure or panic until the
// context is done. Only giving up after WithMaxRestarts counts as a
// failure of the supervisor.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	p := restartPolicy{enabled: true, minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, opt := range opts {
		opt(&p)
	}
	p.maxBackoff = max(p.maxBackoff, p.minBackoff)
	s.spawn(name, fn, p)
}

func (s *Supervisor) spawn(name string, fn func(ctx context.Context) error, p restartPolicy) {
	if fn == nil {
		return
	}
	// registered up front so a task that never gets to run still shows up
	s.update(name, func(*Stats) {})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(name, fn, p)
	}()
}

func (s *Supervisor) loop(name string, fn func(ctx context.Context) error, p restartPolicy) {
	log := s.log.With(logx.String("task", name))
	wait := p.minBackoff

	for attempt := 0; s.ctx.Err() == nil; attempt++ {
		s.update(name, func(st *Stats) {
			st.Active++
			st.Starts++
			if attempt > 0 {
				st.Restarts++
			}
		})
		log.Debug("task started", logx.Int("attempt", attempt))
		began := time.Now()

		err, panicked := s.call(log, name, fn)
		stopping := s.ctx.Err() != nil || errors.Is(err, context.Canceled)
		if stopping {
			err = nil
		} else if err == nil && p.enabled && p.restartClean {
			err = errors.New("exited")
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		s.update(name, func(st *Stats) {
			st.Active = max(st.Active-1, 0)
			st.LastStop = time.Now()
			if err != nil {
				st.LastErr = err.Error()
			}
			if panicked {
				st.Panics++
			}
		})

		switch {
		case err == nil:
			log.Debug("task stopped")
			return
		case !p.enabled:
			s.fail(err)
			return
		case p.maxRestarts > 0 && attempt >= p.maxRestarts:
			log.Error("task gave up", logx.Int("restarts", attempt), logx.Err(err))
			s.fail(err)
			return
		}

		// a run that stayed up a while starts the backoff over
		if time.Since(began) >= 30*time.Second {
			wait = p.minBackoff
		}
		d := jitter(wait)
		log.Warn("task restarting", logx.Duration("backoff", d), logx.Err(err))
		t := time.NewTimer(d)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		wait = min(wait*2, p.maxBackoff)
	}
}

// call runs fn once and reports a panic as an error.
func (s *Supervisor) call(log logx.Logger, name string, fn func(ctx context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err, panicked = fmt.Errorf("panic in %s: %v", name, r), true
		}
	}()
	return fn(s.ctx), false
}

// jitter stretches d by up to a fifth.
func jitter(d time.Duration) time.Duration {
	if d < 5 {
		return d
	}
	return d + rand.N(d/5+1)
}

func (s *Supervisor) fail(err error) {
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the context and waits for every task to return.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx is done. It returns the
// first failure, if any.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}
