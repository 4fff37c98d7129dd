package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"agendabot/internal/announce"
	logx "agendabot/pkg/logx"
)

// announcer fires announcement ticks on a cron schedule. Reminder times are
// UTC, so the cron runs in UTC too. Both the schedule and the runner can be
// swapped while running.
type announcer struct {
	mu   sync.Mutex
	c    *cron.Cron
	expr string

	runner atomic.Pointer[announce.Runner]
	log    logx.Logger
}

func newAnnouncer(log logx.Logger) *announcer {
	return &announcer{log: log}
}

func (a *announcer) SetRunner(r *announce.Runner) { a.runner.Store(r) }

// Start installs expr. Calling it again with a different expr replaces the
// running cron; the same expr is a no-op.
func (a *announcer) Start(ctx context.Context, expr string) error {
	expr = strings.TrimSpace(expr)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c != nil && expr == a.expr {
		return nil
	}

	cl := cronLogger{a.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(expr, func() { a.tick(ctx) }); err != nil {
		return fmt.Errorf("announcements.schedule: %w", err)
	}

	if a.c != nil {
		<-a.c.Stop().Done()
	}
	a.c, a.expr = c, expr
	c.Start()
	a.log.Info("announcement schedule started", logx.String("schedule", expr))
	return nil
}

func (a *announcer) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r := a.runner.Load()
	if r == nil {
		return
	}
	sum, _ := r.Tick(ctx)
	if sum.Due > 0 {
		a.log.Debug("announcement tick",
			logx.String("batch", sum.BatchID),
			logx.Int("due", sum.Due),
			logx.Int("sent", sum.Sent),
			logx.Int("failed", sum.Failed),
		)
	}
}

// Stop waits for a running tick to finish, or for ctx.
func (a *announcer) Stop(ctx context.Context) {
	a.mu.Lock()
	c := a.c
	a.c = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		a.log.Warn("announcement tick still running at shutdown", logx.Err(ctx.Err()))
	}
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
