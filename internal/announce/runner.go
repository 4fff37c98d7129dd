package announce

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"agendabot/internal/eventbus"
	"agendabot/internal/schedule"
	"agendabot/internal/storage"
	logx "agendabot/pkg/logx"
)

// Source supplies the servers of one tick.
type Source interface {
	Snapshot() map[int64]*schedule.Server
}

// Summary describes one tick.
type Summary struct {
	BatchID string
	At      time.Time
	Due     int
	Sent    int
	Failed  int
}

type RunnerConfig struct {
	Source     Source
	Dispatcher *Dispatcher
	Clock      clock.Clock
	Store      storage.Store // optional
	Bus        eventbus.Bus  // optional
	Log        logx.Logger
}

// Runner turns a tick into deliveries: one snapshot, one Due pass, one
// Deliver pass, and a journal entry per attempt.
type Runner struct {
	src   Source
	disp  *Dispatcher
	clk   clock.Clock
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		src:   cfg.Source,
		disp:  cfg.Dispatcher,
		clk:   cfg.Clock,
		store: cfg.Store,
		bus:   cfg.Bus,
		log:   cfg.Log,
	}
	if r.clk == nil {
		r.clk = clock.New()
	}
	if r.bus == nil {
		r.bus = eventbus.Nop()
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Tick announces everything due at the current minute. The returned error
// joins the per-chat delivery failures; journal failures are only logged.
func (r *Runner) Tick(ctx context.Context) (Summary, error) {
	now := r.clk.Now().UTC()
	sum := Summary{BatchID: uuid.NewString(), At: now.Truncate(time.Minute)}

	due := Due(r.src.Snapshot(), now)
	sum.Due = len(due)
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeAnnouncementTick, Data: sum})
	if len(due) == 0 {
		return sum, nil
	}
	r.log.Info("Announcement count", logx.Int("count", len(due)), logx.String("batch", sum.BatchID))

	results, err := r.disp.Deliver(ctx, due)
	for _, res := range results {
		if res.OK() {
			sum.Sent++
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeAnnouncementSent, Data: res.Announcement})
		} else {
			sum.Failed++
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeAnnouncementFailed, Data: res})
		}
		r.journal(ctx, sum.BatchID, res)
	}

	if err != nil {
		r.log.Warn("announcement batch had failures",
			logx.String("batch", sum.BatchID),
			logx.Int("sent", sum.Sent),
			logx.Int("failed", sum.Failed),
		)
	}
	return sum, err
}

func (r *Runner) journal(ctx context.Context, batch string, res Result) {
	if r.store == nil {
		return
	}
	d := storage.Delivery{
		At:        r.clk.Now().UTC(),
		BatchID:   batch,
		ServerID:  res.ServerID,
		ChannelID: res.ChannelID,
		Name:      res.Name,
		OK:        res.OK(),
		TookMS:    res.Took.Milliseconds(),
	}
	if res.Err != nil {
		d.Error = res.Err.Error()
	}
	// Record even when the tick's context is already done.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := r.store.AppendDelivery(ctx, d); err != nil && !errors.Is(err, storage.ErrDisabled) {
		r.log.Warn("delivery journal write failed", logx.Err(err))
	}
}
