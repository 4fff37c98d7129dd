package announce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"agendabot/internal/embed"
	"agendabot/internal/transport"
	logx "agendabot/pkg/logx"
)

// Sender is the part of the transport the dispatcher needs.
type Sender interface {
	SendPage(ctx context.Context, to transport.ChatTarget, page embed.Embed) (transport.MessageRef, error)
}

// DeliveryError records one announcement that could not be sent.
type DeliveryError struct {
	ChannelID int64
	Name      string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("announce %q to chat %d: %v", e.Name, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Result is the outcome of one send attempt.
type Result struct {
	Announcement
	Err  error
	Took time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

type DispatcherOption func(*Dispatcher)

// WithRate throttles sends to perSec per second. Zero or less disables it.
func WithRate(perSec int) DispatcherOption {
	return func(d *Dispatcher) {
		if perSec <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
}

// WithSendTimeout bounds each individual send.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.timeout = d }
}

func WithLogger(log logx.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// Deliver attempts every announcement once, in order. A failure for one chat
// does not stop the others; all failures come back joined as
// *DeliveryError values.
func (d *Dispatcher) Deliver(ctx context.Context, anns []Announcement) ([]Result, error) {
	results := make([]Result, 0, len(anns))
	var errs []error
	for _, a := range anns {
		start := time.Now()
		err := d.send(ctx, a)
		res := Result{Announcement: a, Err: err, Took: time.Since(start)}
		results = append(results, res)

		if err != nil {
			d.log.Warn("announcement failed",
				logx.Int64("chat_id", a.ChannelID),
				logx.String("name", a.Name),
				logx.Err(err),
			)
			errs = append(errs, &DeliveryError{ChannelID: a.ChannelID, Name: a.Name, Err: err})
			continue
		}
		d.log.Info("Sent announcement: "+a.Name,
			logx.Int64("chat_id", a.ChannelID),
			logx.Duration("took", res.Took),
		)
	}
	return results, errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, a Announcement) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	_, err := d.sender.SendPage(ctx, transport.ChatTarget{ChatID: a.ChannelID}, a.Page())
	return err
}
