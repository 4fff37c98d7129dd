package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "agendabot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware decorates a command handler.
type Middleware func(next HandlerFunc) HandlerFunc

const slowCommand = 750 * time.Millisecond

// wrap applies mws so that the first one is outermost.
func wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for _, mw := range slices.Backward(mws) {
		h = mw(h)
	}
	return h
}

// recoverPanics turns a handler panic into an error so one bad command
// cannot take down a dispatcher worker.
func recoverPanics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			req.Log.Error("command panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("command %s panicked: %v", req.Command, r)
		}()
		return next(ctx, req)
	}
}

// logOutcome logs every command once it finishes. Fast successes stay at
// debug level.
func logOutcome(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)

		fields := []logx.Field{
			logx.String("cmd", req.Command),
			logx.Strings("args", req.Args),
			logx.Duration("took", took),
		}
		if req.Server != nil {
			fields = append(fields, logx.String("server", req.Server.Name()))
		}
		switch {
		case err != nil:
			req.Log.Warn("command failed", append(fields, logx.Err(err))...)
		case took >= slowCommand:
			req.Log.Info("slow command", fields...)
		default:
			req.Log.Debug("command done", fields...)
		}
		return err
	}
}

// deadline bounds the handler's context. d <= 0 leaves it unbounded.
func deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
