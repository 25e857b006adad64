package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/hoot/cancel"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/provider"
	"github.com/fogfish/opts"
)

const (
	DefaultMaxRetries = 1
	DefaultRetryDelay = 250 * time.Millisecond
)

// DefaultLimits returns the limits used when neither the executor nor the
// request configure any.
func DefaultLimits() provider.Limits {
	return provider.Limits{
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Executor drives provider adapters with retries and timeouts.
type Executor struct {
	limits provider.Limits
	logger *slog.Logger
}

var (
	// WithLimits replaces the default limits.
	WithLimits = opts.ForName[Executor, provider.Limits]("limits")
	// WithLogger sets the logger used for retry diagnostics.
	WithLogger = opts.ForName[Executor, *slog.Logger]("logger")
)

// New creates an executor.
func New(options ...opts.Option[Executor]) *Executor {
	e := Executor{limits: DefaultLimits()}
	if err := opts.Apply(&e, options); err != nil {
		panic(fmt.Sprintf("executor: invalid options: %v", err))
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slogx.LoggerName("executor"))
	return &e
}

func (e *Executor) limitsFor(req provider.Request) provider.Limits {
	limits := e.limits
	if req.Limits != nil {
		limits = *req.Limits
	}
	if limits.MaxRetries < 0 {
		limits.MaxRetries = 0
	}
	return limits
}

// Stream runs req against adapter and returns the resulting event stream.
func (e *Executor) Stream(ctx context.Context, adapter provider.Adapter, req provider.Request) *provider.Stream {
	limits := e.limitsFor(req)
	external := cancel.OrNever(req.Signal)

	return provider.NewStream(ctx, func(ctx context.Context, yield provider.Yield) error {
		for attempt := 0; ; attempt++ {
			streamed, err := e.attempt(ctx, adapter, req, external, limits, yield)
			if err == nil {
				return nil
			}
			if !e.shouldRetry(err, streamed, attempt, limits) {
				return err
			}

			e.logger.Debug("retrying stream",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", limits.MaxRetries),
				slog.Duration("delay", limits.RetryDelay),
				slogx.SessionID(req.SessionID),
				slogx.Error(err),
			)
			if err := e.sleep(ctx, limits.RetryDelay, external); err != nil {
				return err
			}
		}
	})
}

// sleep waits out the retry delay unless the caller's signal aborts or the
// consumer goes away.
func (e *Executor) sleep(ctx context.Context, d time.Duration, external cancel.Signal) error {
	consumer, stop := cancel.FromContext(ctx)
	defer stop()
	sig, release := cancel.Merge(external, consumer)
	defer release()
	return cancel.Sleep(d, sig)
}

func (e *Executor) shouldRetry(err error, streamed bool, attempt int, limits provider.Limits) bool {
	if cancel.IsAbort(err) || cancel.IsTimeout(err) || errors.Is(err, provider.ErrStreamClosed) {
		return false
	}
	// the consumer went away; an adapter reports that as context.Canceled
	if errors.Is(err, context.Canceled) {
		return false
	}
	if pe, ok := provider.AsError(err); ok && !pe.Retryable {
		return false
	}
	if streamed {
		return false
	}
	return attempt < limits.MaxRetries
}

func (e *Executor) attempt(ctx context.Context, adapter provider.Adapter, req provider.Request, external cancel.Signal, limits provider.Limits, yield provider.Yield) (streamed bool, err error) {
	hard := cancel.NewTimeout(cancel.Hard, limits.HardTimeout)
	idle := cancel.NewTimeout(cancel.Idle, limits.IdleTimeout)
	defer func() {
		hard.Dispose()
		idle.Dispose()
		hard.Cancel(cancel.ErrDisposed)
		idle.Cancel(cancel.ErrDisposed)
	}()

	sig, release := cancel.Merge(external, hard.Signal(), idle.Signal())
	defer release()

	if err := cancel.Check(sig); err != nil {
		return false, err
	}

	attemptReq := req.Clone()
	attemptReq.Signal = sig

	s := adapter.Stream(ctx, attemptReq)
	defer s.Close()

	for s.Next() {
		ev := s.Current()
		if _, ok := ev.(provider.TextDelta); ok {
			idle.Reset()
			streamed = true
		}
		if err := yield(ev); err != nil {
			return streamed, err
		}
	}
	if err := s.Err(); err != nil {
		if cerr := cancel.Check(sig); cerr != nil {
			return streamed, cerr
		}
		return streamed, err
	}
	return streamed, nil
}
