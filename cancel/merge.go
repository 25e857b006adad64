package cancel

import (
	"context"
	"time"
)

// Merge returns a signal that aborts as soon as any of the inputs abort and
// carries the first reason it observed. Inputs that are already aborted are
// checked eagerly, the others are subscribed to. The release function drops
// those subscriptions and must be called once the merged signal is no longer
// needed.
func Merge(signals ...Signal) (Signal, func()) {
	ctrl := NewController()

	for _, s := range signals {
		if s != nil && s.Aborted() {
			ctrl.Cancel(s.Reason())
			return ctrl.Signal(), func() {}
		}
	}

	unsubs := make([]func(), 0, len(signals))
	for _, s := range signals {
		if s == nil {
			continue
		}
		unsubs = append(unsubs, s.Subscribe(ctrl.Cancel))
	}

	return ctrl.Signal(), func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Sleep waits for d and returns nil, or returns the Check error as soon as s
// aborts.
func Sleep(d time.Duration, s Signal) error {
	s = OrNever(s)
	if err := Check(s); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-s.Done():
		return Check(s)
	}
}

// Context derives a context from parent that is cancelled, with the signal's
// reason as cause, when s aborts. This is the hook used to bridge a signal
// into a transport's own abort mechanism.
func Context(parent context.Context, s Signal) (context.Context, context.CancelFunc) {
	ctx, cancelCause := context.WithCancelCause(parent)
	if s == nil {
		return ctx, func() { cancelCause(context.Canceled) }
	}
	unsub := s.Subscribe(cancelCause)
	return ctx, func() {
		unsub()
		cancelCause(context.Canceled)
	}
}

// FromContext returns a signal that aborts with the context's cause when ctx
// is done. The stop function releases the watcher.
func FromContext(ctx context.Context) (Signal, func() bool) {
	ctrl := NewController()
	stop := context.AfterFunc(ctx, func() {
		ctrl.Cancel(context.Cause(ctx))
	})
	return ctrl.Signal(), stop
}
