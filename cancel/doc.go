// Package cancel implements cooperative cancellation for streaming calls.
//
// A Controller owns exactly one Signal. Cancelling the controller is
// idempotent and irreversible: the first reason wins, every subscriber is
// notified once and the subscriber set is cleared afterwards. Consumers only
// ever see the read-only Signal and check it at their own checkpoints.
//
// Timeouts are cancellations with a sentinel reason. A Timeout is a
// controller with a timer attached; Reset re-arms the timer which turns it
// into an idle (sliding) deadline, while a timer that is never reset acts
// as a hard deadline.
//
// Key concepts:
//   - Signal: read-only view (Aborted, Reason, Done, Subscribe)
//   - Merge: a signal that aborts when any of its inputs abort
//   - Check: turns an aborted signal into an *AbortError or *TimeoutError
//   - Sleep: a delay that returns early when the signal aborts
//   - Context: bridges a signal into a context.Context for transports
//
// Example usage:
//
//	ctrl := cancel.NewController()
//	hard := cancel.NewTimeout(cancel.Hard, 30*time.Second)
//	defer hard.Dispose()
//
//	sig, release := cancel.Merge(ctrl.Signal(), hard.Signal())
//	defer release()
//
//	for _, token := range tokens {
//	    if err := cancel.Check(sig); err != nil {
//	        return err
//	    }
//	    emit(token)
//	}
package cancel
