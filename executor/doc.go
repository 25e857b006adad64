// Package executor runs a provider stream under a retry and timeout policy.
//
// Each attempt gets its own hard and idle timeout, merged with the caller's
// cancellation signal. The idle timer slides on every text fragment. A failed
// attempt is retried only while nothing has been streamed yet, the failure is
// not an abort or timeout, and the provider did not mark it as permanent.
// Output is therefore never duplicated: once the first fragment reached the
// consumer, the stream either completes or fails.
//
// Example usage:
//
//	exec := executor.New(executor.WithLimits(provider.Limits{
//	    IdleTimeout: 20 * time.Second,
//	    HardTimeout: 30 * time.Second,
//	    MaxRetries:  1,
//	    RetryDelay:  250 * time.Millisecond,
//	}))
//
//	stream := exec.Stream(ctx, adapter, req)
//	defer stream.Close()
package executor
