// Package retry re-runs failing operations with exponential backoff and jitter.
//
// Each call is stateless: a Policy describes how many retries are allowed, how
// long to wait between them and which errors are worth retrying. Failures the
// classifier considers terminal stop the loop after a single attempt.
//
// Usage:
//
//	res := retry.Execute(ctx, fetch,
//	    retry.WithMaxRetries(3),
//	    retry.WithBaseDelay(100*time.Millisecond),
//	)
//	if !res.Success {
//	    return res.Err
//	}
//
// Do is the same loop returning (value, error), and Wrap turns a
// single-argument function into a retrying function with the same signature.
package retry
