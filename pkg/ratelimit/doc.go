// Package ratelimit paces requests to the reader.
//
// The reader throttles clients that request pages too quickly, so page
// fetches are spaced by a fixed delay. FixedDelay lets the first request of
// a run through immediately and delays every later one; the wait is
// abandoned as soon as the context is cancelled.
//
//	limiter := ratelimit.NewFixedDelay(cfg.Download.RequestDelay)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
