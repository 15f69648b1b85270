// Package resilience provides the admission and failure-isolation
// primitives that sit in front of a rate-limited exchange API.
//
// This package includes:
//   - TokenBucket: bursts up to capacity, sustained refill rate, a reserve
//     kept for CRITICAL calls, and a throttle multiplier that shrinks on
//     upstream throttling and recovers on fast responses
//   - CircuitBreaker: fails fast with CIRCUIT_OPEN once consecutive failures
//     reach an adaptive threshold, opens at once on a rate limit, and probes
//     for recovery after an exponentially growing window
//   - RetryConfig: exponential backoff with jitter for transient failures
//
// The bucket decides "slow down"; the breaker decides "stop calling":
//
//	bucket := resilience.NewTokenBucket(resilience.DefaultTokenBucketConfig("binance"))
//	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("binance"))
//
//	if err := bucket.WaitForTokens(ctx, 1, task.PriorityHigh, 5*time.Second); err != nil {
//	    return err
//	}
//	start := time.Now()
//	result, err := breaker.Execute(ctx, exec)
//	bucket.AdaptiveAdjustment(errors.HasCode(err, errors.ErrCodeRateLimit), time.Since(start))
package resilience
