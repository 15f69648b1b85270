// Package orchestrator puts every outbound exchange call behind one
// consumer loop that composes the rate limiter, circuit breaker, priority
// queue and health monitor.
//
// Callers enqueue executors (or use the REST helpers such as Get and
// AuthPost) and receive a task.Handle. One loop dequeues the highest
// priority task, waits for rate-limit tokens, runs it through the circuit
// breaker with a timeout, and either settles the handle or schedules a
// retry with exponential backoff. Rate-limit responses halve the token
// refill rate and mark the market critical; fast successes restore it.
//
// # Usage
//
//	orch, err := orchestrator.New(cfg, orchestrator.WithSigner(signer))
//	if err != nil {
//		return err
//	}
//	if err := orch.Start(ctx); err != nil {
//		return err
//	}
//	defer orch.Stop(ctx)
//
//	h := orch.AuthPost("/api/v3/order", order, orchestrator.RequestConfig{Type: "order"},
//		"place order", task.PriorityCritical)
//	resp, err := task.Await[*orchestrator.Response](ctx, h)
package orchestrator
