// Package admission guards a shared resource whose capacity is not known in
// advance, such as accelerator memory behind a local inference server.
//
// The core types are:
//
//   - [Controller]: owns the concurrency ceiling and the permit pool, and
//     shrinks the ceiling when the resource reports exhaustion
//   - [Executor]: runs an operation under one permit, and on exhaustion
//     frees caches, shrinks the ceiling, cools down and retries
//
// The ceiling only ever moves down. A run that starts at 8 permits with a step
// of 2 and a floor of 2 degrades 8 -> 6 -> 4 -> 2 across three exhaustion
// events; further events at the floor log an alert and retry at 2.
//
// # Usage
//
//	ctrl := admission.NewController(8,
//	    admission.WithMinCapacity(2),
//	    admission.WithStepSize(2),
//	    admission.WithCoolDown(5*time.Second),
//	)
//	exec := admission.NewExecutor(ctrl)
//
//	scores, err := admission.Do(ctx, exec, func(ctx context.Context) ([]float64, error) {
//	    return reranker.Score(ctx, query, docs)
//	})
//
// Operations signal exhaustion by returning an error wrapping
// [errors.ErrResourceExhausted]. By default the executor retries such
// operations without limit, so a floor that is still too large for the
// resource loops with cool-down pauses; [WithMaxExhaustionRetries] caps it.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package admission
