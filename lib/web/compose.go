// Package web implements a minimal middleware-based http application: an
// ordered pipeline of handlers sharing a per-request Context, composed into a
// single handler with koa-style next() control flow. The Application drives
// the pipeline for every inbound request and finalizes the response from the
// context state when the pipeline unwinds.
package web

import "fmt"

// Next advances the pipeline to the following step. Calling it more than once
// from the same step is a bug and fails with *PipelineError.
type Next func() error

// Handler is a single middleware step. It receives the request context and a
// continuation running the rest of the pipeline.
type Handler func(ctx *Context, next Next) error

// PipelineError indicates a middleware construction or dispatch bug, i.e. a
// programming error distinct from request-level failures.
type PipelineError struct {
	Reason string
}

func (e *PipelineError) Error() string { return "pipeline: " + e.Reason }

// Compose turns an ordered list of middleware into a single Handler running
// them in registration order. Code after next() returns runs in strict
// reverse order. The result is itself a valid Handler, so composed pipelines
// nest without special-casing. Nil steps are rejected immediately as this is
// a setup-time bug, not a request-time condition.
func Compose(steps []Handler) Handler {
	for i, s := range steps {
		if s == nil {
			panic(fmt.Sprintf("web: middleware #%d is nil", i))
		}
	}
	stack := make([]Handler, len(steps)) // private copy, registration list stays caller-owned
	copy(stack, steps)

	return func(ctx *Context, next Next) error {
		index := -1
		var dispatch func(i int) error
		dispatch = func(i int) (err error) {
			if i <= index {
				return &PipelineError{Reason: "next() called multiple times"}
			}
			index = i

			// panics inside a step never escape the dispatch boundary,
			// they surface as ordinary errors to the caller
			defer func() {
				if r := recover(); r != nil {
					err = asError(r)
				}
			}()

			if i == len(stack) {
				if next == nil {
					return nil
				}
				return next()
			}
			return stack[i](ctx, func() error { return dispatch(i + 1) })
		}
		return dispatch(0)
	}
}
