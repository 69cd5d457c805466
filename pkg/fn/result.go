// Package fn holds the small functional toolkit the ingestion and embedding
// pipelines are built from: a Result type, traced stages, a cancellable
// bounded parallel map and a few slice helpers.
package fn

import "errors"

var errNilFailure = errors.New("fn: Err called with a nil error")

// Result is either a value or the error that prevented it.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a failure. A nil err is replaced so the Result still fails.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errNilFailure
	}
	return Result[T]{err: err}
}

// FromPair lifts a (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsErr reports whether the Result failed.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Error returns the failure or nil.
func (r Result[T]) Error() error { return r.err }

// Unwrap returns the pair form.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Collect flattens results in order. The first failure wins.
func Collect[T any](results []Result[T]) Result[[]T] {
	vals := make([]T, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			return Err[[]T](r.err)
		}
		vals = append(vals, r.val)
	}
	return Ok(vals)
}
