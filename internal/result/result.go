// Package result provides a two-variant outcome container used to carry
// success values or failures through batch operations without aborting
// on the first error.
package result

import "errors"

// Result holds either a success value or an error, never both.
// Immutable once constructed; the zero value is a success holding the
// zero value of T.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a success value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps a failure. A nil error is treated as success.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the result holds a success value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the result holds an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Value returns the success value, or the zero value of T on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the held error, nil on success.
func (r Result[T]) Err() error { return r.err }

// Unpack converts the result to the conventional (value, error) pair.
func (r Result[T]) Unpack() (T, error) { return r.value, r.err }

// Map applies f to the success value, passing failures through untouched.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(f(r.value))
}

// Combine aggregates a batch of results. If every result succeeded it
// returns the values in their original order. Otherwise it returns one
// failure joining every individual error, so batch validation reports
// all problems at once instead of stopping at the first.
func Combine[T any](results []Result[T]) Result[[]T] {
	var errs []error
	values := make([]T, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		values = append(values, r.value)
	}
	if len(errs) > 0 {
		return Err[[]T](errors.Join(errs...))
	}
	return Ok(values)
}
