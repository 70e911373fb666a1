package umicp

// Result is a value-or-error container for the public fallible
// operations named in spec §7. It never panics; callers unwrap it
// explicitly, the way the rest of this module's error handling works.
type Result[T any] struct {
	value T
	err   *Error
}

// Ok builds a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err builds a failed Result carrying the given error kind and message.
func Err[T any](kind ErrorKind, message string) Result[T] {
	return Result[T]{err: NewError(kind, message)}
}

// ErrFrom wraps an existing *Error into a failed Result.
func ErrFrom[T any](err *Error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the Result carries a value rather than an error.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Unwrap returns the value and a plain error, suitable for idiomatic
// `if err != nil` handling at call sites that don't need the Result
// machinery.
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		return r.value, r.err
	}
	return r.value, nil
}

// Value returns the carried value, ignoring any error. Callers that have
// already checked IsOk use this to avoid a second nil check.
func (r Result[T]) Value() T { return r.value }

// ErrorKind returns the carried error's kind, or ErrSuccess if the
// Result is Ok.
func (r Result[T]) ErrorKind() ErrorKind {
	if r.err == nil {
		return ErrSuccess
	}
	return r.err.Kind
}
