// Package exceptions provides helper functions to leverage Go's `panic`, `recover` and `defer`
// as an "exceptions" system for reporting contract violations (programmer errors) rather than
// caller-recoverable failures, which are returned as `error` values instead.
package exceptions

import "github.com/pkg/errors"

// Catch calls `handler` if an exception occurs of the given type.
//
// This should be called on a deferred statement. Multiple deferred Catch statements
// are allowed, for different types of exceptions.
func Catch[E any](handler func(exception E)) {
	exception := recover()
	if exception == nil {
		return
	}
	exceptionE, ok := exception.(E)
	if !ok {
		panic(exception) // Re-throw.
	}
	handler(exceptionE)
}

// Try calls fn and returns any exception (`panic`) that may have occurred.
// If no panic happened, it returns nil.
func Try(fn func()) (exception any) {
	defer func() {
		exception = recover()
	}()
	fn()
	return
}

// TryFor calls fn and recovers from any exception (panic) of type E. If no such exception
// happened it returns the zero value for E and re-panics anything else.
func TryFor[E any](fn func()) (exception E) {
	defer Catch(func(e E) { exception = e })
	fn()
	return
}

// Throw is an alias to `panic`, for readers who prefer exception jargon.
func Throw(exception any) {
	panic(exception)
}

// Panicf panics with a formatted error, wrapped with github.com/pkg/errors so a stack trace is
// attached. Used throughout this module for contract violations -- e.g. an Interval constructed
// with a negative bound, or a subinterval index out of range -- conditions the caller's inputs
// should never produce if it respects the API contract.
func Panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}
