// Package outcome models the result of a remote read as one of three states:
// still loading, succeeded with a value, or failed with a user-facing message.
//
// Every stream produced by the token service carries Outcome values, and the
// orchestrator stores one Outcome per token balance.
package outcome

import (
	"errors"
	"fmt"
)

// ErrStillLoading is the panic value raised by Unwrap on a Loading outcome.
var ErrStillLoading = errors.New("data is still loading")

type state uint8

const (
	stateLoading state = iota
	stateSuccess
	stateError
)

// ErrorInfo describes a failed outcome.
type ErrorInfo struct {
	// Message is human readable and safe to show to end users.
	Message string
	// Code is the upstream HTTP status code, when there was one.
	Code *int
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ErrorInfo) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ErrorInfo) Unwrap() error {
	return e.Cause
}

// Outcome is a tri-state result. The zero value is Loading.
type Outcome[T any] struct {
	state state
	value T
	err   *ErrorInfo
}

// Loading returns an outcome that has no value yet.
func Loading[T any]() Outcome[T] {
	return Outcome[T]{state: stateLoading}
}

// Success wraps a value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{state: stateSuccess, value: v}
}

// Failure builds an error outcome. code and cause may be nil.
func Failure[T any](message string, code *int, cause error) Outcome[T] {
	return Outcome[T]{state: stateError, err: &ErrorInfo{Message: message, Code: code, Cause: cause}}
}

func fromInfo[T any](info *ErrorInfo) Outcome[T] {
	return Outcome[T]{state: stateError, err: info}
}

// IsLoading reports whether the outcome is still loading.
func (o Outcome[T]) IsLoading() bool { return o.state == stateLoading }

// IsSuccess reports whether the outcome carries a value.
func (o Outcome[T]) IsSuccess() bool { return o.state == stateSuccess }

// IsError reports whether the outcome failed.
func (o Outcome[T]) IsError() bool { return o.state == stateError }

// Err returns the failure details, or nil unless the outcome is an error.
func (o Outcome[T]) Err() *ErrorInfo {
	if o.state != stateError {
		return nil
	}
	return o.err
}

// Get returns the value and true for a success, or the zero value and false.
func (o Outcome[T]) Get() (T, bool) {
	if o.state != stateSuccess {
		var zero T
		return zero, false
	}
	return o.value, true
}

// GetOrDefault returns the value of a success, else def.
func (o Outcome[T]) GetOrDefault(def T) T {
	if o.state != stateSuccess {
		return def
	}
	return o.value
}

// Unwrap returns the value of a success. An error outcome yields its cause,
// or an error built from its message when there is no cause.
// Unwrap panics with ErrStillLoading on a loading outcome.
func (o Outcome[T]) Unwrap() (T, error) {
	var zero T
	switch o.state {
	case stateSuccess:
		return o.value, nil
	case stateError:
		if o.err.Cause != nil {
			return zero, o.err.Cause
		}
		return zero, errors.New(o.err.Message)
	default:
		panic(ErrStillLoading)
	}
}

// OnSuccess runs fn with the value when the outcome is a success.
func (o Outcome[T]) OnSuccess(fn func(T)) Outcome[T] {
	if o.state == stateSuccess {
		fn(o.value)
	}
	return o
}

// OnError runs fn when the outcome is an error.
func (o Outcome[T]) OnError(fn func(*ErrorInfo)) Outcome[T] {
	if o.state == stateError {
		fn(o.err)
	}
	return o
}

// OnLoading runs fn when the outcome is loading.
func (o Outcome[T]) OnLoading(fn func()) Outcome[T] {
	if o.state == stateLoading {
		fn()
	}
	return o
}

// State returns "loading", "success" or "error".
func (o Outcome[T]) State() string {
	switch o.state {
	case stateSuccess:
		return "success"
	case stateError:
		return "error"
	default:
		return "loading"
	}
}

func (o Outcome[T]) String() string {
	switch o.state {
	case stateSuccess:
		return fmt.Sprintf("Success(%v)", o.value)
	case stateError:
		if o.err.Code != nil {
			return fmt.Sprintf("Error(%d: %s)", *o.err.Code, o.err.Message)
		}
		return fmt.Sprintf("Error(%s)", o.err.Message)
	default:
		return "Loading"
	}
}

// Map transforms the value of a success. Loading and error outcomes pass
// through unchanged. If fn returns an error or panics, the result is an
// error outcome carrying that failure as its cause.
func Map[T, R any](o Outcome[T], fn func(T) (R, error)) (result Outcome[R]) {
	switch o.state {
	case stateLoading:
		return Loading[R]()
	case stateError:
		return fromInfo[R](o.err)
	}

	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			result = Failure[R](transformMessage(err), nil, err)
		}
	}()

	v, err := fn(o.value)
	if err != nil {
		return Failure[R](transformMessage(err), nil, err)
	}
	return Success(v)
}

func transformMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "failed to transform data"
}

// Last drains ch and returns the final outcome received, or Loading if ch
// closed without emitting anything.
func Last[T any](ch <-chan Outcome[T]) Outcome[T] {
	last := Loading[T]()
	for o := range ch {
		last = o
	}
	return last
}
