package outcome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// NetworkFailureMessage is shown for any connectivity problem.
const NetworkFailureMessage = "Network connection failed. Please check your internet connection."

// HTTPStatusError is implemented by errors describing a non-2xx upstream response.
type HTTPStatusError interface {
	error
	HTTPStatus() (code int, body string)
}

// DecodeError is implemented by errors raised while decoding an upstream body.
type DecodeError interface {
	error
	DecodeFailure() string
}

// Call runs fn and converts its result into an Outcome. It is the single
// place where upstream failures become user-facing error messages:
//
//   - a non-2xx response gives "HTTP <code>: <body>" with Code set
//   - a connectivity failure gives NetworkFailureMessage
//   - a malformed body gives "Failed to parse server response: <detail>"
//   - anything else, including a panic in fn, gives "An unexpected error occurred: <detail>"
func Call[T any](ctx context.Context, logger *slog.Logger, fn func(context.Context) (T, error)) (result Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			info := Classify(err)
			if logger != nil {
				logger.ErrorContext(ctx, "upstream call panicked", "error", err)
			}
			result = fromInfo[T](info)
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		info := Classify(err)
		if logger != nil {
			attrs := []any{"error", err, "message", info.Message}
			if info.Code != nil {
				attrs = append(attrs, "status_code", *info.Code)
			}
			logger.ErrorContext(ctx, "upstream call failed", attrs...)
		}
		return fromInfo[T](info)
	}
	return Success(v)
}

// Classify maps an error onto the user-facing taxonomy used by Call.
func Classify(err error) *ErrorInfo {
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		code, body := statusErr.HTTPStatus()
		if strings.TrimSpace(body) == "" {
			body = http.StatusText(code)
		}
		return &ErrorInfo{
			Message: fmt.Sprintf("HTTP %d: %s", code, body),
			Code:    &code,
			Cause:   err,
		}
	}

	var decodeErr DecodeError
	if errors.As(err, &decodeErr) {
		return &ErrorInfo{
			Message: "Failed to parse server response: " + decodeErr.DecodeFailure(),
			Cause:   err,
		}
	}

	if isConnectivity(err) {
		return &ErrorInfo{Message: NetworkFailureMessage, Cause: err}
	}

	return &ErrorInfo{
		Message: "An unexpected error occurred: " + err.Error(),
		Cause:   err,
	}
}

func isConnectivity(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
