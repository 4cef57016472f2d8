package upstream

import "fmt"

// HTTPError is a non-2xx response from an upstream.
type HTTPError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// HTTPStatus returns the status code and raw body.
func (e *HTTPError) HTTPStatus() (int, string) {
	return e.StatusCode, e.Body
}

// DecodeError is a 2xx response whose body did not have the expected shape.
type DecodeError struct {
	Upstream string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s response: %v", e.Upstream, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeFailure describes what did not decode.
func (e *DecodeError) DecodeFailure() string {
	return e.Err.Error()
}

// APIError is a 2xx Etherscan response whose status field reports failure.
type APIError struct {
	Status  string
	Message string
	Result  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("etherscan rejected request: %s: %s", e.Message, e.Result)
}
