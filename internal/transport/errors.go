package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers network failures, non-2xx responses and malformed envelopes.
	ErrTransport = errors.New("transport error")
	// ErrDecoding is returned when a 2xx response body cannot be decoded.
	ErrDecoding = errors.New("decoding error")
	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// RequestError describes a failed backend call.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body for non-2xx responses
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsDecoding reports whether err came from decoding a successful response.
func IsDecoding(err error) bool {
	return errors.Is(err, ErrDecoding)
}
