package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches any *Error caused by a 401 response.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound matches any *Error caused by a 404 response.
	ErrNotFound = errors.New("not found")
	// ErrNoSessionCookie is returned when a login or signup succeeds
	// without the API setting its session cookie.
	ErrNoSessionCookie = errors.New("response carried no session cookie")
)

// Error describes a failed API call. Message is suitable for display.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Message returns the display message of an API error, or fallback when
// err is not one.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
