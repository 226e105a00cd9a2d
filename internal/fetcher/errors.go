package fetcher

import (
	"fmt"
	"net/http"
)

// FetchError is returned when a page could not be fetched after the retry budget
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Reason     string
	Err        error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// terminalError is an attempt failure that another attempt cannot fix
type terminalError struct {
	reason string
	err    error
}

func (e *terminalError) Error() string { return e.reason + ": " + e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether a response status is worth another attempt
func IsRetryableStatus(code int) bool {
	return retryableStatuses[code]
}
