package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchError is a typed failure for one upstream call. It carries the
// endpoint and HTTP status so callers can decide on retry policy; the
// client itself never retries.
type FetchError struct {
	Endpoint   string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider fetch %s: status=%d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is an upstream 429.
func IsRateLimited(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusTooManyRequests
}
