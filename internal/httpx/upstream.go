package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseError is returned by CheckStatus when an upstream service replies
// with a non 2xx status.
type ResponseError struct {
	Code int
	// RetryAfter is the delay requested by the upstream via the
	// Retry-After header, or zero.
	RetryAfter time.Duration
	// Body holds the first few hundred bytes of the response body.
	Body string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Delay returns the upstream's requested retry delay.
func (e *ResponseError) Delay() time.Duration {
	return e.RetryAfter
}

// CheckStatus is a requests.ResponseHandler which returns a *ResponseError
// for any non 2xx response.
func CheckStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return &ResponseError{
		Code:       res.StatusCode,
		RetryAfter: retryAfter(res.Header.Get("Retry-After"), time.Now()),
		Body:       strings.TrimSpace(string(buf)),
	}
}

// retryAfter parses a Retry-After header, which is either a number of
// seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// HasStatus reports whether err is a *ResponseError with one of the given codes.
func HasStatus(err error, codes ...int) bool {
	var re *ResponseError
	if !errors.As(err, &re) {
		return false
	}
	for _, code := range codes {
		if re.Code == code {
			return true
		}
	}
	return false
}

// Transient reports whether err is worth retrying: network errors, upstream
// timeouts, 5xx, and 429 responses. Cancellation by the caller is not.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Code == http.StatusTooManyRequests || re.Code >= 500
	}
	// anything else failed before a response arrived; dial errors, resets,
	// client and context deadlines.
	return true
}
