package abuse

import (
	"errors"
	"fmt"
	"time"
)

// ErrReferralRejected is deliberately generic so callers cannot learn which
// check failed.
var ErrReferralRejected = errors.New("referral rejected")

// RateLimitError is returned when a key has used up its window.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// AsRateLimitError extracts a *RateLimitError from err.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
