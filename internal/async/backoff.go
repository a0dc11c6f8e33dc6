package async

import "time"

// RetryPolicy caps attempts and spaces retries exponentially:
// Base after the first failure, 2*Base after the second, and so on.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Base: time.Second}

// Delay returns the wait before the attempt following failed attempt n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.Base << (n - 1)
}
