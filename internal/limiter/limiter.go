// Package limiter throttles password logins. Attempts are counted per
// account email and hashed client address; see HashIP.
package limiter

import (
	"context"
	"time"
)

// Limiter is consulted by the account service around every login.
type Limiter interface {
	// Allow reports whether a login may be attempted, and if not, for how long
	// the pair stays blocked.
	Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
	// Success clears the failure count for the pair.
	Success(ctx context.Context, email string, ipHash []byte) error
	// Failure counts a rejected password. It reports false plus the block
	// duration once the pair crosses the threshold.
	Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
}

var (
	_ Limiter = (*PG)(nil)
	_ Limiter = (*Memory)(nil)
)
