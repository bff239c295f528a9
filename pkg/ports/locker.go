package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// It lets the session Manager serialize Respond/Back calls on one session across
// several server instances.
type DistributedLocker interface {
	// Lock acquires the lock for key (e.g. a session ID), blocking until it is held,
	// the context is canceled or the implementation gives up.
	// Returns an UnlockFunc that MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
