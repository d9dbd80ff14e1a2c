// Package lock provides the mutual-exclusion abstraction the image root
// is guarded by: layerstore uses it to serialize seal operations
// against concurrent pulls on the same host, per spec
// section 5's "Shared resources" guarantee.
package lock

import "context"

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock acquires l, runs fn, and releases l regardless of fn's
// outcome. storage/json's Store (which backs the ref index) goes
// through this; layerstore.Seal pairs Lock/Unlock itself.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}
