package policies

import (
	"context"
	"errors"
)

var ErrLockNotAcquired = errors.New("lock: not acquired")

// UnlockFunc releases a lock obtained from Locker. It is safe to call once.
type UnlockFunc func(ctx context.Context) error

// Locker serializes work on a key (a property) across goroutines and, depending
// on the adapter, across service instances.
type Locker interface {
	Lock(ctx context.Context, key string) (UnlockFunc, error)
}

func PropertyLockKey(propertyID string) string {
	return "property:" + propertyID
}
