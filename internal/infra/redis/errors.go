package redis

import "errors"

// Redis-specific errors.
var (
	// ErrLockNotHeld is returned when releasing a lock that expired or was
	// taken over by another holder.
	ErrLockNotHeld = errors.New("redis: lock not held")
)
