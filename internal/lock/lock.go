package lock

import (
	"context"
	"errors"
	"time"
)

// DefaultName is the lease guarding the distribution cycle.
const DefaultName = "creatorsplit:cycle"

// DefaultTTL bounds how long a crashed run can block the next one.
const DefaultTTL = 15 * time.Minute

// ErrLocked is returned when another run holds the cycle lease.
var ErrLocked = errors.New("another run holds the cycle lease")

// Locker provides run-level mutual exclusion across processes.
type Locker interface {
	// TryLock takes the lease for owner if it is free or expired. It does not
	// wait.
	TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	// Unlock releases the lease if owner still holds it.
	Unlock(ctx context.Context, owner string) error
}
