package lock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/djkazic/creatorsplit/internal/store"
)

// StoreLocker keeps the lease in the state store's lease table. Expiry is
// judged against the injected clock.
type StoreLocker struct {
	store store.Store
	name  string
	clock clockwork.Clock
}

// NewStoreLocker creates a StoreLocker for the named lease.
func NewStoreLocker(s store.Store, name string, clock clockwork.Clock) *StoreLocker {
	if name == "" {
		name = DefaultName
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StoreLocker{store: s, name: name, clock: clock}
}

func (l *StoreLocker) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return l.store.AcquireLease(ctx, l.name, owner, l.clock.Now(), ttl)
}

func (l *StoreLocker) Unlock(ctx context.Context, owner string) error {
	return l.store.ReleaseLease(ctx, l.name, owner)
}
