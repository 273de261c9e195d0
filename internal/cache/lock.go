package cache

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// lockPrefix is the distinguishing sub-namespace for lock keys, so they can
// never collide with cached values.
const lockPrefix = "lock:"

var lockSeq atomic.Int64

// NewOwnerToken returns a token unique to this acquisition attempt. The
// token identifies the holder, so release can be guarded against deleting a
// lock that has since been re-acquired by someone else.
func NewOwnerToken() string {
	host, err := os.Hostname()
	if err != nil {
		host = uuid.NewString()
	}
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), lockSeq.Add(1))
}

// DistributedLock provides cross-process mutual exclusion on top of the
// store's set-if-absent and compare-and-delete primitives. While the
// networked tier is down the store degrades to its local tier, and the lock
// with it: exclusion then holds only within the current process. Consumers
// must treat the cross-instance guarantee as best-effort during outages.
type DistributedLock struct {
	store *Store
}

func NewDistributedLock(store *Store) *DistributedLock {
	return &DistributedLock{store: store}
}

// TryAcquire attempts to take the lock without blocking. The lock expires
// after ttl even if never released, so a crashed holder cannot wedge it.
func (l *DistributedLock) TryAcquire(ctx context.Context, key, ownerToken string, ttl time.Duration) bool {
	return l.store.SetIfAbsent(ctx, lockPrefix+key, ownerToken, ttl)
}

// Release frees the lock only when ownerToken still matches the stored
// value. A late release after expiry and re-acquisition is a no-op.
func (l *DistributedLock) Release(ctx context.Context, key, ownerToken string) {
	l.store.CompareAndDelete(ctx, lockPrefix+key, ownerToken)
}
