package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ErrLockHeld is returned when another replica holds the job lock.
var ErrLockHeld = errors.New("job lock held by another worker")

// LockAcquirer is the lock primitive the Redis cache provides.
type LockAcquirer interface {
	TryLock(ctx context.Context, resource, owner string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Locker adapts a LockAcquirer to gocron's distributed locker.
type Locker struct {
	acquirer LockAcquirer
	owner    string
	ttl      time.Duration
}

var _ gocron.Locker = (*Locker)(nil)

// NewLocker creates a Locker. owner identifies this worker in the lock value.
func NewLocker(acquirer LockAcquirer, owner string, ttl time.Duration) *Locker {
	return &Locker{acquirer: acquirer, owner: owner, ttl: ttl}
}

// Lock acquires the lock for the job key or returns ErrLockHeld.
func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	release, ok, err := l.acquirer.TryLock(ctx, "job:"+key, l.owner, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lock(release), nil
}

type lock func(context.Context) error

func (f lock) Unlock(ctx context.Context) error { return f(ctx) }
