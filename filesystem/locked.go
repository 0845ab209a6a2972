package filesystem

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Locked is a named Filesystem guarded by its own exclusive lock. A state owns
// one Locked per filesystem name; the lock is always taken after the owning
// state's lock.
type Locked struct {
	name string
	sem  *semaphore.Weighted
	fs   Filesystem
}

// NewLocked guards fs under the given name.
func NewLocked(name string, fs Filesystem) *Locked {
	return &Locked{
		name: name,
		sem:  semaphore.NewWeighted(1),
		fs:   fs,
	}
}

// Name returns the name the filesystem is registered under.
func (l *Locked) Name() string {
	return l.name
}

// Do runs fn with the filesystem lock held. ctx bounds only the wait for the
// lock; once fn starts, Do returns whatever fn returns. Filesystems observe
// ctx themselves through the operations fn calls.
func Do[T any](ctx context.Context, l *Locked, fn func(Filesystem) (T, error)) (T, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer l.sem.Release(1)
	return fn(l.fs)
}
