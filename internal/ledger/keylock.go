package ledger

import (
	"context"
	"sync"
)

// KeyedLock serialises operations per item code for stores that offer no
// row locking of their own. Locks are always taken in the caller-supplied
// order; callers pass codes sorted so two multi-item operations can never
// deadlock on each other.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyedLock constructs a KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]chan struct{})}
}

func (k *KeyedLock) sem(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	sem, ok := k.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		k.locks[key] = sem
	}
	return sem
}

// Acquire takes every key in order, honouring context cancellation and
// deadline. On failure it releases what it already holds and returns the
// context error.
func (k *KeyedLock) Acquire(ctx context.Context, keys []string) (release func(), err error) {
	held := make([]chan struct{}, 0, len(keys))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range keys {
		sem := k.sem(key)
		select {
		case sem <- struct{}{}:
			held = append(held, sem)
		case <-ctx.Done():
			releaseHeld()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}
