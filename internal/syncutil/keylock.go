// Package syncutil provides per-key locking for read-evaluate-write sequences
// such as assessing a payment against a sender's history and then storing it.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewKeyLock when shards <= 0.
const DefaultShards = 256

// KeyLock is a fixed pool of channel-based mutexes selected by key hash.
// Memory is bounded regardless of how many keys are seen; keys that share
// a shard also share the lock.
type KeyLock struct {
	shards []chan struct{}
}

// NewKeyLock creates a KeyLock with the given number of shards.
func NewKeyLock(shards int) *KeyLock {
	if shards <= 0 {
		shards = DefaultShards
	}
	l := &KeyLock{shards: make([]chan struct{}, shards)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock acquires the lock for key, or returns ctx.Err() if ctx ends first.
// The returned unlock function must be called exactly once.
func (l *KeyLock) Lock(ctx context.Context, key string) (unlock func(), err error) {
	ch := l.shards[l.index(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *KeyLock) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.shards)))
}
