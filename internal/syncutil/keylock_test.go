package syncutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLock_MutualExclusion(t *testing.T) {
	l := NewKeyLock(0)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "sender-1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestKeyLock_ContextCancelled(t *testing.T) {
	l := NewKeyLock(4)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyLock_UnlockAllowsNext(t *testing.T) {
	l := NewKeyLock(1)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		// Single shard: every key contends.
		u, err := l.Lock(context.Background(), "b")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after unlock")
	}
}

func TestKeyLock_DifferentShardsDoNotBlock(t *testing.T) {
	l := NewKeyLock(DefaultShards)

	a, b := "sender-a", "sender-b"
	for l.index(a) == l.index(b) {
		b += "x"
	}

	unlockA, err := l.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, b)
	require.NoError(t, err)
	unlockB()
}
