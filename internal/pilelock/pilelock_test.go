package pilelock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSamePileSerialized 同一桩的临界区不允许交错
func TestSamePileSerialized(t *testing.T) {
	k := New()

	const workers = 16
	const rounds = 100

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_ = k.WithLock(1, func() error {
					// 无锁保护时该自增必然丢失更新
					counter++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*rounds, counter)
}

// TestDifferentPilesConcurrent 不同桩之间不互相阻塞
func TestDifferentPilesConcurrent(t *testing.T) {
	k := New()

	unlock := k.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		_ = k.WithLock(2, func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("持有桩1的锁不应阻塞桩2的操作")
	}
}

// TestLockTableShrinks 解锁后锁表被回收
func TestLockTableShrinks(t *testing.T) {
	k := New()

	for id := int64(0); id < 100; id++ {
		unlock := k.Lock(id)
		unlock()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.locks)
}
