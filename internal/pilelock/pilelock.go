package pilelock

import "sync"

// Keyed 按桩ID互斥锁。
// 同一桩的 check-then-act 序列必须整体持锁执行，
// 不同桩之间互不阻塞，不允许退化为全局单锁。
type Keyed struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	mu sync.Mutex
	// refs 为0时从表中移除，避免长期运行下锁表无界增长
	refs int
}

// New 创建锁表
func New() *Keyed {
	return &Keyed{locks: make(map[int64]*entry)}
}

// Lock 获取指定桩的互斥锁，返回对应的解锁函数。
func (k *Keyed) Lock(pileID int64) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[pileID]
	if !ok {
		e = &entry{}
		k.locks[pileID] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, pileID)
		}
		k.mu.Unlock()
	}
}

// WithLock 持锁执行 fn
func (k *Keyed) WithLock(pileID int64, fn func() error) error {
	unlock := k.Lock(pileID)
	defer unlock()
	return fn()
}
