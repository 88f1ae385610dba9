package cache

import "sync"

// Transactor is a scoped cache transaction opened in a declared
// access mode. Buf-locks acquired through it are tracked so Commit can
// release anything the caller forgot to release explicitly. A dirty
// block becomes eligible for flush when its write buf-lock is
// released, whether by the caller or by Commit.
type Transactor struct {
	cache *Cache
	mode  Mode

	mu     sync.Mutex
	locks  []*BufLock
	closed bool
}

// Mode returns the mode this transactor was opened with.
func (t *Transactor) Mode() Mode { return t.mode }

// AcquireBuf locks block id in the transactor's mode; use
// AcquireBufMode for a read lock inside a write transactor.
// Acquisition is a suspension point (spec section 5).
func (t *Transactor) AcquireBuf(id BlockID) (*BufLock, error) {
	return t.acquire(id, t.mode)
}

// AcquireBufMode locks block id in an explicit mode, letting a write
// transactor still take read locks on blocks it only inspects (e.g.
// ancestor nodes a leaf-only mutation doesn't touch).
func (t *Transactor) AcquireBufMode(id BlockID, mode Mode) (*BufLock, error) {
	if mode == Write && t.mode != Write {
		panic("cache: write buf-lock requested from a read transactor")
	}
	return t.acquire(id, mode)
}

// AllocateBuf reserves a fresh block and returns it already
// write-locked, ready for initialization by the caller. Only valid
// from a write transactor.
func (t *Transactor) AllocateBuf() (*BufLock, error) {
	if t.mode != Write {
		panic("cache: AllocateBuf requested from a read transactor")
	}
	id, err := t.cache.Allocate()
	if err != nil {
		return nil, err
	}
	return t.acquire(id, Write)
}

func (t *Transactor) acquire(id BlockID, mode Mode) (*BufLock, error) {
	e := t.cache.entryFor(id)

	if mode == Write {
		e.mu.Lock()
		if err := t.cache.load(id, e); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	} else {
		e.mu.RLock()
		// load mutates e.data/e.loaded on first touch, so it can't run
		// under a shared RLock: two concurrent readers of a not-yet-loaded
		// block would race on those fields. Upgrade to the exclusive lock
		// for the load, then drop back to the read lock the BufLock
		// contract promises. load is a no-op once e.loaded is true, so
		// the unlock/relock window between the two steps is harmless.
		if !e.loaded {
			e.mu.RUnlock()
			e.mu.Lock()
			err := t.cache.load(id, e)
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			e.mu.RLock()
		}
	}

	lock := &BufLock{cache: t.cache, txn: t, id: id, mode: mode, e: e}

	t.mu.Lock()
	t.locks = append(t.locks, lock)
	t.mu.Unlock()
	return lock, nil
}

// Commit ends the transactor, releasing any buf-locks the caller
// hasn't already released. Safe to call more than once (typically via
// defer immediately after BeginTxn).
func (t *Transactor) Commit() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	locks := t.locks
	t.locks = nil
	t.mu.Unlock()

	for _, l := range locks {
		l.Release()
	}
}
