/*
Package cache implements shardkv's write-back block cache.

# Architecture

	┌─────────────────────── CACHE ─────────────────────────────┐
	│                                                              │
	│  ┌────────────────────────────────────────────┐            │
	│  │              Transactor(mode)                │           │
	│  │     opened per slice operation                │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │ AcquireBuf(block_id)                   │
	│                     ▼                                        │
	│  ┌────────────────────────────────────────────┐            │
	│  │            entries[block_id]                  │           │
	│  │   per-block RWMutex + buffered bytes         │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │ miss                                   │
	│                     ▼                                        │
	│  ┌────────────────────────────────────────────┐            │
	│  │              Serializer.Read                  │           │
	│  └────────────────────────────────────────────┘            │
	│                                                              │
	│  on BufLock.Release (write mode, dirty):                    │
	│                     │                                        │
	│                     ▼                                        │
	│  ┌────────────────────────────────────────────┐            │
	│  │       dirtySet (google/btree, ordered)        │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │ FlushAll / Shutdown                    │
	│                     ▼                                        │
	│  ┌────────────────────────────────────────────┐            │
	│  │   bounded concurrent flush (semaphore.Weighted) │         │
	│  │              → Serializer.Write               │           │
	│  └────────────────────────────────────────────┘            │
	│                                                              │
	│  clean (flushed) blocks tracked in an LRU               │
	│  (hashicorp/golang-lru) as eviction candidates.             │
	└──────────────────────────────────────────────────────────────┘

A BufLock(write) is exclusive with every other lock on the same block;
BufLock(read) may coexist with other reads — enforced directly by
entry's sync.RWMutex. Concurrent write transactors on overlapping
blocks are therefore serialized by block-level locking, and readers
see a consistent view of each block they hold, matching spec section
4.2.
*/
package cache
