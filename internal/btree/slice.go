/*
Package btree implements the B-tree slice: one consistent key-value
namespace on top of one write-back cache (spec section 4.1).
*/
package btree

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/log"
	"github.com/shardkv/shardkv/internal/serializer"
)

// Slice is one B-tree-backed key-value namespace: the unit a store
// shards its keyspace into (spec section 2). All of a Slice's
// operations run through a single write-back Cache.
type Slice struct {
	cache  *cache.Cache
	logger zerolog.Logger
}

// Create initializes a brand new, empty slice on ser: it writes a
// fresh superblock ({magic, root=NULL}) and nothing else. Create must
// be called exactly once against an unformatted serializer, before
// any New.
func Create(ser serializer.Serializer, cfg cache.Config) (*Slice, error) {
	c, err := cache.New(ser, cfg)
	if err != nil {
		return nil, fmt.Errorf("btree: create: %w", err)
	}

	txn := c.BeginTxn(cache.Write)
	lock, err := txn.AcquireBufMode(serializer.SuperblockID, cache.Write)
	if err != nil {
		txn.Commit()
		return nil, fmt.Errorf("btree: create: superblock: %w", err)
	}
	writeSuperBlock(lock, SuperBlock{Magic: ExpectedMagic, RootBlock: serializer.NullBlockID})
	lock.Release()
	txn.Commit()

	if err := c.FlushAll(context.Background()); err != nil {
		return nil, fmt.Errorf("btree: create: flush: %w", err)
	}

	return &Slice{cache: c, logger: log.WithComponent("btree")}, nil
}

// New opens an already-created slice on ser. It reads and validates
// the superblock eagerly so a corrupt or unformatted store is
// rejected at open time rather than on first operation.
func New(ser serializer.Serializer, cfg cache.Config) (*Slice, error) {
	c, err := cache.New(ser, cfg)
	if err != nil {
		return nil, fmt.Errorf("btree: new: %w", err)
	}

	txn := c.BeginTxn(cache.Read)
	_, lock, err := readSuperBlock(txn)
	if err != nil {
		txn.Commit()
		return nil, fmt.Errorf("btree: new: %w", err)
	}
	lock.Release()
	txn.Commit()

	return &Slice{cache: c, logger: log.WithComponent("btree")}, nil
}

// Close shuts the underlying cache down, flushing every dirty block
// and suspending until complete (spec section 4.1, "Destruction...").
func (s *Slice) Close() error {
	return s.cache.Shutdown()
}

// DirtyBlockCount reports the slice's current write-back backlog, for
// metrics collection.
func (s *Slice) DirtyBlockCount() int {
	return s.cache.DirtyBlockCount()
}

// beginMutation opens a write transaction, loads the superblock, and
// returns the write-locked root-to-leaf path for key, allocating a
// fresh empty root leaf first if the tree is still empty. The caller
// must release p and sbLock (in that order, p first) and Commit txn.
func (s *Slice) beginMutation(key StoreKey) (txn *cache.Transactor, sb SuperBlock, sbLock *cache.BufLock, p *writePath, err error) {
	txn = s.cache.BeginTxn(cache.Write)

	sb, sbLock, err = readSuperBlock(txn)
	if err != nil {
		txn.Commit()
		return nil, SuperBlock{}, nil, nil, err
	}

	if sb.RootBlock == serializer.NullBlockID {
		rootLock, err := txn.AllocateBuf()
		if err != nil {
			sbLock.Release()
			txn.Commit()
			return nil, SuperBlock{}, nil, nil, err
		}
		root := newLeaf()
		if err := writeBack(rootLock, root); err != nil {
			rootLock.Release()
			sbLock.Release()
			txn.Commit()
			return nil, SuperBlock{}, nil, nil, err
		}
		sb.RootBlock = rootLock.Buf().ID()
		writeSuperBlock(sbLock, sb)
		p = &writePath{locks: []*cache.BufLock{rootLock}, nodes: []*node{root}}
		return txn, sb, sbLock, p, nil
	}

	p, err = walkWritePath(txn, sb.RootBlock, key)
	if err != nil {
		sbLock.Release()
		txn.Commit()
		return nil, SuperBlock{}, nil, nil, err
	}
	return txn, sb, sbLock, p, nil
}
