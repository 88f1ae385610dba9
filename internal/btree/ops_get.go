package btree

import (
	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/serializer"
)

// Get returns the current value stored at key, if any.
func (s *Slice) Get(key StoreKey) (result GetResult, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "not-found"
		if result.Found {
			outcome = "found"
		}
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("get", outcome)
	}()

	if err := key.Validate(); err != nil {
		return GetResult{}, err
	}

	txn := s.cache.BeginTxn(cache.Read)
	defer txn.Commit()

	sb, sbLock, err := readSuperBlock(txn)
	if err != nil {
		return GetResult{}, err
	}
	sbLock.Release()
	if sb.RootBlock == serializer.NullBlockID {
		return GetResult{}, nil
	}

	leafLock, leaf, err := readPath(txn, sb.RootBlock, key)
	if err != nil {
		return GetResult{}, err
	}
	defer leafLock.Release()

	i, found := leaf.findEntry(key)
	if !found {
		return GetResult{}, nil
	}
	e := leaf.entries[i]
	return GetResult{
		Found: true,
		Entry: Entry{Value: e.value, Flags: e.flags, Exptime: e.exptime, Cas: e.cas},
	}, nil
}

// GetCas reads the current value at key and mints it a fresh CAS,
// stamped from newCas, storing the updated metadata before returning
// it (spec section 4.1, get_cas: "value with assigned CAS"). A missing
// key reports NotFound and mints nothing.
func (s *Slice) GetCas(key StoreKey, newCas CasTime) (result GetResult, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "not-found"
		if result.Found {
			outcome = "found"
		}
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("get_cas", outcome)
	}()

	if err := key.Validate(); err != nil {
		return GetResult{}, err
	}

	txn, sb, sbLock, p, err := s.beginMutation(key)
	if err != nil {
		return GetResult{}, err
	}
	defer txn.Commit()
	defer sbLock.Release()
	defer p.release()

	leaf := p.leaf()
	i, found := leaf.findEntry(key)
	if !found {
		return GetResult{}, nil
	}

	leaf.entries[i].cas = newCas
	e := leaf.entries[i]

	if err := splitIfNeeded(txn, &sb, sbLock, p); err != nil {
		return GetResult{}, err
	}
	return GetResult{
		Found: true,
		Entry: Entry{Value: e.value, Flags: e.flags, Exptime: e.exptime, Cas: e.cas},
	}, nil
}
