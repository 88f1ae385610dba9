package btree

import (
	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/serializer"
)

// DeleteKey removes key if present. Deletion never merges or
// rebalances underfull nodes — a deliberate simplification recorded
// alongside the traversal-locking tradeoff.
func (s *Slice) DeleteKey(key StoreKey) (result DeleteResult, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := result.Outcome.String()
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("delete_key", outcome)
	}()

	if err := key.Validate(); err != nil {
		return DeleteResult{}, err
	}

	txn := s.cache.BeginTxn(cache.Write)
	defer txn.Commit()

	sb, sbLock, err := readSuperBlock(txn)
	if err != nil {
		return DeleteResult{}, err
	}
	defer sbLock.Release()

	if sb.RootBlock == serializer.NullBlockID {
		return DeleteResult{Outcome: NotFound}, nil
	}

	p, err := walkWritePath(txn, sb.RootBlock, key)
	if err != nil {
		return DeleteResult{}, err
	}
	defer p.release()

	leaf := p.leaf()
	if !leaf.removeLeaf(key) {
		return DeleteResult{Outcome: NotFound}, nil
	}

	if err := writeBack(p.leafLock(), leaf); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Outcome: Deleted}, nil
}
