package btree

import (
	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/serializer"
)

// Rget returns up to limit key/value pairs in the range bounded by
// start and end, in ascending order, by walking the leaf chain
// starting from the leaf that would hold start (spec section 4.1,
// rget: "key range ... half-open flags per side"). end == nil means
// unbounded above, mirroring the original's nullable end key. leftOpen
// excludes an entry exactly equal to start; rightOpen excludes an
// entry exactly equal to end. limit <= 0 means unbounded. The result
// carries its own copy of every key and value, so it remains valid
// after the read transaction ends; a caller wanting to resume a scan
// reissues Rget with start set to the last key returned and leftOpen
// true.
func (s *Slice) Rget(start StoreKey, end *StoreKey, leftOpen, rightOpen bool, limit int) (result []KV, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("rget", outcome)
	}()

	txn := s.cache.BeginTxn(cache.Read)
	defer txn.Commit()

	sb, sbLock, err := readSuperBlock(txn)
	if err != nil {
		return nil, err
	}
	sbLock.Release()
	if sb.RootBlock == serializer.NullBlockID {
		return nil, nil
	}

	leafLock, leaf, err := readPath(txn, sb.RootBlock, start)
	if err != nil {
		return nil, err
	}

	var out []KV
	i, exact := leaf.findEntry(start)
	if exact && leftOpen {
		i++
	}
	for {
		for ; i < len(leaf.entries); i++ {
			if limit > 0 && len(out) >= limit {
				leafLock.Release()
				return out, nil
			}
			e := leaf.entries[i]
			if end != nil {
				if rightOpen && !e.key.less(*end) {
					leafLock.Release()
					return out, nil
				}
				if !rightOpen && end.less(e.key) {
					leafLock.Release()
					return out, nil
				}
			}
			out = append(out, KV{
				Key:   append(StoreKey{}, e.key...),
				Entry: Entry{Value: append([]byte{}, e.value...), Flags: e.flags, Exptime: e.exptime, Cas: e.cas},
			})
		}

		next := leaf.nextLeaf
		leafLock.Release()
		if next == serializer.NullBlockID {
			return out, nil
		}

		leafLock, err = txn.AcquireBufMode(next, cache.Read)
		if err != nil {
			return out, err
		}
		leaf = decodeNode(leafLock.Buf().ReadData())
		i = 0
	}
}
