package btree

import (
	"strconv"

	"github.com/shardkv/shardkv/internal/metrics"
)

// IncrDecr atomically adds or subtracts delta from the decimal integer
// stored at key, saturating decrement at zero (spec section 4.1,
// incr_decr; unsigned values never go negative).
func (s *Slice) IncrDecr(key StoreKey, kind IncrDecrKind, delta uint64, newCas CasTime) (result IncrDecrResult, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := result.Outcome.String()
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("incr_decr", outcome)
	}()

	if err := key.Validate(); err != nil {
		return IncrDecrResult{}, err
	}

	txn, sb, sbLock, p, err := s.beginMutation(key)
	if err != nil {
		return IncrDecrResult{}, err
	}
	defer txn.Commit()
	defer sbLock.Release()
	defer p.release()

	leaf := p.leaf()
	i, found := leaf.findEntry(key)
	if !found {
		return IncrDecrResult{Outcome: NotFound}, nil
	}

	current, err := strconv.ParseUint(string(leaf.entries[i].value), 10, 64)
	if err != nil {
		return IncrDecrResult{Outcome: NotNumeric}, nil
	}

	var next uint64
	switch kind {
	case Incr:
		next = current + delta
	case Decr:
		if delta > current {
			next = 0
		} else {
			next = current - delta
		}
	}

	leaf.entries[i].value = []byte(strconv.FormatUint(next, 10))
	leaf.entries[i].cas = newCas

	if err := splitIfNeeded(txn, &sb, sbLock, p); err != nil {
		return IncrDecrResult{}, err
	}
	return IncrDecrResult{Outcome: Stored, NewValue: next}, nil
}
