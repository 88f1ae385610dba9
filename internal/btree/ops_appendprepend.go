package btree

import "github.com/shardkv/shardkv/internal/metrics"

// AppendPrepend concatenates data onto the existing value at key —
// after it for Append, before it for Prepend (spec section 4.1,
// append_prepend). Both require the key to already exist.
func (s *Slice) AppendPrepend(key StoreKey, kind AppendPrependKind, data []byte, newCas CasTime) (result AppendPrependResult, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := result.Outcome.String()
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("append_prepend", outcome)
	}()

	if err := key.Validate(); err != nil {
		return AppendPrependResult{}, err
	}

	txn, sb, sbLock, p, err := s.beginMutation(key)
	if err != nil {
		return AppendPrependResult{}, err
	}
	defer txn.Commit()
	defer sbLock.Release()
	defer p.release()

	leaf := p.leaf()
	i, found := leaf.findEntry(key)
	if !found {
		return AppendPrependResult{Outcome: NotStored}, nil
	}

	old := leaf.entries[i].value
	var merged []byte
	switch kind {
	case Append:
		merged = make([]byte, 0, len(old)+len(data))
		merged = append(merged, old...)
		merged = append(merged, data...)
	case Prepend:
		merged = make([]byte, 0, len(old)+len(data))
		merged = append(merged, data...)
		merged = append(merged, old...)
	}
	leaf.entries[i].value = merged
	leaf.entries[i].cas = newCas

	if err := splitIfNeeded(txn, &sb, sbLock, p); err != nil {
		return AppendPrependResult{}, err
	}
	return AppendPrependResult{Outcome: Stored}, nil
}
