package btree

import "github.com/shardkv/shardkv/internal/metrics"

// SarcRequest bundles a set/add/replace/cas write (spec section 4.1,
// "sarc": set-add-replace-cas).
type SarcRequest struct {
	Key     StoreKey
	Value   []byte
	Flags   uint32
	Exptime int64
	// NewCas is the CAS value the entry carries once stored.
	NewCas CasTime
	Add    AddPolicy
	// Replace governs preconditions on an existing entry; OldCas is
	// only consulted when Replace == RequireCasMatch.
	Replace ReplacePolicy
	OldCas  CasTime
}

// Sarc performs a set/add/replace/cas write and reports the outcome.
func (s *Slice) Sarc(req SarcRequest) (result SarcResult, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := result.Outcome.String()
		if err != nil {
			outcome = "error"
		}
		timer.ObserveSliceOp("sarc", outcome)
	}()

	if err := req.Key.Validate(); err != nil {
		return SarcResult{}, err
	}

	txn, sb, sbLock, p, err := s.beginMutation(req.Key)
	if err != nil {
		return SarcResult{}, err
	}
	defer txn.Commit()
	defer sbLock.Release()
	defer p.release()

	leaf := p.leaf()
	i, found := leaf.findEntry(req.Key)

	outcome := Stored
	switch {
	case found && req.Add == RequireAbsent:
		outcome = Exists
	case found && req.Replace == RequireCasMatch && !leaf.entries[i].cas.equal(req.OldCas):
		outcome = CasMismatch
	case !found && req.Replace == RequirePresent:
		outcome = NotStored
	case !found && req.Replace == RequireCasMatch:
		outcome = NotFound
	default:
		leaf.insertLeaf(leafEntry{
			key:     append(StoreKey{}, req.Key...),
			value:   append([]byte{}, req.Value...),
			flags:   req.Flags,
			exptime: req.Exptime,
			cas:     req.NewCas,
		})
	}

	if outcome != Stored {
		return SarcResult{Outcome: outcome}, nil
	}

	if err := splitIfNeeded(txn, &sb, sbLock, p); err != nil {
		return SarcResult{}, err
	}
	return SarcResult{Outcome: Stored}, nil
}
