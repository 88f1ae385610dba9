/*
Package btree implements the B-tree slice: one consistent key-value
namespace on top of one write-back cache (spec section 4.1).
*/
package btree

import (
	"bytes"
	"fmt"
)

// MaxKeyLength is the maximum length of a StoreKey (spec section 3).
const MaxKeyLength = 255

// StoreKey is a variable-length, caller-owned byte key.
type StoreKey []byte

// Validate reports whether the key obeys the length bound.
func (k StoreKey) Validate() error {
	if len(k) > MaxKeyLength {
		return fmt.Errorf("btree: key length %d exceeds max %d", len(k), MaxKeyLength)
	}
	return nil
}

func (k StoreKey) less(other StoreKey) bool {
	return bytes.Compare(k, other) < 0
}

func (k StoreKey) equal(other StoreKey) bool {
	return bytes.Equal(k, other)
}

// CasTime is a monotonically advancing (timestamp, counter) tuple
// injected by the caller, used both to order replication and to mint
// fresh CAS values.
type CasTime struct {
	Timestamp int64
	Counter   uint64
}

// Less orders two CasTime values.
func (t CasTime) Less(other CasTime) bool {
	if t.Timestamp != other.Timestamp {
		return t.Timestamp < other.Timestamp
	}
	return t.Counter < other.Counter
}

func (t CasTime) equal(other CasTime) bool {
	return t.Timestamp == other.Timestamp && t.Counter == other.Counter
}

// AddPolicy governs whether sarc may create a previously-absent key.
type AddPolicy int

const (
	// AddOrReplace allows the write regardless of prior presence.
	AddOrReplace AddPolicy = iota
	// RequireAbsent fails the write ("exists") if the key is already present.
	RequireAbsent
)

// ReplacePolicy governs whether sarc requires the key to already
// exist, and whether it must match a given CAS.
type ReplacePolicy int

const (
	// Unconditional allows the write regardless of prior state.
	Unconditional ReplacePolicy = iota
	// RequirePresent fails the write ("not-stored") if the key is absent.
	RequirePresent
	// RequireCasMatch fails the write ("cas-mismatch") unless the
	// existing value's CAS equals OldCas, and ("not-found") if absent.
	RequireCasMatch
)

// IncrDecrKind selects between increment and decrement.
type IncrDecrKind int

const (
	Incr IncrDecrKind = iota
	Decr
)

// AppendPrependKind selects between append and prepend.
type AppendPrependKind int

const (
	Append AppendPrependKind = iota
	Prepend
)

// Outcome is the typed result of a mutating operation. Logical
// outcomes are returned as values, never as errors (spec section 7).
type Outcome int

const (
	Stored Outcome = iota
	NotStored
	Exists
	NotFound
	Deleted
	CasMismatch
	NotNumeric
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case NotStored:
		return "not-stored"
	case Exists:
		return "exists"
	case NotFound:
		return "not-found"
	case Deleted:
		return "deleted"
	case CasMismatch:
		return "cas-mismatch"
	case NotNumeric:
		return "not-numeric"
	}
	return "unknown"
}

// Entry is a stored value plus its metadata, as returned by Get.
type Entry struct {
	Value   []byte
	Flags   uint32
	Exptime int64
	Cas     CasTime
}

// GetResult is the outcome of Get / GetCas.
type GetResult struct {
	Found bool
	Entry Entry
}

// SarcResult is the outcome of Sarc.
type SarcResult struct {
	Outcome Outcome
}

// IncrDecrResult is the outcome of IncrDecr.
type IncrDecrResult struct {
	Outcome  Outcome
	NewValue uint64
}

// AppendPrependResult is the outcome of AppendPrepend.
type AppendPrependResult struct {
	Outcome Outcome
}

// DeleteResult is the outcome of DeleteKey.
type DeleteResult struct {
	Outcome Outcome
}

// KV is one key/value pair yielded by Rget.
type KV struct {
	Key   StoreKey
	Entry Entry
}
