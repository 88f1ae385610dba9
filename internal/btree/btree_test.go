package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/serializer"
)

func newTestSlice(t *testing.T) *Slice {
	t.Helper()
	ser := serializer.NewMem()
	s, err := Create(ser, cache.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissingKeyNotFound(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.Get(StoreKey("nope"))
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestGetCasMissingKeyNotFound(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.GetCas(StoreKey("nope"), CasTime{Timestamp: 1, Counter: 1})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestGetCasAssignsFreshCasAndPersistsIt(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{
		Key:    StoreKey("k"),
		Value:  []byte("v"),
		NewCas: CasTime{Timestamp: 1, Counter: 1},
	})
	require.NoError(t, err)

	minted := CasTime{Timestamp: 2, Counter: 9}
	res, err := s.GetCas(StoreKey("k"), minted)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, []byte("v"), res.Entry.Value, "GetCas must not change the stored value")
	assert.Equal(t, minted, res.Entry.Cas)

	got, err := s.Get(StoreKey("k"))
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, minted, got.Entry.Cas, "the minted CAS must be durably stored, not just returned")
}

func TestSarcStoreThenGet(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.Sarc(SarcRequest{
		Key:    StoreKey("hello"),
		Value:  []byte("world"),
		Flags:  7,
		NewCas: CasTime{Timestamp: 1, Counter: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)

	got, err := s.Get(StoreKey("hello"))
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, []byte("world"), got.Entry.Value)
	assert.Equal(t, uint32(7), got.Entry.Flags)
}

func TestSarcAddRequireAbsent(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("v1")})
	require.NoError(t, err)

	res, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("v2"), Add: RequireAbsent})
	require.NoError(t, err)
	assert.Equal(t, Exists, res.Outcome)

	got, err := s.Get(StoreKey("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got.Entry.Value)
}

func TestSarcReplaceRequirePresent(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.Sarc(SarcRequest{Key: StoreKey("missing"), Value: []byte("v"), Replace: RequirePresent})
	require.NoError(t, err)
	assert.Equal(t, NotStored, res.Outcome)
}

func TestSarcCasMatchAndMismatch(t *testing.T) {
	s := newTestSlice(t)

	cas1 := CasTime{Timestamp: 1, Counter: 1}
	_, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("v1"), NewCas: cas1})
	require.NoError(t, err)

	cas2 := CasTime{Timestamp: 2, Counter: 1}
	res, err := s.Sarc(SarcRequest{
		Key: StoreKey("k"), Value: []byte("v2"),
		Replace: RequireCasMatch, OldCas: CasTime{Timestamp: 99, Counter: 99}, NewCas: cas2,
	})
	require.NoError(t, err)
	assert.Equal(t, CasMismatch, res.Outcome)

	res, err = s.Sarc(SarcRequest{
		Key: StoreKey("k"), Value: []byte("v2"),
		Replace: RequireCasMatch, OldCas: cas1, NewCas: cas2,
	})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)

	got, err := s.Get(StoreKey("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Entry.Value)
}

func TestSarcCasMatchOnAbsentKeyIsNotFound(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.Sarc(SarcRequest{
		Key: StoreKey("ghost"), Value: []byte("v"),
		Replace: RequireCasMatch, OldCas: CasTime{Timestamp: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
}

func TestIncrDecr(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{Key: StoreKey("counter"), Value: []byte("10")})
	require.NoError(t, err)

	res, err := s.IncrDecr(StoreKey("counter"), Incr, 5, CasTime{Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)
	assert.Equal(t, uint64(15), res.NewValue)

	res, err = s.IncrDecr(StoreKey("counter"), Decr, 100, CasTime{Timestamp: 2})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)
	assert.Equal(t, uint64(0), res.NewValue, "decrement below zero saturates at zero")
}

func TestIncrDecrOnMissingKey(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.IncrDecr(StoreKey("nope"), Incr, 1, CasTime{})
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
}

func TestIncrDecrOnNonNumericValue(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("not-a-number")})
	require.NoError(t, err)

	res, err := s.IncrDecr(StoreKey("k"), Incr, 1, CasTime{})
	require.NoError(t, err)
	assert.Equal(t, NotNumeric, res.Outcome)
}

func TestIncrDecrGrowsDigitCountAcrossBoundary(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("9")})
	require.NoError(t, err)

	res, err := s.IncrDecr(StoreKey("k"), Incr, 1, CasTime{})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.NewValue)

	got, err := s.Get(StoreKey("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), got.Entry.Value)
}

func TestAppendPrepend(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("middle")})
	require.NoError(t, err)

	res, err := s.AppendPrepend(StoreKey("k"), Append, []byte("-end"), CasTime{Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)

	res, err = s.AppendPrepend(StoreKey("k"), Prepend, []byte("start-"), CasTime{Timestamp: 2})
	require.NoError(t, err)
	assert.Equal(t, Stored, res.Outcome)

	got, err := s.Get(StoreKey("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("start-middle-end"), got.Entry.Value)
}

func TestAppendPrependOnMissingKeyNotStored(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.AppendPrepend(StoreKey("nope"), Append, []byte("x"), CasTime{})
	require.NoError(t, err)
	assert.Equal(t, NotStored, res.Outcome)
}

func TestDeleteKey(t *testing.T) {
	s := newTestSlice(t)

	_, err := s.Sarc(SarcRequest{Key: StoreKey("k"), Value: []byte("v")})
	require.NoError(t, err)

	res, err := s.DeleteKey(StoreKey("k"))
	require.NoError(t, err)
	assert.Equal(t, Deleted, res.Outcome)

	got, err := s.Get(StoreKey("k"))
	require.NoError(t, err)
	assert.False(t, got.Found)

	res, err = s.DeleteKey(StoreKey("k"))
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
}

func TestDeleteKeyOnEmptyTreeNotFound(t *testing.T) {
	s := newTestSlice(t)

	res, err := s.DeleteKey(StoreKey("anything"))
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Outcome)
}

func TestKeyLengthValidation(t *testing.T) {
	s := newTestSlice(t)

	tooLong := make([]byte, MaxKeyLength+1)
	_, err := s.Get(StoreKey(tooLong))
	assert.Error(t, err)

	_, err = s.Sarc(SarcRequest{Key: StoreKey(tooLong), Value: []byte("v")})
	assert.Error(t, err)
}

func TestRgetOrderedAcrossManyKeys(t *testing.T) {
	s := newTestSlice(t)

	const n = 500
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		_, err := s.Sarc(SarcRequest{Key: StoreKey(key), Value: []byte(key)})
		require.NoError(t, err)
	}

	out, err := s.Rget(StoreKey(""), nil, false, false, 0)
	require.NoError(t, err)
	require.Len(t, out, n)
	for i, kv := range out {
		want := fmt.Sprintf("k%05d", i)
		assert.Equal(t, want, string(kv.Key))
		assert.Equal(t, want, string(kv.Entry.Value))
	}
}

func TestRgetRespectsStartAndLimit(t *testing.T) {
	s := newTestSlice(t)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Sarc(SarcRequest{Key: StoreKey(k), Value: []byte(k)})
		require.NoError(t, err)
	}

	out, err := s.Rget(StoreKey("c"), nil, false, false, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", string(out[0].Key))
	assert.Equal(t, "e", string(out[2].Key))

	out, err = s.Rget(StoreKey("a"), nil, false, false, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", string(out[0].Key))
	assert.Equal(t, "b", string(out[1].Key))
}

func TestRgetEndBoundInclusiveByDefault(t *testing.T) {
	s := newTestSlice(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Sarc(SarcRequest{Key: StoreKey(k), Value: []byte(k)})
		require.NoError(t, err)
	}

	end := StoreKey("c")
	out, err := s.Rget(StoreKey("a"), &end, false, false, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", string(out[2].Key), "a right-closed end must include the end key")
}

func TestRgetRightOpenExcludesEndKey(t *testing.T) {
	s := newTestSlice(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Sarc(SarcRequest{Key: StoreKey(k), Value: []byte(k)})
		require.NoError(t, err)
	}

	end := StoreKey("c")
	out, err := s.Rget(StoreKey("a"), &end, false, true, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", string(out[1].Key), "a right-open end must exclude the end key")
}

func TestRgetLeftOpenExcludesStartKey(t *testing.T) {
	s := newTestSlice(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.Sarc(SarcRequest{Key: StoreKey(k), Value: []byte(k)})
		require.NoError(t, err)
	}

	out, err := s.Rget(StoreKey("b"), nil, true, false, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "c", string(out[0].Key), "a left-open start must exclude the start key itself")
}

func TestRgetLeftOpenOnNonExistentStartIncludesNextKey(t *testing.T) {
	s := newTestSlice(t)
	for _, k := range []string{"a", "c", "e"} {
		_, err := s.Sarc(SarcRequest{Key: StoreKey(k), Value: []byte(k)})
		require.NoError(t, err)
	}

	// "b" isn't stored, so left_open can't exclude anything at the
	// lower bound: the scan still starts at "c".
	out, err := s.Rget(StoreKey("b"), nil, true, false, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", string(out[0].Key))
}

func TestSplitAcrossManySmallWrites(t *testing.T) {
	s := newTestSlice(t)

	const n = 2000
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%06d", i)
		res, err := s.Sarc(SarcRequest{Key: StoreKey(key), Value: []byte("v")})
		require.NoError(t, err)
		require.Equal(t, Stored, res.Outcome)
	}

	for i := 0; i < n; i += 137 {
		key := fmt.Sprintf("key-%06d", i)
		got, err := s.Get(StoreKey(key))
		require.NoError(t, err)
		assert.True(t, got.Found, "key %s should survive splits", key)
	}
}

func TestSplitWithLargeValuesForcesEarlySplit(t *testing.T) {
	s := newTestSlice(t)

	big := make([]byte, 600)
	for i := range big {
		big[i] = byte(i)
	}

	const n = 20
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("bigkey-%03d", i)
		res, err := s.Sarc(SarcRequest{Key: StoreKey(key), Value: big})
		require.NoError(t, err)
		require.Equal(t, Stored, res.Outcome)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("bigkey-%03d", i)
		got, err := s.Get(StoreKey(key))
		require.NoError(t, err)
		require.True(t, got.Found)
		assert.Equal(t, big, got.Entry.Value)
	}
}

func TestReopenExistingSlicePreservesData(t *testing.T) {
	ser := serializer.NewMem()
	s1, err := Create(ser, cache.Config{})
	require.NoError(t, err)

	_, err = s1.Sarc(SarcRequest{Key: StoreKey("persisted"), Value: []byte("yes")})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(ser, cache.Config{})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(StoreKey("persisted"))
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, []byte("yes"), got.Entry.Value)
}
