package serializer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkv/shardkv/internal/serializer"
)

func serializers(t *testing.T) map[string]serializer.Serializer {
	t.Helper()
	bolt, err := serializer.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]serializer.Serializer{
		"mem":  serializer.NewMem(),
		"bolt": bolt,
	}
}

func TestReadOfNeverWrittenBlockIsZeroFilled(t *testing.T) {
	for name, s := range serializers(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.Allocate()
			require.NoError(t, err)

			got, err := s.Read(id)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, serializer.BlockSize), got)
		})
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	for name, s := range serializers(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.Allocate()
			require.NoError(t, err)

			data := make([]byte, serializer.BlockSize)
			copy(data, "hello block")
			require.NoError(t, s.Write(id, data))

			got, err := s.Read(id)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestAllocateReturnsDistinctAscendingIDs(t *testing.T) {
	for name, s := range serializers(t) {
		t.Run(name, func(t *testing.T) {
			a, err := s.Allocate()
			require.NoError(t, err)
			b, err := s.Allocate()
			require.NoError(t, err)
			assert.NotEqual(t, a, b)
			assert.Greater(t, b, a)
		})
	}
}

func TestAllocateNeverReturnsReservedBlockIDs(t *testing.T) {
	for name, s := range serializers(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.Allocate()
			require.NoError(t, err)
			assert.NotEqual(t, serializer.NullBlockID, id)
			assert.NotEqual(t, serializer.SuperblockID, id)
		})
	}
}

func TestBoltWriteRejectsWrongSizedBlock(t *testing.T) {
	s, err := serializer.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Allocate()
	require.NoError(t, err)
	err = s.Write(id, []byte("too short"))
	assert.Error(t, err)
}

func TestBoltReopenPreservesWrittenBlocks(t *testing.T) {
	dir := t.TempDir()

	s, err := serializer.Open(dir)
	require.NoError(t, err)
	id, err := s.Allocate()
	require.NoError(t, err)
	data := bytes.Repeat([]byte{0xAB}, serializer.BlockSize)
	require.NoError(t, s.Write(id, data))
	require.NoError(t, s.Close())

	reopened, err := serializer.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBoltReopenContinuesAllocatorFromHighWaterMark(t *testing.T) {
	dir := t.TempDir()

	s, err := serializer.Open(dir)
	require.NoError(t, err)
	first, err := s.Allocate()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := serializer.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	next, err := reopened.Allocate()
	require.NoError(t, err)
	assert.Greater(t, next, first)
}
