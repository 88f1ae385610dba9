package serializer

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlocks   = []byte("blocks")
	bucketMetadata = []byte("metadata")
	keyNextBlockID = []byte("next_block_id")
)

// BoltSerializer is a Serializer backed by a single bbolt file: one
// bucket holds block_id -> block bytes, a second tracks the block
// allocator's high-water mark. This plays the role of the teacher's
// BoltStore (pkg/storage/boltdb.go) one level lower: instead of
// JSON-marshalled domain records, it stores opaque fixed-size blocks.
type BoltSerializer struct {
	db *bolt.DB
	mu sync.Mutex
}

// Open opens (creating if absent) a bolt-backed serializer at
// <dataDir>/blocks.db.
func Open(dataDir string) (*BoltSerializer, error) {
	dbPath := filepath.Join(dataDir, "blocks.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("serializer: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlocks); err != nil {
			return fmt.Errorf("create blocks bucket: %w", err)
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMetadata)
		if err != nil {
			return fmt.Errorf("create metadata bucket: %w", err)
		}
		if meta.Get(keyNextBlockID) == nil {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(firstDataBlockID))
			return meta.Put(keyNextBlockID, buf[:])
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSerializer{db: db}, nil
}

// Allocate reserves the next sequential block id.
func (s *BoltSerializer) Allocate() (BlockID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id BlockID
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		raw := meta.Get(keyNextBlockID)
		next := BlockID(binary.BigEndian.Uint64(raw))
		id = next
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(next+1))
		return meta.Put(keyNextBlockID, buf[:])
	})
	return id, err
}

func blockKey(id BlockID) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

// Read returns the bytes stored at id, zero-filled if never written.
func (s *BoltSerializer) Read(id BlockID) ([]byte, error) {
	out := make([]byte, BlockSize)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if data := b.Get(blockKey(id)); data != nil {
			copy(out, data)
		}
		return nil
	})
	return out, err
}

// Write persists data at id.
func (s *BoltSerializer) Write(id BlockID, data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("serializer: write block %d: expected %d bytes, got %d", id, BlockSize, len(data))
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(blockKey(id), data)
	})
}

// Close closes the underlying bolt file.
func (s *BoltSerializer) Close() error {
	return s.db.Close()
}
