package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/serializer"
)

// ExpectedMagic identifies a valid shardkv superblock.
const ExpectedMagic uint32 = 0x534b5631 // "SKV1"

// SuperBlock is persisted in block serializer.SuperblockID (spec
// section 6, "Superblock layout"):
//
//	magic       : u32
//	root_block  : u64   // NullBlockID if the tree is empty
type SuperBlock struct {
	Magic     uint32
	RootBlock serializer.BlockID
}

// Validate checks the superblock invariant: magic matches and
// root_block is either NullBlockID or presumed valid (block-level
// validity is enforced by the traversal itself).
func (s SuperBlock) Validate() error {
	if s.Magic != ExpectedMagic {
		return fmt.Errorf("btree: superblock magic mismatch: got %#x want %#x", s.Magic, ExpectedMagic)
	}
	return nil
}

func encodeSuperBlock(s SuperBlock) []byte {
	buf := make([]byte, serializer.BlockSize)
	binary.BigEndian.PutUint32(buf[0:4], s.Magic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(s.RootBlock))
	return buf
}

func decodeSuperBlock(buf []byte) SuperBlock {
	return SuperBlock{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		RootBlock: serializer.BlockID(binary.BigEndian.Uint64(buf[4:12])),
	}
}

// readSuperBlock reads and validates the superblock through txn.
func readSuperBlock(txn *cache.Transactor) (SuperBlock, *cache.BufLock, error) {
	lock, err := txn.AcquireBufMode(serializer.SuperblockID, txn.Mode())
	if err != nil {
		return SuperBlock{}, nil, err
	}
	sb := decodeSuperBlock(lock.Buf().ReadData())
	if err := sb.Validate(); err != nil {
		lock.Release()
		return SuperBlock{}, nil, err
	}
	return sb, lock, nil
}

// writeSuperBlock overwrites the superblock's root pointer. The lock
// must have been acquired in write mode.
func writeSuperBlock(lock *cache.BufLock, sb SuperBlock) {
	copy(lock.Buf().WriteData(), encodeSuperBlock(sb))
}
