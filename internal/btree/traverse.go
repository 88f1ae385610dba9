package btree

import (
	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/serializer"
)

// readPath descends from root to the leaf owning key using true
// hand-over-hand locking: a child is locked and loaded before its
// parent's lock is released, but the parent is released as soon as
// the child is safely in hand. Reads never trigger a split, so this
// early release is always safe.
//
// The returned lock/node pair is the leaf; the caller releases it.
func readPath(txn *cache.Transactor, root serializer.BlockID, key StoreKey) (*cache.BufLock, *node, error) {
	lock, err := txn.AcquireBufMode(root, cache.Read)
	if err != nil {
		return nil, nil, err
	}
	n := decodeNode(lock.Buf().ReadData())

	for !n.isLeaf {
		childID := n.children[n.childFor(key)]
		childLock, err := txn.AcquireBufMode(childID, cache.Read)
		if err != nil {
			lock.Release()
			return nil, nil, err
		}
		lock.Release()

		lock = childLock
		n = decodeNode(lock.Buf().ReadData())
	}
	return lock, n, nil
}

// writePath descends from root to the leaf owning key, holding a
// write buf-lock on every node on the path (the conservative
// alternative to tracking "safe" nodes and releasing ancestors once a
// split is ruled out). It returns the full ancestor chain so a split
// can walk back up it, and the caller releases every lock in the
// chain (in any order) once the mutation is complete.
type writePath struct {
	locks []*cache.BufLock
	nodes []*node
}

func (p *writePath) leaf() *node            { return p.nodes[len(p.nodes)-1] }
func (p *writePath) leafLock() *cache.BufLock { return p.locks[len(p.locks)-1] }

func (p *writePath) release() {
	for _, l := range p.locks {
		l.Release()
	}
}

// writeBack re-encodes n into its already-held write lock.
func writeBack(lock *cache.BufLock, n *node) error {
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	copy(lock.Buf().WriteData(), data)
	return nil
}

func walkWritePath(txn *cache.Transactor, root serializer.BlockID, key StoreKey) (*writePath, error) {
	p := &writePath{}
	lock, err := txn.AcquireBufMode(root, cache.Write)
	if err != nil {
		return nil, err
	}
	n := decodeNode(lock.Buf().ReadData())
	p.locks = append(p.locks, lock)
	p.nodes = append(p.nodes, n)

	for !n.isLeaf {
		childID := n.children[n.childFor(key)]
		childLock, err := txn.AcquireBufMode(childID, cache.Write)
		if err != nil {
			p.release()
			return nil, err
		}
		n = decodeNode(childLock.Buf().ReadData())
		p.locks = append(p.locks, childLock)
		p.nodes = append(p.nodes, n)
	}
	return p, nil
}

// splitIfNeeded encodes leaf; if it overflows the block, it splits
// the leaf, allocates a block for the new right sibling, links it
// into the leaf chain, and propagates a separator up through as many
// ancestors on p as necessary (allocating a new root if the root
// itself splits). It always terminates with every node on the
// (possibly extended) path successfully written back.
func splitIfNeeded(txn *cache.Transactor, sb *SuperBlock, sbLock *cache.BufLock, p *writePath) error {
	i := len(p.nodes) - 1
	if err := writeBack(p.locks[i], p.nodes[i]); err == nil {
		return nil
	}

	// leaf overflowed; split and retry writeBack on both halves.
	leaf := p.nodes[i]
	rightLock, err := txn.AllocateBuf()
	if err != nil {
		return err
	}
	right, sepKey := leaf.splitLeaf()
	leaf.nextLeaf = rightLock.Buf().ID()

	if err := writeBack(p.locks[i], leaf); err != nil {
		return err
	}
	if err := writeBack(rightLock, right); err != nil {
		return err
	}

	rightChild := rightLock.Buf().ID()
	rightLock.Release()

	return propagateSplit(txn, sb, sbLock, p, i-1, sepKey, rightChild)
}

// propagateSplit inserts (sepKey, rightChild) into ancestor level idx,
// re-encoding and, on overflow, recursively splitting that ancestor
// too. idx == -1 means the root itself split, so a brand new root is
// allocated and the superblock updated to point at it.
func propagateSplit(txn *cache.Transactor, sb *SuperBlock, sbLock *cache.BufLock, p *writePath, idx int, sepKey StoreKey, rightChild serializer.BlockID) error {
	if idx < 0 {
		newRootLock, err := txn.AllocateBuf()
		if err != nil {
			return err
		}
		newRoot := newInternal(p.locks[0].Buf().ID())
		newRoot.insertSeparator(sepKey, rightChild)
		if err := writeBack(newRootLock, newRoot); err != nil {
			newRootLock.Release()
			return err
		}
		sb.RootBlock = newRootLock.Buf().ID()
		writeSuperBlock(sbLock, *sb)
		newRootLock.Release()
		return nil
	}

	parent := p.nodes[idx]
	parent.insertSeparator(sepKey, rightChild)
	if err := writeBack(p.locks[idx], parent); err == nil {
		return nil
	}

	right, promoted := parent.splitInternal()
	rightLock, err := txn.AllocateBuf()
	if err != nil {
		return err
	}
	if err := writeBack(p.locks[idx], parent); err != nil {
		return err
	}
	if err := writeBack(rightLock, right); err != nil {
		return err
	}
	rightChildID := rightLock.Buf().ID()
	rightLock.Release()

	return propagateSplit(txn, sb, sbLock, p, idx-1, promoted, rightChildID)
}
