package cache

import (
	"sync"

	"github.com/google/btree"
)

// dirtySet orders the write-back cache's dirty blocks by id so the
// flusher drains them in ascending order, which is friendlier to the
// underlying serializer's sequential write path than an unordered
// set would be.
type dirtySet struct {
	mu   sync.Mutex
	tree *btree.BTree
}

type blockIDItem BlockID

func (a blockIDItem) Less(than btree.Item) bool {
	return a < than.(blockIDItem)
}

func newDirtySet() *dirtySet {
	return &dirtySet{tree: btree.New(32)}
}

func (d *dirtySet) add(id BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tree.ReplaceOrInsert(blockIDItem(id))
}

func (d *dirtySet) remove(id BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tree.Delete(blockIDItem(id))
}

// count returns the number of blocks currently marked dirty.
func (d *dirtySet) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tree.Len()
}

// drain removes and returns every dirty block id in ascending order.
func (d *dirtySet) drain() []BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BlockID, 0, d.tree.Len())
	d.tree.Ascend(func(item btree.Item) bool {
		out = append(out, BlockID(item.(blockIDItem)))
		return true
	})
	d.tree.Clear(false)
	return out
}
