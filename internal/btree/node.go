package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/shardkv/shardkv/internal/serializer"
)

// errNodeTooBig signals that a mutated node no longer fits in one
// block and must be split before being written back.
var errNodeTooBig = errors.New("btree: node exceeds block size")

// leafEntry is one key's stored value and metadata within a leaf.
type leafEntry struct {
	key     StoreKey
	value   []byte
	flags   uint32
	exptime int64
	cas     CasTime
}

// node is the decoded in-memory form of one B-tree block: either a
// leaf holding key/value entries, or an internal node holding
// separator keys and child pointers.
//
// Leaf entries are sorted ascending by key. An internal node with n
// keys has n+1 children: children[i] holds every key < keys[i]
// (children[n] holds every key >= keys[n-1]).
type node struct {
	isLeaf   bool
	entries  []leafEntry          // leaf only
	nextLeaf serializer.BlockID   // leaf only: right sibling, for rget chaining
	keys     []StoreKey           // internal only
	children []serializer.BlockID // internal only, len(children) == len(keys)+1
}

func newLeaf() *node {
	return &node{isLeaf: true, nextLeaf: serializer.NullBlockID}
}

func newInternal(leftChild serializer.BlockID) *node {
	return &node{isLeaf: false, children: []serializer.BlockID{leftChild}}
}

// findEntry returns the index of key within a leaf's sorted entries,
// and whether it was found exactly.
func (n *node) findEntry(key StoreKey) (int, bool) {
	i := sort.Search(len(n.entries), func(i int) bool {
		return !n.entries[i].key.less(key)
	})
	if i < len(n.entries) && n.entries[i].key.equal(key) {
		return i, true
	}
	return i, false
}

// childFor returns the index of the child that owns key in an
// internal node.
func (n *node) childFor(key StoreKey) int {
	i := sort.Search(len(n.keys), func(i int) bool {
		return key.less(n.keys[i])
	})
	return i
}

// insertLeaf inserts or overwrites an entry and reports whether it was
// an overwrite (for CAS/replace bookkeeping).
func (n *node) insertLeaf(e leafEntry) (overwrote bool) {
	i, found := n.findEntry(e.key)
	if found {
		n.entries[i] = e
		return true
	}
	n.entries = append(n.entries, leafEntry{})
	copy(n.entries[i+1:], n.entries[i:])
	n.entries[i] = e
	return false
}

func (n *node) removeLeaf(key StoreKey) bool {
	i, found := n.findEntry(key)
	if !found {
		return false
	}
	n.entries = append(n.entries[:i], n.entries[i+1:]...)
	return true
}

// insertSeparator inserts a new (separatorKey, rightChild) pair at the
// position implied by separatorKey's order.
func (n *node) insertSeparator(key StoreKey, rightChild serializer.BlockID) {
	i := n.childFor(key)
	n.keys = append(n.keys, StoreKey{})
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key

	n.children = append(n.children, serializer.NullBlockID)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = rightChild
}

// splitLeaf splits n in half, returning the new right sibling and the
// separator key (the right sibling's first key).
func (n *node) splitLeaf() (*node, StoreKey) {
	mid := len(n.entries) / 2
	right := &node{isLeaf: true, nextLeaf: n.nextLeaf}
	right.entries = append(right.entries, n.entries[mid:]...)
	n.entries = n.entries[:mid:mid]
	return right, right.entries[0].key
}

// splitInternal splits n in half, returning the new right sibling and
// the separator key promoted to the parent (which is not present in
// either child afterward, per classic B-tree split).
func (n *node) splitInternal() (*node, StoreKey) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]

	right := &node{isLeaf: false}
	right.keys = append(right.keys, n.keys[mid+1:]...)
	right.children = append(right.children, n.children[mid+1:]...)

	n.keys = n.keys[:mid:mid]
	n.children = n.children[:mid+1 : mid+1]
	return right, sep
}

// --- encode/decode ---

func encodeNode(n *node) ([]byte, error) {
	var buf bytes.Buffer
	if n.isLeaf {
		buf.WriteByte(1)
		writeU64(&buf, uint64(n.nextLeaf))
		writeU16(&buf, uint16(len(n.entries)))
		for _, e := range n.entries {
			buf.WriteByte(byte(len(e.key)))
			buf.Write(e.key)
			writeU32(&buf, uint32(len(e.value)))
			buf.Write(e.value)
			writeU32(&buf, e.flags)
			writeI64(&buf, e.exptime)
			writeI64(&buf, e.cas.Timestamp)
			writeU64(&buf, e.cas.Counter)
		}
	} else {
		buf.WriteByte(0)
		writeU64(&buf, uint64(n.children[0]))
		writeU16(&buf, uint16(len(n.keys)))
		for i, k := range n.keys {
			buf.WriteByte(byte(len(k)))
			buf.Write(k)
			writeU64(&buf, uint64(n.children[i+1]))
		}
	}
	if buf.Len() > serializer.BlockSize {
		return nil, errNodeTooBig
	}
	out := make([]byte, serializer.BlockSize)
	copy(out, buf.Bytes())
	return out, nil
}

func decodeNode(data []byte) *node {
	r := bytes.NewReader(data)
	isLeaf, _ := r.ReadByte()
	next := readU64(r)
	count := readU16(r)

	if isLeaf == 1 {
		n := &node{isLeaf: true, nextLeaf: serializer.BlockID(next)}
		n.entries = make([]leafEntry, count)
		for i := range n.entries {
			klen, _ := r.ReadByte()
			key := make([]byte, klen)
			r.Read(key)
			vlen := readU32(r)
			value := make([]byte, vlen)
			r.Read(value)
			flags := readU32(r)
			exptime := readI64(r)
			ts := readI64(r)
			ctr := readU64(r)
			n.entries[i] = leafEntry{
				key: key, value: value, flags: flags, exptime: exptime,
				cas: CasTime{Timestamp: ts, Counter: ctr},
			}
		}
		return n
	}

	n := &node{isLeaf: false}
	n.children = append(n.children, serializer.BlockID(next))
	n.keys = make([]StoreKey, count)
	for i := range n.keys {
		klen, _ := r.ReadByte()
		key := make([]byte, klen)
		r.Read(key)
		child := readU64(r)
		n.keys[i] = key
		n.children = append(n.children, serializer.BlockID(child))
	}
	return n
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
func writeI64(buf *bytes.Buffer, v int64) { writeU64(buf, uint64(v)) }

func readU16(r *bytes.Reader) uint16 {
	var b [2]byte
	r.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}
func readU32(r *bytes.Reader) uint32 {
	var b [4]byte
	r.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
func readU64(r *bytes.Reader) uint64 {
	var b [8]byte
	r.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
func readI64(r *bytes.Reader) int64 { return int64(readU64(r)) }
