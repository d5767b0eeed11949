// Package btree is the in-memory secondary index over a heap table's
// string-projected column values. It is never written to disk: on
// restart it is rebuilt from a full table scan.
//
// Each node holds a sorted key slice, a parallel entry slice, and a child
// slice; one sync.RWMutex guards the whole tree. This is an order-5 B-Tree (MAX_KEYS=4,
// MIN_KEYS=2) with a pre-emptive split-before-descend insert algorithm,
// not a disk-backed B+Tree: a key's value moves with it when it is
// promoted during a split, so internal nodes carry entries alongside
// their routing keys, not just leaves.
package btree

import (
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/Prabhat2912/mini-database-engine/types"
)

const (
	// MaxKeys is the maximum number of keys a node may hold before it
	// must split. Order 5 means up to 5 children, hence 4 keys.
	MaxKeys = 4
	// MinKeys is the nominal lower bound on keys per non-root node. It is
	// not enforced: splitting a full node at mid = 2 leaves two keys on
	// the left and one on the right, so a non-root node can hold fewer
	// than MinKeys keys even after inserts alone.
	MinKeys = 2
)

// entry is one (key, tuple id) pair. Every key in a node, leaf or
// internal, carries its entry alongside it.
type entry struct {
	key string
	tid types.TupleId
}

// node is one B-Tree node. keys and entries are always parallel; children
// is populated only for internal nodes, with len(children) == len(keys)+1.
type node struct {
	isLeaf   bool
	keys     []string
	entries  []entry
	children []*node
}

// BTree is a single-column secondary index, keyed by types.Value.Stringify().
type BTree struct {
	mu   sync.RWMutex
	root *node
}

// New returns an empty index.
func New() *BTree {
	return &BTree{root: &node{isLeaf: true}}
}

// ErrKeyExists mirrors types.ErrAlreadyExists for duplicate-key inserts:
// this index is unique, rejecting a second tuple under an existing key.
var ErrKeyExists = pkgerrors.Wrap(types.ErrAlreadyExists, "btree: duplicate key")

// Insert adds key -> tid. If key is already present, Insert returns
// ErrKeyExists and leaves the tree unchanged.
func (t *BTree) Insert(key string, tid types.TupleId) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root.isFull() {
		newRoot := &node{isLeaf: false, children: []*node{t.root}}
		newRoot.splitChild(0)
		t.root = newRoot
	}
	return t.root.insertNonFull(key, tid)
}

// Search returns the tuple id stored under key, or (0, false) if absent.
func (t *BTree) Search(key string) (types.TupleId, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.search(key)
}

// Len reports the number of keys currently indexed (computed by an
// in-order walk; the index keeps no running count).
func (t *BTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.count()
}

// Delete removes key from the index, reporting whether it was present.
// An internal-node hit is spliced with its in-order predecessor (the
// rightmost entry of its left child) rather than merged or rebalanced,
// so a node may end up under MinKeys after a delete; nothing in this
// index relies on that bound.
func (t *BTree) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.delete(key)
}

func (n *node) delete(key string) bool {
	i := sort.SearchStrings(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		if n.isLeaf {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return true
		}
		pred := n.children[i].rightmost()
		n.keys[i] = pred.key
		n.entries[i] = pred
		return n.children[i].delete(pred.key)
	}
	if n.isLeaf {
		return false
	}
	return n.children[i].delete(key)
}

// rightmost returns the entry with the greatest key in the subtree
// rooted at n.
func (n *node) rightmost() entry {
	if n.isLeaf {
		return n.entries[len(n.entries)-1]
	}
	return n.children[len(n.children)-1].rightmost()
}

func (n *node) isFull() bool {
	return len(n.keys) >= MaxKeys
}

// search descends from n looking for key. A match at any level — leaf or
// internal — returns immediately, since every node carries the value for
// each of its own keys.
func (n *node) search(key string) (types.TupleId, bool) {
	i := sort.SearchStrings(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return n.entries[i].tid, true
	}
	if n.isLeaf {
		return 0, false
	}
	return n.children[i].search(key)
}

// insertNonFull inserts into n, which the caller guarantees is not full.
// Before descending into a full child, the child is split first
// (pre-emptive split-before-descend), so a single top-down pass never
// needs to split on the way back up.
func (n *node) insertNonFull(key string, tid types.TupleId) error {
	i := sort.SearchStrings(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return ErrKeyExists
	}

	if n.isLeaf {
		n.keys = insertStringAt(n.keys, i, key)
		n.entries = insertEntryAt(n.entries, i, entry{key: key, tid: tid})
		return nil
	}

	if n.children[i].isFull() {
		n.splitChild(i)
		if key == n.keys[i] {
			return ErrKeyExists
		}
		if key > n.keys[i] {
			i++
		}
	}
	return n.children[i].insertNonFull(key, tid)
}

// splitChild splits the full child at index i of n into two nodes. The key
// (and its entry) at mid = len(keys)/2 moves up into n at position i; it is
// not duplicated in either resulting child.
func (n *node) splitChild(i int) {
	child := n.children[i]
	mid := len(child.keys) / 2
	promotedKey := child.keys[mid]
	promotedEntry := child.entries[mid]

	right := &node{isLeaf: child.isLeaf}
	right.keys = append(right.keys, child.keys[mid+1:]...)
	right.entries = append(right.entries, child.entries[mid+1:]...)
	child.keys = child.keys[:mid]
	child.entries = child.entries[:mid]

	if !child.isLeaf {
		right.children = append(right.children, child.children[mid+1:]...)
		child.children = child.children[:mid+1]
	}

	n.keys = insertStringAt(n.keys, i, promotedKey)
	n.entries = insertEntryAt(n.entries, i, promotedEntry)
	n.children = insertNodeAt(n.children, i+1, right)
}

func insertStringAt(s []string, i int, v string) []string {
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertEntryAt(s []entry, i int, v entry) []entry {
	s = append(s, entry{})
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertNodeAt(s []*node, i int, v *node) []*node {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// count walks the subtree rooted at n and returns its key count.
func (n *node) count() int {
	total := len(n.keys)
	for _, c := range n.children {
		total += c.count()
	}
	return total
}
