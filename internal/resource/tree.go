package resource

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
)

// btreeDegree is the node fan-out of the asset index
const btreeDegree = 16

// hashName folds the 64-bit xxhash of an asset name to the 32-bit node key.
func hashName(name string) uint32 {
	h := xxhash.Sum64String(name)
	return uint32(h) ^ uint32(h>>32)
}

// nodeTree indexes asset nodes by name hash. Callers hold Manager.treeMu.
type nodeTree struct {
	t *btree.BTreeG[*assetNode]
}

func newNodeTree() *nodeTree {
	return &nodeTree{
		t: btree.NewG(btreeDegree, func(a, b *assetNode) bool { return a.hash < b.hash }),
	}
}

func (t *nodeTree) get(hash uint32) (*assetNode, bool) {
	return t.t.Get(&assetNode{hash: hash})
}

func (t *nodeTree) insert(n *assetNode) {
	t.t.ReplaceOrInsert(n)
}

func (t *nodeTree) remove(n *assetNode) {
	t.t.Delete(n)
}

func (t *nodeTree) len() int {
	return t.t.Len()
}

// each visits nodes in key order until fn returns false.
func (t *nodeTree) each(fn func(*assetNode) bool) {
	t.t.Ascend(fn)
}

func (t *nodeTree) clear() {
	t.t.Clear(false)
}
