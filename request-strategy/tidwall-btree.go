package requestStrategy

import (
	"github.com/tidwall/btree"
)

type tidwallBtree struct {
	tree     *btree.BTreeG[PieceOrderItem]
	PathHint *btree.PathHint
}

func (me *tidwallBtree) Scan(f func(PieceOrderItem) bool) {
	me.tree.Scan(f)
}

func NewTidwallBtree() *tidwallBtree {
	return &tidwallBtree{
		tree: btree.NewBTreeGOptions(
			func(a, b PieceOrderItem) bool {
				return a.Less(&b)
			},
			btree.Options{NoLocks: true}),
	}
}

func (me *tidwallBtree) Add(item PieceOrderItem) {
	if _, ok := me.tree.SetHint(item, me.PathHint); ok {
		panic("shouldn't already have this")
	}
}

func (me *tidwallBtree) Delete(item PieceOrderItem) {
	_, deleted := me.tree.DeleteHint(item, me.PathHint)
	if !deleted {
		panic(item)
	}
}
