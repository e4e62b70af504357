// Package requestStrategy decides which piece to request from a peer.
package requestStrategy

import (
	"iter"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/multiless"
)

type Btree interface {
	Delete(PieceOrderItem)
	Add(PieceOrderItem)
	Scan(func(PieceOrderItem) bool)
}

// PieceOrderItem is a piece and the number of peers known to have it.
type PieceOrderItem struct {
	Index        int
	Availability int
}

// Rarer pieces first, then lower indexes.
func pieceOrderLess(i, j *PieceOrderItem) multiless.Computation {
	return multiless.New().Int(
		i.Availability, j.Availability,
	).Int(
		i.Index, j.Index,
	)
}

func (me *PieceOrderItem) Less(other *PieceOrderItem) bool {
	return pieceOrderLess(me, other).Less()
}

// PieceOrder keeps pieces sorted by rarity. It's not safe for concurrent use.
type PieceOrder struct {
	tree Btree
	keys map[int]int
}

func NewPieceOrder(btree Btree, cap int) *PieceOrder {
	return &PieceOrder{
		tree: btree,
		keys: make(map[int]int, cap),
	}
}

// Returns the old availability if the piece was already present.
func (me *PieceOrder) Add(index, availability int) (old g.Option[int]) {
	if old.Value, old.Ok = me.keys[index]; old.Ok {
		if availability == old.Value {
			return
		}
		me.tree.Delete(PieceOrderItem{index, old.Value})
	}
	me.tree.Add(PieceOrderItem{index, availability})
	me.keys[index] = availability
	return
}

// Update changes the availability of a piece already present.
func (me *PieceOrder) Update(index, availability int) (changed bool) {
	old := me.Add(index, availability)
	if !old.Ok {
		panic("Key should have been added already")
	}
	return old.Value != availability
}

func (me *PieceOrder) Delete(index int) (deleted bool) {
	availability, ok := me.keys[index]
	if !ok {
		return false
	}
	me.tree.Delete(PieceOrderItem{index, availability})
	delete(me.keys, index)
	return true
}

func (me *PieceOrder) Availability(index int) (availability int, ok bool) {
	availability, ok = me.keys[index]
	return
}

func (me *PieceOrder) Len() int {
	return len(me.keys)
}

// Iter yields pieces rarest first.
func (me *PieceOrder) Iter() iter.Seq[PieceOrderItem] {
	return func(yield func(PieceOrderItem) bool) {
		me.tree.Scan(func(item PieceOrderItem) bool {
			return yield(item)
		})
	}
}
