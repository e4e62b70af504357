package requestStrategy

import (
	"fmt"

	typedRoaring "github.com/peershare/torrent/typed-roaring"
)

// Strategy picks one piece to request out of the interesting set: pieces the peer has that we
// neither have nor have requested elsewhere. Implementations hold no state.
type Strategy interface {
	Choose(order *PieceOrder, interesting *typedRoaring.Bitmap[int], numPieces int) (index int, ok bool)
}

// RarestFirst requests the interesting piece held by the fewest peers, ties broken by lowest
// index.
type RarestFirst struct{}

func (RarestFirst) Choose(order *PieceOrder, interesting *typedRoaring.Bitmap[int], numPieces int) (index int, ok bool) {
	if interesting.IsEmpty() {
		return
	}
	for item := range order.Iter() {
		if interesting.Contains(item.Index) {
			return item.Index, true
		}
	}
	return
}

func (RarestFirst) String() string {
	return "rarest-first"
}

// Sequential requests the lowest interesting index.
type Sequential struct{}

func (Sequential) Choose(order *PieceOrder, interesting *typedRoaring.Bitmap[int], numPieces int) (index int, ok bool) {
	index, ok = interesting.Minimum()
	if ok && index >= numPieces {
		ok = false
	}
	return
}

func (Sequential) String() string {
	return "sequential"
}

// ParseStrategy maps a strategy name to its implementation.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", RarestFirst{}.String():
		return RarestFirst{}, nil
	case Sequential{}.String():
		return Sequential{}, nil
	default:
		return nil, fmt.Errorf("unknown request strategy %q", name)
	}
}
