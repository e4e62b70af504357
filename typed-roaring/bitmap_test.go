package typedRoaring

import (
	"testing"

	"github.com/go-quicktest/qt"
)

type pieceIndex int

func TestTypedBitmap(t *testing.T) {
	var a, b Bitmap[pieceIndex]
	a.Add(1)
	a.Add(5)
	a.Add(9)
	b.Add(5)
	qt.Assert(t, qt.IsTrue(a.Contains(9)))
	qt.Assert(t, qt.IsFalse(a.CheckedAdd(1)))
	qt.Assert(t, qt.Equals(a.Len(), 3))
	d := a.AndNot(&b)
	qt.Assert(t, qt.DeepEquals(d.ToSlice(), []pieceIndex{1, 9}))
	qt.Assert(t, qt.Equals(a.Len(), 3))
	m, ok := d.Minimum()
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(m, pieceIndex(1)))
	var empty Bitmap[pieceIndex]
	_, ok = empty.Minimum()
	qt.Assert(t, qt.IsFalse(ok))

	var got []pieceIndex
	a.Iterate(func(x pieceIndex) bool {
		got = append(got, x)
		return x < 5
	})
	qt.Assert(t, qt.DeepEquals(got, []pieceIndex{1, 5}))
}
