package typedRoaring

import (
	"github.com/RoaringBitmap/roaring"
)

type BitConstraint interface {
	~int | ~uint32
}

// Bitmap is a roaring.Bitmap keyed by T instead of uint32.
type Bitmap[T BitConstraint] struct {
	roaring.Bitmap
}

func (me *Bitmap[T]) Contains(x T) bool {
	return me.Bitmap.Contains(uint32(x))
}

func (me *Bitmap[T]) Iterate(f func(x T) bool) {
	me.Bitmap.Iterate(func(x uint32) bool {
		return f(T(x))
	})
}

func (me *Bitmap[T]) Add(x T) {
	me.Bitmap.Add(uint32(x))
}

func (me *Bitmap[T]) CheckedRemove(x T) bool {
	return me.Bitmap.CheckedRemove(uint32(x))
}

func (me *Bitmap[T]) CheckedAdd(x T) bool {
	return me.Bitmap.CheckedAdd(uint32(x))
}

func (me *Bitmap[T]) Remove(x T) {
	me.Bitmap.Remove(uint32(x))
}

func (me *Bitmap[T]) Len() int {
	return int(me.Bitmap.GetCardinality())
}

// Minimum returns the smallest value. ok is false if the bitmap is empty.
func (me *Bitmap[T]) Minimum() (x T, ok bool) {
	if me.Bitmap.IsEmpty() {
		return
	}
	return T(me.Bitmap.Minimum()), true
}

// AndNot returns me with every value in other removed, leaving me unchanged.
func (me *Bitmap[T]) AndNot(other *Bitmap[T]) Bitmap[T] {
	return Bitmap[T]{*roaring.AndNot(&me.Bitmap, &other.Bitmap)}
}

func (me *Bitmap[T]) ToSlice() (ret []T) {
	ret = make([]T, 0, me.Len())
	me.Iterate(func(x T) bool {
		ret = append(ret, x)
		return true
	})
	return
}
