package segments

import (
	"sort"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
)

func NewIndex(lengths []Length) (ret Index) {
	var start Length
	for _, l := range lengths {
		panicif.LessThan(l, 0)
		ret.segments = append(ret.segments, Extent{start, l})
		start += l
	}
	return
}

type Index struct {
	segments []Extent
}

func (me Index) Len() int {
	return len(me.segments)
}

func (me Index) Index(i int) Extent {
	return me.segments[i]
}

// Sum of all segment lengths.
func (me Index) TotalLength() Length {
	if len(me.segments) == 0 {
		return 0
	}
	return me.segments[len(me.segments)-1].End()
}

// Locate calls output for every non-empty segment overlapping e, in order. It returns true if the
// callback stopped early, or the segments covered all of e. Zero-length segments are never
// reported.
func (me Index) Locate(e Extent, output Callback) bool {
	if e.Start < 0 {
		return false
	}
	first := sort.Search(len(me.segments), func(i int) bool {
		return me.segments[i].End() > e.Start
	})
	for i := first; i < len(me.segments) && e.Length > 0; i++ {
		seg := me.segments[i]
		if seg.Length == 0 {
			continue
		}
		rel := Extent{Start: e.Start - seg.Start}
		rel.Length = min(seg.Length-rel.Start, e.Length)
		if !output(i, rel) {
			return true
		}
		e.Start += rel.Length
		e.Length -= rel.Length
	}
	return e.Length == 0
}

type IndexAndOffset struct {
	Index  int
	Offset int64
}

// Returns the segment containing the given offset, if any.
func (me Index) LocateOffset(off int64) (ret g.Option[IndexAndOffset]) {
	me.Locate(Extent{off, 1}, func(i int, e Extent) bool {
		ret.Set(IndexAndOffset{
			Index:  i,
			Offset: e.Start,
		})
		return false
	})
	return
}
