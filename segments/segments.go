// Package segments maps extents of a flat byte space onto an ordered list of contiguous segments,
// such as the files of a torrent.
package segments

type Int = int64

type Length = Int

type Extent struct {
	Start, Length Int
}

func (e Extent) End() Int {
	return e.Start + e.Length
}

// Receives the segment index and the part of the needle that falls in it, relative to the start
// of the segment. Returning false stops the scan.
type Callback = func(segmentIndex int, segmentBounds Extent) bool
