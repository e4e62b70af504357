package metainfo

import "fmt"

// Location and expected hash of a piece in the torrent byte space.
type Piece struct {
	Index  int
	Offset int64
	Length int64
	Hash   Hash
}

func (p Piece) String() string {
	return fmt.Sprintf("piece %d (%d bytes at %d)", p.Index, p.Length, p.Offset)
}
