package metainfo

import (
	"github.com/peershare/torrent/types/infohash"
)

// Hash is the SHA-1 of an info dictionary or a piece.
type Hash = infohash.T

const HashSize = infohash.Size

func HashBytes(b []byte) Hash {
	return infohash.HashBytes(b)
}
