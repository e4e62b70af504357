package infohash

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

const Size = sha1.Size

// T identifies a torrent by the SHA-1 of its info dictionary. Piece hashes use the same type.
type T [Size]byte

func HashBytes(b []byte) T {
	return sha1.Sum(b)
}

// Parse reads the 40 hex digit form.
func Parse(s string) (t T, err error) {
	if len(s) != 2*Size {
		err = fmt.Errorf("info hash %q: want %d hex digits", s, 2*Size)
		return
	}
	_, err = hex.Decode(t[:], []byte(s))
	return
}

func (t T) HexString() string {
	return hex.EncodeToString(t[:])
}

func (t T) String() string {
	return t.HexString()
}

// ShortString is a prefix for log names.
func (t T) ShortString() string {
	return t.HexString()[:8]
}

func (t T) MarshalText() ([]byte, error) {
	return []byte(t.HexString()), nil
}

func (t *T) UnmarshalText(b []byte) (err error) {
	*t, err = Parse(string(b))
	return
}
