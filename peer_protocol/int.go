package peer_protocol

import (
	"encoding/binary"
	"io"
)

// Integer is the 4-byte big-endian integer used for lengths, indexes and offsets on the wire.
type Integer uint32

func (i *Integer) Read(r io.Reader) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	*i = Integer(binary.BigEndian.Uint32(b[:]))
	return nil
}

func (i Integer) Int() int {
	return int(i)
}

func (i Integer) Int64() int64 {
	return int64(i)
}
