package peer_protocol

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var ErrMessageTooLong = errors.New("message too long")

type Decoder struct {
	R *bufio.Reader
	// Frame lengths beyond this are rejected before reading the body. It doesn't include the
	// length prefix.
	MaxLength Integer
}

// io.EOF is returned if the source terminates cleanly on a message boundary.
func (d *Decoder) Decode(msg *Message) (err error) {
	*msg = Message{}
	var length Integer
	err = length.Read(d.R)
	if err != nil {
		if err == io.EOF {
			return
		}
		return fmt.Errorf("reading message length: %w", err)
	}
	if length > d.MaxLength {
		return errors.Wrapf(ErrMessageTooLong, "length %d exceeds %d", length, d.MaxLength)
	}
	if length == 0 {
		msg.Keepalive = true
		return
	}
	r := d.R
	// From this point onwards, EOF is unexpected
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()
	c, err := r.ReadByte()
	if err != nil {
		return
	}
	length--
	msg.Type = MessageType(c)
	checkLen := func(expected Integer) error {
		if length != expected {
			return fmt.Errorf("%v message has %d bytes of payload, expected %d", msg.Type, length, expected)
		}
		return nil
	}
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
		err = checkLen(0)
	case Have:
		if err = checkLen(4); err != nil {
			return
		}
		err = msg.Index.Read(r)
	case Request, Cancel:
		if err = checkLen(12); err != nil {
			return
		}
		for _, data := range []*Integer{&msg.Index, &msg.Begin, &msg.Length} {
			err = data.Read(r)
			if err != nil {
				return
			}
		}
	case Bitfield:
		b := make([]byte, length)
		_, err = io.ReadFull(r, b)
		msg.Bitfield = unmarshalBitfield(b)
	case Piece:
		if length < 8 {
			return fmt.Errorf("piece message has %d bytes of payload", length)
		}
		for _, pi := range []*Integer{&msg.Index, &msg.Begin} {
			err = pi.Read(r)
			if err != nil {
				return
			}
		}
		msg.Piece = make([]byte, length-8)
		_, err = io.ReadFull(r, msg.Piece)
	default:
		err = fmt.Errorf("unknown message type %#v", c)
	}
	return
}
