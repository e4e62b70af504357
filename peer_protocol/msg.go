package peer_protocol

import (
	"bufio"
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
)

// This is a lazy union representing all the possible fields for messages. Go doesn't have ADTs, and
// I didn't choose to use type-assertions.
type Message struct {
	Piece                []byte
	Bitfield             []bool
	Index, Begin, Length Integer
	Type                 MessageType
	Keepalive            bool
}

var _ interface {
	encoding.BinaryUnmarshaler
	encoding.BinaryMarshaler
} = (*Message)(nil)

func MakeHaveMessage(piece Integer) Message {
	return Message{
		Type:  Have,
		Index: piece,
	}
}

func MakeRequestMessage(piece, offset, length Integer) Message {
	return Message{
		Type:   Request,
		Index:  piece,
		Begin:  offset,
		Length: length,
	}
}

func MakeCancelMessage(piece, offset, length Integer) Message {
	return Message{
		Type:   Cancel,
		Index:  piece,
		Begin:  offset,
		Length: length,
	}
}

func MakePieceMessage(piece, offset Integer, data []byte) Message {
	return Message{
		Type:  Piece,
		Index: piece,
		Begin: offset,
		Piece: data,
	}
}

func MakeBitfieldMessage(bf []bool) Message {
	return Message{
		Type:     Bitfield,
		Bitfield: bf,
	}
}

// The block a Request, Cancel or Piece message refers to.
type RequestSpec struct {
	Index, Begin, Length Integer
}

func (me RequestSpec) String() string {
	return fmt.Sprintf("{%d %d %d}", me.Index, me.Begin, me.Length)
}

func (msg Message) RequestSpec() (ret RequestSpec) {
	return RequestSpec{
		msg.Index,
		msg.Begin,
		func() Integer {
			if msg.Type == Piece {
				return Integer(len(msg.Piece))
			} else {
				return msg.Length
			}
		}(),
	}
}

func (msg Message) String() string {
	if msg.Keepalive {
		return "Keepalive"
	}
	switch msg.Type {
	case Have:
		return fmt.Sprintf("Have(%d)", msg.Index)
	case Request, Cancel, Piece:
		return fmt.Sprintf("%v%v", msg.Type, msg.RequestSpec())
	case Bitfield:
		return fmt.Sprintf("Bitfield(%d bits)", len(msg.Bitfield))
	default:
		return msg.Type.String()
	}
}

func (msg Message) MustMarshalBinary() []byte {
	b, err := msg.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// Writes the message body, without the length prefix.
func (msg Message) WriteTo(w io.Writer) (n int64, err error) {
	dw := newDataWriter(w)
	defer func() {
		n = dw.n
	}()
	err = dw.WriteByte(byte(msg.Type))
	if err != nil {
		return
	}
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		err = dw.BinaryWrite(msg.Index)
	case Request, Cancel:
		for _, i := range []Integer{msg.Index, msg.Begin, msg.Length} {
			err = dw.BinaryWrite(i)
			if err != nil {
				break
			}
		}
	case Bitfield:
		_, err = dw.Write(MarshalBitfield(msg.Bitfield))
	case Piece:
		for _, i := range []Integer{msg.Index, msg.Begin} {
			err = dw.BinaryWrite(i)
			if err != nil {
				return
			}
		}
		_, err = dw.Write(msg.Piece)
	default:
		err = fmt.Errorf("unknown message type: %v", msg.Type)
	}
	return
}

func (msg Message) MarshalBinary() (data []byte, err error) {
	var buf bytes.Buffer
	if !msg.Keepalive {
		_, err = msg.WriteTo(&buf)
		if err != nil {
			return
		}
	}
	data = make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(data, uint32(buf.Len()))
	if buf.Len() != copy(data[4:], buf.Bytes()) {
		panic("bad copy")
	}
	return
}

func (me *Message) UnmarshalBinary(b []byte) error {
	d := Decoder{
		R:         bufio.NewReader(bytes.NewReader(b)),
		MaxLength: Integer(len(b)),
	}
	err := d.Decode(me)
	if err != nil {
		return err
	}
	if d.R.Buffered() != 0 {
		return fmt.Errorf("%d trailing bytes", d.R.Buffered())
	}
	return nil
}

// Packs bits most significant first. Spare bits in the last byte are zero.
func MarshalBitfield(bf []bool) (b []byte) {
	b = make([]byte, (len(bf)+7)/8)
	for i, have := range bf {
		if !have {
			continue
		}
		b[i/8] |= 1 << uint(7-i%8)
	}
	return
}

func unmarshalBitfield(b []byte) (bf []bool) {
	bf = make([]bool, 0, len(b)*8)
	for _, c := range b {
		for i := 7; i >= 0; i-- {
			bf = append(bf, (c>>uint(i))&1 == 1)
		}
	}
	return
}

type dataWriter struct {
	writer io.Writer
	n      int64
}

func newDataWriter(w io.Writer) *dataWriter {
	return &dataWriter{writer: w}
}

func (d *dataWriter) BinaryWrite(data Integer) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(data))
	_, err := d.Write(b[:])
	return err
}

func (d *dataWriter) Write(b []byte) (int, error) {
	n, err := d.writer.Write(b)
	d.n += int64(n)
	return n, err
}

func (d *dataWriter) WriteByte(b byte) error {
	_, err := d.Write([]byte{b})
	return err
}
