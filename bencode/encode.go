package bencode

import (
	"bufio"
	"strconv"
)

type encoder struct {
	*bufio.Writer
	scratch [64]byte
}

func (e *encoder) encode(v Value) (err error) {
	err = e.reflectValue(v)
	if err != nil {
		return
	}
	return e.Flush()
}

func (e *encoder) writeInt(i int64) {
	b := strconv.AppendInt(e.scratch[:0], i, 10)
	e.Write(b)
}

func (e *encoder) writeBytes(b []byte) {
	e.writeInt(int64(len(b)))
	e.WriteByte(':')
	e.Write(b)
}

// bufio.Writer errors are sticky and surface on Flush.
func (e *encoder) reflectValue(v Value) error {
	switch v.kind {
	case BytesKind:
		e.writeBytes(v.bytes)
	case IntKind:
		e.WriteByte('i')
		e.writeInt(v.int)
		e.WriteByte('e')
	case ListKind:
		e.WriteByte('l')
		for _, elem := range v.list {
			if err := e.reflectValue(elem); err != nil {
				return err
			}
		}
		e.WriteByte('e')
	case DictKind:
		e.WriteByte('d')
		for _, key := range v.Keys() {
			e.writeBytes([]byte(key))
			if err := e.reflectValue(v.dict[key]); err != nil {
				return err
			}
		}
		e.WriteByte('e')
	default:
		return ErrInvalidValue
	}
	return nil
}
