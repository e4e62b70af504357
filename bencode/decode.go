package bencode

import (
	"bytes"
	"io"
	"strconv"
)

const (
	// Caps byte string allocations when decoding from a stream.
	MaxStringLength = 64 << 20
	maxNestingDepth = 512
)

type decoder struct {
	r *scanner
	// Set when decoding from a complete byte slice, so raw dictionary encodings can be sliced out.
	data   []byte
	Offset int64
	depth  int
	buf    bytes.Buffer
}

func (d *decoder) syntaxError(off int64, what string) error {
	return &SyntaxError{Offset: off, what: what}
}

func (d *decoder) readByte() (b byte, err error) {
	b, err = d.r.ReadByte()
	if err == nil {
		d.Offset++
	}
	return
}

func (d *decoder) unreadByte() {
	if err := d.r.UnreadByte(); err != nil {
		panic(err)
	}
	d.Offset--
}

// Mid-value EOF is malformed input rather than a clean end of stream.
func (d *decoder) eofToSyntax(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return d.syntaxError(d.Offset, "unexpected end of input")
	}
	return err
}

func (d *decoder) decodeTop() (v Value, err error) {
	// A clean EOF before any byte of the value is passed through as io.EOF.
	if _, err = d.readByte(); err != nil {
		return
	}
	d.unreadByte()
	return d.decodeValue()
}

func (d *decoder) decodeValue() (v Value, err error) {
	start := d.Offset
	b, err := d.readByte()
	if err != nil {
		return v, d.eofToSyntax(err)
	}
	switch {
	case b == 'i':
		var i int64
		i, err = d.parseInt(start)
		v = NewInt(i)
	case b >= '0' && b <= '9':
		d.unreadByte()
		var s []byte
		s, err = d.parseString()
		v = NewBytes(s)
	case b == 'l':
		v, err = d.parseList()
	case b == 'd':
		v, err = d.parseDict(start)
	default:
		err = d.syntaxError(start, "unknown value type "+strconv.Quote(string(b)))
	}
	return
}

// Reads bytes up to the delimiter, which is consumed and not returned.
func (d *decoder) readUntil(delim byte) error {
	d.buf.Reset()
	for {
		b, err := d.readByte()
		if err != nil {
			return d.eofToSyntax(err)
		}
		if b == delim {
			return nil
		}
		d.buf.WriteByte(b)
	}
}

func checkDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Called after the leading 'i' has been consumed.
func (d *decoder) parseInt(start int64) (int64, error) {
	if err := d.readUntil('e'); err != nil {
		return 0, err
	}
	s := d.buf.String()
	digits := s
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if !checkDigits(digits) {
		return 0, d.syntaxError(start, "invalid integer "+strconv.Quote(s))
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, d.syntaxError(start, "integer has leading zero")
	}
	if s == "-0" {
		return 0, d.syntaxError(start, "negative zero")
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, d.syntaxError(start, "integer out of range")
	}
	return i, nil
}

func (d *decoder) parseString() ([]byte, error) {
	start := d.Offset
	if err := d.readUntil(':'); err != nil {
		return nil, err
	}
	s := d.buf.String()
	if !checkDigits(s) {
		return nil, d.syntaxError(start, "invalid string length "+strconv.Quote(s))
	}
	if len(s) > 1 && s[0] == '0' {
		return nil, d.syntaxError(start, "string length has leading zero")
	}
	length, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, d.syntaxError(start, "string length out of range")
	}
	if d.data != nil {
		if length > int64(len(d.data))-d.Offset {
			return nil, d.syntaxError(start, "string length exceeds input")
		}
	} else if length > MaxStringLength {
		return nil, d.syntaxError(start, "string too long")
	}
	b := make([]byte, length)
	n, err := io.ReadFull(d.r, b)
	d.Offset += int64(n)
	if err != nil {
		return nil, d.eofToSyntax(err)
	}
	return b, nil
}

func (d *decoder) enter(start int64) error {
	d.depth++
	if d.depth > maxNestingDepth {
		return d.syntaxError(start, "nesting too deep")
	}
	return nil
}

// Returns true if the next byte terminates a list or dictionary, and consumes it.
func (d *decoder) atEnd() (bool, error) {
	b, err := d.readByte()
	if err != nil {
		return false, d.eofToSyntax(err)
	}
	if b == 'e' {
		return true, nil
	}
	d.unreadByte()
	return false, nil
}

func (d *decoder) parseList() (v Value, err error) {
	if err = d.enter(d.Offset - 1); err != nil {
		return
	}
	defer func() { d.depth-- }()
	list := []Value{}
	for {
		var end bool
		end, err = d.atEnd()
		if err != nil {
			return
		}
		if end {
			return NewList(list...), nil
		}
		var elem Value
		elem, err = d.decodeValue()
		if err != nil {
			return
		}
		list = append(list, elem)
	}
}

// Duplicate keys are tolerated, the last one wins. Key order isn't checked, since encoding
// always sorts.
func (d *decoder) parseDict(start int64) (v Value, err error) {
	if err = d.enter(start); err != nil {
		return
	}
	defer func() { d.depth-- }()
	dict := make(map[string]Value)
	for {
		var end bool
		end, err = d.atEnd()
		if err != nil {
			return
		}
		if end {
			break
		}
		keyStart := d.Offset
		var b byte
		b, err = d.readByte()
		if err != nil {
			return v, d.eofToSyntax(err)
		}
		if b < '0' || b > '9' {
			return v, d.syntaxError(keyStart, "dictionary key is not a byte string")
		}
		d.unreadByte()
		var key []byte
		key, err = d.parseString()
		if err != nil {
			return
		}
		var elem Value
		elem, err = d.decodeValue()
		if err != nil {
			return
		}
		dict[string(key)] = elem
	}
	v = NewDict(dict)
	if d.data != nil {
		v.raw = d.data[start:d.Offset:d.Offset]
	}
	return
}
