package bencode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

//----------------------------------------------------------------------------
// Errors
//----------------------------------------------------------------------------

// Returned when a Value is accessed as a kind it doesn't hold.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return "bencode: value of kind " + e.Got.String() + " accessed as " + e.Want.String()
}

type SyntaxError struct {
	Offset int64  // location of the error
	what   string // error description
}

func (e *SyntaxError) Error() string {
	return "bencode: syntax error (offset: " +
		strconv.FormatInt(e.Offset, 10) +
		"): " + e.what
}

// Returned by Unmarshal when the data holds more than a single value.
type ErrUnusedTrailingBytes struct {
	NumUnusedBytes int
}

func (me ErrUnusedTrailingBytes) Error() string {
	return fmt.Sprintf("%d unused trailing bytes", me.NumUnusedBytes)
}

// Returned when encoding the zero Value.
var ErrInvalidValue = errors.New("bencode: cannot encode invalid value")

//----------------------------------------------------------------------------
// Stateless interface
//----------------------------------------------------------------------------

func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	e := encoder{Writer: bufio.NewWriter(&buf)}
	err := e.encode(v)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func MustMarshal(v Value) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Unmarshal decodes exactly one value from data. Dictionaries keep a reference to their raw
// encoding in data, see Value.Raw.
func Unmarshal(data []byte) (v Value, err error) {
	d := decoder{r: &scanner{Reader: bytes.NewReader(data)}, data: data}
	v, err = d.decodeTop()
	if err != nil {
		if err == io.EOF {
			err = &SyntaxError{0, "empty input"}
		}
		return
	}
	if d.Offset != int64(len(data)) {
		err = ErrUnusedTrailingBytes{len(data) - int(d.Offset)}
	}
	return
}

//----------------------------------------------------------------------------
// Stateful interface
//----------------------------------------------------------------------------

type Decoder struct {
	d decoder
	// Bytes consumed from the underlying reader so far.
	Offset int64
}

// Only as much of r as is needed for each value is consumed.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{d: decoder{r: &scanner{Reader: r}}}
}

// Decode reads the next value. io.EOF is returned if the input ends cleanly between values.
func (d *Decoder) Decode() (v Value, err error) {
	v, err = d.d.decodeTop()
	d.Offset = d.d.Offset
	return
}

type Encoder struct {
	e encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{encoder{Writer: bufio.NewWriter(w)}}
}

func (e *Encoder) Encode(v Value) error {
	return e.e.encode(v)
}
