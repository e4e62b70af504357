package bencode

import (
	"bytes"
	"fmt"
	"sort"
)

// Kind identifies which of the four bencode types a Value holds.
type Kind int

const (
	invalidKind Kind = iota
	BytesKind
	IntKind
	ListKind
	DictKind
)

func (k Kind) String() string {
	switch k {
	case BytesKind:
		return "bytes"
	case IntKind:
		return "int"
	case ListKind:
		return "list"
	case DictKind:
		return "dict"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a decoded bencode value. The zero Value is invalid and can't be encoded.
type Value struct {
	kind  Kind
	bytes []byte
	int   int64
	list  []Value
	dict  map[string]Value
	// The exact input bytes this value was decoded from, when decoded from a byte slice.
	raw []byte
}

func NewBytes(b []byte) Value {
	return Value{kind: BytesKind, bytes: b}
}

func NewString(s string) Value {
	return NewBytes([]byte(s))
}

func NewInt(i int64) Value {
	return Value{kind: IntKind, int: i}
}

func NewList(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: ListKind, list: vs}
}

func NewDict(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{kind: DictKind, dict: m}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsValid() bool {
	return v.kind != invalidKind
}

func (v Value) typeError(want Kind) error {
	return &TypeError{Want: want, Got: v.kind}
}

func (v Value) Bytes() ([]byte, error) {
	if v.kind != BytesKind {
		return nil, v.typeError(BytesKind)
	}
	return v.bytes, nil
}

// String returns the byte string as a Go string. Use Bytes for binary data.
func (v Value) String() (string, error) {
	b, err := v.Bytes()
	return string(b), err
}

func (v Value) Int() (int64, error) {
	if v.kind != IntKind {
		return 0, v.typeError(IntKind)
	}
	return v.int, nil
}

func (v Value) List() ([]Value, error) {
	if v.kind != ListKind {
		return nil, v.typeError(ListKind)
	}
	return v.list, nil
}

func (v Value) Dict() (map[string]Value, error) {
	if v.kind != DictKind {
		return nil, v.typeError(DictKind)
	}
	return v.dict, nil
}

// Get looks up key in a dictionary value. ok is false if v isn't a dictionary or the key is
// missing.
func (v Value) Get(key string) (ret Value, ok bool) {
	if v.kind != DictKind {
		return
	}
	ret, ok = v.dict[key]
	return
}

// Raw returns the exact encoding the value was decoded from, or nil if the value was constructed
// or decoded from a stream.
func (v Value) Raw() []byte {
	return v.raw
}

// Keys returns dictionary keys in encoding order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.dict))
	for k := range v.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal compares values structurally. Raw encodings are ignored.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case BytesKind:
		return bytes.Equal(v.bytes, other.bytes)
	case IntKind:
		return v.int == other.int
	case ListKind:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case DictKind:
		if len(v.dict) != len(other.dict) {
			return false
		}
		for k, a := range v.dict {
			b, ok := other.dict[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) GoString() string {
	switch v.kind {
	case BytesKind:
		return fmt.Sprintf("%q", v.bytes)
	case IntKind:
		return fmt.Sprintf("%d", v.int)
	case ListKind:
		return fmt.Sprintf("%#v", v.list)
	case DictKind:
		return fmt.Sprintf("%#v", v.dict)
	default:
		return "<invalid>"
	}
}
