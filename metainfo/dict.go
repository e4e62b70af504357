package metainfo

import (
	"fmt"

	"github.com/peershare/torrent/bencode"
)

// Reads typed fields out of a bencode dictionary, keeping the first error.
type dictReader struct {
	v   bencode.Value
	ctx string
	err error
}

func (d *dictReader) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, d.ctx, fmt.Sprintf(format, args...))
}

func (d *dictReader) wrap(key string, err error) error {
	return fmt.Errorf("%w: %s: %q: %w", ErrInvalid, d.ctx, key, err)
}

func (d *dictReader) get(key string, required bool) (v bencode.Value, ok bool) {
	if d.err != nil {
		return
	}
	if d.v.Kind() != bencode.DictKind {
		d.err = d.errorf("not a dictionary")
		return
	}
	v, ok = d.v.Get(key)
	if !ok && required {
		d.err = d.errorf("missing %q", key)
	}
	return
}

func (d *dictReader) int(key string, required bool) (i int64) {
	v, ok := d.get(key, required)
	if !ok {
		return
	}
	i, err := v.Int()
	if err != nil {
		d.err = d.wrap(key, err)
	}
	return
}

func (d *dictReader) bytes(key string, required bool) (b []byte) {
	v, ok := d.get(key, required)
	if !ok {
		return
	}
	b, err := v.Bytes()
	if err != nil {
		d.err = d.wrap(key, err)
	}
	return
}

func (d *dictReader) string(key string, required bool) string {
	return string(d.bytes(key, required))
}

func (d *dictReader) list(key string, required bool) (l []bencode.Value) {
	v, ok := d.get(key, required)
	if !ok {
		return
	}
	l, err := v.List()
	if err != nil {
		d.err = d.wrap(key, err)
	}
	return
}
