// Package storage persists torrent data as a flat byte space spread over files.
package storage

import (
	"errors"
	"io"
)

// Suffix of files that haven't been completely downloaded yet.
const PartialSuffix = ".part"

var (
	// Access past the end of the storage.
	ErrOverrun = errors.New("storage: access beyond end of storage")
	// The backing files returned fewer bytes than the storage claims to hold.
	ErrUnderrun = errors.New("storage: short read from backing file")
	// A file path in the metainfo would escape the destination directory.
	ErrUnsafePath = errors.New("storage: file path escapes destination directory")
)

// ByteStorage is random-access storage of a fixed size. Implementations are safe for concurrent
// use.
type ByteStorage interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	// Finish promotes partial files to their final names. Calling it again is a no-op.
	Finish() error
	Finished() bool
	io.Closer
}
