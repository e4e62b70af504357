package torrent

import (
	"crypto/sha1"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"

	"github.com/peershare/torrent/metainfo"
	"github.com/peershare/torrent/storage"
)

type pieceIndex = int

type pieceValidity int32

const (
	validityUnknown pieceValidity = iota
	validityValid
	validityInvalid
)

func (me pieceValidity) String() string {
	switch me {
	case validityValid:
		return "valid"
	case validityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Piece is a fixed slice of the torrent byte space with its expected hash.
type Piece struct {
	index  pieceIndex
	offset int64
	length int64
	hash   metainfo.Hash

	validity atomic.Int32
	// Held while received data is written and validated.
	writeMu sync.Mutex

	// Guarded by the Torrent mutex.
	availability int
	// Sessions that currently have this piece assigned. More than one only in end-game.
	requesters int
}

func newPiece(mp metainfo.Piece) *Piece {
	return &Piece{
		index:  mp.Index,
		offset: mp.Offset,
		length: mp.Length,
		hash:   mp.Hash,
	}
}

func (p *Piece) String() string {
	return fmt.Sprintf("piece %d", p.index)
}

func (p *Piece) Index() pieceIndex {
	return p.index
}

func (p *Piece) Length() int64 {
	return p.length
}

func (p *Piece) getValidity() pieceValidity {
	return pieceValidity(p.validity.Load())
}

func (p *Piece) setValidity(v pieceValidity) {
	p.validity.Store(int32(v))
}

func (p *Piece) valid() bool {
	return p.getValidity() == validityValid
}

// validate hashes the piece data in storage and records the outcome. In seeder mode the data is
// trusted without reading it.
func (p *Piece) validate(s storage.ByteStorage, seeding bool) (bool, error) {
	if seeding {
		p.setValidity(validityValid)
		return true, nil
	}
	h := sha1.New()
	_, err := io.Copy(h, io.NewSectionReader(s, p.offset, p.length))
	if err != nil {
		return false, fmt.Errorf("reading %v: %w", p, err)
	}
	var sum metainfo.Hash
	h.Sum(sum[:0])
	if sum == p.hash {
		p.setValidity(validityValid)
		pieceHashedCorrect.Inc()
		return true, nil
	}
	p.setValidity(validityInvalid)
	pieceHashedNotCorrect.Inc()
	return false, nil
}

// read returns a block of a piece we have. Asking for data from a piece we don't have is a bug.
func (p *Piece) read(s storage.ByteStorage, off, length int64) ([]byte, error) {
	panicif.False(p.valid())
	panicif.GreaterThan(off+length, p.length)
	b := make([]byte, length)
	_, err := s.ReadAt(b, p.offset+off)
	return b, err
}

// Collects the blocks of one piece download. Each session has its own, so concurrent end-game
// downloads of the same piece don't share a buffer.
type pieceAssembly struct {
	buf      []byte
	received int64
}

// record copies a block into the assembly and reports whether the piece is now fully received.
// Each block must be recorded at most once.
func (p *Piece) record(a *pieceAssembly, block []byte, off int64) (full bool) {
	panicif.GreaterThan(off+int64(len(block)), p.length)
	if a.buf == nil {
		a.buf = make([]byte, p.length)
	}
	copy(a.buf[off:], block)
	a.received += int64(len(block))
	return a.received == p.length
}

// flush writes a complete assembly to storage and releases its buffer.
func (p *Piece) flush(s storage.ByteStorage, a *pieceAssembly) error {
	panicif.NotEq(a.received, p.length)
	_, err := s.WriteAt(a.buf, p.offset)
	a.buf = nil
	a.received = 0
	return err
}
