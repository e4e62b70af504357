package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/peershare/torrent/bencode"
	"github.com/peershare/torrent/segments"
)

// Returned, wrapped, for any structurally valid bencode that isn't a valid metainfo.
var ErrInvalid = errors.New("invalid metainfo")

// The info dictionary.
type Info struct {
	PieceLength int64
	// Concatenated 20-byte SHA1 hashes, one per piece.
	Pieces  []byte
	Name    string
	Length  int64      // Mutually exclusive with Files.
	Files   []FileInfo // Mutually exclusive with Length.
	Private bool
}

func (info *Info) IsDir() bool {
	return len(info.Files) != 0
}

// The files field, converted up from the old single-file in the parent info dict if necessary.
// This is a helper to avoid having to conditionally handle single and multi-file torrent infos.
func (info *Info) UpvertedFiles() []FileInfo {
	if len(info.Files) == 0 {
		return []FileInfo{{
			Length: info.Length,
			// Callers should determine that Info.Name is the basename, and
			// thus a regular file.
			Path: nil,
		}}
	}
	return info.Files
}

func (info *Info) TotalLength() (ret int64) {
	for _, fi := range info.UpvertedFiles() {
		ret += fi.Length
	}
	return
}

func (info *Info) NumPieces() int {
	return len(info.Pieces) / HashSize
}

// Length of piece i. Only the last piece may be shorter than PieceLength.
func (info *Info) PieceLen(i int) int64 {
	if i == info.NumPieces()-1 {
		if rem := info.TotalLength() % info.PieceLength; rem != 0 {
			return rem
		}
	}
	return info.PieceLength
}

func (info *Info) Piece(i int) Piece {
	var h Hash
	copy(h[:], info.Pieces[i*HashSize:(i+1)*HashSize])
	return Piece{
		Index:  i,
		Offset: int64(i) * info.PieceLength,
		Length: info.PieceLen(i),
		Hash:   h,
	}
}

// Index of the files in the flat torrent byte space.
func (info *Info) FileSegmentsIndex() segments.Index {
	files := info.UpvertedFiles()
	lengths := make([]segments.Length, 0, len(files))
	for _, fi := range files {
		lengths = append(lengths, fi.Length)
	}
	return segments.NewIndex(lengths)
}

// Sets Pieces by hashing the torrent data read sequentially from r.
func (info *Info) GeneratePieces(r io.Reader) (err error) {
	if info.PieceLength <= 0 {
		return errors.New("piece length must be positive")
	}
	var pieces []byte
	total := info.TotalLength()
	for off := int64(0); off < total; off += info.PieceLength {
		hasher := sha1.New()
		n := min(info.PieceLength, total-off)
		wn, err := io.CopyN(hasher, r, n)
		if err != nil {
			return fmt.Errorf("hashing piece at %d: %w", off, err)
		}
		if wn != n {
			panic(wn)
		}
		pieces = hasher.Sum(pieces)
	}
	info.Pieces = pieces
	return nil
}

// NewFromReader builds a single-file Info from the whole of r.
func NewFromReader(r io.Reader, name string, pieceLength int64) (info Info, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return
	}
	info = Info{
		Name:        name,
		Length:      int64(len(data)),
		PieceLength: pieceLength,
	}
	err = info.GeneratePieces(bytes.NewReader(data))
	return
}

func (info *Info) Validate() error {
	switch {
	case info.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalid)
	case info.PieceLength <= 0:
		return fmt.Errorf("%w: piece length %d", ErrInvalid, info.PieceLength)
	case len(info.Pieces)%HashSize != 0:
		return fmt.Errorf("%w: pieces length %d not a multiple of %d", ErrInvalid, len(info.Pieces), HashSize)
	case info.Length != 0 && len(info.Files) != 0:
		return fmt.Errorf("%w: both length and files present", ErrInvalid)
	case info.Length < 0:
		return fmt.Errorf("%w: negative length", ErrInvalid)
	}
	total := info.TotalLength()
	expected := (total + info.PieceLength - 1) / info.PieceLength
	if int64(info.NumPieces()) != expected {
		return fmt.Errorf(
			"%w: %d piece hashes for %d bytes at piece length %d",
			ErrInvalid, info.NumPieces(), total, info.PieceLength)
	}
	return nil
}

// Value returns the bencode form of the info dictionary.
func (info *Info) Value() bencode.Value {
	d := map[string]bencode.Value{
		"name":         bencode.NewString(info.Name),
		"piece length": bencode.NewInt(info.PieceLength),
		"pieces":       bencode.NewBytes(info.Pieces),
	}
	if info.IsDir() {
		files := make([]bencode.Value, 0, len(info.Files))
		for _, fi := range info.Files {
			files = append(files, fi.toValue())
		}
		d["files"] = bencode.NewList(files...)
	} else {
		d["length"] = bencode.NewInt(info.Length)
	}
	if info.Private {
		d["private"] = bencode.NewInt(1)
	}
	return bencode.NewDict(d)
}

func infoFromValue(v bencode.Value) (info Info, err error) {
	d := dictReader{v: v, ctx: "info"}
	info.Name = d.string("name", true)
	info.PieceLength = d.int("piece length", true)
	info.Pieces = d.bytes("pieces", true)
	info.Private = d.int("private", false) == 1
	if _, ok := d.get("files", false); ok {
		for _, fv := range d.list("files", true) {
			var fi FileInfo
			fi, err = fileInfoFromValue(fv)
			if err != nil {
				return
			}
			info.Files = append(info.Files, fi)
		}
		if d.err == nil && len(info.Files) == 0 {
			d.err = d.errorf("empty files list")
		}
	} else {
		info.Length = d.int("length", true)
	}
	if err = d.err; err != nil {
		return
	}
	err = info.Validate()
	return
}
