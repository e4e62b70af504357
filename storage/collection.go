package storage

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/peershare/torrent/metainfo"
	"github.com/peershare/torrent/segments"
)

// Collection presents an ordered list of files as one contiguous ByteStorage.
type Collection struct {
	files []*FileStorage
	index segments.Index
}

var _ ByteStorage = (*Collection)(nil)

func NewCollection(files []*FileStorage) *Collection {
	lengths := make([]segments.Length, 0, len(files))
	for _, f := range files {
		lengths = append(lengths, f.Size())
	}
	return &Collection{
		files: files,
		index: segments.NewIndex(lengths),
	}
}

// ToSafeFilePath joins path components, failing if the result would leave the directory it's
// joined to.
func ToSafeFilePath(elem ...string) (string, error) {
	p := filepath.Join(elem...)
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, elem)
	}
	return p, nil
}

// OpenTorrent opens or creates the files of a torrent under dir. Single-file torrents are stored
// at dir/name, multi-file torrents under dir/name/.
func OpenTorrent(fs afero.Fs, dir string, info *metainfo.Info) (_ *Collection, err error) {
	var files []*FileStorage
	defer func() {
		if err != nil {
			for _, f := range files {
				f.Close()
			}
		}
	}()
	for _, fi := range info.UpvertedFiles() {
		var rel string
		rel, err = ToSafeFilePath(append([]string{info.Name}, fi.Path...)...)
		if err != nil {
			return
		}
		var f *FileStorage
		f, err = OpenFile(fs, filepath.Join(dir, rel), fi.Length)
		if err != nil {
			return
		}
		files = append(files, f)
	}
	return NewCollection(files), nil
}

func (me *Collection) Files() []*FileStorage {
	return me.files
}

func (me *Collection) Size() int64 {
	return me.index.TotalLength()
}

func (me *Collection) checkBounds(n int, off int64) error {
	if off < 0 || off+int64(n) > me.Size() {
		return fmt.Errorf("%w: %d bytes at %d of %d", ErrOverrun, n, off, me.Size())
	}
	return nil
}

// Applies op to each file region overlapping the extent, in order.
func (me *Collection) forEach(
	p []byte,
	off int64,
	op func(f *FileStorage, b []byte, off int64) (int, error),
) (n int, err error) {
	if err = me.checkBounds(len(p), off); err != nil {
		return
	}
	covered := me.index.Locate(segments.Extent{Start: off, Length: int64(len(p))}, func(i int, e segments.Extent) bool {
		var m int
		m, err = op(me.files[i], p[n:n+int(e.Length)], e.Start)
		n += m
		return err == nil
	})
	if err == nil && (!covered || n != len(p)) {
		err = fmt.Errorf("%w: %d of %d bytes at %d", ErrUnderrun, n, len(p), off)
	}
	return
}

func (me *Collection) ReadAt(p []byte, off int64) (int, error) {
	return me.forEach(p, off, (*FileStorage).ReadAt)
}

func (me *Collection) WriteAt(p []byte, off int64) (int, error) {
	return me.forEach(p, off, (*FileStorage).WriteAt)
}

func (me *Collection) Finish() error {
	for _, f := range me.files {
		if err := f.Finish(); err != nil {
			return err
		}
	}
	return nil
}

func (me *Collection) Finished() bool {
	for _, f := range me.files {
		if !f.Finished() {
			return false
		}
	}
	return true
}

func (me *Collection) Close() error {
	var errs []error
	for _, f := range me.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
