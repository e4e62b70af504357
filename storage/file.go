package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FileStorage is a single file of a torrent. Until Finish is called the data lives at the target
// path with PartialSuffix appended.
type FileStorage struct {
	fs      afero.Fs
	target  string
	partial string
	size    int64

	mu       sync.RWMutex
	f        afero.File
	finished bool
}

var _ ByteStorage = (*FileStorage)(nil)

// OpenFile resumes an existing partial file, or uses an already complete target file, or creates
// a new partial file. The file is resized to size.
func OpenFile(fs afero.Fs, target string, size int64) (_ *FileStorage, err error) {
	me := &FileStorage{
		fs:      fs,
		target:  target,
		partial: target + PartialSuffix,
		size:    size,
	}
	if err = fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating parent directory")
	}
	path := me.partial
	if ok, _ := afero.Exists(fs, me.partial); !ok {
		if ok, _ := afero.Exists(fs, target); ok {
			path = target
			me.finished = true
		}
	}
	me.f, err = fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	fi, err := me.f.Stat()
	if err != nil {
		me.f.Close()
		return nil, err
	}
	if fi.Size() != size {
		if err = me.f.Truncate(size); err != nil {
			me.f.Close()
			return nil, errors.Wrapf(err, "resizing %q", path)
		}
	}
	return me, nil
}

func (me *FileStorage) Size() int64 {
	return me.size
}

// Path of the file currently holding the data.
func (me *FileStorage) Path() string {
	me.mu.RLock()
	defer me.mu.RUnlock()
	if me.finished {
		return me.target
	}
	return me.partial
}

func (me *FileStorage) checkBounds(n int, off int64) error {
	if off < 0 || off+int64(n) > me.size {
		return fmt.Errorf("%w: %d bytes at %d in %q of size %d", ErrOverrun, n, off, me.target, me.size)
	}
	return nil
}

func (me *FileStorage) ReadAt(p []byte, off int64) (n int, err error) {
	if err = me.checkBounds(len(p), off); err != nil {
		return
	}
	me.mu.RLock()
	defer me.mu.RUnlock()
	n, err = me.f.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil || err == io.EOF {
		err = fmt.Errorf("%w: read %d of %d bytes at %d in %q", ErrUnderrun, n, len(p), off, me.target)
	}
	return
}

func (me *FileStorage) WriteAt(p []byte, off int64) (n int, err error) {
	if err = me.checkBounds(len(p), off); err != nil {
		return
	}
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.f.WriteAt(p, off)
}

func (me *FileStorage) Finished() bool {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.finished
}

func (me *FileStorage) Finish() (err error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.finished {
		return nil
	}
	if err = me.f.Sync(); err != nil {
		return errors.Wrap(err, "syncing partial file")
	}
	if err = me.f.Close(); err != nil {
		return errors.Wrap(err, "closing partial file")
	}
	if err = me.fs.Remove(me.target); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing stale target")
	}
	if err = me.fs.Rename(me.partial, me.target); err != nil {
		return errors.Wrap(err, "promoting partial file")
	}
	me.f, err = me.fs.OpenFile(me.target, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrapf(err, "reopening %q", me.target)
	}
	me.finished = true
	return nil
}

func (me *FileStorage) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.f.Close()
}
