package metainfo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// Used when the root of a build has no usable base name.
const NoName = "-"

// ChoosePieceLength picks a power of two piece length that keeps the piece count around 1500,
// between 16 KiB and 16 MiB.
func ChoosePieceLength(totalLength int64) int64 {
	const (
		minLength   = 1 << 14
		maxLength   = 1 << 24
		targetCount = 1500
	)
	l := int64(minLength)
	for l < maxLength && totalLength/l > targetCount {
		l <<= 1
	}
	return l
}

// BuildFromFilePath describes the file or directory tree at root, hashing its contents. If
// PieceLength is zero, one is chosen from the total size.
func (info *Info) BuildFromFilePath(fs afero.Fs, root string) (err error) {
	info.Name = func() string {
		b := filepath.Base(root)
		switch b {
		case ".", "..", string(filepath.Separator):
			return NoName
		default:
			return b
		}
	}()
	info.Files = nil
	info.Length = 0
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			// Directories are implicit in torrent files.
			return nil
		} else if path == root {
			// The root is a file.
			info.Length = fi.Size()
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		info.Files = append(info.Files, FileInfo{
			Path:   strings.Split(relPath, string(filepath.Separator)),
			Length: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return
	}
	slices.SortFunc(info.Files, func(l, r FileInfo) int {
		return strings.Compare(strings.Join(l.Path, "/"), strings.Join(r.Path, "/"))
	})
	if info.PieceLength == 0 {
		info.PieceLength = ChoosePieceLength(info.TotalLength())
	}
	var readers []io.Reader
	for _, fi := range info.UpvertedFiles() {
		p := root
		if info.IsDir() {
			p = filepath.Join(append([]string{root}, fi.Path...)...)
		}
		f, err := fs.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		readers = append(readers, io.LimitReader(f, fi.Length))
	}
	if err = info.GeneratePieces(io.MultiReader(readers...)); err != nil {
		err = fmt.Errorf("generating pieces: %w", err)
	}
	return
}
