package metainfo

import (
	"strings"

	"github.com/peershare/torrent/bencode"
)

// Information specific to a single file inside the MetaInfo structure.
type FileInfo struct {
	Length int64
	Path   []string
}

func (fi *FileInfo) DisplayPath(info *Info) string {
	if info.IsDir() {
		return strings.Join(fi.Path, "/")
	}
	return info.Name
}

func (fi FileInfo) toValue() bencode.Value {
	path := make([]bencode.Value, 0, len(fi.Path))
	for _, p := range fi.Path {
		path = append(path, bencode.NewString(p))
	}
	return bencode.NewDict(map[string]bencode.Value{
		"length": bencode.NewInt(fi.Length),
		"path":   bencode.NewList(path...),
	})
}

func fileInfoFromValue(v bencode.Value) (fi FileInfo, err error) {
	d := dictReader{v: v, ctx: "file"}
	fi.Length = d.int("length", true)
	for _, elem := range d.list("path", true) {
		var s string
		s, err = elem.String()
		if err != nil {
			return fi, d.wrap("path", err)
		}
		fi.Path = append(fi.Path, s)
	}
	if err = d.err; err != nil {
		return
	}
	if fi.Length < 0 {
		err = d.errorf("negative length %d", fi.Length)
	} else if len(fi.Path) == 0 {
		err = d.errorf("empty path")
	}
	return
}
