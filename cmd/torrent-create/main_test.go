package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/peershare/torrent/metainfo"
)

func TestCreate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/share/a", bytes.Repeat([]byte{1}, 3000), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/share/sub/b", bytes.Repeat([]byte{2}, 1000), 0o644))
	var buf bytes.Buffer
	now := time.Unix(1700000000, 0)
	err := args{
		Announce:    []string{"http://a/announce", "http://b/announce"},
		Comment:     "hi",
		CreatedBy:   "test",
		PieceLength: "1KiB",
		Root:        "/share",
	}.create(fs, &buf, now)
	require.NoError(t, err)

	mi, err := metainfo.Load(&buf)
	require.NoError(t, err)
	qt.Check(t, qt.Equals(mi.Info.Name, "share"))
	qt.Check(t, qt.Equals(mi.Info.PieceLength, int64(1024)))
	qt.Check(t, qt.Equals(mi.Info.TotalLength(), int64(4000)))
	qt.Check(t, qt.Equals(mi.Info.NumPieces(), 4))
	qt.Check(t, qt.Equals(mi.Announce, "http://a/announce"))
	qt.Check(t, qt.DeepEquals(mi.AnnounceList, metainfo.AnnounceList{{"http://a/announce"}, {"http://b/announce"}}))
	qt.Check(t, qt.Equals(mi.Comment, "hi"))
	qt.Check(t, qt.Equals(mi.CreationDate.Unix(), now.Unix()))
}

func TestCreateBadPieceLength(t *testing.T) {
	err := args{PieceLength: "lots", Root: "/nothing"}.create(afero.NewMemMapFs(), new(bytes.Buffer), time.Now())
	qt.Check(t, qt.IsNotNil(err))
}
