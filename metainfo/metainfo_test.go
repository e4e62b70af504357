package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peershare/torrent/bencode"
)

func testMetaInfo(t *testing.T, info Info) *MetaInfo {
	mi := &MetaInfo{
		Announce: "http://tracker.example/announce",
		AnnounceList: AnnounceList{
			{"http://a/announce", "http://b/announce"},
			{"http://a/announce", ""},
			{"udp://c:80"},
		},
		CreationDate: time.Unix(1700000000, 0),
		Comment:      "test torrent",
		CreatedBy:    "peershare",
	}
	require.NoError(t, mi.SetInfo(info))
	return mi
}

func TestMarshalInfo(t *testing.T) {
	info := Info{Name: "a", Length: 1, PieceLength: 1, Pieces: make([]byte, 20)}
	b, err := bencode.Marshal(info.Value())
	require.NoError(t, err)
	assert.EqualValues(t,
		"d6:lengthi1e4:name1:a12:piece lengthi1e6:pieces20:"+strings.Repeat("\x00", 20)+"e",
		string(b))
}

func TestRoundTripSingleFile(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	info, err := NewFromReader(bytes.NewReader(data), "digits", 256)
	require.NoError(t, err)
	require.Equal(t, 4, info.NumPieces())
	assert.EqualValues(t, 256, info.PieceLen(0))
	assert.EqualValues(t, 1000-3*256, info.PieceLen(3))
	p := info.Piece(1)
	assert.EqualValues(t, 256, p.Offset)
	assert.Equal(t, Hash(sha1.Sum(data[256:512])), p.Hash)

	mi := testMetaInfo(t, info)
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))

	mi2, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, mi.HashInfoBytes(), mi2.HashInfoBytes())
	assert.Equal(t, mi.Info, mi2.Info)
	assert.Equal(t, "test torrent", mi2.Comment)
	assert.Equal(t, "peershare", mi2.CreatedBy)
	assert.True(t, mi2.CreationDate.Equal(mi.CreationDate))
	assert.Equal(t, AnnounceList{
		{"http://a/announce", "http://b/announce"},
		{"udp://c:80"},
	}, mi2.AnnounceList)
	assert.Equal(t, mi2.AnnounceList, mi2.Trackers())
}

func TestInfoHashUsesRawBytes(t *testing.T) {
	// Keys are deliberately unsorted, so re-encoding would change the hash.
	raw := "d6:pieces20:" + strings.Repeat("x", 20) + "4:name1:a12:piece lengthi4e6:lengthi3ee"
	mi, err := Parse([]byte("d4:info" + raw + "e"))
	require.NoError(t, err)
	qt.Check(t, qt.Equals(string(mi.InfoBytes), raw))
	qt.Check(t, qt.Equals(mi.HashInfoBytes(), HashBytes([]byte(raw))))
	qt.Check(t, qt.DeepEquals(mi.Trackers(), AnnounceList(nil)))
}

func TestMultiFile(t *testing.T) {
	info := Info{
		Name:        "dir",
		PieceLength: 64,
		Files: []FileInfo{
			{Length: 100, Path: []string{"a"}},
			{Length: 50, Path: []string{"sub", "b"}},
		},
	}
	require.NoError(t, info.GeneratePieces(bytes.NewReader(make([]byte, 150))))
	mi := testMetaInfo(t, info)
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	mi2, err := Load(&buf)
	require.NoError(t, err)
	assert.True(t, mi2.Info.IsDir())
	assert.EqualValues(t, 150, mi2.Info.TotalLength())
	assert.Equal(t, 3, mi2.Info.NumPieces())
	assert.Equal(t, "sub/b", mi2.Info.Files[1].DisplayPath(&mi2.Info))
	assert.EqualValues(t, 150, mi2.Info.FileSegmentsIndex().TotalLength())
}

func TestInvalidMetaInfo(t *testing.T) {
	for _, data := range []string{
		"de",
		"d4:info0:e",
		"d4:infod4:name1:ae",
		"d4:infod4:name1:a12:piece lengthi0e6:pieces0:6:lengthi0eee",
		// One hash for data needing two pieces.
		"d4:infod4:name1:a12:piece lengthi2e6:pieces20:" + strings.Repeat("x", 20) + "6:lengthi3eee",
		"d4:infod4:name1:a12:piece lengthi2e6:pieces20:" + strings.Repeat("x", 20) + "5:filesleee",
		"d8:announcei1e4:infod4:name1:a12:piece lengthi2e6:pieces0:6:lengthi0eee",
	} {
		_, err := Parse([]byte(data))
		assert.True(t, errors.Is(err, ErrInvalid), "%q: %v", data, err)
	}
	_, err := Parse([]byte("d4:info"))
	var se *bencode.SyntaxError
	assert.True(t, errors.As(err, &se))
}
