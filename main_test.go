package torrent

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/peershare/torrent/metainfo"
	"github.com/peershare/torrent/storage"
)

const testPieceLength = 2 * defaultChunkSize

// Random torrent data with a short last piece.
func testData(t testing.TB, numPieces int) []byte {
	data := make([]byte, int64(numPieces)*testPieceLength-testPieceLength/3)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func testMetaInfo(t testing.TB, data []byte) *metainfo.MetaInfo {
	info, err := metainfo.NewFromReader(bytes.NewReader(data), "data", testPieceLength)
	require.NoError(t, err)
	var mi metainfo.MetaInfo
	require.NoError(t, mi.SetInfo(info))
	return &mi
}

func testClientConfig(fs afero.Fs, name string) *ClientConfig {
	cfg := NewDefaultClientConfig()
	cfg.Fs = fs
	cfg.DataDir = "/torrents"
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPortFirst = 0
	cfg.ListenPortLast = 0
	cfg.ChokeInterval = 20 * time.Millisecond
	cfg.StatusInterval = 0
	cfg.Logger = log.Default.WithNames(name).FilterLevel(log.Warning)
	return cfg
}

// A Torrent over in-memory storage, with data for the given pieces already written.
func newTestTorrent(t testing.TB, data []byte, have ...int) *Torrent {
	mi := testMetaInfo(t, data)
	s, err := storage.OpenTorrent(afero.NewMemMapFs(), "/", &mi.Info)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	for _, i := range have {
		p := mi.Info.Piece(i)
		_, err := s.WriteAt(data[p.Offset:p.Offset+p.Length], p.Offset)
		require.NoError(t, err)
	}
	cfg := NewDefaultClientConfig()
	tor := newTorrent(&mi.Info, s, cfg, log.Default.WithNames("test"))
	require.NoError(t, tor.init(context.Background()))
	return tor
}

func bitmapOf(is ...int) (ret pieceBitmap) {
	for _, i := range is {
		ret.Add(i)
	}
	return
}

// Compares piece bitmaps by their members.
func bitmapEquals(got, want pieceBitmap) qt.Checker {
	return qt.CmpEquals(got, want, cmp.Transformer("bitmap", func(bm pieceBitmap) []int {
		return bm.ToSlice()
	}))
}
