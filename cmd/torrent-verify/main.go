// Hashes the data of a torrent and reports which pieces are correct.
package main

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/log"
	"github.com/spf13/afero"

	"github.com/peershare/torrent/metainfo"
	"github.com/peershare/torrent/storage"
)

func main() {
	var args struct {
		DataDir string `arg:"--data-dir" default:"." help:"directory holding the torrent data"`
		Summary bool   `help:"only print the totals"`
		Torrent string `arg:"positional,required" help:"path to a .torrent file"`
	}
	arg.MustParse(&args)
	good, bad, err := verify(afero.NewOsFs(), args.Torrent, args.DataDir, func(i int, ok bool) {
		if !args.Summary {
			fmt.Println(i, ok)
		}
	})
	if err != nil {
		log.Default.Levelf(log.Error, "verifying: %v", err)
		os.Exit(1)
	}
	fmt.Printf("correct pieces: %d\nwrong pieces: %d\n", good, bad)
	if bad != 0 {
		os.Exit(2)
	}
}

func verify(fs afero.Fs, torrentPath, dataDir string, onPiece func(int, bool)) (good, bad int, err error) {
	f, err := fs.Open(torrentPath)
	if err != nil {
		return
	}
	mi, err := metainfo.Load(f)
	f.Close()
	if err != nil {
		return
	}
	s, err := storage.OpenTorrent(fs, dataDir, &mi.Info)
	if err != nil {
		return
	}
	defer s.Close()
	for i := range mi.Info.NumPieces() {
		p := mi.Info.Piece(i)
		h := sha1.New()
		if _, err = io.Copy(h, io.NewSectionReader(s, p.Offset, p.Length)); err != nil {
			return
		}
		ok := metainfo.Hash(h.Sum(nil)) == p.Hash
		if ok {
			good++
		} else {
			bad++
		}
		onPiece(i, ok)
	}
	return
}
