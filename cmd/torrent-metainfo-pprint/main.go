// Prints a summary of each torrent file named on the command line, or of stdin, as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"

	"github.com/peershare/torrent/metainfo"
)

type flags struct {
	JustName     bool     `help:"only print the name"`
	JustInfoHash bool     `help:"only print the info hash"`
	PieceHashes  bool     `help:"include the piece hashes"`
	Files        bool     `help:"include the file list"`
	Torrents     []string `arg:"positional"`
}

func main() {
	var args flags
	arg.MustParse(&args)
	if len(args.Torrents) == 0 {
		if err := args.process(os.Stdin, os.Stdout, "-"); err != nil {
			log.Default.Levelf(log.Error, "%v", err)
			os.Exit(1)
		}
		return
	}
	for _, path := range args.Torrents {
		f, err := os.Open(path)
		if err == nil {
			err = args.process(f, os.Stdout, path)
			f.Close()
		}
		if err != nil {
			log.Default.Levelf(log.Error, "%s: %v", path, err)
			os.Exit(1)
		}
	}
}

func (args flags) process(r io.Reader, w io.Writer, name string) error {
	mi, err := metainfo.Load(r)
	if err != nil {
		return err
	}
	info := &mi.Info
	switch {
	case args.JustName:
		_, err = fmt.Fprintln(w, info.Name)
		return err
	case args.JustInfoHash:
		_, err = fmt.Fprintf(w, "%s: %s\n", mi.HashInfoBytes().HexString(), name)
		return err
	}
	d := map[string]any{
		"Name":         info.Name,
		"NumPieces":    info.NumPieces(),
		"PieceLength":  info.PieceLength,
		"InfoHash":     mi.HashInfoBytes().HexString(),
		"NumFiles":     len(info.UpvertedFiles()),
		"TotalLength":  info.TotalLength(),
		"TotalSize":    humanize.IBytes(uint64(info.TotalLength())),
		"Private":      info.Private,
		"Announce":     mi.Announce,
		"AnnounceList": mi.AnnounceList,
		"Comment":      mi.Comment,
		"CreatedBy":    mi.CreatedBy,
	}
	if args.Files {
		files := make([]map[string]any, 0, len(info.UpvertedFiles()))
		for _, fi := range info.UpvertedFiles() {
			files = append(files, map[string]any{
				"Path":   fi.DisplayPath(info),
				"Length": fi.Length,
			})
		}
		d["Files"] = files
	}
	if args.PieceHashes {
		hashes := make([]string, 0, info.NumPieces())
		for i := range info.NumPieces() {
			hashes = append(hashes, info.Piece(i).Hash.HexString())
		}
		d["PieceHashes"] = hashes
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
