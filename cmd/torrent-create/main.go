// Creates a torrent metainfo for the file system rooted at ROOT, and writes it to stdout.
package main

import (
	"io"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/peershare/torrent/metainfo"
	"github.com/peershare/torrent/version"
)

type args struct {
	Announce    []string `arg:"-a,separate" help:"announce URL, each one its own tier"`
	Comment     string   `arg:"-t" help:"comment"`
	CreatedBy   string   `arg:"-c" help:"created by"`
	PieceLength string   `arg:"--piece-length" help:"piece length, e.g. 256KiB; chosen from the size if empty"`
	Private     bool     `help:"set the private flag"`
	Root        string   `arg:"positional,required"`
}

func main() {
	a := args{CreatedBy: version.DefaultCreatedBy}
	arg.MustParse(&a)
	if err := a.create(afero.NewOsFs(), os.Stdout, time.Now()); err != nil {
		log.Default.Levelf(log.Error, "creating torrent: %v", err)
		os.Exit(1)
	}
}

func (a args) create(fs afero.Fs, w io.Writer, now time.Time) error {
	mi := metainfo.MetaInfo{
		Comment:      a.Comment,
		CreatedBy:    a.CreatedBy,
		CreationDate: now,
	}
	for _, url := range a.Announce {
		mi.AnnounceList = append(mi.AnnounceList, []string{url})
	}
	if len(a.Announce) != 0 {
		mi.Announce = a.Announce[0]
	}
	info := metainfo.Info{Private: a.Private}
	if a.PieceLength != "" {
		n, err := humanize.ParseBytes(a.PieceLength)
		if err != nil {
			return err
		}
		info.PieceLength = int64(n)
	}
	if err := info.BuildFromFilePath(fs, a.Root); err != nil {
		return err
	}
	if err := mi.SetInfo(info); err != nil {
		return err
	}
	log.Default.Levelf(log.Info, "%s: %d pieces of %s, info hash %v",
		info.Name, info.NumPieces(), humanize.IBytes(uint64(info.PieceLength)), mi.HashInfoBytes())
	return mi.Write(w)
}
