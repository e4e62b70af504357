// Shares a single torrent with a list of known peers until it completes or is interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"

	"github.com/peershare/torrent"
	"github.com/peershare/torrent/metainfo"
)

type flags struct {
	Config       string         `arg:"--config" help:"YAML, TOML or JSON file with default settings"`
	WatchConfig  bool           `arg:"--watch-config" help:"apply rate limit changes made to the config file while running"`
	DataDir      string         `arg:"--data-dir" help:"directory holding the torrent data"`
	Seed         bool           `help:"trust local data as complete without hashing it"`
	SeedTime     *time.Duration `arg:"--seed-time" help:"how long to seed after completing, negative for forever"`
	UploadRate   string         `arg:"--upload-rate" help:"max upload rate, e.g. 512KiB"`
	DownloadRate string         `arg:"--download-rate" help:"max download rate, e.g. 2MiB"`
	Peer         []string       `arg:"--peer,separate" help:"peer to connect to, as host:port"`
	MetricsAddr  string         `arg:"--metrics-addr" help:"serve prometheus metrics on this address"`
	Debug        bool           `help:"log debug messages"`
	Torrent      string         `arg:"positional,required" help:"path to a .torrent file"`
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		log.Default.Levelf(log.Error, "error: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	var args flags
	arg.MustParse(&args)
	logger := log.Default.WithNames("torrent-share")
	if !args.Debug {
		logger = logger.FilterLevel(log.Info)
	}

	fc, err := loadFileConfig(args.Config)
	if err != nil {
		return err
	}
	args.overlay(&fc)
	cfg := torrent.NewDefaultClientConfig()
	if err := fc.apply(cfg); err != nil {
		return err
	}
	cfg.Logger = logger

	var peers []torrent.PeerInfo
	for _, s := range fc.Peers {
		pi, err := torrent.ParsePeerInfo(s)
		if err != nil {
			return fmt.Errorf("parsing peer %q: %w", s, err)
		}
		peers = append(peers, pi)
	}

	mi, err := metainfo.LoadFromFile(args.Torrent)
	if err != nil {
		return fmt.Errorf("loading torrent: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cl, err := torrent.NewClient(cfg, mi)
	if err != nil {
		return err
	}
	if fc.MetricsAddr != "" {
		srv := &http.Server{Addr: fc.MetricsAddr, Handler: newHTTPHandler(cl, args.Debug)}
		go func() {
			err := srv.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Levelf(log.Warning, "metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}
	if args.WatchConfig && args.Config != "" {
		if err := watchConfig(ctx, args.Config, &args, cfg, logger); err != nil {
			logger.Levelf(log.Warning, "not watching config: %v", err)
		}
	}
	started := time.Now()
	if err := cl.Start(ctx); err != nil {
		cl.Close()
		return err
	}
	logger.Levelf(log.Info, "sharing %q (%s, %d pieces) as %v on %v",
		mi.Info.Name, humanize.IBytes(uint64(mi.Info.TotalLength())), mi.Info.NumPieces(),
		cl.PeerID(), cl.ListenAddr())
	cl.AddPeers(peers)
	go func() {
		select {
		case <-cl.Complete():
			logger.Levelf(log.Info, "completed in %v", time.Since(started))
		case <-cl.Closed():
		}
	}()
	err = cl.Wait()
	st := cl.Stats()
	logger.Levelf(log.Info, "stopped in state %v: uploaded %s, downloaded %s, %d/%d pieces",
		st.State, humanize.IBytes(uint64(st.Uploaded)), humanize.IBytes(uint64(st.Downloaded)),
		st.PiecesCompleted, st.NumPieces)
	return err
}

// Command-line values take precedence over the config file.
func (me *flags) overlay(fc *fileConfig) {
	if me.DataDir != "" {
		fc.DataDir = me.DataDir
	}
	if me.Seed {
		fc.Seed = true
	}
	if me.SeedTime != nil {
		fc.SeedTime = me.SeedTime.String()
	}
	if me.UploadRate != "" {
		fc.UploadRate = me.UploadRate
	}
	if me.DownloadRate != "" {
		fc.DownloadRate = me.DownloadRate
	}
	fc.Peers = append(fc.Peers, me.Peer...)
	if me.MetricsAddr != "" {
		fc.MetricsAddr = me.MetricsAddr
	}
}
