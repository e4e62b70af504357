package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/peershare/torrent"
	requestStrategy "github.com/peershare/torrent/request-strategy"
)

// Settings that can come from a config file. Command-line flags override them.
type fileConfig struct {
	DataDir         string   `mapstructure:"data-dir"`
	Seed            bool     `mapstructure:"seed"`
	SeedTime        string   `mapstructure:"seed-time"`
	UploadRate      string   `mapstructure:"upload-rate"`
	DownloadRate    string   `mapstructure:"download-rate"`
	ListenHost      string   `mapstructure:"listen-host"`
	ListenPortFirst int      `mapstructure:"listen-port-first"`
	ListenPortLast  int      `mapstructure:"listen-port-last"`
	MaxDownloaders  int      `mapstructure:"max-downloaders"`
	MaxDials        int      `mapstructure:"max-dials"`
	RequestStrategy string   `mapstructure:"request-strategy"`
	Peers           []string `mapstructure:"peers"`
	MetricsAddr     string   `mapstructure:"metrics-addr"`
}

func loadFileConfig(path string) (fc fileConfig, err error) {
	v := viper.New()
	def := torrent.NewDefaultClientConfig()
	v.SetDefault("data-dir", def.DataDir)
	v.SetDefault("seed-time", def.SeedDuration.String())
	v.SetDefault("listen-port-first", def.ListenPortFirst)
	v.SetDefault("listen-port-last", def.ListenPortLast)
	v.SetDefault("max-downloaders", def.MaxDownloaders)
	v.SetDefault("max-dials", def.MaxOutboundDials)
	v.SetDefault("request-strategy", requestStrategy.RarestFirst{}.String())
	if path != "" {
		v.SetConfigFile(path)
		if err = v.ReadInConfig(); err != nil {
			err = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	err = v.Unmarshal(&fc)
	return
}

// Parses a human byte rate like "512KiB". Empty means unlimited.
func parseRateLimiter(s string) (*rate.Limiter, error) {
	if s == "" {
		return rate.NewLimiter(rate.Inf, 0), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return nil, fmt.Errorf("parsing rate %q: %w", s, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("rate %q must be positive", s)
	}
	return rate.NewLimiter(rate.Limit(n), 0), nil
}

func (fc fileConfig) apply(cfg *torrent.ClientConfig) (err error) {
	cfg.DataDir = fc.DataDir
	cfg.Seed = fc.Seed
	cfg.SeedDuration, err = time.ParseDuration(fc.SeedTime)
	if err != nil {
		return fmt.Errorf("parsing seed time: %w", err)
	}
	if cfg.UploadRateLimiter, err = parseRateLimiter(fc.UploadRate); err != nil {
		return
	}
	if cfg.DownloadRateLimiter, err = parseRateLimiter(fc.DownloadRate); err != nil {
		return
	}
	cfg.ListenHost = fc.ListenHost
	cfg.ListenPortFirst = fc.ListenPortFirst
	cfg.ListenPortLast = fc.ListenPortLast
	if cfg.ListenPortFirst > cfg.ListenPortLast {
		return fmt.Errorf("listen port range [%d, %d] is empty", cfg.ListenPortFirst, cfg.ListenPortLast)
	}
	cfg.MaxDownloaders = fc.MaxDownloaders
	cfg.MaxOutboundDials = fc.MaxDials
	cfg.RequestStrategy, err = requestStrategy.ParseStrategy(fc.RequestStrategy)
	return
}
