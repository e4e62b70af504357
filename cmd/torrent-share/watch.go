package main

import (
	"context"
	"path/filepath"

	"github.com/anacrolix/log"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/peershare/torrent"
)

// Upload bursts must fit the largest block a peer may request.
const reloadedBurst = 1 << 17

// Applies rate limit changes in the config file at path to cfg's limiters until ctx is done.
// Other settings only take effect at startup.
func watchConfig(ctx context.Context, path string, args *flags, cfg *torrent.ClientConfig, logger log.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors often replace the file rather than writing it, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := reloadRates(path, args, cfg); err != nil {
					logger.Levelf(log.Warning, "reloading %q: %v", path, err)
					continue
				}
				logger.Levelf(log.Info, "reloaded rate limits: upload %v, download %v",
					cfg.UploadRateLimiter.Limit(), cfg.DownloadRateLimiter.Limit())
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Levelf(log.Warning, "watching config: %v", err)
			}
		}
	}()
	return nil
}

func reloadRates(path string, args *flags, cfg *torrent.ClientConfig) error {
	fc, err := loadFileConfig(path)
	if err != nil {
		return err
	}
	args.overlay(&fc)
	up, err := parseRateLimiter(fc.UploadRate)
	if err != nil {
		return err
	}
	down, err := parseRateLimiter(fc.DownloadRate)
	if err != nil {
		return err
	}
	updateLimiter(cfg.UploadRateLimiter, up.Limit())
	updateLimiter(cfg.DownloadRateLimiter, down.Limit())
	return nil
}

func updateLimiter(l *rate.Limiter, limit rate.Limit) {
	if limit != rate.Inf && l.Burst() < reloadedBurst {
		l.SetBurst(reloadedBurst)
	}
	l.SetLimit(limit)
}
