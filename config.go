package torrent

import (
	"time"

	"github.com/anacrolix/log"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	requestStrategy "github.com/peershare/torrent/request-strategy"
	"github.com/peershare/torrent/types"
	"github.com/peershare/torrent/version"
)

// Probably not safe to modify this after it's given to a Client, or to pass it to multiple Clients.
type ClientConfig struct {
	// Store torrent file data in this directory.
	DataDir string
	// Filesystem holding DataDir. Defaults to the OS filesystem.
	Fs afero.Fs

	// Host to listen on. The first free port in [ListenPortFirst, ListenPortLast] is used.
	ListenHost      string
	ListenPortFirst int
	ListenPortLast  int

	// Defaults to a random ID with version.DefaultPeerIDPrefix.
	PeerID types.PeerID

	// Data on disk is assumed complete and isn't hashed at startup. We never request.
	Seed bool
	// How long to keep seeding after completion. Negative seeds until closed, zero stops as soon as
	// the download completes.
	SeedDuration time.Duration

	// Peers unchoked for their rate each choke cycle.
	MaxDownloaders int
	ChokeInterval  time.Duration
	// Every this many choke cycles, one extra random peer is unchoked.
	OptimisticUnchokeCycles int
	// Every this many choke cycles, peer rates are reset.
	RateResetCycles int

	// Outstanding block requests per peer.
	MaxPipelinedRequests int
	// Fraction of pieces completed at which pieces already requested from other peers may be
	// requested again.
	EndGameCompletionRatio float64
	RequestStrategy        requestStrategy.Strategy

	// Write a keep-alive after this long without writing anything.
	KeepAliveTimeout time.Duration
	// Drop connections that haven't sent anything for this long.
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	// Concurrent outbound connection attempts.
	MaxOutboundDials int

	// Only applies to chunks uploaded to peers, to maintain responsiveness communicating local
	// Client state to peers. Each limiter token represents one byte. The Limiter's burst must be
	// large enough to fit a whole chunk. If limit is not Inf, and burst is left at 0, the
	// implementation will choose a suitable burst.
	UploadRateLimiter *rate.Limiter
	// Rate limits all reads from connections to peers. Each limiter token represents one byte. If
	// limit is not Inf, and burst is left at 0, the implementation will choose a suitable burst.
	// Both limiters may be adjusted while the Client runs.
	DownloadRateLimiter *rate.Limiter

	// Discovers peers. Optional, peers can also be added with Client.AddPeers.
	Announcer Announcer
	// Interval between announces when the tracker doesn't give one.
	DefaultAnnounceInterval time.Duration
	// How often the Client logs a status line. Zero disables it.
	StatusInterval time.Duration

	Logger log.Logger
}

func NewDefaultClientConfig() *ClientConfig {
	cc := &ClientConfig{
		DataDir:                 ".",
		Fs:                      afero.NewOsFs(),
		ListenHost:              "",
		ListenPortFirst:         49152,
		ListenPortLast:          65534,
		PeerID:                  types.RandomPeerID(version.DefaultPeerIDPrefix),
		SeedDuration:            -1,
		MaxDownloaders:          4,
		ChokeInterval:           3 * time.Second,
		OptimisticUnchokeCycles: 3,
		RateResetCycles:         2,
		MaxPipelinedRequests:    5,
		EndGameCompletionRatio:  0.95,
		RequestStrategy:         requestStrategy.RarestFirst{},
		KeepAliveTimeout:        2 * time.Minute,
		// Keep-alives should be received every 2 mins. Give a bit of gracetime.
		ReadTimeout:             150 * time.Second,
		HandshakeTimeout:        20 * time.Second,
		DialTimeout:             10 * time.Second,
		MaxOutboundDials:        20,
		UploadRateLimiter:       rate.NewLimiter(rate.Inf, 0),
		DownloadRateLimiter:     rate.NewLimiter(rate.Inf, 0),
		DefaultAnnounceInterval: 30 * time.Minute,
		StatusInterval:          time.Minute,
		Logger:                  log.Default.WithNames("torrent"),
	}
	return cc
}
