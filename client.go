package torrent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"time"

	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/peershare/torrent/metainfo"
	pp "github.com/peershare/torrent/peer_protocol"
	"github.com/peershare/torrent/storage"
	"github.com/peershare/torrent/types"
)

type ClientState int

const (
	// Created, not started.
	Waiting ClientState = iota
	// Hashing existing data.
	Validating
	// Downloading and uploading.
	Sharing
	// Complete and uploading.
	Seeding
	// Stopped by a storage or startup failure. See Client.Err.
	Error
	// Stopped.
	Done
)

func (me ClientState) String() string {
	switch me {
	case Waiting:
		return "waiting"
	case Validating:
		return "validating"
	case Sharing:
		return "sharing"
	case Seeding:
		return "seeding"
	case Error:
		return "error"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("ClientState(%d)", int(me))
	}
}

func (me ClientState) MarshalText() ([]byte, error) {
	return []byte(me.String()), nil
}

// Client shares a single torrent: it validates local data, accepts and dials peers, and runs the
// choking algorithm until closed.
type Client struct {
	config   *ClientConfig
	logger   log.Logger
	mi       *metainfo.MetaInfo
	infoHash metainfo.Hash
	peerID   types.PeerID
	storage  storage.ByteStorage
	t        *Torrent
	dialPool *dialPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed     chansync.SetOnce
	complete   chansync.SetOnce
	closeStore sync.Once
	storeErr   error

	mu           sync.Mutex
	state        ClientState
	err          error
	stateChanged chansync.BroadcastCond
	// Keyed by address and by peer ID. An entry may appear under both.
	peers    map[string]*knownPeer
	conns    map[*PeerConn]struct{}
	listener net.Listener
}

// NewClient opens storage for the torrent under cfg.DataDir. A nil config uses the defaults.
func NewClient(cfg *ClientConfig, mi *metainfo.MetaInfo) (_ *Client, err error) {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.UploadRateLimiter == nil {
		cfg.UploadRateLimiter = rate.NewLimiter(rate.Inf, 0)
	}
	if cfg.DownloadRateLimiter == nil {
		cfg.DownloadRateLimiter = rate.NewLimiter(rate.Inf, 0)
	}
	setRateLimiterBurstIfZero(cfg.UploadRateLimiter, pp.MaxBlockSize)
	setRateLimiterBurstIfZero(cfg.DownloadRateLimiter, defaultDownloadRateLimiterBurst)
	if err = mi.Info.Validate(); err != nil {
		return
	}
	s, err := storage.OpenTorrent(cfg.Fs, cfg.DataDir, &mi.Info)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	cl := &Client{
		config:   cfg,
		mi:       mi,
		infoHash: mi.HashInfoBytes(),
		peerID:   cfg.PeerID,
		storage:  s,
		dialPool: newDialPool(cfg),
		peers:    make(map[string]*knownPeer),
		conns:    make(map[*PeerConn]struct{}),
	}
	cl.logger = cfg.Logger.WithNames(cl.infoHash.ShortString())
	cl.t = newTorrent(&mi.Info, s, cfg, cl.logger)
	cl.ctx, cl.cancel = context.WithCancel(context.Background())
	return cl, nil
}

func (cl *Client) InfoHash() metainfo.Hash {
	return cl.infoHash
}

func (cl *Client) PeerID() types.PeerID {
	return cl.peerID
}

func (cl *Client) Info() *metainfo.Info {
	return &cl.mi.Info
}

// Start validates existing data, then begins listening for, dialing and serving peers. It returns
// once the Client is running. The Client stops when ctx is done.
func (cl *Client) Start(ctx context.Context) error {
	cl.mu.Lock()
	if cl.state != Waiting {
		cl.mu.Unlock()
		return fmt.Errorf("client already started: %v", cl.state)
	}
	cl.setStateLocked(Validating)
	cl.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			cl.stop()
		case <-cl.closed.Done():
		}
	}()
	err := cl.start()
	if err != nil && !cl.closed.IsSet() {
		cl.fail(err)
	}
	return err
}

func (cl *Client) start() error {
	cfg := cl.config
	l, err := listenPortRange(cfg.ListenHost, cfg.ListenPortFirst, cfg.ListenPortLast)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	cl.listener = l
	cl.mu.Unlock()
	if cl.closed.IsSet() {
		l.Close()
		return errors.New("client closed")
	}
	cl.logger.Levelf(log.Info, "listening on %v", l.Addr())
	started := time.Now()
	if err := cl.t.init(cl.ctx); err != nil {
		return fmt.Errorf("validating pieces: %w", err)
	}
	st := cl.t.stats()
	cl.logger.Levelf(log.Info, "have %d/%d pieces after %v", st.PiecesCompleted, st.NumPieces, time.Since(started))
	if cl.t.haveAll() {
		if err := cl.t.finish(); err != nil {
			return fmt.Errorf("finishing storage: %w", err)
		}
		cl.setState(Seeding)
		cl.complete.Set()
	} else {
		cl.setState(Sharing)
	}
	cl.goTracked(func() { cl.acceptConnections(l) })
	cl.goTracked(func() { cl.chokeLoop(cl.ctx) })
	cl.goTracked(func() { cl.piecesReleasedLoop(cl.ctx) })
	if cfg.Announcer != nil {
		cl.goTracked(func() { cl.announceLoop(cl.ctx) })
	}
	if cfg.StatusInterval > 0 {
		cl.goTracked(func() { cl.statusLoop(cl.ctx) })
	}
	if cl.complete.IsSet() {
		cl.startSeedTimer()
	} else {
		cl.dialKnownPeers()
	}
	return nil
}

func (cl *Client) goTracked(f func()) {
	cl.wg.Add(1)
	go func() {
		defer cl.wg.Done()
		f()
	}()
}

func (cl *Client) setState(s ClientState) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.setStateLocked(s)
}

func (cl *Client) setStateLocked(s ClientState) {
	if cl.state == s || cl.state == Error || cl.state == Done {
		return
	}
	cl.logger.Levelf(log.Debug, "state %v -> %v", cl.state, s)
	cl.state = s
	cl.stateChanged.Broadcast()
}

func (cl *Client) State() ClientState {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.state
}

// StateChanged returns a channel that's closed on the next state change.
func (cl *Client) StateChanged() <-chan struct{} {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.stateChanged.Signaled()
}

// Err returns the error that put the Client in the Error state.
func (cl *Client) Err() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.err
}

// Closed is done once the Client has begun stopping.
func (cl *Client) Closed() <-chan struct{} {
	return cl.closed.Done()
}

// Complete is done once every piece is valid and storage is finalized.
func (cl *Client) Complete() <-chan struct{} {
	return cl.complete.Done()
}

func (cl *Client) ListenAddr() net.Addr {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.listener == nil {
		return nil
	}
	return cl.listener.Addr()
}

func (cl *Client) listenPort() int {
	if addr, ok := cl.ListenAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// AddPeers records peers from discovery and dials those we aren't connected to. Nothing is dialed
// while seeding.
func (cl *Client) AddPeers(peers []PeerInfo) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed.IsSet() {
		return
	}
	started := cl.state == Sharing || cl.state == Seeding
	seeding := cl.t.haveAll()
	for _, pi := range peers {
		if pi.ID.Ok && pi.ID.Value == cl.peerID {
			continue
		}
		kp := cl.lookupPeer(pi)
		if kp == nil {
			kp = &knownPeer{info: pi}
		} else if pi.ID.Ok {
			kp.info.ID = pi.ID
		}
		if kp.info.IP == nil {
			kp.info.IP, kp.info.Port = pi.IP, pi.Port
		}
		for _, k := range kp.keys() {
			cl.peers[k] = kp
		}
		if started && !seeding {
			cl.maybeDial(kp)
		}
	}
}

// Must be called with the lock held.
func (cl *Client) maybeDial(kp *knownPeer) {
	if kp.conn != nil || kp.dialing || kp.info.IP == nil {
		return
	}
	cl.startDial(kp)
}

// Dials peers added before the Client was ready.
func (cl *Client) dialKnownPeers() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed.IsSet() || cl.t.haveAll() {
		return
	}
	for _, kp := range cl.peers {
		cl.maybeDial(kp)
	}
}

// Must be called with the lock held.
func (cl *Client) lookupPeer(pi PeerInfo) *knownPeer {
	if pi.ID.Ok {
		if kp, ok := cl.peers[idKey(pi.ID.Value)]; ok {
			return kp
		}
	}
	if pi.IP != nil {
		return cl.peers[pi.Addr()]
	}
	return nil
}

// Registers a handshaked connection. Returns false if the Client is closed or the peer is already
// connected.
func (cl *Client) addConn(c *PeerConn) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed.IsSet() {
		return false
	}
	kp := cl.peers[idKey(c.PeerID)]
	if kp == nil && c.outgoing {
		kp = cl.peers[hostKey(c.RemoteAddr())]
	}
	if kp == nil {
		kp = &knownPeer{}
	}
	if kp.conn != nil {
		duplicateClientConns.Inc()
		c.logger.Levelf(log.Debug, "already connected to %v", c.PeerID)
		return false
	}
	kp.conn = c
	kp.info.ID = g.Some(c.PeerID)
	cl.peers[idKey(c.PeerID)] = kp
	cl.conns[c] = struct{}{}
	// Queued under the lock so no have message can precede it.
	c.postBitfield()
	return true
}

func (cl *Client) connClosed(c *PeerConn) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.conns, c)
	if kp := cl.peers[idKey(c.PeerID)]; kp != nil && kp.conn == c {
		kp.conn = nil
	}
}

func (cl *Client) connsSnapshot() []*PeerConn {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return slices.Collect(maps.Keys(cl.conns))
}

// Interest excludes pieces other connections are downloading, so it's recomputed when they give
// pieces back.
func (cl *Client) piecesReleasedLoop(ctx context.Context) {
	released := cl.t.piecesReleased.Signaled()
	for {
		select {
		case <-ctx.Done():
			return
		case <-released:
		}
		released = cl.t.piecesReleased.Signaled()
		for _, c := range cl.connsSnapshot() {
			c.onPiecesReleased()
		}
	}
}

// Tells every connection about a newly completed piece.
func (cl *Client) pieceCompleted(i pieceIndex, torrentComplete bool) {
	for _, c := range cl.connsSnapshot() {
		c.onWeCompletedPiece(i)
	}
	if torrentComplete {
		cl.torrentCompleted()
	}
}

func (cl *Client) torrentCompleted() {
	for _, c := range cl.connsSnapshot() {
		c.cancelAllRequests()
	}
	if err := cl.t.finish(); err != nil {
		cl.fail(fmt.Errorf("finishing storage: %w", err))
		return
	}
	cl.logger.Levelf(log.Info, "download complete")
	cl.setState(Seeding)
	cl.complete.Set()
	cl.startSeedTimer()
}

// Stops the Client after SeedDuration of seeding. Negative seeds until closed.
func (cl *Client) startSeedTimer() {
	d := cl.config.SeedDuration
	if d < 0 {
		return
	}
	cl.goTracked(func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			cl.logger.Levelf(log.Info, "seeded for %v", d)
			cl.stop()
		case <-cl.ctx.Done():
		}
	})
}

// A storage failure is fatal to the torrent.
func (cl *Client) torrentError(err error) {
	cl.fail(err)
}

func (cl *Client) fail(err error) {
	cl.mu.Lock()
	if cl.state != Error && cl.state != Done {
		cl.err = err
		cl.state = Error
		cl.stateChanged.Broadcast()
	}
	cl.mu.Unlock()
	cl.logger.Levelf(log.Error, "stopping: %v", err)
	go cl.stop()
}

// Stops all activity without waiting for it to finish.
func (cl *Client) stop() {
	if !cl.closed.Set() {
		return
	}
	cl.cancel()
	cl.mu.Lock()
	l := cl.listener
	conns := slices.Collect(maps.Keys(cl.conns))
	cl.setStateLocked(Done)
	cl.mu.Unlock()
	if l != nil {
		l.Close()
	}
	for _, c := range conns {
		c.close()
	}
}

// Close stops the Client, waits for its goroutines, and closes storage.
func (cl *Client) Close() error {
	cl.stop()
	cl.wg.Wait()
	cl.closeStore.Do(func() {
		cl.storeErr = cl.storage.Close()
	})
	return cl.storeErr
}

// Wait blocks until the Client stops, then closes it.
func (cl *Client) Wait() error {
	<-cl.closed.Done()
	if err := cl.Close(); err != nil {
		return err
	}
	return cl.Err()
}

func (cl *Client) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(cl.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := cl.Stats()
		cl.logger.Levelf(log.Info,
			"%v: %d/%d pieces, %d peers, down %s/s, up %s/s, uploaded %s",
			st.State, st.PiecesCompleted, st.NumPieces, st.ConnectedPeers,
			humanize.IBytes(uint64(st.DownloadRate)), humanize.IBytes(uint64(st.UploadRate)),
			humanize.IBytes(uint64(st.Uploaded)),
		)
	}
}
