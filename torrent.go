package torrent

import (
	"context"
	"runtime"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
	"golang.org/x/sync/errgroup"

	"github.com/peershare/torrent/metainfo"
	requestStrategy "github.com/peershare/torrent/request-strategy"
	"github.com/peershare/torrent/storage"
	typedRoaring "github.com/peershare/torrent/typed-roaring"
)

type pieceBitmap = typedRoaring.Bitmap[pieceIndex]

// Torrent is the piece set of a single torrent: which pieces we have, which are being
// downloaded, and how available each one is among connected peers. All methods are safe for
// concurrent use. It never calls into peer connections.
type Torrent struct {
	logger       log.Logger
	info         *metainfo.Info
	storage      storage.ByteStorage
	seeding      bool
	strategy     requestStrategy.Strategy
	endGameRatio float64

	mu     sync.Mutex
	pieces []*Piece
	// Pieces that passed validation.
	completed pieceBitmap
	// Pieces assigned to at least one connection.
	requested pieceBitmap
	// Incomplete pieces ordered by rarity.
	order      *requestStrategy.PieceOrder
	uploaded   int64
	downloaded int64
	left       int64
	finishOnce sync.Once
	finishErr  error
	// Broadcast when a piece has no requesters left and can be assigned again.
	piecesReleased chansync.BroadcastCond
}

func newTorrent(info *metainfo.Info, s storage.ByteStorage, cfg *ClientConfig, logger log.Logger) *Torrent {
	t := &Torrent{
		logger:       logger,
		info:         info,
		storage:      s,
		seeding:      cfg.Seed,
		strategy:     cfg.RequestStrategy,
		endGameRatio: cfg.EndGameCompletionRatio,
		order:        requestStrategy.NewPieceOrder(requestStrategy.NewTidwallBtree(), info.NumPieces()),
	}
	if t.strategy == nil {
		t.strategy = requestStrategy.RarestFirst{}
	}
	for i := range info.NumPieces() {
		t.pieces = append(t.pieces, newPiece(info.Piece(i)))
	}
	return t
}

// init validates every piece already in storage, using one worker per CPU.
func (t *Torrent) init(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range t.pieces {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := p.validate(t.storage, t.seeding)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed.Clear()
	t.left = 0
	for _, p := range t.pieces {
		if p.valid() {
			t.completed.Add(p.index)
			t.order.Delete(p.index)
		} else {
			t.left += p.length
			t.order.Add(p.index, p.availability)
		}
	}
	t.logger.Levelf(log.Debug, "validated %d/%d pieces", t.completed.Len(), len(t.pieces))
	return nil
}

func (t *Torrent) numPieces() int {
	return len(t.pieces)
}

func (t *Torrent) pieceLength(i int) int64 {
	return t.pieces[i].length
}

func (t *Torrent) piece(i int) *Piece {
	return t.pieces[i]
}

func (t *Torrent) haveAll() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.haveAllLocked()
}

func (t *Torrent) haveAllLocked() bool {
	return t.completed.Len() == len(t.pieces)
}

func (t *Torrent) havePiece(i pieceIndex) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed.Contains(i)
}

func (t *Torrent) haveAnyPieces() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.completed.IsEmpty()
}

// Our bitfield, for sending to peers.
func (t *Torrent) completedBitfield() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bf := make([]bool, len(t.pieces))
	t.completed.Iterate(func(i pieceIndex) bool {
		bf[i] = true
		return true
	})
	return bf
}

// Fraction of pieces completed.
func (t *Torrent) completion() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pieces) == 0 {
		return 1
	}
	return float64(t.completed.Len()) / float64(len(t.pieces))
}

func (t *Torrent) endGameLocked() bool {
	return float64(t.completed.Len()) >= t.endGameRatio*float64(len(t.pieces))
}

// Must be called with the lock held.
func (t *Torrent) changeAvailability(i pieceIndex, delta int) {
	p := t.pieces[i]
	p.availability += delta
	panicif.LessThan(p.availability, 0)
	if !t.completed.Contains(i) {
		t.order.Update(i, p.availability)
	}
}

// peerHasPieces counts a peer's pieces toward availability. It returns whether the peer has
// anything we lack.
func (t *Torrent) peerHasPieces(pieces *pieceBitmap) (wanted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pieces.Iterate(func(i pieceIndex) bool {
		t.changeAvailability(i, 1)
		return true
	})
	return t.wantedLocked(pieces)
}

func (t *Torrent) peerHasPiece(i pieceIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changeAvailability(i, 1)
}

func (t *Torrent) wanted(pieces *pieceBitmap) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wantedLocked(pieces)
}

// A peer is worth being interested in if it has a piece we lack that nobody is downloading. In
// end-game, pieces being downloaded elsewhere count too.
func (t *Torrent) wantedLocked(pieces *pieceBitmap) bool {
	if t.seeding {
		return false
	}
	missing := pieces.AndNot(&t.completed)
	if t.endGameLocked() {
		return !missing.IsEmpty()
	}
	unassigned := missing.AndNot(&t.requested)
	return !unassigned.IsEmpty()
}

// choosePieceFor assigns a piece to request from a peer holding the given pieces. Outside
// end-game a piece is only assigned to one peer at a time.
func (t *Torrent) choosePieceFor(peerPieces *pieceBitmap) (*Piece, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seeding || t.haveAllLocked() {
		return nil, false
	}
	available := peerPieces.AndNot(&t.completed)
	interesting := available.AndNot(&t.requested)
	if interesting.IsEmpty() {
		if !t.endGameLocked() {
			return nil, false
		}
		interesting = available
	}
	i, ok := t.strategy.Choose(t.order, &interesting, len(t.pieces))
	if !ok {
		return nil, false
	}
	p := t.pieces[i]
	p.requesters++
	t.requested.Add(i)
	return p, true
}

func (t *Torrent) releasePieceLocked(p *Piece) {
	p.requesters--
	panicif.LessThan(p.requesters, 0)
	if p.requesters == 0 {
		t.requested.Remove(p.index)
		t.piecesReleased.Broadcast()
	}
}

// releasePiece returns an assignment that won't be completed, such as when the peer chokes us.
func (t *Torrent) releasePiece(p *Piece) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releasePieceLocked(p)
}

// peerDisconnected forgets a peer's pieces and any assignment it held.
func (t *Torrent) peerDisconnected(pieces *pieceBitmap, assigned *Piece) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pieces.Iterate(func(i pieceIndex) bool {
		t.changeAvailability(i, -1)
		return true
	})
	if assigned != nil {
		t.releasePieceLocked(assigned)
	}
}

// writePiece stores a fully received piece and validates it. It doesn't take the lock. The piece
// must not be completed.
func (t *Torrent) writePiece(p *Piece, a *pieceAssembly) (bool, error) {
	panicif.True(p.valid())
	if err := p.flush(t.storage, a); err != nil {
		return false, err
	}
	return p.validate(t.storage, false)
}

type pieceWriteResult struct {
	// The piece wasn't completed before this write.
	completed       bool
	torrentComplete bool
	failedHash      bool
}

// receivePiece writes and validates a piece assembled by a connection, and releases its
// assignment. Writes of the same piece are serialized, and once a piece is completed its data is
// never written again.
func (t *Torrent) receivePiece(p *Piece, a *pieceAssembly) (res pieceWriteResult, err error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if t.havePiece(p.index) {
		// Another connection completed it during end-game.
		t.releasePiece(p)
		return
	}
	valid, err := t.writePiece(p, a)
	if err != nil {
		t.releasePiece(p)
		return
	}
	res.failedHash = !valid
	res.completed, res.torrentComplete = t.pieceCompleted(p, valid)
	return
}

// pieceCompleted releases an assignment after the piece was written and validated. An invalid
// piece stays eligible for requesting. completed is only true for the call that added the piece,
// and torrentComplete only when that was the last one.
func (t *Torrent) pieceCompleted(p *Piece, valid bool) (completed, torrentComplete bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releasePieceLocked(p)
	if !valid {
		t.logger.Levelf(log.Debug, "%v failed validation", p)
		return
	}
	if !t.completed.CheckedAdd(p.index) {
		return
	}
	t.order.Delete(p.index)
	t.downloaded += p.length
	t.left -= p.length
	return true, t.haveAllLocked()
}

func (t *Torrent) readBlock(i pieceIndex, off, length int64) ([]byte, error) {
	return t.pieces[i].read(t.storage, off, length)
}

func (t *Torrent) addUploaded(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploaded += n
}

// finish promotes storage to its final names. Later calls return the first result.
func (t *Torrent) finish() error {
	t.finishOnce.Do(func() {
		t.finishErr = t.storage.Finish()
	})
	return t.finishErr
}

type TorrentStats struct {
	Uploaded        int64
	Downloaded      int64
	Left            int64
	PiecesCompleted int
	NumPieces       int
}

func (t *Torrent) stats() TorrentStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TorrentStats{
		Uploaded:        t.uploaded,
		Downloaded:      t.downloaded,
		Left:            t.left,
		PiecesCompleted: t.completed.Len(),
		NumPieces:       len(t.pieces),
	}
}
