package torrent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/peershare/torrent/peer_protocol"
	"github.com/peershare/torrent/types"
)

// PeerState is the four flags of a connection. Connections start choked and not interested in
// both directions.
type PeerState struct {
	// We refuse to upload to the peer.
	AmChoking bool
	// The peer refuses to upload to us.
	PeerChoking    bool
	AmInterested   bool
	PeerInterested bool
}

func (me PeerState) String() string {
	b := []byte("----")
	if me.AmChoking {
		b[0] = 'c'
	}
	if me.AmInterested {
		b[1] = 'i'
	}
	if me.PeerChoking {
		b[2] = 'C'
	}
	if me.PeerInterested {
		b[3] = 'I'
	}
	return string(b)
}

// The piece a connection is downloading, and the blocks requested for it.
type pieceDownload struct {
	piece    *Piece
	assembly pieceAssembly
	// Offset of the next block to request.
	nextOffset  int64
	outstanding []pp.RequestSpec
}

// PeerConn is a handshaked connection to a peer for our torrent.
type PeerConn struct {
	cl       *Client
	t        *Torrent
	conn     net.Conn
	PeerID   types.PeerID
	outgoing bool
	logger   log.Logger

	closed    chansync.SetOnce
	closeOnce sync.Once

	downloadRate *Rate
	uploadRate   *Rate

	messageWriter peerConnMsgWriter

	mu sync.Mutex
	PeerState
	peerPieces pieceBitmap
	// A non keep-alive message was received. The bitfield is only allowed before this.
	sawMessage bool
	download   *pieceDownload
	// Blocks the peer requested that we haven't sent yet.
	uploadQueue []pp.RequestSpec
}

func newPeerConn(cl *Client, nc net.Conn, id types.PeerID, outgoing bool) *PeerConn {
	c := &PeerConn{
		cl:           cl,
		t:            cl.t,
		conn:         nc,
		PeerID:       id,
		outgoing:     outgoing,
		logger:       cl.logger.WithNames("conn", nc.RemoteAddr().String()),
		downloadRate: NewRate(),
		uploadRate:   NewRate(),
		PeerState: PeerState{
			AmChoking:   true,
			PeerChoking: true,
		},
	}
	c.initMessageWriter()
	return c
}

func (c *PeerConn) String() string {
	return fmt.Sprintf("%v %v", c.conn.RemoteAddr(), c.PeerID)
}

func (c *PeerConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Must be called with the lock held, or before the connection is shared.
func (c *PeerConn) write(msg pp.Message) bool {
	return c.messageWriter.write(msg)
}

// Queues our bitfield if we have anything. It must be the first message sent.
func (c *PeerConn) postBitfield() {
	if !c.t.haveAnyPieces() {
		return
	}
	c.write(pp.MakeBitfieldMessage(c.t.completedBitfield()))
}

func (c *PeerConn) State() PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PeerState
}

func (c *PeerConn) choke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AmChoking {
		return
	}
	c.AmChoking = true
	// Peers expect queued requests to be discarded when they're choked.
	c.uploadQueue = nil
	c.write(pp.Message{Type: pp.Choke})
}

func (c *PeerConn) unchoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.AmChoking {
		return
	}
	c.AmChoking = false
	c.write(pp.Message{Type: pp.Unchoke})
}

// Must be called with the lock held.
func (c *PeerConn) setInterested(interested bool) {
	if c.AmInterested == interested {
		return
	}
	c.AmInterested = interested
	c.write(pp.Message{Type: func() pp.MessageType {
		if interested {
			return pp.Interested
		}
		return pp.NotInterested
	}()})
}

// Recomputes our interest in the peer, and starts a download if we can. Must be called with the
// lock held.
func (c *PeerConn) updateRequests() {
	if c.closed.IsSet() {
		return
	}
	c.setInterested(c.t.wanted(&c.peerPieces) || c.download != nil)
	if c.AmInterested {
		c.requestNext()
	}
}

// Assigns a piece if there's none active, then fills the request pipeline. Must be called with
// the lock held.
func (c *PeerConn) requestNext() {
	if c.PeerChoking {
		return
	}
	if c.download == nil {
		p, ok := c.t.choosePieceFor(&c.peerPieces)
		if !ok {
			return
		}
		c.download = &pieceDownload{piece: p}
		c.logger.Levelf(log.Debug, "downloading %v", p)
	}
	c.fillPipeline()
}

func (c *PeerConn) fillPipeline() {
	d := c.download
	p := d.piece
	for len(d.outstanding) < c.cl.config.MaxPipelinedRequests && d.nextOffset < p.length {
		rs := pp.RequestSpec{
			Index:  pp.Integer(p.index),
			Begin:  pp.Integer(d.nextOffset),
			Length: pp.Integer(min(defaultChunkSize, p.length-d.nextOffset)),
		}
		d.outstanding = append(d.outstanding, rs)
		d.nextOffset += rs.Length.Int64()
		c.write(pp.MakeRequestMessage(rs.Index, rs.Begin, rs.Length))
	}
}

// Abandons the active download, returning the piece to the Torrent. Must be called with the lock
// held.
func (c *PeerConn) cancelDownload(sendCancels bool) {
	d := c.download
	if d == nil {
		return
	}
	if sendCancels {
		for _, rs := range d.outstanding {
			c.write(pp.MakeCancelMessage(rs.Index, rs.Begin, rs.Length))
		}
	}
	c.download = nil
	c.t.releasePiece(d.piece)
}

// Called by the Client after any connection completes a piece.
func (c *PeerConn) onWeCompletedPiece(i pieceIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.IsSet() {
		return
	}
	c.write(pp.MakeHaveMessage(pp.Integer(i)))
	if c.download != nil && c.download.piece.index == i {
		// Another connection won the end-game race.
		c.cancelDownload(true)
	}
	c.updateRequests()
}

// Called by the Client when pieces assigned elsewhere become available again.
func (c *PeerConn) onPiecesReleased() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateRequests()
}

// Withdraws everything we asked the peer for, once the torrent is complete.
func (c *PeerConn) cancelAllRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelDownload(true)
	c.setInterested(false)
}

func (c *PeerConn) resetRates() {
	c.downloadRate.Reset()
	c.uploadRate.Reset()
}

func (c *PeerConn) chokeCandidate(seeding bool) chokeCandidate {
	c.mu.Lock()
	interested := c.PeerInterested
	c.mu.Unlock()
	r := c.downloadRate
	if seeding {
		r = c.uploadRate
	}
	return chokeCandidate{
		interested: interested,
		rate:       r.Get(),
	}
}

func (c *PeerConn) close() {
	c.closeOnce.Do(func() {
		c.closed.Set()
		c.conn.Close()
		c.mu.Lock()
		var assigned *Piece
		if c.download != nil {
			assigned = c.download.piece
			c.download = nil
		}
		c.uploadQueue = nil
		c.t.peerDisconnected(&c.peerPieces, assigned)
		c.mu.Unlock()
		c.cl.connClosed(c)
	})
}

// Reads and handles messages until the connection fails or is closed.
func (c *PeerConn) mainReadLoop() error {
	cfg := c.cl.config
	numPieces := c.t.numPieces()
	decoder := pp.Decoder{
		R:         bufio.NewReaderSize(newConnReader(c.conn, cfg.ReadTimeout, cfg.DownloadRateLimiter), 1<<16),
		MaxLength: pp.MaxMessageLength(numPieces),
	}
	for {
		var msg pp.Message
		err := decoder.Decode(&msg)
		if c.closed.IsSet() {
			return nil
		}
		if err != nil {
			return err
		}
		if msg.Keepalive {
			receivedKeepalives.Inc()
			continue
		}
		if err := pp.ValidateMessage(msg, numPieces, c.t.pieceLength); err != nil {
			return err
		}
		if err := c.handleMessage(msg); err != nil {
			return err
		}
	}
}

func (c *PeerConn) protocolError(msg pp.Message, reason string) error {
	return &pp.ProtocolError{Msg: msg, Reason: reason}
}

func (c *PeerConn) handleMessage(msg pp.Message) error {
	if msg.Type == pp.Piece {
		return c.onReadPiece(msg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sawMessage := c.sawMessage
	c.sawMessage = true
	switch msg.Type {
	case pp.Choke:
		if c.PeerChoking {
			break
		}
		c.PeerChoking = true
		c.cancelDownload(true)
	case pp.Unchoke:
		if !c.PeerChoking {
			break
		}
		c.PeerChoking = false
		c.updateRequests()
	case pp.Interested:
		c.PeerInterested = true
	case pp.NotInterested:
		c.PeerInterested = false
	case pp.Have:
		i := msg.Index.Int()
		if !c.peerPieces.CheckedAdd(i) {
			break
		}
		c.t.peerHasPiece(i)
		c.updateRequests()
	case pp.Bitfield:
		if sawMessage {
			return c.protocolError(msg, "bitfield must be the first message")
		}
		for i, have := range msg.Bitfield[:c.t.numPieces()] {
			if have {
				c.peerPieces.Add(i)
			}
		}
		c.t.peerHasPieces(&c.peerPieces)
		c.updateRequests()
	case pp.Request:
		return c.onReadRequest(msg)
	case pp.Cancel:
		rs := msg.RequestSpec()
		i := slices.Index(c.uploadQueue, rs)
		if i < 0 {
			unexpectedCancels.Inc()
			break
		}
		c.uploadQueue = slices.Delete(c.uploadQueue, i, i+1)
	default:
		return fmt.Errorf("unhandled message type %v", msg.Type)
	}
	return nil
}

// Must be called with the lock held.
func (c *PeerConn) onReadRequest(msg pp.Message) error {
	if c.AmChoking {
		return c.protocolError(msg, "request while choked")
	}
	if !c.t.havePiece(msg.Index.Int()) {
		return c.protocolError(msg, "request for piece we don't have")
	}
	if len(c.uploadQueue) >= maxRequests {
		return c.protocolError(msg, "too many outstanding requests")
	}
	rs := msg.RequestSpec()
	if slices.Contains(c.uploadQueue, rs) {
		return nil
	}
	c.uploadQueue = append(c.uploadQueue, rs)
	c.messageWriter.wake()
	return nil
}

func (c *PeerConn) onReadPiece(msg pp.Message) error {
	rs := msg.RequestSpec()
	c.mu.Lock()
	c.sawMessage = true
	d := c.download
	i := -1
	if d != nil {
		i = slices.Index(d.outstanding, rs)
	}
	if i < 0 {
		c.mu.Unlock()
		unexpectedChunksReceived.Inc()
		c.logger.Levelf(log.Debug, "received unrequested block %v", rs)
		return nil
	}
	d.outstanding = slices.Delete(d.outstanding, i, i+1)
	chunksReceived.Inc()
	bytesDownloaded.Add(float64(len(msg.Piece)))
	c.downloadRate.Add(int64(len(msg.Piece)))
	if c.t.havePiece(d.piece.index) {
		// Someone else completed it during end-game.
		c.cancelDownload(true)
		c.updateRequests()
		c.mu.Unlock()
		return nil
	}
	if !d.piece.record(&d.assembly, msg.Piece, rs.Begin.Int64()) {
		c.fillPipeline()
		c.mu.Unlock()
		return nil
	}
	// The piece is assembled. Writing and hashing happen outside the lock.
	c.download = nil
	c.mu.Unlock()
	return c.completePiece(d)
}

func (c *PeerConn) completePiece(d *pieceDownload) error {
	p := d.piece
	res, err := c.t.receivePiece(p, &d.assembly)
	if err != nil {
		c.cl.torrentError(fmt.Errorf("writing %v: %w", p, err))
		return err
	}
	if res.completed {
		c.cl.pieceCompleted(p.index, res.torrentComplete)
	} else if res.failedHash {
		c.logger.Levelf(log.Warning, "%v from %v failed validation", p, c)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateRequests()
	return nil
}

// Pops the next block the peer asked for. Returns false if there's nothing to send.
func (c *PeerConn) nextUpload() (rs pp.RequestSpec, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AmChoking || len(c.uploadQueue) == 0 {
		return
	}
	rs = c.uploadQueue[0]
	c.uploadQueue = slices.Delete(c.uploadQueue, 0, 1)
	return rs, true
}

// Writes blocks the peer requested until the write buffer fills up, waiting on the upload rate
// limit for each one.
func (c *PeerConn) fillWriteBuffer(ctx context.Context) error {
	for !c.messageWriter.full() {
		rs, ok := c.nextUpload()
		if !ok {
			return nil
		}
		if err := c.cl.config.UploadRateLimiter.WaitN(ctx, rs.Length.Int()); err != nil {
			return fmt.Errorf("waiting for upload rate limit: %w", err)
		}
		b, err := c.t.readBlock(rs.Index.Int(), rs.Begin.Int64(), rs.Length.Int64())
		if err != nil {
			c.cl.torrentError(fmt.Errorf("reading block %v: %w", rs, err))
			return err
		}
		c.mu.Lock()
		if c.AmChoking {
			c.mu.Unlock()
			return nil
		}
		c.write(pp.MakePieceMessage(rs.Index, rs.Begin, b))
		c.mu.Unlock()
		chunksWritten.Inc()
		bytesUploaded.Add(float64(len(b)))
		c.uploadRate.Add(int64(len(b)))
		if p := c.t.piece(rs.Index.Int()); rs.Begin.Int64()+rs.Length.Int64() == p.length {
			c.t.addUploaded(p.length)
		}
	}
	return nil
}

// Runs the reader and writer until either one stops, then tears down the connection. The writer
// has returned by the time this does.
func (c *PeerConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer c.close()
		c.messageWriter.run(ctx, c.cl.config.KeepAliveTimeout)
	}()
	err := c.mainReadLoop()
	c.close()
	cancel()
	<-writerDone
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.logger.Levelf(log.Debug, "connection closed")
		return
	}
	var pe *pp.ProtocolError
	if errors.As(err, &pe) {
		protocolViolations.Inc()
		c.logger.Levelf(log.Info, "dropping %v: %v", c, err)
		return
	}
	c.logger.Levelf(log.Debug, "error reading from %v: %v", c, err)
}
