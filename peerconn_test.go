package torrent

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peershare/torrent/metainfo"
	pp "github.com/peershare/torrent/peer_protocol"
	"github.com/peershare/torrent/types"
)

// A Client with its pieces validated but not started.
func newInitedClient(t *testing.T, data []byte, seeder bool) *Client {
	return newInitedClientMetaInfo(t, testMetaInfo(t, data), data, seeder)
}

func newInitedClientMetaInfo(t *testing.T, mi *metainfo.MetaInfo, data []byte, seeder bool) *Client {
	cfg := testClientConfig(afero.NewMemMapFs(), "client")
	if seeder {
		require.NoError(t, afero.WriteFile(cfg.Fs, "/torrents/data", data, 0o644))
	}
	cl, err := NewClient(cfg, mi)
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })
	require.NoError(t, cl.t.init(context.Background()))
	return cl
}

// A PeerConn that isn't running, for driving handleMessage directly.
func idlePeerConn(t *testing.T, cl *Client) *PeerConn {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return newPeerConn(cl, a, types.RandomPeerID("-XX0000-"), false)
}

func requireProtocolError(t *testing.T, err error) {
	t.Helper()
	var pe *pp.ProtocolError
	qt.Assert(t, qt.IsTrue(errors.As(err, &pe)), qt.Commentf("%v", err))
}

func TestCancelDropsQueuedUpload(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), true)
	c := idlePeerConn(t, cl)
	c.AmChoking = false
	req := pp.MakeRequestMessage(1, 0, defaultChunkSize)
	require.NoError(t, c.handleMessage(req))
	// Duplicates aren't queued twice.
	require.NoError(t, c.handleMessage(req))
	qt.Check(t, qt.HasLen(c.uploadQueue, 1))
	require.NoError(t, c.handleMessage(pp.MakeCancelMessage(1, 0, defaultChunkSize)))
	qt.Check(t, qt.HasLen(c.uploadQueue, 0))
	// Cancelling something that isn't queued is harmless.
	require.NoError(t, c.handleMessage(pp.MakeCancelMessage(1, 0, defaultChunkSize)))
}

func TestChokeDiscardsUploadQueue(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), true)
	c := idlePeerConn(t, cl)
	c.AmChoking = false
	require.NoError(t, c.handleMessage(pp.MakeRequestMessage(0, 0, defaultChunkSize)))
	c.choke()
	qt.Check(t, qt.HasLen(c.uploadQueue, 0))
	requireProtocolError(t, c.handleMessage(pp.MakeRequestMessage(0, 0, defaultChunkSize)))
}

func TestRequestViolations(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), false)
	c := idlePeerConn(t, cl)
	requireProtocolError(t, c.handleMessage(pp.MakeRequestMessage(0, 0, defaultChunkSize)))
	c.AmChoking = false
	// We have nothing.
	requireProtocolError(t, c.handleMessage(pp.MakeRequestMessage(0, 0, defaultChunkSize)))
}

func TestTooManyRequests(t *testing.T) {
	data := testData(t, 2)
	cl := newInitedClient(t, data, true)
	c := idlePeerConn(t, cl)
	c.AmChoking = false
	for i := range maxRequests {
		require.NoError(t, c.handleMessage(pp.MakeRequestMessage(0, pp.Integer(i), 1)))
	}
	requireProtocolError(t, c.handleMessage(pp.MakeRequestMessage(0, maxRequests, 1)))
}

func TestBitfieldMustComeFirst(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), false)
	c := idlePeerConn(t, cl)
	require.NoError(t, c.handleMessage(pp.Message{Type: pp.Interested}))
	qt.Check(t, qt.IsTrue(c.PeerInterested))
	requireProtocolError(t, c.handleMessage(pp.MakeBitfieldMessage([]bool{true, false})))

	c = idlePeerConn(t, cl)
	require.NoError(t, c.handleMessage(pp.MakeBitfieldMessage([]bool{true, false})))
	requireProtocolError(t, c.handleMessage(pp.MakeBitfieldMessage([]bool{true, true})))
}

func TestHaveUpdatesAvailability(t *testing.T) {
	cl := newInitedClient(t, testData(t, 3), false)
	c := idlePeerConn(t, cl)
	require.NoError(t, c.handleMessage(pp.MakeHaveMessage(2)))
	require.NoError(t, c.handleMessage(pp.MakeHaveMessage(2)))
	qt.Check(t, qt.Equals(cl.t.piece(2).availability, 1))
	qt.Check(t, qt.IsTrue(c.AmInterested))
	c.close()
	qt.Check(t, qt.Equals(cl.t.piece(2).availability, 0))
}

func readMessage(t *testing.T, dec *pp.Decoder) (msg pp.Message) {
	t.Helper()
	for {
		require.NoError(t, dec.Decode(&msg))
		if !msg.Keepalive {
			return
		}
	}
}

// Drives a leecher's connection from the remote end of a pipe.
func TestLeecherSession(t *testing.T) {
	data := testData(t, 3)
	cl := newInitedClient(t, data, false)
	local, remote := net.Pipe()
	defer remote.Close()
	remote.SetDeadline(time.Now().Add(10 * time.Second))
	go cl.runConnection(local, types.RandomPeerID("-XX0000-"), false)
	dec := &pp.Decoder{R: bufio.NewReader(remote), MaxLength: pp.MaxMessageLength(3)}
	send := func(msg pp.Message) {
		_, err := remote.Write(msg.MustMarshalBinary())
		require.NoError(t, err)
	}

	send(pp.MakeBitfieldMessage([]bool{true, true, true}))
	qt.Assert(t, qt.Equals(readMessage(t, dec).Type, pp.Interested))
	send(pp.Message{Type: pp.Unchoke})
	info := cl.Info()
	p0 := info.Piece(0)
	var reqs []pp.RequestSpec
	for range p0.Length / defaultChunkSize {
		msg := readMessage(t, dec)
		qt.Assert(t, qt.Equals(msg.Type, pp.Request))
		reqs = append(reqs, msg.RequestSpec())
	}
	qt.Check(t, qt.DeepEquals(reqs, []pp.RequestSpec{
		{Index: 0, Begin: 0, Length: defaultChunkSize},
		{Index: 0, Begin: defaultChunkSize, Length: defaultChunkSize},
	}))
	for _, rs := range reqs {
		off := p0.Offset + rs.Begin.Int64()
		send(pp.MakePieceMessage(rs.Index, rs.Begin, data[off:off+rs.Length.Int64()]))
	}
	have := readMessage(t, dec)
	qt.Check(t, qt.Equals(have.Type, pp.Have))
	qt.Check(t, qt.Equals(have.Index, pp.Integer(0)))
	next := readMessage(t, dec)
	qt.Check(t, qt.Equals(next.Type, pp.Request))
	qt.Check(t, qt.Equals(next.Index, pp.Integer(1)))
	qt.Check(t, qt.IsTrue(cl.t.havePiece(0)))
	qt.Check(t, qt.Equals(cl.Stats().ConnectedPeers, 1))
}

// Messages buffered for the peer but not yet written.
func queuedMessages(t *testing.T, c *PeerConn) (msgs []pp.Message) {
	c.messageWriter.mu.Lock()
	b := bytes.Clone(c.messageWriter.writeBuffer.Bytes())
	c.messageWriter.mu.Unlock()
	dec := pp.Decoder{R: bufio.NewReader(bytes.NewReader(b)), MaxLength: pp.MaxMessageLength(c.t.numPieces())}
	for {
		var msg pp.Message
		err := dec.Decode(&msg)
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func queuedOfType(t *testing.T, c *PeerConn, mt pp.MessageType) (specs []pp.RequestSpec) {
	for _, msg := range queuedMessages(t, c) {
		if !msg.Keepalive && msg.Type == mt {
			specs = append(specs, msg.RequestSpec())
		}
	}
	return
}

// A PeerConn registered with the Client, so it hears about completed pieces.
func addedPeerConn(t *testing.T, cl *Client) *PeerConn {
	c := idlePeerConn(t, cl)
	require.True(t, cl.addConn(c))
	return c
}

// Has the peer announce the given pieces and unchoke us.
func unchokedBy(t *testing.T, c *PeerConn, have ...bool) {
	require.NoError(t, c.handleMessage(pp.MakeBitfieldMessage(have)))
	require.NoError(t, c.handleMessage(pp.Message{Type: pp.Unchoke}))
}

func TestInterestExcludesPiecesAssignedElsewhere(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), false)
	a := idlePeerConn(t, cl)
	unchokedBy(t, a, true, false)
	require.NotNil(t, a.download)
	qt.Assert(t, qt.Equals(a.download.piece.index, 0))
	qt.Check(t, qt.IsTrue(a.AmInterested))

	b := idlePeerConn(t, cl)
	require.NoError(t, b.handleMessage(pp.MakeHaveMessage(0)))
	qt.Check(t, qt.IsFalse(b.AmInterested))

	released := cl.t.piecesReleased.Signaled()
	require.NoError(t, a.handleMessage(pp.Message{Type: pp.Choke}))
	select {
	case <-released:
	default:
		t.Fatal("releasing the piece wasn't signalled")
	}
	b.onPiecesReleased()
	qt.Check(t, qt.IsTrue(b.AmInterested))
}

func TestInterestIncludesAssignedPiecesInEndGame(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), false)
	cl.t.endGameRatio = 0
	a := idlePeerConn(t, cl)
	unchokedBy(t, a, true, false)
	b := idlePeerConn(t, cl)
	require.NoError(t, b.handleMessage(pp.MakeHaveMessage(0)))
	qt.Check(t, qt.IsTrue(b.AmInterested))
}

func TestPeerChokeCancelsRequests(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), false)
	c := idlePeerConn(t, cl)
	unchokedBy(t, c, true, true)
	require.NotNil(t, c.download)
	p := c.download.piece
	requested := queuedOfType(t, c, pp.Request)
	qt.Assert(t, qt.HasLen(requested, 2))

	require.NoError(t, c.handleMessage(pp.Message{Type: pp.Choke}))
	qt.Check(t, qt.IsNil(c.download))
	qt.Check(t, qt.Equals(p.requesters, 0))
	qt.Check(t, qt.DeepEquals(queuedOfType(t, c, pp.Cancel), requested))
	// Still interested, but nothing more is requested while choked.
	qt.Check(t, qt.IsTrue(c.AmInterested))
	qt.Check(t, qt.HasLen(queuedOfType(t, c, pp.Request), 2))
}

func TestEndGameLoserCancels(t *testing.T) {
	data := testData(t, 2)
	cl := newInitedClient(t, data, false)
	cl.t.endGameRatio = 0
	winner := addedPeerConn(t, cl)
	loser := addedPeerConn(t, cl)
	unchokedBy(t, winner, true, false)
	unchokedBy(t, loser, true, false)
	p := cl.t.piece(0)
	qt.Assert(t, qt.Equals(p.requesters, 2))
	requested := queuedOfType(t, loser, pp.Request)

	for _, rs := range queuedOfType(t, winner, pp.Request) {
		off := p.offset + rs.Begin.Int64()
		require.NoError(t, winner.handleMessage(pp.MakePieceMessage(rs.Index, rs.Begin, data[off:off+rs.Length.Int64()])))
	}
	qt.Assert(t, qt.IsTrue(cl.t.havePiece(0)))
	qt.Check(t, qt.IsNil(loser.download))
	qt.Check(t, qt.Equals(p.requesters, 0))
	qt.Check(t, qt.DeepEquals(queuedOfType(t, loser, pp.Cancel), requested))
	qt.Check(t, qt.HasLen(queuedOfType(t, loser, pp.Have), 1))

	// The block arrives anyway.
	unexpected := testutil.ToFloat64(unexpectedChunksReceived)
	rs := requested[0]
	require.NoError(t, loser.handleMessage(pp.MakePieceMessage(rs.Index, rs.Begin, make([]byte, rs.Length))))
	qt.Check(t, qt.Equals(testutil.ToFloat64(unexpectedChunksReceived), unexpected+1))
	b, err := cl.t.readBlock(0, 0, rs.Length.Int64())
	require.NoError(t, err)
	assert.Equal(t, data[:rs.Length], b)
}

func TestRequestPipelineLimit(t *testing.T) {
	const numBlocks = 8
	data := make([]byte, numBlocks*defaultChunkSize)
	_, err := rand.Read(data)
	require.NoError(t, err)
	info, err := metainfo.NewFromReader(bytes.NewReader(data), "data", int64(len(data)))
	require.NoError(t, err)
	var mi metainfo.MetaInfo
	require.NoError(t, mi.SetInfo(info))
	cl := newInitedClientMetaInfo(t, &mi, data, false)
	c := idlePeerConn(t, cl)
	unchokedBy(t, c, true)
	requested := queuedOfType(t, c, pp.Request)
	qt.Assert(t, qt.HasLen(requested, cl.config.MaxPipelinedRequests))
	qt.Check(t, qt.HasLen(c.download.outstanding, 5))

	rs := requested[0]
	require.NoError(t, c.handleMessage(pp.MakePieceMessage(rs.Index, rs.Begin, data[:rs.Length])))
	requested = queuedOfType(t, c, pp.Request)
	qt.Assert(t, qt.HasLen(requested, 6))
	qt.Check(t, qt.Equals(requested[5].Begin, pp.Integer(5*defaultChunkSize)))
	qt.Check(t, qt.HasLen(c.download.outstanding, 5))
}

func TestRunWaitsForWriter(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), true)
	local, remote := net.Pipe()
	c := newPeerConn(cl, local, types.RandomPeerID("-XX0000-"), false)
	var writerReturned atomic.Bool
	writing := make(chan struct{})
	c.messageWriter.fillWriteBuffer = func(ctx context.Context) error {
		close(writing)
		// Like a writer held up by the upload rate limit.
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		writerReturned.Store(true)
		return ctx.Err()
	}
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.run(context.Background())
	}()
	waitDone(t, writing, "writer to start")
	remote.Close()
	waitDone(t, runDone, "connection to stop")
	qt.Check(t, qt.IsTrue(writerReturned.Load()))
}
