package torrent

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/peershare/torrent/peer_protocol"
)

// Stop filling the write buffer with piece data beyond this.
const writeBufferHighWaterLen = 1 << 16

func (c *PeerConn) initMessageWriter() {
	c.messageWriter = peerConnMsgWriter{
		fillWriteBuffer: c.fillWriteBuffer,
		closed:          &c.closed,
		logger:          c.logger,
		w:               c.conn,
		writeBuffer:     new(bytes.Buffer),
	}
}

type peerConnMsgWriter struct {
	// Must not be called with mu held, as it will call back into the write method.
	fillWriteBuffer func(context.Context) error
	closed          *chansync.SetOnce
	logger          log.Logger
	w               io.Writer

	mu        sync.Mutex
	writeCond chansync.BroadcastCond
	// Pointer so we can swap with the "front buffer".
	writeBuffer *bytes.Buffer
}

// Routine that writes to the peer. Some of what to write is buffered by activity elsewhere in the
// Client, and piece data is pulled in when the connection is writable.
func (cn *peerConnMsgWriter) run(ctx context.Context, keepAliveTimeout time.Duration) {
	lastWrite := time.Now()
	keepAliveTimer := time.NewTimer(keepAliveTimeout)
	defer keepAliveTimer.Stop()
	frontBuf := new(bytes.Buffer)
	for {
		if cn.closed.IsSet() {
			return
		}
		if err := cn.fillWriteBuffer(ctx); err != nil {
			cn.logger.WithDefaultLevel(log.Debug).Printf("error filling write buffer: %v", err)
			return
		}
		cn.mu.Lock()
		if cn.writeBuffer.Len() == 0 && time.Since(lastWrite) >= keepAliveTimeout {
			cn.writeBuffer.Write(pp.Message{Keepalive: true}.MustMarshalBinary())
			writtenKeepalives.Inc()
		}
		if cn.writeBuffer.Len() == 0 {
			writeCond := cn.writeCond.Signaled()
			cn.mu.Unlock()
			select {
			case <-cn.closed.Done():
			case <-ctx.Done():
				return
			case <-writeCond:
			case <-keepAliveTimer.C:
			}
			continue
		}
		// Flip the buffers.
		frontBuf, cn.writeBuffer = cn.writeBuffer, frontBuf
		cn.mu.Unlock()
		_, err := frontBuf.WriteTo(cn.w)
		frontBuf.Reset()
		if err != nil {
			cn.logger.WithDefaultLevel(log.Debug).Printf("error writing: %v", err)
			return
		}
		lastWrite = time.Now()
		keepAliveTimer.Reset(keepAliveTimeout)
	}
}

func (cn *peerConnMsgWriter) write(msg pp.Message) bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.writeBuffer.Write(msg.MustMarshalBinary())
	cn.writeCond.Broadcast()
	return !cn.fullLocked()
}

// Wakes the writer without queueing anything, so it calls fillWriteBuffer.
func (cn *peerConnMsgWriter) wake() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.writeCond.Broadcast()
}

func (cn *peerConnMsgWriter) full() bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.fullLocked()
}

func (cn *peerConnMsgWriter) fullLocked() bool {
	return cn.writeBuffer.Len() >= writeBufferHighWaterLen
}
