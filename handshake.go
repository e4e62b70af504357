package torrent

import (
	"net"
	"time"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	pp "github.com/peershare/torrent/peer_protocol"
	"github.com/peershare/torrent/types"
)

// Exchanges handshakes for our torrent, within the handshake timeout. If expectedID is given, the
// peer must present it.
func (cl *Client) handshake(nc net.Conn, initiator bool, expectedID *types.PeerID) (res pp.HandshakeResult, err error) {
	if err = nc.SetDeadline(time.Now().Add(cl.config.HandshakeTimeout)); err != nil {
		return
	}
	res, err = pp.Handshake(nc, cl.infoHash, cl.peerID, initiator)
	if err != nil {
		return
	}
	if expectedID != nil && types.PeerID(res.PeerID) != *expectedID {
		err = errors.Wrapf(pp.ErrUnexpectedPeerID, "got %v, expected %v", types.PeerID(res.PeerID), *expectedID)
		return
	}
	err = nc.SetDeadline(time.Time{})
	return
}

// Binds a handshaked connection and runs it until it closes.
func (cl *Client) runConnection(nc net.Conn, id types.PeerID, outgoing bool) {
	c := newPeerConn(cl, nc, id, outgoing)
	if !cl.addConn(c) {
		nc.Close()
		return
	}
	c.logger.Levelf(log.Debug, "connected (outgoing %v)", outgoing)
	c.run(cl.ctx)
}
