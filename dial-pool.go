package torrent

import (
	"net"

	"github.com/anacrolix/log"
	"golang.org/x/sync/semaphore"

	"github.com/peershare/torrent/types"
)

// Bounds concurrent outbound connection attempts.
type dialPool struct {
	sem    *semaphore.Weighted
	dialer net.Dialer
}

func newDialPool(cfg *ClientConfig) *dialPool {
	return &dialPool{
		sem:    semaphore.NewWeighted(int64(max(cfg.MaxOutboundDials, 1))),
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// Starts a dial to a known peer. Must be called with the Client lock held.
func (cl *Client) startDial(kp *knownPeer) {
	kp.dialing = true
	info := kp.info
	cl.wg.Add(1)
	go func() {
		defer cl.wg.Done()
		if err := cl.dialPool.sem.Acquire(cl.ctx, 1); err != nil {
			cl.dialFailed(kp, err)
			return
		}
		nc, id, err := cl.dialAndHandshake(info)
		cl.dialPool.sem.Release(1)
		if err != nil {
			unsuccessfulDials.Inc()
			cl.dialFailed(kp, err)
			return
		}
		successfulDials.Inc()
		cl.mu.Lock()
		kp.dialing = false
		cl.mu.Unlock()
		cl.runConnection(nc, id, true)
	}()
}

func (cl *Client) dialAndHandshake(info PeerInfo) (_ net.Conn, id types.PeerID, err error) {
	nc, err := cl.dialPool.dialer.DialContext(cl.ctx, "tcp", info.Addr())
	if err != nil {
		return
	}
	var expected *types.PeerID
	if info.ID.Ok {
		expected = &info.ID.Value
	}
	res, err := cl.handshake(nc, true, expected)
	if err != nil {
		nc.Close()
		return
	}
	return nc, types.PeerID(res.PeerID), nil
}

// Forgets a peer we couldn't connect to. Discovery may offer it again later.
func (cl *Client) dialFailed(kp *knownPeer, err error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	kp.dialing = false
	cl.logger.Levelf(log.Debug, "forgetting %v: %v", kp.info, err)
	for _, k := range kp.keys() {
		if cl.peers[k] == kp {
			delete(cl.peers, k)
		}
	}
}
