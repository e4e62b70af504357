package torrent

import (
	"errors"
	"net"
	"strconv"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	pkgErrors "github.com/pkg/errors"

	"github.com/peershare/torrent/types"
)

var ErrNoPortAvailable = errors.New("no port available in listen range")

// Binds TCP on the first free port in [first, last]. A range of [0, 0] lets the OS pick.
func listenPortRange(host string, first, last int) (net.Listener, error) {
	panicif.GreaterThan(first, last)
	var lastErr error
	for port := first; port <= last; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, pkgErrors.Wrapf(ErrNoPortAvailable, "[%d, %d]: %v", first, last, lastErr)
}

func (cl *Client) acceptConnections(l net.Listener) {
	for {
		nc, err := l.Accept()
		if cl.closed.IsSet() {
			if nc != nil {
				nc.Close()
			}
			return
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			cl.logger.Levelf(log.Warning, "error accepting connection: %v", err)
			continue
		}
		acceptTCP.Inc()
		cl.wg.Add(1)
		go func() {
			defer cl.wg.Done()
			cl.incomingConnection(nc)
		}()
	}
}

func (cl *Client) incomingConnection(nc net.Conn) {
	res, err := cl.handshake(nc, false, nil)
	if err != nil {
		handshakeRejected.Inc()
		cl.logger.Levelf(log.Debug, "rejected handshake from %v: %v", nc.RemoteAddr(), err)
		nc.Close()
		return
	}
	cl.runConnection(nc, types.PeerID(res.PeerID), false)
}
