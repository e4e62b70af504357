package torrent

import (
	"fmt"
	"net"
	"strconv"

	g "github.com/anacrolix/generics"

	"github.com/peershare/torrent/types"
)

// PeerInfo is a peer address as returned by peer discovery. The ID is known only if discovery
// reported it.
type PeerInfo struct {
	IP   net.IP
	Port int
	ID   g.Option[types.PeerID]
}

// ParsePeerInfo parses "host:port". Host names are resolved.
func ParsePeerInfo(hostPort string) (ret PeerInfo, err error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return
	}
	ret.Port, err = strconv.Atoi(portStr)
	if err != nil {
		err = fmt.Errorf("parsing port %q: %w", portStr, err)
		return
	}
	if ret.Port <= 0 || ret.Port > 65535 {
		err = fmt.Errorf("port %d out of range", ret.Port)
		return
	}
	ret.IP = net.ParseIP(host)
	if ret.IP == nil {
		var addr *net.IPAddr
		addr, err = net.ResolveIPAddr("ip", host)
		if err != nil {
			return
		}
		ret.IP = addr.IP
	}
	return
}

func (me PeerInfo) Addr() string {
	return net.JoinHostPort(me.IP.String(), strconv.Itoa(me.Port))
}

func (me PeerInfo) String() string {
	if me.ID.Ok {
		return fmt.Sprintf("%v (%v)", me.Addr(), me.ID.Value)
	}
	return me.Addr()
}

// Keys a peer is known by in the Client's table. A peer is found by address before its ID is
// known, and by ID once a handshake reveals it.
func hostKey(addr net.Addr) string {
	return addr.String()
}

func idKey(id types.PeerID) string {
	return "id:" + id.HexString()
}

// An entry in the Client's peer table.
type knownPeer struct {
	info    PeerInfo
	conn    *PeerConn
	dialing bool
}

func (me *knownPeer) keys() (ret []string) {
	if me.info.IP != nil {
		ret = append(ret, me.info.Addr())
	}
	if me.info.ID.Ok {
		ret = append(ret, idKey(me.info.ID.Value))
	}
	return
}
