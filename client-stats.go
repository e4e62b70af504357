package torrent

// ClientStats is a snapshot of a Client's progress and transfer rates.
type ClientStats struct {
	State ClientState
	TorrentStats
	ConnectedPeers int
	KnownPeers     int
	// Bytes per second summed over connections, for the current rate window.
	DownloadRate float64
	UploadRate   float64
}

func (cl *Client) Stats() (ret ClientStats) {
	ret.TorrentStats = cl.t.stats()
	conns := cl.connsSnapshot()
	ret.ConnectedPeers = len(conns)
	for _, c := range conns {
		ret.DownloadRate += c.downloadRate.Get()
		ret.UploadRate += c.uploadRate.Get()
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	ret.State = cl.state
	distinct := make(map[*knownPeer]struct{}, len(cl.peers))
	for _, kp := range cl.peers {
		distinct[kp] = struct{}{}
	}
	ret.KnownPeers = len(distinct)
	return
}
