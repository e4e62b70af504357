package torrent

import (
	"context"
	"time"

	"github.com/anacrolix/log"

	"github.com/peershare/torrent/metainfo"
	"github.com/peershare/torrent/types"
)

type AnnounceEvent int

const (
	AnnounceEventNone AnnounceEvent = iota
	AnnounceEventStarted
	AnnounceEventCompleted
	AnnounceEventStopped
)

func (me AnnounceEvent) String() string {
	switch me {
	case AnnounceEventStarted:
		return "started"
	case AnnounceEventCompleted:
		return "completed"
	case AnnounceEventStopped:
		return "stopped"
	default:
		return ""
	}
}

type AnnounceRequest struct {
	InfoHash   metainfo.Hash
	PeerID     types.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      AnnounceEvent
}

type AnnounceResponse struct {
	// Zero means the Client's default.
	Interval time.Duration
	Peers    []PeerInfo
}

// Announcer reports our progress to a peer discovery service and returns peers to connect to.
type Announcer interface {
	Announce(context.Context, AnnounceRequest) (AnnounceResponse, error)
}

const stoppedAnnounceTimeout = 10 * time.Second

func (cl *Client) announceRequest(event AnnounceEvent) AnnounceRequest {
	st := cl.t.stats()
	return AnnounceRequest{
		InfoHash:   cl.infoHash,
		PeerID:     cl.peerID,
		Port:       cl.listenPort(),
		Uploaded:   st.Uploaded,
		Downloaded: st.Downloaded,
		Left:       st.Left,
		Event:      event,
	}
}

// Announces once, feeding returned peers to AddPeers. Returns when to announce next.
func (cl *Client) announce(ctx context.Context, event AnnounceEvent) time.Duration {
	interval := cl.config.DefaultAnnounceInterval
	resp, err := cl.config.Announcer.Announce(ctx, cl.announceRequest(event))
	if err != nil {
		cl.logger.Levelf(log.Warning, "announce %q: %v", event, err)
		return interval
	}
	cl.logger.Levelf(log.Debug, "announce %q returned %d peers", event, len(resp.Peers))
	if resp.Interval > 0 {
		interval = resp.Interval
	}
	cl.AddPeers(resp.Peers)
	return interval
}

func (cl *Client) announceLoop(ctx context.Context) {
	event := AnnounceEventStarted
	completed := cl.complete.Done()
	if cl.complete.IsSet() {
		// Trackers only want completed for downloads that happened in this session.
		completed = nil
	}
	for {
		interval := cl.announce(ctx, event)
		event = AnnounceEventNone
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			stopCtx, cancel := context.WithTimeout(context.Background(), stoppedAnnounceTimeout)
			cl.announce(stopCtx, AnnounceEventStopped)
			cancel()
			return
		case <-completed:
			completed = nil
			event = AnnounceEventCompleted
		case <-timer.C:
		}
		timer.Stop()
	}
}
