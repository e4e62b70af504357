package torrent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	pp "github.com/peershare/torrent/peer_protocol"
)

const (
	maxRequests      = 250 // Maximum pending requests we allow peers to send us.
	defaultChunkSize = pp.DefaultBlockSize
)

func newCounter(name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peershare",
		Name:      name,
		Help:      help,
	})
}

var (
	chunksReceived           = newCounter("chunks_received_total", "Piece messages received.")
	unexpectedChunksReceived = newCounter("chunks_received_unexpected_total", "Piece messages for blocks not requested.")
	chunksWritten            = newCounter("chunks_written_total", "Piece messages sent.")

	unexpectedCancels = newCounter("unexpected_cancels_total", "Cancels for blocks not queued for upload.")

	pieceHashedCorrect    = newCounter("piece_hashed_correct_total", "Pieces that passed hash validation.")
	pieceHashedNotCorrect = newCounter("piece_hashed_not_correct_total", "Pieces that failed hash validation.")

	successfulDials   = newCounter("dials_successful_total", "Outbound connections that completed a handshake.")
	unsuccessfulDials = newCounter("dials_unsuccessful_total", "Outbound connection attempts that failed.")

	acceptTCP         = newCounter("accept_tcp_total", "Inbound connections accepted.")
	handshakeRejected = newCounter("handshake_rejected_total", "Inbound handshakes rejected.")

	// Number of completed connections to a client we're already connected with.
	duplicateClientConns = newCounter("duplicate_client_conns_total", "Connections dropped as duplicates.")
	protocolViolations   = newCounter("protocol_violations_total", "Connections dropped for protocol violations.")
	receivedKeepalives   = newCounter("received_keepalives_total", "Keep-alive messages received.")
	writtenKeepalives    = newCounter("written_keepalives_total", "Keep-alive messages sent.")

	bytesUploaded   = newCounter("upload_bytes_total", "Piece data bytes sent.")
	bytesDownloaded = newCounter("download_bytes_total", "Piece data bytes received.")
)
