package peer_protocol

import "fmt"

// ProtocolError is a message that is well formed but violates the protocol for the torrent it was
// sent on. The connection it arrived on should be dropped.
type ProtocolError struct {
	Msg    Message
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in %v: %s", e.Msg, e.Reason)
}

func violation(msg Message, format string, args ...any) error {
	return &ProtocolError{Msg: msg, Reason: fmt.Sprintf(format, args...)}
}

// ValidateMessage checks indexes and block bounds against the torrent layout. pieceLength returns
// the length of a valid piece index.
func ValidateMessage(msg Message, numPieces int, pieceLength func(int) int64) error {
	if msg.Keepalive {
		return nil
	}
	switch msg.Type {
	case Have:
		if msg.Index.Int() >= numPieces {
			return violation(msg, "piece index out of range [0, %d)", numPieces)
		}
	case Bitfield:
		if len(msg.Bitfield) != (numPieces+7)/8*8 {
			return violation(msg, "expected %d bytes", (numPieces+7)/8)
		}
		for _, spare := range msg.Bitfield[numPieces:] {
			if spare {
				return violation(msg, "spare bits set")
			}
		}
	case Request, Cancel, Piece:
		rs := msg.RequestSpec()
		if rs.Index.Int() >= numPieces {
			return violation(msg, "piece index out of range [0, %d)", numPieces)
		}
		if rs.Length > MaxBlockSize {
			return violation(msg, "block larger than %d", MaxBlockSize)
		}
		if msg.Type != Piece && rs.Length == 0 {
			return violation(msg, "empty block")
		}
		if end := rs.Begin.Int64() + rs.Length.Int64(); end > pieceLength(rs.Index.Int()) {
			return violation(msg, "block ends at %d beyond piece length %d", end, pieceLength(rs.Index.Int()))
		}
	}
	return nil
}
