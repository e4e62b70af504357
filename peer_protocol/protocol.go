package peer_protocol

import "fmt"

const (
	Protocol = "\x13BitTorrent protocol"
)

type MessageType byte

const (
	Choke         MessageType = iota
	Unchoke                   // 1
	Interested                // 2
	NotInterested             // 3
	Have                      // 4
	Bitfield                  // 5
	Request                   // 6
	Piece                     // 7
	Cancel                    // 8
)

func (mt MessageType) String() string {
	switch mt {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(mt))
	}
}

const (
	// Size of the blocks we request, and the usual request size from other clients.
	DefaultBlockSize = 1 << 14
	// Larger requests are a protocol violation.
	MaxBlockSize = 1 << 17
	// Type byte, index and begin.
	pieceMessageHeaderLen = 9
)

// MaxMessageLength is the largest frame length, excluding the length prefix, that a peer may send
// for a torrent with the given number of pieces.
func MaxMessageLength(numPieces int) Integer {
	return Integer(max(MaxBlockSize+pieceMessageHeaderLen, 1+(numPieces+7)/8))
}
