package peer_protocol

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/peershare/torrent/types/infohash"
)

// Extension bits are always sent as zero, and ignored from peers.
type PeerExtensionBits [8]byte

const HandshakeLen = len(Protocol) + 8 + 20 + 20

var (
	ErrBadProtocol        = errors.New("unexpected protocol string")
	ErrInfoHashMismatch   = errors.New("info hash mismatch")
	ErrUnexpectedPeerID   = errors.New("unexpected peer id")
	ErrConnectedToOurself = errors.New("connected to ourself")
)

type HandshakeResult struct {
	PeerExtensionBits
	PeerID [20]byte
	infohash.T
}

func WriteHandshake(w io.Writer, ih infohash.T, peerID [20]byte) error {
	b := make([]byte, 0, HandshakeLen)
	b = append(b, Protocol...)
	b = append(b, make([]byte, 8)...)
	b = append(b, ih[:]...)
	b = append(b, peerID[:]...)
	_, err := w.Write(b)
	return err
}

// ReadHandshake reads the protocol string, reserved bytes, info hash and peer id.
func ReadHandshake(r io.Reader) (res HandshakeResult, err error) {
	var pstrlen [1]byte
	if _, err = io.ReadFull(r, pstrlen[:]); err != nil {
		err = fmt.Errorf("reading protocol string length: %w", err)
		return
	}
	b := make([]byte, int(pstrlen[0])+48)
	if _, err = io.ReadFull(r, b); err != nil {
		err = fmt.Errorf("reading handshake: %w", err)
		return
	}
	if string(pstrlen[:])+string(b[:pstrlen[0]]) != Protocol {
		err = errors.Wrapf(ErrBadProtocol, "%q", b[:pstrlen[0]])
		return
	}
	b = b[pstrlen[0]:]
	copy(res.PeerExtensionBits[:], b[:8])
	copy(res.T[:], b[8:28])
	copy(res.PeerID[:], b[28:48])
	return
}

// Handshake performs the exchange for a single torrent. The initiator of the connection writes its
// handshake first. The receiver reads and checks the info hash first, so an unknown torrent gets no
// reply. The peer id is checked by the caller.
func Handshake(
	sock io.ReadWriter,
	ih infohash.T,
	peerID [20]byte,
	initiator bool,
) (
	res HandshakeResult, err error,
) {
	if initiator {
		if err = WriteHandshake(sock, ih, peerID); err != nil {
			err = fmt.Errorf("writing handshake: %w", err)
			return
		}
	}
	res, err = ReadHandshake(sock)
	if err != nil {
		return
	}
	if res.T != ih {
		err = errors.Wrapf(ErrInfoHashMismatch, "peer sent %v", res.T)
		return
	}
	if res.PeerID == peerID {
		err = ErrConnectedToOurself
		return
	}
	if !initiator {
		if err = WriteHandshake(sock, ih, peerID); err != nil {
			err = fmt.Errorf("writing handshake: %w", err)
		}
	}
	return
}
