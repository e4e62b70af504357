package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Peer client ID.
type PeerID [20]byte

var _ slog.LogValuer = PeerID{}

func (me PeerID) LogValue() slog.Value {
	return slog.StringValue(me.String())
}

// Pretty prints the ID as hex, except the client prefix when it follows the Azureus convention.
func (me PeerID) String() string {
	if me[0] == '-' && me[7] == '-' {
		return string(me[:8]) + hex.EncodeToString(me[8:])
	}
	return hex.EncodeToString(me[:])
}

func (me PeerID) HexString() string {
	return hex.EncodeToString(me[:])
}

// RandomPeerID returns an ID with the given prefix followed by random bytes.
func RandomPeerID(prefix string) (ret PeerID) {
	n := copy(ret[:], prefix)
	if _, err := rand.Read(ret[n:]); err != nil {
		panic(fmt.Sprintf("reading random peer id: %v", err))
	}
	return
}
