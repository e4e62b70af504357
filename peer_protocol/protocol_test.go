package peer_protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peershare/torrent/types/infohash"
)

func TestConstants(t *testing.T) {
	// check that iota works as expected in the const block
	qt.Assert(t, qt.Equals(NotInterested, 3))
	qt.Assert(t, qt.Equals(Cancel, 8))
	qt.Assert(t, qt.Equals(HandshakeLen, 68))
}

func TestBitfieldEncode(t *testing.T) {
	bf := make([]bool, 37)
	bf[2] = true
	bf[7] = true
	bf[32] = true
	s := string(MarshalBitfield(bf))
	const expected = "\x21\x00\x00\x00\x80"
	qt.Assert(t, qt.Equals(s, expected))
}

func TestHaveEncode(t *testing.T) {
	actual := string(MakeHaveMessage(42).MustMarshalBinary())
	expected := "\x00\x00\x00\x05\x04\x00\x00\x00\x2a"
	qt.Assert(t, qt.Equals(actual, expected))
}

func TestShortRead(t *testing.T) {
	dec := Decoder{
		R:         bufio.NewReader(bytes.NewBufferString("\x00\x00\x20\x00\x00")),
		MaxLength: 2,
	}
	msg := new(Message)
	err := dec.Decode(msg)
	qt.Assert(t, qt.ErrorIs(err, ErrMessageTooLong))
}

func TestUnexpectedEOF(t *testing.T) {
	msg := new(Message)
	for _, stream := range []string{
		"\x00\x00\x00",     // Header truncated.
		"\x00\x00\x00\x01", // Expecting 1 more byte.
		// Request with wrong length, and too short anyway.
		"\x00\x00\x00\x0d\x06\x00\x00\x00\x00\x00\x00\x00\x00",
	} {
		dec := Decoder{
			R:         bufio.NewReader(bytes.NewBufferString(stream)),
			MaxLength: 42,
		}
		err := dec.Decode(msg)
		qt.Check(t, qt.ErrorIs(err, io.ErrUnexpectedEOF), qt.Commentf("%q", stream))
	}
}

func TestCleanEOF(t *testing.T) {
	dec := Decoder{R: bufio.NewReader(bytes.NewReader(nil)), MaxLength: 10}
	qt.Assert(t, qt.Equals(dec.Decode(new(Message)), io.EOF))
}

func TestMarshalKeepalive(t *testing.T) {
	b, err := (Message{
		Keepalive: true,
	}).MarshalBinary()
	require.NoError(t, err)
	assert.EqualValues(t, []byte{0, 0, 0, 0}, b)
	var msg Message
	require.NoError(t, msg.UnmarshalBinary(b))
	assert.True(t, msg.Keepalive)
}

func TestMessageRoundTrips(t *testing.T) {
	for _, m := range []Message{
		{Type: Choke},
		{Type: Unchoke},
		{Type: Interested},
		{Type: NotInterested},
		MakeHaveMessage(7),
		MakeRequestMessage(1, DefaultBlockSize, DefaultBlockSize),
		MakeCancelMessage(1, 0, DefaultBlockSize),
		MakePieceMessage(3, 16, []byte("data")),
		MakeBitfieldMessage([]bool{true, false, true, false, false, false, false, true, true, false, false, false, false, false, false, false}),
	} {
		b := m.MustMarshalBinary()
		var out Message
		require.NoError(t, out.UnmarshalBinary(b), "%v", m)
		if m.Type == Choke || m.Type == Unchoke || m.Type == Interested || m.Type == NotInterested {
			assert.Equal(t, m.Type, out.Type)
			continue
		}
		assert.Equal(t, m, out)
	}
}

func TestUnknownMessageType(t *testing.T) {
	var msg Message
	err := msg.UnmarshalBinary([]byte{0, 0, 0, 1, 20})
	assert.Error(t, err)
}

func TestFixedLengthMessagesRejectWrongLengths(t *testing.T) {
	var msg Message
	assert.Error(t, msg.UnmarshalBinary([]byte{0, 0, 0, 2, 0, 0}))
	assert.Error(t, msg.UnmarshalBinary([]byte{0, 0, 0, 3, 4, 0, 0}))
}

func TestValidateMessage(t *testing.T) {
	pieceLength := func(i int) int64 {
		if i == 2 {
			return 100
		}
		return 1 << 18
	}
	var pe *ProtocolError
	check := func(msg Message, ok bool) {
		t.Helper()
		err := ValidateMessage(msg, 3, pieceLength)
		if ok {
			assert.NoError(t, err, "%v", msg)
		} else {
			assert.True(t, errors.As(err, &pe), "%v: %v", msg, err)
		}
	}
	check(MakeHaveMessage(2), true)
	check(MakeHaveMessage(3), false)
	check(MakeRequestMessage(0, 0, DefaultBlockSize), true)
	check(MakeRequestMessage(0, 0, MaxBlockSize), true)
	check(MakeRequestMessage(0, 0, MaxBlockSize+1), false)
	check(MakeRequestMessage(0, 0, 0), false)
	check(MakeRequestMessage(2, 90, 10), true)
	check(MakeRequestMessage(2, 90, 11), false)
	check(MakeRequestMessage(5, 0, 1), false)
	check(MakePieceMessage(2, 96, make([]byte, 8)), false)
	check(MakeCancelMessage(1, 0, 1), true)
	check(MakeBitfieldMessage([]bool{true, true, true, false, false, false, false, false}), true)
	check(MakeBitfieldMessage([]bool{true, true, true, true, false, false, false, false}), false)
	check(MakeBitfieldMessage(make([]bool, 16)), false)
	check(Message{Keepalive: true}, true)
}

func TestHandshake(t *testing.T) {
	ih := infohash.HashBytes([]byte("torrent"))
	var idA, idB [20]byte
	copy(idA[:], "-PS0100-aaaaaaaaaaaa")
	copy(idB[:], "-PS0100-bbbbbbbbbbbb")
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	errCh := make(chan error, 1)
	go func() {
		res, err := Handshake(b, ih, idB, false)
		if err == nil && res.PeerID != idA {
			err = errors.New("wrong peer id")
		}
		errCh <- err
	}()
	res, err := Handshake(a, ih, idA, true)
	require.NoError(t, err)
	assert.Equal(t, idB, res.PeerID)
	assert.Equal(t, ih, res.T)
	require.NoError(t, <-errCh)
}

func TestHandshakeInfoHashMismatch(t *testing.T) {
	var buf bytes.Buffer
	var id [20]byte
	require.NoError(t, WriteHandshake(&buf, infohash.HashBytes([]byte("other")), id))
	rw := struct {
		io.Reader
		io.Writer
	}{&buf, io.Discard}
	_, err := Handshake(rw, infohash.HashBytes([]byte("ours")), [20]byte{1}, false)
	qt.Assert(t, qt.ErrorIs(err, ErrInfoHashMismatch))
}

func TestReadHandshakeBadProtocol(t *testing.T) {
	data := append([]byte("\x13BitTorrent protocoX"), make([]byte, 48)...)
	_, err := ReadHandshake(bytes.NewReader(data))
	qt.Assert(t, qt.ErrorIs(err, ErrBadProtocol))
}
