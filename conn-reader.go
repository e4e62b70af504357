package torrent

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/anacrolix/missinggo/v2/panicif"
	"golang.org/x/time/rate"
)

// Builds the reader a PeerConn decodes messages from. Every read pushes the deadline forward, so
// a peer that goes quiet for longer than timeout, keep-alives included, is dropped.
func newConnReader(nc net.Conn, timeout time.Duration, l *rate.Limiter) io.Reader {
	var r io.Reader = deadlineReader{nc: nc, timeout: timeout}
	if l != nil {
		r = &rateLimitedReader{l: l, r: r}
	}
	return r
}

type deadlineReader struct {
	nc      net.Conn
	timeout time.Duration
}

func (r deadlineReader) Read(b []byte) (int, error) {
	err := r.nc.SetReadDeadline(time.Now().Add(r.timeout))
	if err != nil {
		return 0, fmt.Errorf("error setting read deadline: %s", err)
	}
	return r.nc.Read(b)
}

// Delays after each read so the long run average stays under the limit.
type rateLimitedReader struct {
	l *rate.Limiter
	r io.Reader
}

func (me *rateLimitedReader) Read(b []byte) (n int, err error) {
	if me.l.Limit() == rate.Inf {
		return me.r.Read(b)
	}
	if me.l.Burst() != 0 {
		b = b[:min(len(b), me.l.Burst())]
	}
	t := time.Now()
	n, err = me.r.Read(b)
	r := me.l.ReserveN(t, n)
	panicif.False(r.OK())
	time.Sleep(r.DelayFrom(t))
	return
}
