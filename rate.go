package torrent

import (
	"time"

	"github.com/anacrolix/sync"
	"golang.org/x/time/rate"
)

// 64 KiB used to be a rough default buffer for sockets on Windows. It fits several blocks.
const defaultDownloadRateLimiterBurst = 1 << 16

// Sets rate limiter burst if it's set to zero which is used to request the default by our API.
func setRateLimiterBurstIfZero(l *rate.Limiter, def int) {
	if l.Burst() == 0 && l.Limit() != rate.Inf {
		// What if the limit is greater than what can be represented by int?
		l.SetBurst(def)
	}
}

// Rate accumulates bytes transferred since the last Reset. The rate is measured between the reset
// and the most recent transfer, so an idle peer keeps the rate it last had until the next reset.
type Rate struct {
	mu    sync.Mutex
	bytes int64
	reset time.Time
	last  time.Time
}

func NewRate() *Rate {
	now := time.Now()
	return &Rate{reset: now, last: now}
}

func (r *Rate) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes += n
	r.last = time.Now()
}

// Bytes per second.
func (r *Rate) Get() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.last.Sub(r.reset).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(r.bytes) / elapsed
}

func (r *Rate) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

func (r *Rate) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes = 0
	r.reset = time.Now()
	r.last = r.reset
}
