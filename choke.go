package torrent

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/multiless"
)

type chokeCandidate struct {
	interested bool
	// Bytes per second over the current rate window.
	rate float64
}

// selectUnchoked decides which connections to unchoke. Walking connections by descending rate,
// the first k interested ones are unchoked, along with any uninterested ones passed on the way.
// On optimistic cycles one of the remaining connections is picked at random and unchoked too.
func selectUnchoked(cands []chokeCandidate, k int, optimistic bool, rnd *rand.Rand) []bool {
	unchoke := make([]bool, len(cands))
	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		return multiless.New().Cmp(
			cmp.Compare(cands[b].rate, cands[a].rate),
		).Int(
			a, b,
		).OrderingInt()
	})
	slots := 0
	var choked []int
	for _, i := range order {
		if slots >= k {
			choked = append(choked, i)
			continue
		}
		unchoke[i] = true
		if cands[i].interested {
			slots++
		}
	}
	if optimistic && len(choked) != 0 {
		unchoke[choked[rnd.IntN(len(choked))]] = true
	}
	return unchoke
}

func (cl *Client) chokeLoop(ctx context.Context) {
	cfg := cl.config
	ticker := time.NewTicker(cfg.ChokeInterval)
	defer ticker.Stop()
	rnd := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	for cycle := 1; ; cycle++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cl.chokeCycle(cycle, rnd)
	}
}

func everyNth(cycle, n int) bool {
	return n > 0 && cycle%n == 0
}

// Runs one round of the choking algorithm over all current connections.
func (cl *Client) chokeCycle(cycle int, rnd *rand.Rand) {
	cfg := cl.config
	conns := cl.connsSnapshot()
	// Rank by what peers give us while downloading, and by what they take while seeding.
	seeding := cl.t.haveAll()
	cands := make([]chokeCandidate, len(conns))
	for i, c := range conns {
		cands[i] = c.chokeCandidate(seeding)
	}
	optimistic := everyNth(cycle, cfg.OptimisticUnchokeCycles)
	unchoke := selectUnchoked(cands, cfg.MaxDownloaders, optimistic, rnd)
	numUnchoked := 0
	for i, c := range conns {
		if unchoke[i] {
			c.unchoke()
			numUnchoked++
		} else {
			c.choke()
		}
	}
	cl.logger.Levelf(log.Debug, "choke cycle %d: %d/%d unchoked (optimistic %v)", cycle, numUnchoked, len(conns), optimistic)
	if everyNth(cycle, cfg.RateResetCycles) {
		for _, c := range conns {
			c.resetRates()
		}
	}
}
