package torrent

import (
	"math/rand/v2"
	"testing"

	"github.com/go-quicktest/qt"
)

func countTrue(bs []bool) (n int) {
	for _, b := range bs {
		if b {
			n++
		}
	}
	return
}

func interestedCandidates(n int) []chokeCandidate {
	cands := make([]chokeCandidate, n)
	for i := range cands {
		cands[i] = chokeCandidate{interested: true, rate: float64(i * 100)}
	}
	return cands
}

func TestSelectUnchokedTopRates(t *testing.T) {
	cands := interestedCandidates(10)
	unchoke := selectUnchoked(cands, 4, false, rand.New(rand.NewPCG(1, 2)))
	qt.Assert(t, qt.Equals(countTrue(unchoke), 4))
	for i := 6; i < 10; i++ {
		qt.Check(t, qt.IsTrue(unchoke[i]), qt.Commentf("%d", i))
	}
}

func TestSelectUnchokedOptimistic(t *testing.T) {
	cands := interestedCandidates(10)
	rnd := rand.New(rand.NewPCG(3, 4))
	seen := make(map[int]bool)
	for range 100 {
		unchoke := selectUnchoked(cands, 4, true, rnd)
		qt.Assert(t, qt.Equals(countTrue(unchoke), 5))
		for i := 6; i < 10; i++ {
			qt.Assert(t, qt.IsTrue(unchoke[i]))
		}
		for i := range 6 {
			if unchoke[i] {
				seen[i] = true
			}
		}
	}
	// Optimistic picks move around the choked peers.
	qt.Check(t, qt.IsTrue(len(seen) > 1))
}

func TestSelectUnchokedUninterestedDontTakeSlots(t *testing.T) {
	cands := interestedCandidates(10)
	cands = append(cands,
		chokeCandidate{interested: false, rate: 5000},
		chokeCandidate{interested: false, rate: 6000},
	)
	unchoke := selectUnchoked(cands, 4, false, rand.New(rand.NewPCG(1, 2)))
	qt.Check(t, qt.Equals(countTrue(unchoke), 6))
	qt.Check(t, qt.IsTrue(unchoke[10]))
	qt.Check(t, qt.IsTrue(unchoke[11]))
}

func TestSelectUnchokedFewPeers(t *testing.T) {
	unchoke := selectUnchoked(interestedCandidates(2), 4, true, rand.New(rand.NewPCG(1, 2)))
	qt.Check(t, qt.DeepEquals(unchoke, []bool{true, true}))
}

func TestEveryNth(t *testing.T) {
	qt.Check(t, qt.IsTrue(everyNth(3, 3)))
	qt.Check(t, qt.IsFalse(everyNth(4, 3)))
	qt.Check(t, qt.IsFalse(everyNth(4, 0)))
}

func TestChokeCycleCadence(t *testing.T) {
	cl := newInitedClient(t, testData(t, 2), false)
	cl.config.MaxDownloaders = 1
	var conns []*PeerConn
	for range 4 {
		c := addedPeerConn(t, cl)
		c.PeerInterested = true
		c.downloadRate.Add(1000)
		conns = append(conns, c)
	}
	numUnchoked := func() (n int) {
		for _, c := range conns {
			if !c.State().AmChoking {
				n++
			}
		}
		return
	}
	rnd := rand.New(rand.NewPCG(1, 2))
	cl.chokeCycle(1, rnd)
	qt.Check(t, qt.Equals(numUnchoked(), 1))
	qt.Check(t, qt.Equals(conns[0].downloadRate.Bytes(), int64(1000)))
	cl.chokeCycle(2, rnd)
	qt.Check(t, qt.Equals(numUnchoked(), 1))
	for _, c := range conns {
		qt.Check(t, qt.Equals(c.downloadRate.Bytes(), int64(0)))
	}
	// The optimistic unchoke comes on every third cycle.
	cl.chokeCycle(3, rnd)
	qt.Check(t, qt.Equals(numUnchoked(), 2))
	cl.chokeCycle(4, rnd)
	qt.Check(t, qt.Equals(numUnchoked(), 1))
	conns[0].downloadRate.Add(1000)
	cl.chokeCycle(5, rnd)
	qt.Check(t, qt.Equals(numUnchoked(), 1))
	qt.Check(t, qt.Equals(conns[0].downloadRate.Bytes(), int64(1000)))
	cl.chokeCycle(6, rnd)
	qt.Check(t, qt.Equals(numUnchoked(), 2))
}
