// Package sim generates bidder populations and auction plans and drives them
// against a running registrard.
package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
)

type Bidder struct {
	ID    chain.Identity
	Label string
}

// Bid is one sealed bid together with its opening.
type Bid struct {
	Bidder Bidder
	Value  *uint256.Int
	Salt   string
	Hash   commit.Digest
}

// Plan is one auction: the first bid starts it, the rest are added in order
// and revealed in the same order.
type Plan struct {
	Name string
	Bids []Bid
}

// Winner returns the bid that should win when bids are committed at the same
// height and revealed in order: the first strictly highest non-zero value.
func (p Plan) Winner() (Bid, bool) {
	var (
		best  Bid
		found bool
	)
	for _, b := range p.Bids {
		if b.Value.IsZero() {
			continue
		}
		if !found || b.Value.Gt(best.Value) {
			best, found = b, true
		}
	}
	return best, found
}

type Generator struct {
	run     string
	rnd     *rand.Rand
	bidders []Bidder
	maxBid  uint64
	seq     int
}

// NewGenerator returns a generator over n bidders. Identities are derived
// from the run id so separate runs never share accounts.
func NewGenerator(seed int64, n int, maxBid uint64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if n < 1 {
		n = 1
	}
	if maxBid == 0 {
		maxBid = 1_000
	}
	run := uuid.NewString()[:8]
	g := &Generator{run: run, rnd: rand.New(rand.NewSource(seed)), maxBid: maxBid}
	for i := 0; i < n; i++ {
		label := fmt.Sprintf("sim-%s-bidder-%03d", run, i)
		g.bidders = append(g.bidders, Bidder{ID: chain.DeriveIdentity(label), Label: label})
	}
	return g
}

func (g *Generator) Run() string { return g.run }

func (g *Generator) Bidders() []Bidder {
	return append([]Bidder(nil), g.bidders...)
}

// NextPlan draws a fresh name and between 1 and maxBidders distinct bidders.
func (g *Generator) NextPlan(maxBidders int) Plan {
	if maxBidders < 1 || maxBidders > len(g.bidders) {
		maxBidders = len(g.bidders)
	}
	g.seq++
	n := 1 + g.rnd.Intn(maxBidders)
	plan := Plan{Name: fmt.Sprintf("%s-%04d.sim", g.run, g.seq)}
	for _, idx := range g.rnd.Perm(len(g.bidders))[:n] {
		value := uint256.NewInt(1 + uint64(g.rnd.Int63n(int64(g.maxBid))))
		salt := uuid.NewString()
		plan.Bids = append(plan.Bids, Bid{
			Bidder: g.bidders[idx],
			Value:  value,
			Salt:   salt,
			Hash:   commit.Hash(value, salt),
		})
	}
	return plan
}
