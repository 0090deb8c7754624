package auction

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
	"blindbid.org/internal/ledger"
	"blindbid.org/internal/registry"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	engineA = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fixture struct {
	clock  *chain.ManualClock
	reg    *registry.Ledger
	funds  *ledger.InMemory
	engine *Engine
	events []Event
}

func newFixture(t *testing.T, start chain.Height) *fixture {
	t.Helper()
	f := &fixture{
		clock: chain.NewManualClock(start),
		funds: ledger.NewInMemory(),
	}
	f.reg = registry.New(admin, nil)
	require.NoError(t, f.reg.SetAuthorizedMutator(admin, engineA))
	f.engine = New(admin, engineA, f.clock, f.reg, f.funds, WithEventSink(func(ev Event) {
		f.events = append(f.events, ev)
	}))
	for _, id := range []chain.Identity{alice, bob, carol} {
		_, err := f.funds.Deposit(context.Background(), id, uint256.NewInt(1_000), "")
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) balance(t *testing.T, id chain.Identity) uint64 {
	t.Helper()
	b, err := f.funds.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Uint64()
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestSingleBidderLifecycle(t *testing.T) {
	ctx := context.Background()
	const h = chain.Height(100)
	f := newFixture(t, h)

	info, err := f.engine.StartAuction(ctx, "alpha", commit.Hash(u(10), "s1"), alice)
	require.NoError(t, err)
	require.Equal(t, h+3, info.CommitEnd)
	require.Equal(t, h+6, info.RevealEnd)
	require.Equal(t, h+9, info.ClaimEnd)
	require.Equal(t, PhaseCommit, info.Phase)

	f.clock.Mine(4)
	res, err := f.engine.RevealBid(ctx, "alpha", u(10), "s1", alice)
	require.NoError(t, err)
	require.True(t, res.Leading)
	require.Equal(t, uint64(10), res.HighestBid.Uint64())
	require.Equal(t, alice, res.HighestBidder)

	f.clock.Mine(3)
	rc, err := f.engine.ClaimDomain(ctx, "alpha", alice, u(10), alice)
	require.NoError(t, err)
	require.True(t, rc.Refund.IsZero())
	require.Equal(t, h+7+30, rc.Expiry)
	require.Equal(t, uint64(10), f.engine.Escrow().Uint64())
	require.Equal(t, uint64(990), f.balance(t, alice))
	require.Equal(t, uint64(10), f.balance(t, engineA))

	owner, err := f.reg.OwnerOf(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, alice, owner)
	exp, err := f.reg.ExpiryOf(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, h+37, exp)

	kinds := make([]EventKind, 0, len(f.events))
	for _, ev := range f.events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []EventKind{EventStartBid, EventRevealBid, EventClaimDomain}, kinds)
}

func TestEqualBidsEarlierCommitWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)

	_, err := f.engine.StartAuction(ctx, "tie", commit.Hash(u(7), "a"), alice)
	require.NoError(t, err)
	f.clock.Mine(1)
	require.NoError(t, f.engine.AddBid(ctx, "tie", commit.Hash(u(7), "b"), bob))

	f.clock.Mine(3)
	res, err := f.engine.RevealBid(ctx, "tie", u(7), "b", bob)
	require.NoError(t, err)
	require.Equal(t, bob, res.HighestBidder)

	res, err = f.engine.RevealBid(ctx, "tie", u(7), "a", alice)
	require.NoError(t, err)
	require.Equal(t, alice, res.HighestBidder)
	require.Equal(t, uint64(7), res.HighestBid.Uint64())
	require.False(t, f.engine.IsHighestBidder("tie", bob))
}

func TestEqualLaterCommitDoesNotTakeLead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)

	_, err := f.engine.StartAuction(ctx, "tie", commit.Hash(u(7), "a"), alice)
	require.NoError(t, err)
	f.clock.Mine(1)
	require.NoError(t, f.engine.AddBid(ctx, "tie", commit.Hash(u(7), "b"), bob))
	f.clock.Mine(3)

	_, err = f.engine.RevealBid(ctx, "tie", u(7), "a", alice)
	require.NoError(t, err)
	res, err := f.engine.RevealBid(ctx, "tie", u(7), "b", bob)
	require.NoError(t, err)
	require.False(t, res.Leading)
	require.Equal(t, alice, res.HighestBidder)
}

func TestRecommitResetsCommittedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)

	_, err := f.engine.StartAuction(ctx, "n", commit.Hash(u(5), "a"), alice)
	require.NoError(t, err)
	require.NoError(t, f.engine.AddBid(ctx, "n", commit.Hash(u(5), "b"), bob))
	f.clock.Mine(2)
	require.NoError(t, f.engine.AddBid(ctx, "n", commit.Hash(u(5), "a2"), alice))

	c, ok := f.engine.Commit("n", alice)
	require.True(t, ok)
	require.Equal(t, chain.Height(12), c.CommittedAt)

	f.clock.Mine(2)
	_, err = f.engine.RevealBid(ctx, "n", u(5), "a", alice)
	require.ErrorIs(t, err, ErrCommitMismatch)
	_, err = f.engine.RevealBid(ctx, "n", u(5), "a2", alice)
	require.NoError(t, err)
	res, err := f.engine.RevealBid(ctx, "n", u(5), "b", bob)
	require.NoError(t, err)
	require.Equal(t, bob, res.HighestBidder)
}

func TestRevealMismatchLeavesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.engine.StartAuction(ctx, "m", commit.Hash(u(9), "x"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)

	_, err = f.engine.RevealBid(ctx, "m", u(10), "x", alice)
	require.ErrorIs(t, err, ErrCommitMismatch)
	_, err = f.engine.RevealBid(ctx, "m", u(9), "y", alice)
	require.ErrorIs(t, err, ErrCommitMismatch)
	_, err = f.engine.RevealBid(ctx, "m", u(9), "x", bob)
	require.ErrorIs(t, err, ErrNoSuchCommit)

	info := f.engine.Info("m")
	require.True(t, info.HighestBid.IsZero())
	require.Equal(t, chain.NoIdentity, info.HighestBidder)
}

func TestZeroBidNeverWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.engine.StartAuction(ctx, "z", commit.Hash(u(0), "z"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	res, err := f.engine.RevealBid(ctx, "z", u(0), "z", alice)
	require.NoError(t, err)
	require.False(t, res.Leading)

	f.clock.Mine(3)
	_, err = f.engine.ClaimDomain(ctx, "z", alice, u(0), alice)
	require.ErrorIs(t, err, ErrNotWinner)
}

func TestPhaseGating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20)
	d := commit.Hash(u(3), "p")

	require.ErrorIs(t, f.engine.AddBid(ctx, "g", d, bob), ErrPhaseViolation)
	_, err := f.engine.RevealBid(ctx, "g", u(3), "p", alice)
	require.ErrorIs(t, err, ErrPhaseViolation)
	_, err = f.engine.ClaimDomain(ctx, "g", alice, u(3), alice)
	require.ErrorIs(t, err, ErrPhaseViolation)

	_, err = f.engine.StartAuction(ctx, "g", d, alice)
	require.NoError(t, err)
	require.True(t, f.engine.CanAdd("g"))
	require.False(t, f.engine.CanStart(ctx, "g"))

	// Commit phase includes commitEnd itself.
	f.clock.Mine(3)
	require.NoError(t, f.engine.AddBid(ctx, "g", commit.Hash(u(2), "q"), bob))
	_, err = f.engine.RevealBid(ctx, "g", u(3), "p", alice)
	require.ErrorIs(t, err, ErrPhaseViolation)
	_, err = f.engine.StartAuction(ctx, "g", d, carol)
	require.ErrorIs(t, err, ErrPhaseViolation)

	f.clock.Mine(1)
	require.True(t, f.engine.CanReveal("g"))
	require.ErrorIs(t, f.engine.AddBid(ctx, "g", d, carol), ErrPhaseViolation)
	_, err = f.engine.RevealBid(ctx, "g", u(3), "p", alice)
	require.NoError(t, err)
	_, err = f.engine.ClaimDomain(ctx, "g", alice, u(3), alice)
	require.ErrorIs(t, err, ErrPhaseViolation)

	f.clock.Mine(3)
	require.True(t, f.engine.CanClaim("g"))
	_, err = f.engine.RevealBid(ctx, "g", u(2), "q", bob)
	require.ErrorIs(t, err, ErrPhaseViolation)

	f.clock.Mine(3)
	require.Equal(t, PhaseElapsed, f.engine.Info("g").Phase)
	_, err = f.engine.ClaimDomain(ctx, "g", alice, u(3), alice)
	require.ErrorIs(t, err, ErrPhaseViolation)
	require.True(t, f.engine.CanStart(ctx, "g"))
}

func TestClaimChecksInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.engine.StartAuction(ctx, "c", commit.Hash(u(40), "s"), alice)
	require.NoError(t, err)
	require.NoError(t, f.engine.AddBid(ctx, "c", commit.Hash(u(30), "t"), bob))
	f.clock.Mine(4)
	_, err = f.engine.RevealBid(ctx, "c", u(40), "s", alice)
	require.NoError(t, err)
	_, err = f.engine.RevealBid(ctx, "c", u(30), "t", bob)
	require.NoError(t, err)
	f.clock.Mine(3)

	_, err = f.engine.ClaimDomain(ctx, "c", chain.NoIdentity, u(1), bob)
	require.ErrorIs(t, err, ErrNotWinner)
	_, err = f.engine.ClaimDomain(ctx, "c", chain.NoIdentity, u(1), alice)
	require.ErrorIs(t, err, ErrInvalidTarget)
	_, err = f.engine.ClaimDomain(ctx, "c", carol, u(39), alice)
	require.ErrorIs(t, err, ErrInsufficientPayment)
	require.Equal(t, uint64(1_000), f.balance(t, alice))
	require.True(t, f.engine.Escrow().IsZero())

	rc, err := f.engine.ClaimDomain(ctx, "c", carol, u(55), alice)
	require.NoError(t, err)
	require.Equal(t, uint64(15), rc.Refund.Uint64())
	require.Equal(t, uint64(40), rc.Price.Uint64())
	require.Equal(t, uint64(960), f.balance(t, alice))
	require.Equal(t, uint64(40), f.engine.Escrow().Uint64())

	owner, err := f.reg.OwnerOf(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, carol, owner)
	names, err := f.reg.NamesOwnedBy(ctx, carol)
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, names)
}

func TestClaimFailsWhenPaymentCannotBeCollected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.engine.StartAuction(ctx, "poor", commit.Hash(u(900), "s"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	_, err = f.engine.RevealBid(ctx, "poor", u(900), "s", alice)
	require.NoError(t, err)
	f.clock.Mine(3)

	_, err = f.engine.ClaimDomain(ctx, "poor", alice, u(2_000), alice)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.True(t, f.engine.Escrow().IsZero())
	require.Equal(t, uint64(1_000), f.balance(t, alice))
	owner, err := f.reg.OwnerOf(ctx, "poor")
	require.NoError(t, err)
	require.Equal(t, chain.NoIdentity, owner)
}

func TestClaimRequiresEngineToBeMutator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	require.NoError(t, f.reg.SetAuthorizedMutator(admin, carol))

	_, err := f.engine.StartAuction(ctx, "mut", commit.Hash(u(5), "s"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	_, err = f.engine.RevealBid(ctx, "mut", u(5), "s", alice)
	require.NoError(t, err)
	f.clock.Mine(3)

	_, err = f.engine.ClaimDomain(ctx, "mut", alice, u(5), alice)
	require.ErrorIs(t, err, ErrNotAuthorized)
	require.Equal(t, uint64(1_000), f.balance(t, alice))
}

type brokenRegistry struct {
	*registry.Ledger
}

var errRegistryDown = errors.New("registry down")

func (brokenRegistry) WriteRecord(context.Context, chain.Identity, string, chain.Identity, chain.Height) error {
	return errRegistryDown
}

func TestClaimReversesPaymentOnRegistryFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	e := New(admin, engineA, f.clock, brokenRegistry{f.reg}, f.funds)

	_, err := e.StartAuction(ctx, "rb", commit.Hash(u(25), "s"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	_, err = e.RevealBid(ctx, "rb", u(25), "s", alice)
	require.NoError(t, err)
	f.clock.Mine(3)

	_, err = e.ClaimDomain(ctx, "rb", alice, u(30), alice)
	require.ErrorIs(t, err, errRegistryDown)
	require.Equal(t, uint64(1_000), f.balance(t, alice))
	require.Equal(t, uint64(0), f.balance(t, engineA))
	require.True(t, e.Escrow().IsZero())
}

func TestStartOnLiveNameAndAfterExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	require.NoError(t, f.reg.SetDefaultExpiryLength(admin, 5))

	_, err := f.engine.StartAuction(ctx, "live", commit.Hash(u(1), "s"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	_, err = f.engine.RevealBid(ctx, "live", u(1), "s", alice)
	require.NoError(t, err)
	f.clock.Mine(3)
	rc, err := f.engine.ClaimDomain(ctx, "live", alice, u(1), alice)
	require.NoError(t, err)
	require.Equal(t, chain.Height(12), rc.Expiry)

	f.clock.Mine(3)
	_, err = f.engine.StartAuction(ctx, "live", commit.Hash(u(2), "s"), bob)
	require.ErrorIs(t, err, ErrNameUnavailable)
	require.False(t, f.engine.CanStart(ctx, "live"))

	f.clock.Mine(2)
	info, err := f.engine.StartAuction(ctx, "live", commit.Hash(u(2), "s"), bob)
	require.NoError(t, err)
	require.Equal(t, 1, info.Bidders)
	require.True(t, info.HighestBid.IsZero())
	require.Equal(t, chain.NoIdentity, info.HighestBidder)
}

func TestRunningAuctionBeatsAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.engine.StartAuction(ctx, "run", commit.Hash(u(1), "s"), alice)
	require.NoError(t, err)
	_, err = f.engine.StartAuction(ctx, "run", commit.Hash(u(1), "s"), bob)
	require.ErrorIs(t, err, ErrPhaseViolation)
}

func TestLengthChangesAffectOnlyNewAuctions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	first, err := f.engine.StartAuction(ctx, "one", commit.Hash(u(1), "s"), alice)
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.SetCommitLength(alice, 10), ErrNotAuthorized)
	require.ErrorIs(t, f.engine.SetRevealLength(admin, 0), ErrInvalidLength)
	require.NoError(t, f.engine.SetCommitLength(admin, 10))
	require.NoError(t, f.engine.SetRevealLength(admin, 2))
	require.NoError(t, f.engine.SetClaimLength(admin, 1))
	require.Equal(t, Config{CommitLength: 10, RevealLength: 2, ClaimLength: 1}, f.engine.Config())

	require.Equal(t, first.CommitEnd, f.engine.Info("one").CommitEnd)
	second, err := f.engine.StartAuction(ctx, "two", commit.Hash(u(1), "s"), alice)
	require.NoError(t, err)
	require.Equal(t, chain.Height(10), second.CommitEnd)
	require.Equal(t, chain.Height(12), second.RevealEnd)
	require.Equal(t, chain.Height(13), second.ClaimEnd)
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	w, err := f.engine.Withdraw(ctx, admin)
	require.NoError(t, err)
	require.True(t, w.Amount.IsZero())

	_, err = f.engine.StartAuction(ctx, "w", commit.Hash(u(70), "s"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	_, err = f.engine.RevealBid(ctx, "w", u(70), "s", alice)
	require.NoError(t, err)
	f.clock.Mine(3)
	_, err = f.engine.ClaimDomain(ctx, "w", alice, u(70), alice)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, alice)
	require.ErrorIs(t, err, ErrNotAuthorized)
	require.Equal(t, uint64(70), f.engine.Escrow().Uint64())

	w, err = f.engine.Withdraw(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, uint64(70), w.Amount.Uint64())
	require.NotEmpty(t, w.TxID)
	require.True(t, f.engine.Escrow().IsZero())
	require.Equal(t, uint64(70), f.balance(t, admin))
	require.Equal(t, EventWithdraw, f.events[len(f.events)-1].Kind)
}

func TestEscrowSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.engine.StartAuction(ctx, "r", commit.Hash(u(70), "s"), alice)
	require.NoError(t, err)
	f.clock.Mine(4)
	_, err = f.engine.RevealBid(ctx, "r", u(70), "s", alice)
	require.NoError(t, err)
	f.clock.Mine(3)
	_, err = f.engine.ClaimDomain(ctx, "r", alice, u(70), alice)
	require.NoError(t, err)

	held, err := f.funds.GetBalance(ctx, engineA)
	require.NoError(t, err)
	require.Equal(t, uint64(70), held.Uint64())

	restarted := New(admin, engineA, f.clock, f.reg, f.funds, WithEscrow(held))
	require.Equal(t, uint64(70), restarted.Escrow().Uint64())

	w, err := restarted.Withdraw(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, uint64(70), w.Amount.Uint64())
	require.True(t, restarted.Escrow().IsZero())
	require.Equal(t, uint64(70), f.balance(t, admin))
	require.Equal(t, uint64(0), f.balance(t, engineA))
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	for _, name := range []string{"", "has space", "tab\tname", string(long), "\xff"} {
		_, err := f.engine.StartAuction(ctx, name, commit.Hash(u(1), "s"), alice)
		require.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
	require.Empty(t, f.events)
}

func TestInfoForUnknownName(t *testing.T) {
	f := newFixture(t, 9)
	info := f.engine.Info("nobody")
	require.Equal(t, PhaseNone, info.Phase)
	require.Equal(t, chain.Height(9), info.Height)
	require.True(t, info.HighestBid.IsZero())
	_, ok := f.engine.Commit("nobody", alice)
	require.False(t, ok)
}
