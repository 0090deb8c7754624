// Package auction implements the sealed-bid commit/reveal auction that
// allocates registry names.
//
// Every auction moves through Commit, Reveal and Claim windows whose bounds
// are fixed when the auction starts. The phase is recomputed from the clock
// on every call. Bidders commit keccak256(value, salt) during Commit, open
// their commitments during Reveal, and the highest bidder pays and claims the
// name during Claim. Equal bids are won by the earlier commitment.
//
// All operations on an Engine are serialized; each one either applies fully
// or leaves the engine, the registry and the funds ledger unchanged.
package auction

import (
	"context"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
	"blindbid.org/internal/ledger"
)

const maxNameLength = 255

// Registry is the slice of the registry ledger the engine depends on.
type Registry interface {
	IsLive(ctx context.Context, name string, h chain.Height) (bool, error)
	DefaultExpiryLength() chain.BlockCount
	AuthorizedMutator() chain.Identity
	WriteRecord(ctx context.Context, caller chain.Identity, name string, owner chain.Identity, expiry chain.Height) error
}

// Funds moves native currency. ledger.Service satisfies it.
type Funds interface {
	Transfer(ctx context.Context, from, to chain.Identity, amt *uint256.Int, idemKey string) (ledger.Transaction, error)
}

// Engine runs auctions for all names.
type Engine struct {
	admin    chain.Identity
	self     chain.Identity
	clock    chain.Clock
	registry Registry
	funds    Funds
	sinks    []EventSink

	mu       sync.Mutex
	cfg      Config
	auctions map[string]*Record
	escrow   uint256.Int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the initial phase lengths. Invalid configs are ignored.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.Validate() == nil {
			e.cfg = cfg
		}
	}
}

// WithEventSink registers a receiver for engine events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sinks = append(e.sinks, sink)
		}
	}
}

// WithEscrow seeds the escrow balance. A restarted engine passes the balance
// of its own funds account so settled amounts stay withdrawable.
func WithEscrow(amount *uint256.Int) Option {
	return func(e *Engine) {
		if amount != nil {
			e.escrow.Set(amount)
		}
	}
}

// New returns an engine administered by admin. self is the engine's own
// identity: it must be the registry's authorized mutator, and its funds
// account holds the escrow.
func New(admin, self chain.Identity, clock chain.Clock, registry Registry, funds Funds, opts ...Option) *Engine {
	e := &Engine{
		admin:    admin,
		self:     self,
		clock:    clock,
		registry: registry,
		funds:    funds,
		cfg:      DefaultConfig(),
		auctions: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Admin returns the administrator identity fixed at construction.
func (e *Engine) Admin() chain.Identity { return e.admin }

// Identity returns the engine's own identity.
func (e *Engine) Identity() chain.Identity { return e.self }

// Height returns the current clock height.
func (e *Engine) Height() chain.Height { return e.clock.Height() }

// StartAuction opens the commit phase for name with the caller's commitment.
func (e *Engine) StartAuction(ctx context.Context, name string, hash commit.Digest, caller chain.Identity) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	var ev *Event
	defer e.emit(&ev)

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.clock.Height()
	rec := e.auctions[name]
	if PhaseOf(rec, h).Running() {
		return Info{}, ErrPhaseViolation
	}
	live, err := e.registry.IsLive(ctx, name, h)
	if err != nil {
		return Info{}, err
	}
	if live {
		return Info{}, ErrNameUnavailable
	}

	commitEnd, ok1 := h.Add(e.cfg.CommitLength)
	revealEnd, ok2 := commitEnd.Add(e.cfg.RevealLength)
	claimEnd, ok3 := revealEnd.Add(e.cfg.ClaimLength)
	if !ok1 || !ok2 || !ok3 {
		return Info{}, ErrHeightOverflow
	}

	if rec == nil {
		rec = &Record{}
		e.auctions[name] = rec
	}
	rec.Active = true
	rec.CommitEnd = commitEnd
	rec.RevealEnd = revealEnd
	rec.ClaimEnd = claimEnd
	rec.HighestBid.Clear()
	rec.HighestBidder = chain.NoIdentity
	rec.Commits = map[chain.Identity]Commitment{
		caller: {Hash: hash, CommittedAt: h},
	}

	ev = &Event{Kind: EventStartBid, Name: name, Actor: caller, Height: h}
	return snapshot(name, rec, h), nil
}

// AddBid stores or replaces the caller's commitment during the commit phase.
func (e *Engine) AddBid(ctx context.Context, name string, hash commit.Digest, caller chain.Identity) error {
	var ev *Event
	defer e.emit(&ev)

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.clock.Height()
	rec := e.auctions[name]
	if PhaseOf(rec, h) != PhaseCommit {
		return ErrPhaseViolation
	}
	rec.Commits[caller] = Commitment{Hash: hash, CommittedAt: h}

	ev = &Event{Kind: EventAddBid, Name: name, Actor: caller, Height: h}
	return nil
}

// RevealBid opens the caller's commitment and updates the running winner.
// A higher value takes the lead; an equal value takes the lead only when it
// was committed at an earlier height than the current leader's commitment.
func (e *Engine) RevealBid(ctx context.Context, name string, value *uint256.Int, salt string, caller chain.Identity) (RevealResult, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	var ev *Event
	defer e.emit(&ev)

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.clock.Height()
	rec := e.auctions[name]
	if PhaseOf(rec, h) != PhaseReveal {
		return RevealResult{}, ErrPhaseViolation
	}
	slot, ok := rec.Commits[caller]
	if !ok {
		return RevealResult{}, ErrNoSuchCommit
	}
	if !commit.Matches(slot.Hash, value, salt) {
		return RevealResult{}, ErrCommitMismatch
	}

	switch {
	case value.Gt(&rec.HighestBid):
		rec.HighestBid.Set(value)
		rec.HighestBidder = caller
	case value.Eq(&rec.HighestBid) && !chain.IsZero(rec.HighestBidder):
		if leader, ok := rec.Commits[rec.HighestBidder]; ok && slot.CommittedAt < leader.CommittedAt {
			rec.HighestBidder = caller
		}
	}

	ev = &Event{Kind: EventRevealBid, Name: name, Actor: caller, Height: h}
	return RevealResult{
		Leading:       rec.HighestBidder == caller,
		HighestBid:    rec.HighestBid.Clone(),
		HighestBidder: rec.HighestBidder,
	}, nil
}

// Info returns the auction snapshot for name. Unknown names report PhaseNone.
func (e *Engine) Info(name string) Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.clock.Height()
	rec := e.auctions[name]
	if rec == nil {
		return Info{Name: name, Height: h, Phase: PhaseNone, HighestBid: new(uint256.Int)}
	}
	return snapshot(name, rec, h)
}

// Commit returns the caller's current commitment for name.
func (e *Engine) Commit(name string, bidder chain.Identity) (Commitment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.auctions[name]
	if rec == nil {
		return Commitment{}, false
	}
	c, ok := rec.Commits[bidder]
	return c, ok
}

// CanStart reports whether StartAuction for name would pass its phase and
// availability checks at the current height.
func (e *Engine) CanStart(ctx context.Context, name string) bool {
	if validateName(name) != nil {
		return false
	}
	e.mu.Lock()
	h := e.clock.Height()
	running := PhaseOf(e.auctions[name], h).Running()
	e.mu.Unlock()
	if running {
		return false
	}
	live, err := e.registry.IsLive(ctx, name, h)
	return err == nil && !live
}

func (e *Engine) CanAdd(name string) bool    { return e.phase(name) == PhaseCommit }
func (e *Engine) CanReveal(name string) bool { return e.phase(name) == PhaseReveal }
func (e *Engine) CanClaim(name string) bool  { return e.phase(name) == PhaseClaim }

// IsHighestBidder reports whether id currently leads the auction for name.
func (e *Engine) IsHighestBidder(name string, id chain.Identity) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.auctions[name]
	return rec != nil && !chain.IsZero(id) && rec.HighestBidder == id
}

func (e *Engine) phase(name string) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PhaseOf(e.auctions[name], e.clock.Height())
}

func snapshot(name string, rec *Record, h chain.Height) Info {
	return Info{
		Name:          name,
		Height:        h,
		Phase:         PhaseOf(rec, h),
		Active:        rec.Active,
		CommitEnd:     rec.CommitEnd,
		RevealEnd:     rec.RevealEnd,
		ClaimEnd:      rec.ClaimEnd,
		HighestBid:    rec.HighestBid.Clone(),
		HighestBidder: rec.HighestBidder,
		Bidders:       len(rec.Commits),
	}
}

func validateName(name string) error {
	if name == "" || len(name) > maxNameLength || !utf8.ValidString(name) {
		return ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidName
		}
	}
	return nil
}
