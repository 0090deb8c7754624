package auction

import (
	"errors"
	"time"

	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/commit"
)

var (
	ErrPhaseViolation      = errors.New("auction: operation not allowed in current phase")
	ErrNameUnavailable     = errors.New("auction: name is registered and unexpired")
	ErrNoSuchCommit        = errors.New("auction: no commitment for caller")
	ErrCommitMismatch      = errors.New("auction: value and salt do not match commitment")
	ErrNotWinner           = errors.New("auction: caller is not the highest bidder")
	ErrInvalidTarget       = errors.New("auction: invalid target identity")
	ErrInsufficientPayment = errors.New("auction: payment below highest bid")
	ErrNotAuthorized       = errors.New("auction: not authorized")
	ErrInvalidName         = errors.New("auction: invalid name")
	ErrInvalidLength       = errors.New("auction: phase length must be > 0")
	ErrHeightOverflow      = errors.New("auction: height overflow")
	ErrEscrowOverflow      = errors.New("auction: escrow balance overflow")
	ErrEscrowUnderflow     = errors.New("auction: escrow balance underflow")
)

// Commitment is one bidder's sealed bid.
type Commitment struct {
	Hash        commit.Digest
	CommittedAt chain.Height
}

// Record is the state of the auction for one name. Records are reset in
// place when a new auction starts for the same name.
type Record struct {
	Active        bool
	CommitEnd     chain.Height
	RevealEnd     chain.Height
	ClaimEnd      chain.Height
	HighestBid    uint256.Int
	HighestBidder chain.Identity
	Commits       map[chain.Identity]Commitment
}

// Config holds phase lengths applied to auctions started after a change.
type Config struct {
	CommitLength chain.BlockCount `toml:"commit_length"`
	RevealLength chain.BlockCount `toml:"reveal_length"`
	ClaimLength  chain.BlockCount `toml:"claim_length"`
}

func DefaultConfig() Config {
	return Config{CommitLength: 3, RevealLength: 3, ClaimLength: 3}
}

func (c Config) Validate() error {
	if c.CommitLength == 0 || c.RevealLength == 0 || c.ClaimLength == 0 {
		return ErrInvalidLength
	}
	return nil
}

// Info is a read-only snapshot of one auction.
type Info struct {
	Name          string
	Height        chain.Height
	Phase         Phase
	Active        bool
	CommitEnd     chain.Height
	RevealEnd     chain.Height
	ClaimEnd      chain.Height
	HighestBid    *uint256.Int
	HighestBidder chain.Identity
	Bidders       int
}

// RevealResult reports the standing after an accepted reveal.
type RevealResult struct {
	Leading       bool
	HighestBid    *uint256.Int
	HighestBidder chain.Identity
}

// Receipt describes a settled claim.
type Receipt struct {
	ID        string
	Name      string
	Bidder    chain.Identity
	Target    chain.Identity
	Paid      *uint256.Int
	Price     *uint256.Int
	Refund    *uint256.Int
	Expiry    chain.Height
	Height    chain.Height
	PaymentTx string
	SettledAt time.Time
}

// Withdrawal describes an escrow payout to the administrator.
type Withdrawal struct {
	ID     string
	To     chain.Identity
	Amount *uint256.Int
	TxID   string
}
