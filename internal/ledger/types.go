package ledger

import (
	"errors"
	"time"

	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/ids"
)

// Account is the native-currency balance held by one identity.
type Account struct {
	ID        chain.Identity
	CreatedAt time.Time
	Balance   *uint256.Int
}

// Transaction is one committed movement of funds. Deposits have a zero From.
type Transaction struct {
	ID             string
	CreatedAt      time.Time
	From           chain.Identity
	To             chain.Identity
	Amount         *uint256.Int
	IdempotencyKey string
	Sequence       uint64 // monotonic sequence number
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

func newID() string {
	return ids.WithPrefix("tx")
}
