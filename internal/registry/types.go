package registry

import (
	"context"
	"errors"

	"blindbid.org/internal/chain"
)

// Record is the registration of one name.
type Record struct {
	Owner  chain.Identity `json:"owner"`
	Expiry chain.Height   `json:"expiry"`
}

// Live reports whether the record is owned and unexpired at height h.
func (r Record) Live(h chain.Height) bool {
	return !chain.IsZero(r.Owner) && h < r.Expiry
}

// Store persists records. Get returns the zero Record for unknown names.
type Store interface {
	Get(ctx context.Context, name string) (Record, error)
	Put(ctx context.Context, name string, rec Record) error
	NamesOwnedBy(ctx context.Context, owner chain.Identity) ([]string, error)
}

// DefaultExpiryLength is the registration period granted on settlement.
const DefaultExpiryLength chain.BlockCount = 30

var (
	ErrNotAuthorized = errors.New("registry: not authorized")
	ErrInvalidLength = errors.New("registry: expiry length must be > 0")
)
