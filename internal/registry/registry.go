// Package registry is the name ledger: per name an owner and an expiry
// height. Reads are open to everyone; records are written only by the single
// authorized mutator configured by the registry owner.
package registry

import (
	"context"
	"fmt"
	"sync"

	"blindbid.org/internal/chain"
)

// Observer is notified after every successful record write.
type Observer func(name string, rec Record)

// Ledger holds registry configuration and delegates record storage to a Store.
type Ledger struct {
	owner chain.Identity
	store Store

	mu            sync.RWMutex
	defaultExpiry chain.BlockCount
	mutator       chain.Identity
	observers     []Observer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver registers fn to be called after each record write.
func WithObserver(fn Observer) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.observers = append(l.observers, fn)
		}
	}
}

// WithDefaultExpiryLength overrides the initial expiry length.
func WithDefaultExpiryLength(n chain.BlockCount) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.defaultExpiry = n
		}
	}
}

// New returns a ledger administered by owner. A nil store selects an
// in-memory store.
func New(owner chain.Identity, store Store, opts ...Option) *Ledger {
	if store == nil {
		store = NewMemStore()
	}
	l := &Ledger{
		owner:         owner,
		store:         store,
		defaultExpiry: DefaultExpiryLength,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Owner returns the registry administrator.
func (l *Ledger) Owner() chain.Identity { return l.owner }

// OwnerOf returns the stored owner of name, or the zero identity.
func (l *Ledger) OwnerOf(ctx context.Context, name string) (chain.Identity, error) {
	rec, err := l.store.Get(ctx, name)
	if err != nil {
		return chain.NoIdentity, err
	}
	return rec.Owner, nil
}

// ExpiryOf returns the stored expiry of name, or 0 when unregistered.
func (l *Ledger) ExpiryOf(ctx context.Context, name string) (chain.Height, error) {
	rec, err := l.store.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return rec.Expiry, nil
}

// Details returns owner and expiry of name in one read.
func (l *Ledger) Details(ctx context.Context, name string) (Record, error) {
	return l.store.Get(ctx, name)
}

// IsLive reports whether name is owned and unexpired at height h.
func (l *Ledger) IsLive(ctx context.Context, name string, h chain.Height) (bool, error) {
	rec, err := l.store.Get(ctx, name)
	if err != nil {
		return false, err
	}
	return rec.Live(h), nil
}

// NamesOwnedBy lists names whose stored owner is owner, expired ones included.
func (l *Ledger) NamesOwnedBy(ctx context.Context, owner chain.Identity) ([]string, error) {
	return l.store.NamesOwnedBy(ctx, owner)
}

// AuthorizedMutator returns the identity allowed to write records.
func (l *Ledger) AuthorizedMutator() chain.Identity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mutator
}

// SetAuthorizedMutator replaces the authorized mutator. Owner only.
func (l *Ledger) SetAuthorizedMutator(caller, mutator chain.Identity) error {
	if caller != l.owner {
		return ErrNotAuthorized
	}
	l.mu.Lock()
	l.mutator = mutator
	l.mu.Unlock()
	return nil
}

// DefaultExpiryLength returns the registration period granted on settlement.
func (l *Ledger) DefaultExpiryLength() chain.BlockCount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.defaultExpiry
}

// SetDefaultExpiryLength changes the registration period. Owner only.
func (l *Ledger) SetDefaultExpiryLength(caller chain.Identity, n chain.BlockCount) error {
	if caller != l.owner {
		return ErrNotAuthorized
	}
	if n == 0 {
		return ErrInvalidLength
	}
	l.mu.Lock()
	l.defaultExpiry = n
	l.mu.Unlock()
	return nil
}

// WriteRecord stores {owner, expiry} for name. Only the authorized mutator
// may call it; an unset mutator authorizes nobody.
func (l *Ledger) WriteRecord(ctx context.Context, caller chain.Identity, name string, owner chain.Identity, expiry chain.Height) error {
	l.mu.RLock()
	mutator := l.mutator
	observers := l.observers
	l.mu.RUnlock()

	if chain.IsZero(mutator) || caller != mutator {
		return ErrNotAuthorized
	}
	rec := Record{Owner: owner, Expiry: expiry}
	if err := l.store.Put(ctx, name, rec); err != nil {
		return fmt.Errorf("registry: write %q: %w", name, err)
	}
	for _, fn := range observers {
		fn(name, rec)
	}
	return nil
}
