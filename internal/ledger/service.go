package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
)

// Service moves native currency between identities.
type Service interface {
	Deposit(ctx context.Context, to chain.Identity, amt *uint256.Int, idemKey string) (Transaction, error)
	GetAccount(ctx context.Context, id chain.Identity) (Account, error)
	GetBalance(ctx context.Context, id chain.Identity) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to chain.Identity, amt *uint256.Int, idemKey string) (Transaction, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

type account struct {
	createdAt time.Time
	balance   uint256.Int
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	accts map[chain.Identity]*account
	seq   uint64
	txs   []Transaction
	idem  map[string]Transaction // idemKey -> tx
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[chain.Identity]*account),
		idem:  make(map[string]Transaction),
	}
}

func (s *InMemory) Deposit(ctx context.Context, to chain.Identity, amt *uint256.Int, idemKey string) (Transaction, error) {
	if err := validate(amt); err != nil {
		return Transaction{}, err
	}
	if chain.IsZero(to) {
		return Transaction{}, ErrInvalidAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.replay(idemKey); ok {
		return tx, nil
	}
	dst := s.accountLocked(to)
	sum, overflow := new(uint256.Int).AddOverflow(&dst.balance, amt)
	if overflow {
		return Transaction{}, ErrBalanceOverflow
	}
	dst.balance = *sum
	return s.recordLocked(chain.NoIdentity, to, amt, idemKey), nil
}

func (s *InMemory) GetAccount(ctx context.Context, id chain.Identity) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return Account{ID: id, CreatedAt: acc.createdAt, Balance: acc.balance.Clone()}, nil
}

// GetBalance returns zero for identities that never held funds.
func (s *InMemory) GetBalance(ctx context.Context, id chain.Identity) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc, ok := s.accts[id]; ok {
		return acc.balance.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (s *InMemory) Transfer(ctx context.Context, from, to chain.Identity, amt *uint256.Int, idemKey string) (Transaction, error) {
	if err := validate(amt); err != nil {
		return Transaction{}, err
	}
	if chain.IsZero(from) || chain.IsZero(to) {
		return Transaction{}, ErrInvalidAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx, ok := s.replay(idemKey); ok {
		return tx, nil
	}

	src, ok := s.accts[from]
	if !ok || src.balance.Lt(amt) {
		return Transaction{}, ErrInsufficientFunds
	}
	if from == to {
		return s.recordLocked(from, to, amt, idemKey), nil
	}
	dst := s.accts[to]
	var credited uint256.Int
	if dst != nil {
		sum, overflow := new(uint256.Int).AddOverflow(&dst.balance, amt)
		if overflow {
			return Transaction{}, ErrBalanceOverflow
		}
		credited = *sum
	} else {
		credited = *amt
	}

	// Both sides validated; apply.
	src.balance.Sub(&src.balance, amt)
	s.accountLocked(to).balance = credited
	return s.recordLocked(from, to, amt, idemKey), nil
}

func (s *InMemory) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	var last uint64
	for _, tx := range s.txs {
		if tx.Sequence <= afterSeq {
			continue
		}
		res = append(res, cloneTx(tx))
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func (s *InMemory) replay(idemKey string) (Transaction, bool) {
	if idemKey == "" {
		return Transaction{}, false
	}
	tx, ok := s.idem[idemKey]
	return cloneTx(tx), ok
}

func (s *InMemory) accountLocked(id chain.Identity) *account {
	acc, ok := s.accts[id]
	if !ok {
		acc = &account{createdAt: time.Now().UTC()}
		s.accts[id] = acc
	}
	return acc
}

func (s *InMemory) recordLocked(from, to chain.Identity, amt *uint256.Int, idemKey string) Transaction {
	s.seq++
	tx := Transaction{
		ID:             newID(),
		CreatedAt:      time.Now().UTC(),
		From:           from,
		To:             to,
		Amount:         amt.Clone(),
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
	}
	s.txs = append(s.txs, tx)
	if idemKey != "" {
		s.idem[idemKey] = tx
	}
	return cloneTx(tx)
}

func validate(amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func cloneTx(tx Transaction) Transaction {
	if tx.Amount != nil {
		tx.Amount = tx.Amount.Clone()
	}
	return tx
}
