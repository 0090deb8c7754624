package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
	"blindbid.org/internal/ids"
)

// ClaimDomain settles the auction for name. The caller must be the highest
// bidder and pay at least the highest bid; the excess is refunded, the price
// is kept in escrow and target becomes the registered owner until
// height + default expiry length. target may differ from caller.
func (e *Engine) ClaimDomain(ctx context.Context, name string, target chain.Identity, paid *uint256.Int, caller chain.Identity) (Receipt, error) {
	if paid == nil {
		paid = new(uint256.Int)
	}
	var ev *Event
	defer e.emit(&ev)

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.clock.Height()
	rec := e.auctions[name]
	if PhaseOf(rec, h) != PhaseClaim {
		return Receipt{}, ErrPhaseViolation
	}
	if chain.IsZero(rec.HighestBidder) || caller != rec.HighestBidder {
		return Receipt{}, ErrNotWinner
	}
	if chain.IsZero(target) {
		return Receipt{}, ErrInvalidTarget
	}
	if paid.Lt(&rec.HighestBid) {
		return Receipt{}, ErrInsufficientPayment
	}
	if e.registry.AuthorizedMutator() != e.self {
		return Receipt{}, fmt.Errorf("%w: engine is not the registry mutator", ErrNotAuthorized)
	}
	price := rec.HighestBid.Clone()
	var escrowAfter uint256.Int
	if _, overflow := escrowAfter.AddOverflow(&e.escrow, price); overflow {
		return Receipt{}, ErrEscrowOverflow
	}
	expiry, ok := h.Add(e.registry.DefaultExpiryLength())
	if !ok {
		return Receipt{}, ErrHeightOverflow
	}
	refund := new(uint256.Int).Sub(paid, price)

	id := ids.WithPrefix("claim")
	payTx, err := e.funds.Transfer(ctx, caller, e.self, paid, id+":pay")
	if err != nil {
		return Receipt{}, fmt.Errorf("collect payment: %w", err)
	}
	if !refund.IsZero() {
		if _, err := e.funds.Transfer(ctx, e.self, caller, refund, id+":refund"); err != nil {
			return Receipt{}, e.compensate(ctx, id, caller, paid, fmt.Errorf("refund excess: %w", err))
		}
	}
	if err := e.registry.WriteRecord(ctx, e.self, name, target, expiry); err != nil {
		return Receipt{}, e.compensate(ctx, id, caller, price, fmt.Errorf("write registry record: %w", err))
	}
	e.escrow.Set(&escrowAfter)

	ev = &Event{Kind: EventClaimDomain, Name: name, Actor: caller, Target: target, Amount: price.Clone(), Height: h}
	return Receipt{
		ID:        id,
		Name:      name,
		Bidder:    caller,
		Target:    target,
		Paid:      paid.Clone(),
		Price:     price,
		Refund:    refund,
		Expiry:    expiry,
		Height:    h,
		PaymentTx: payTx.ID,
		SettledAt: time.Now().UTC(),
	}, nil
}

// compensate returns amt to caller after a failed settlement step.
func (e *Engine) compensate(ctx context.Context, id string, caller chain.Identity, amt *uint256.Int, cause error) error {
	if _, err := e.funds.Transfer(ctx, e.self, caller, amt, id+":reverse"); err != nil {
		return errors.Join(cause, fmt.Errorf("reverse payment: %w", err))
	}
	return cause
}

// Withdraw pays the whole escrow balance to the administrator.
func (e *Engine) Withdraw(ctx context.Context, caller chain.Identity) (Withdrawal, error) {
	var ev *Event
	defer e.emit(&ev)

	e.mu.Lock()
	defer e.mu.Unlock()

	if chain.IsZero(caller) || caller != e.admin {
		return Withdrawal{}, ErrNotAuthorized
	}
	id := ids.WithPrefix("wd")
	if e.escrow.IsZero() {
		return Withdrawal{ID: id, To: e.admin, Amount: new(uint256.Int)}, nil
	}
	amount := e.escrow.Clone()
	var rest uint256.Int
	if _, underflow := rest.SubOverflow(&e.escrow, amount); underflow {
		return Withdrawal{}, ErrEscrowUnderflow
	}
	tx, err := e.funds.Transfer(ctx, e.self, e.admin, amount, id)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("pay out escrow: %w", err)
	}
	e.escrow.Set(&rest)

	ev = &Event{Kind: EventWithdraw, Actor: caller, Target: e.admin, Amount: amount.Clone(), Height: e.clock.Height()}
	return Withdrawal{ID: id, To: e.admin, Amount: amount, TxID: tx.ID}, nil
}

// Escrow returns the current escrow balance.
func (e *Engine) Escrow() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrow.Clone()
}

// Config returns the phase lengths applied to new auctions.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) SetCommitLength(caller chain.Identity, n chain.BlockCount) error {
	return e.setLength(caller, n, func(c *Config) { c.CommitLength = n })
}

func (e *Engine) SetRevealLength(caller chain.Identity, n chain.BlockCount) error {
	return e.setLength(caller, n, func(c *Config) { c.RevealLength = n })
}

func (e *Engine) SetClaimLength(caller chain.Identity, n chain.BlockCount) error {
	return e.setLength(caller, n, func(c *Config) { c.ClaimLength = n })
}

// setLength applies an administrator change. In-flight auctions keep the
// thresholds computed when they started.
func (e *Engine) setLength(caller chain.Identity, n chain.BlockCount, apply func(*Config)) error {
	if chain.IsZero(caller) || caller != e.admin {
		return ErrNotAuthorized
	}
	if n == 0 {
		return ErrInvalidLength
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	apply(&e.cfg)
	return nil
}
