package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"blindbid.org/internal/chain"
)

// Outcome is the result of playing one plan.
type Outcome struct {
	Plan     Plan
	Receipt  Receipt
	Winner   Bid
	Expected bool
}

// Runner plays plans against a registrard instance. Tokens maps each bidder
// to a bearer token minted beforehand.
type Runner struct {
	Client *Client
	Tokens map[chain.Identity]string
	Poll   time.Duration
	Log    *zap.Logger
}

// Play drives one auction through commit, reveal and claim. The first bid
// starts the auction and the winner claims the name for itself.
func (r *Runner) Play(ctx context.Context, plan Plan) (Outcome, error) {
	out := Outcome{Plan: plan}
	if len(plan.Bids) == 0 {
		return out, fmt.Errorf("plan %q has no bids", plan.Name)
	}
	log := r.logger().With(zap.String("name", plan.Name))

	first := plan.Bids[0]
	if _, err := r.Client.Start(ctx, r.Tokens[first.Bidder.ID], plan.Name, first.Hash); err != nil {
		return out, fmt.Errorf("start: %w", err)
	}
	for _, b := range plan.Bids[1:] {
		if err := r.Client.AddBid(ctx, r.Tokens[b.Bidder.ID], plan.Name, b.Hash); err != nil {
			return out, fmt.Errorf("add bid for %s: %w", b.Bidder.Label, err)
		}
	}
	log.Debug("bids committed", zap.Int("bids", len(plan.Bids)))

	if _, err := r.Client.WaitForPhase(ctx, plan.Name, "reveal", r.poll()); err != nil {
		return out, err
	}
	for _, b := range plan.Bids {
		if _, err := r.Client.Reveal(ctx, r.Tokens[b.Bidder.ID], plan.Name, b.Value, b.Salt); err != nil {
			return out, fmt.Errorf("reveal for %s: %w", b.Bidder.Label, err)
		}
	}

	info, err := r.Client.WaitForPhase(ctx, plan.Name, "claim", r.poll())
	if err != nil {
		return out, err
	}
	var winner Bid
	for _, b := range plan.Bids {
		if b.Bidder.ID.Hex() == info.HighestBidder {
			winner = b
			break
		}
	}
	if winner.Value == nil {
		return out, fmt.Errorf("highest bidder %s is not part of the plan", info.HighestBidder)
	}
	price, err := uint256.FromDecimal(info.HighestBid)
	if err != nil {
		return out, fmt.Errorf("parse highest bid: %w", err)
	}

	receipt, err := r.Client.Claim(ctx, r.Tokens[winner.Bidder.ID], plan.Name, winner.Bidder.ID, price)
	if err != nil {
		return out, fmt.Errorf("claim: %w", err)
	}
	expected, _ := plan.Winner()
	out.Receipt = receipt
	out.Winner = winner
	out.Expected = expected.Bidder.ID == winner.Bidder.ID
	log.Debug("claimed",
		zap.String("winner", winner.Bidder.Label),
		zap.String("price", receipt.Price),
		zap.Uint64("expiry", receipt.Expiry),
	)
	return out, nil
}

func (r *Runner) poll() time.Duration {
	if r.Poll <= 0 {
		return 250 * time.Millisecond
	}
	return r.Poll
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
