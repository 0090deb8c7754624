package auction

import (
	"github.com/holiman/uint256"

	"blindbid.org/internal/chain"
)

type EventKind string

const (
	EventStartBid    EventKind = "StartBid"
	EventAddBid      EventKind = "AddBid"
	EventRevealBid   EventKind = "RevealBid"
	EventClaimDomain EventKind = "ClaimDomain"
	EventWithdraw    EventKind = "Withdraw"
)

// Event is published after a successful state change.
type Event struct {
	Kind   EventKind
	Name   string
	Actor  chain.Identity
	Target chain.Identity
	Amount *uint256.Int
	Height chain.Height
}

// EventSink receives events outside the engine lock. Sinks must not block.
type EventSink func(Event)

func (e *Engine) emit(ev **Event) {
	if *ev == nil {
		return
	}
	for _, sink := range e.sinks {
		sink(**ev)
	}
}
