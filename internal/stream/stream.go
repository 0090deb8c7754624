// Package stream fans engine, registry and block events out to live
// subscribers such as SSE clients.
package stream

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v2"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/chain"
	"blindbid.org/internal/ids"
	"blindbid.org/internal/registry"
)

const (
	KindBlock     = "Block"
	KindAddDomain = "AddDomain"
)

// Event is the wire form of anything published to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Target    string    `json:"target,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Height    uint64    `json:"height"`
	Expiry    uint64    `json:"expiry,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fans out events to all active subscribers.
type Stream struct {
	subs *xsync.MapOf[string, chan Event]
}

func New() *Stream {
	return &Stream{subs: xsync.NewMapOf[chan Event]()}
}

// Subscribe registers a subscriber. Deliveries stop once ctx ends; the
// channel is never closed, so readers must also watch ctx.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	id := ids.New()
	s.subs.Store(id, ch)

	go func() {
		<-ctx.Done()
		s.subs.Delete(id)
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (s *Stream) Subscribers() int { return s.subs.Size() }

// Publish fans the event out to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = ids.WithPrefix("ev")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.subs.Range(func(_ string, ch chan Event) bool {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
		return true
	})
}

// AuctionSink adapts the stream to an auction.EventSink.
func (s *Stream) AuctionSink() auction.EventSink {
	return func(ev auction.Event) {
		out := Event{
			Kind:   string(ev.Kind),
			Name:   ev.Name,
			Height: uint64(ev.Height),
		}
		if !chain.IsZero(ev.Actor) {
			out.Actor = ev.Actor.Hex()
		}
		if !chain.IsZero(ev.Target) {
			out.Target = ev.Target.Hex()
		}
		if ev.Amount != nil {
			out.Amount = ev.Amount.Dec()
		}
		s.Publish(out)
	}
}

// RegistryObserver adapts the stream to a registry.Observer.
func (s *Stream) RegistryObserver() registry.Observer {
	return func(name string, rec registry.Record) {
		s.Publish(Event{
			Kind:   KindAddDomain,
			Name:   name,
			Target: rec.Owner.Hex(),
			Expiry: uint64(rec.Expiry),
		})
	}
}

// PublishBlock announces a new chain height.
func (s *Stream) PublishBlock(h chain.Height) {
	s.Publish(Event{Kind: KindBlock, Height: uint64(h)})
}
