// Package outbox relays committed ledger events to an external sink.
//
// Events are read from the store in Seq order after a persisted cursor and
// published one at a time. The cursor advances only past delivered events, so
// delivery is at-least-once: consumers deduplicate on the seq header.
package outbox

//go:generate mockgen -source=outbox.go -destination=mocks/mocks.go -package=mocks Source,Sink

import (
	"context"
	"strconv"
)

// HeaderSeq carries Message.Seq on published records.
const HeaderSeq = "seq"

// Message is one relayed event.
type Message struct {
	Seq     uint64
	Key     string
	Type    string
	Payload []byte
}

// Headers returns the transport headers for m.
func (m Message) Headers() map[string]string {
	return map[string]string{
		HeaderSeq:    strconv.FormatUint(m.Seq, 10),
		"event_type": m.Type,
	}
}

// Source yields undelivered messages and persists the relay position.
type Source interface {
	// Pending returns up to limit messages with Seq > after, in Seq order.
	Pending(ctx context.Context, after uint64, limit int) ([]Message, error)
	RelayCursor(ctx context.Context) (uint64, error)
	SaveRelayCursor(ctx context.Context, seq uint64) error
}

// Sink delivers a message. An error leaves the message pending.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}
