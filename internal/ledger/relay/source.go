// Package relay exposes the ledger event log as an outbox source.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"crowdledger/internal/ledger/models"
	"crowdledger/pkg/platform/outbox"
)

// platformKey partitions events that belong to no campaign, such as fee
// pool withdrawals.
const platformKey = "platform"

// EventLog is the store surface the relay reads and checkpoints.
type EventLog interface {
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]*models.Event, error)
	RelayCursor(ctx context.Context) (uint64, error)
	SaveRelayCursor(ctx context.Context, seq uint64) error
}

// Source adapts an EventLog to outbox.Source.
type Source struct {
	log EventLog
}

func NewSource(log EventLog) *Source {
	return &Source{log: log}
}

func (s *Source) Pending(ctx context.Context, after uint64, limit int) ([]outbox.Message, error) {
	events, err := s.log.ListEvents(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := toMessage(event)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Source) RelayCursor(ctx context.Context) (uint64, error) {
	return s.log.RelayCursor(ctx)
}

func (s *Source) SaveRelayCursor(ctx context.Context, seq uint64) error {
	return s.log.SaveRelayCursor(ctx, seq)
}

func toMessage(event *models.Event) (outbox.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("encode event %d: %w", event.Seq, err)
	}
	key := platformKey
	if !event.CampaignID.IsNil() {
		key = event.CampaignID.String()
	}
	return outbox.Message{
		Seq:     event.Seq,
		Key:     key,
		Type:    string(event.Type),
		Payload: payload,
	}, nil
}
