// Package feed publishes applied events to Redis so other processes (a live
// dashboard, a second collaborator's tooling) can follow board changes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/redis/go-redis/v9"
)

// Message is the JSON document published for each applied event.
type Message struct {
	Event   events.Event `json:"event"`
	BoardID uint         `json:"board_id,omitempty"`
	CardID  uint         `json:"card_id,omitempty"`
	SentAt  time.Time    `json:"sent_at"`
}

type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Observe implements apply.Observer.
func (p *Publisher) Observe(ctx context.Context, ev events.Event, res apply.Result) error {
	msg := Message{Event: ev, SentAt: time.Now().UTC()}
	switch {
	case res.Card != nil:
		msg.BoardID = res.Card.BoardID
		msg.CardID = res.Card.ID
	case res.Comment != nil:
		msg.CardID = res.Comment.CardID
	case res.Share != nil:
		msg.BoardID = res.Share.BoardID
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
