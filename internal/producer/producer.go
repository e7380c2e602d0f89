// Package producer translates committed record mutations into durable queue
// messages.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/obs"
	"github.com/mbarros/product-catalog-service/internal/queue"
)

// Sequencer allocates owner-scoped monotonic sequence tokens.
type Sequencer interface {
	NextSequence(ctx context.Context, ownerID string) (uint64, error)
}

// Sender durably enqueues delivery-queue messages.
type Sender interface {
	Send(ctx context.Context, msg queue.Message) error
}

// Producer is the event producer adapter. Emit must be called only after the
// triggering mutation has durably committed.
type Producer struct {
	seq       Sequencer
	q         Sender
	maxTries  uint
	baseDelay time.Duration
}

// New constructs a Producer with the uniform retry policy.
func New(seq Sequencer, q Sender, maxTries uint, baseDelay time.Duration) *Producer {
	if maxTries == 0 {
		maxTries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &Producer{seq: seq, q: q, maxTries: maxTries, baseDelay: baseDelay}
}

// Emit assigns the next sequence token for the owner and enqueues the event.
// The counter increment happens exactly once; only the enqueue is retried, so
// a transient queue failure never produces a second token. A token whose
// enqueue ultimately fails leaves a gap, which consumers tolerate.
func (p *Producer) Emit(ctx context.Context, ownerID string, eventType models.EventType, entityID string) (models.CatalogEvent, error) {
	seq, err := p.seq.NextSequence(ctx, ownerID)
	if err != nil {
		return models.CatalogEvent{}, fmt.Errorf("next sequence for owner %s: %w", ownerID, err)
	}

	ev := models.CatalogEvent{
		OwnerID:   ownerID,
		Type:      eventType,
		EntityID:  entityID,
		Sequence:  seq,
		EmittedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return models.CatalogEvent{}, fmt.Errorf("encode catalog event: %w", err)
	}

	send := func() (struct{}, error) {
		return struct{}{}, p.q.Send(ctx, queue.Message{
			OwnerID:  ev.OwnerID,
			Sequence: ev.Sequence,
			Body:     body,
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.baseDelay

	if _, err := backoff.Retry(ctx, send,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.maxTries),
	); err != nil {
		return models.CatalogEvent{}, fmt.Errorf("enqueue catalog event owner=%s seq=%d: %w", ownerID, seq, err)
	}

	obs.Logger.Info("event_emitted",
		"owner_id", ev.OwnerID,
		"event_type", string(ev.Type),
		"entity_id", ev.EntityID,
		"sequence", ev.Sequence,
	)
	return ev, nil
}
