// Package consumer implements the worker pool that drives catalog
// consolidation: it pulls owner-partitioned batches from the delivery queue,
// gates them through the idempotency tracker, triggers a full rebuild, and
// publishes the resulting snapshot before acknowledging.
package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/obs"
	"github.com/mbarros/product-catalog-service/internal/queue"
	"github.com/mbarros/product-catalog-service/internal/store"
)

// DeliveryQueue is the consumer-side queue contract.
type DeliveryQueue interface {
	Receive(ctx context.Context, max int) ([]queue.Message, error)
	Ack(ctx context.Context, ids []int64) error
	DeadLetter(ctx context.Context, msg queue.Message, reason string) error
}

// Tracker is the idempotency gate. MarkProcessed must be called only after the
// publish has succeeded.
type Tracker interface {
	IsProcessed(ctx context.Context, ownerID string, seq uint64) (bool, error)
	MarkProcessed(ctx context.Context, ownerID string, seq uint64) error
}

// Builder recomputes the consolidated document from authoritative state.
type Builder interface {
	Build(ctx context.Context, ownerID string) (models.CatalogDocument, error)
}

// Publisher durably publishes a document as a new snapshot version.
type Publisher interface {
	Publish(ctx context.Context, doc models.CatalogDocument) (int64, error)
}

// Config holds the pool tunables.
type Config struct {
	Workers        int
	ReceiveBatch   int
	PollInterval   time.Duration
	MaxReceives    int
	RetryMaxTries  uint
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ReceiveBatch <= 0 {
		c.ReceiveBatch = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxReceives <= 0 {
		c.MaxReceives = 3
	}
	if c.RetryMaxTries == 0 {
		c.RetryMaxTries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	return c
}

// Pool runs N workers. Each Receive claims one owner partition exclusively, so
// owners are processed sequentially within a partition and in parallel across
// partitions; one owner's slow rebuild never stalls another's progress.
type Pool struct {
	cfg       Config
	q         DeliveryQueue
	tracker   Tracker
	builder   Builder
	publisher Publisher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a Pool.
func NewPool(cfg Config, q DeliveryQueue, tracker Tracker, builder Builder, publisher Publisher) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		q:         q,
		tracker:   tracker,
		builder:   builder,
		publisher: publisher,
	}
}

// Start launches the workers in the background.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	obs.Logger.Info("consumer_started", "worker_count", p.cfg.Workers)
}

// Stop cancels the workers and waits for in-flight batches to finish or
// abandon. Abandoned batches redeliver after their lease expires.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	obs.Logger.Info("consumer_stopped")
}

// worker polls for partition batches until the context is cancelled.
func (p *Pool) worker(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := p.q.Receive(ctx, p.cfg.ReceiveBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obs.Logger.Error("queue_receive_failed", "worker", id, "error", err.Error())
			p.sleep(ctx)
			continue
		}
		if len(msgs) == 0 {
			p.sleep(ctx)
			continue
		}

		p.processBatch(ctx, msgs)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

// processBatch handles one owner partition's claimed messages. Each message is
// decoded and gated individually; surviving events are coalesced into a single
// rebuild whose snapshot reflects state at least as new as every one of them.
// Order of effects is build, publish, mark processed, ack; a crash anywhere
// before the ack causes safe redelivery, never silent loss.
//
// Any transient failure abandons the whole batch unacked: the lease window is
// the retry mechanism, and the failure stays local to this (owner, batch).
func (p *Pool) processBatch(ctx context.Context, msgs []queue.Message) {
	ownerID := msgs[0].OwnerID

	var ackIDs []int64
	var live []liveEvent
	for _, m := range msgs {
		ev, err := models.DecodeCatalogEvent(m.Body)
		if err != nil {
			p.handlePoison(ctx, m, err)
			continue
		}

		processed, err := p.tracker.IsProcessed(ctx, ownerID, m.Sequence)
		if err != nil {
			p.abandon(ownerID, "idempotency_check_failed", err)
			return
		}
		if processed {
			// Duplicate delivery: not an error, ack and skip.
			obs.DuplicateEvents.Inc()
			ackIDs = append(ackIDs, m.ID)
			continue
		}

		live = append(live, liveEvent{msg: m, ev: ev})
	}

	if len(live) > 0 {
		version, err := p.rebuildAndPublish(ctx, ownerID)
		if err != nil {
			if errors.Is(err, store.ErrVersionRegression) {
				// Invariant violation: never swallowed, message left to redeliver.
				obs.Logger.Error("snapshot_version_regression",
					"owner_id", ownerID, "error", err.Error())
			}
			p.abandon(ownerID, "rebuild_publish_failed", err)
			return
		}

		for _, le := range live {
			if err := p.tracker.MarkProcessed(ctx, ownerID, le.msg.Sequence); err != nil {
				// Publish already succeeded; redelivery re-runs an idempotent
				// rebuild, so an unmarked token costs work, not correctness.
				p.abandon(ownerID, "mark_processed_failed", err)
				return
			}
			obs.EventsProcessed.WithLabelValues(string(le.ev.Type)).Inc()
			ackIDs = append(ackIDs, le.msg.ID)
		}

		obs.Logger.Info("catalog_rebuilt",
			"owner_id", ownerID,
			"version", version,
			"coalesced_events", len(live),
			"max_sequence", live[len(live)-1].msg.Sequence,
		)
	}

	if err := p.q.Ack(ctx, ackIDs); err != nil {
		// Messages redeliver and hit the duplicate short-circuit.
		p.abandon(ownerID, "ack_failed", err)
	}
}

type liveEvent struct {
	msg queue.Message
	ev  models.CatalogEvent
}

// rebuildAndPublish runs one full rebuild and publish with bounded exponential
// backoff. A version regression is permanent; retrying it cannot succeed.
func (p *Pool) rebuildAndPublish(ctx context.Context, ownerID string) (int64, error) {
	op := func() (int64, error) {
		doc, err := p.builder.Build(ctx, ownerID)
		if err != nil {
			return 0, err
		}
		obs.Rebuilds.Inc()
		version, err := p.publisher.Publish(ctx, doc)
		if err != nil {
			if errors.Is(err, store.ErrVersionRegression) {
				return 0, backoff.Permanent(err)
			}
			return 0, err
		}
		return version, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBaseDelay

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(p.cfg.RetryMaxTries),
	)
}

// handlePoison routes a message that failed to decode. Before the receive
// limit it is simply left leased, so the partition retries it after expiry;
// at the limit it moves to the dead-letter table and stops blocking the owner.
func (p *Pool) handlePoison(ctx context.Context, m queue.Message, decodeErr error) {
	if m.ReceiveCount < p.cfg.MaxReceives {
		obs.Logger.Warn("message_decode_failed",
			"owner_id", m.OwnerID,
			"sequence", m.Sequence,
			"receive_count", m.ReceiveCount,
			"error", decodeErr.Error(),
		)
		return
	}

	if err := p.q.DeadLetter(ctx, m, decodeErr.Error()); err != nil {
		obs.Logger.Error("dead_letter_failed",
			"owner_id", m.OwnerID, "sequence", m.Sequence, "error", err.Error())
		return
	}
	obs.DeadLetters.Inc()
	obs.Logger.Warn("message_dead_lettered",
		"owner_id", m.OwnerID,
		"sequence", m.Sequence,
		"receive_count", m.ReceiveCount,
		"error", decodeErr.Error(),
	)
}

func (p *Pool) abandon(ownerID, stage string, err error) {
	obs.ProcessingFailures.Inc()
	obs.Logger.Error("batch_abandoned", "owner_id", ownerID, "stage", stage, "error", err.Error())
}
