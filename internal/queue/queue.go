// Package queue implements the durable, owner-partitioned delivery queue on
// top of Postgres.
//
// Delivery semantics:
//   - FIFO per owner partition, by sequence token.
//   - At-least-once: a claimed message stays hidden for the lease window and
//     becomes re-claimable if not acked in time.
//   - Partition-exclusive: a partition with any live lease is skipped, so no
//     two consumers process the same owner concurrently.
package queue

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one durable queue entry. Body is the serialized CatalogEvent;
// OwnerID and Sequence are duplicated as columns for partitioning and ordering
// so that an undecodable body can still be routed to the dead-letter table.
type Message struct {
	ID           int64
	OwnerID      string
	Sequence     uint64
	Body         []byte
	ReceiveCount int
}

// Queue is a Postgres-backed delivery queue sharing the service's pool.
type Queue struct {
	pool  *pgxpool.Pool
	lease time.Duration
}

// New creates a Queue with the given lease (visibility) window.
func New(pool *pgxpool.Pool, lease time.Duration) *Queue {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Queue{pool: pool, lease: lease}
}

// Send durably enqueues a message. Re-sending the same (owner, sequence) after
// a partial failure is a no-op: the unique constraint absorbs the duplicate.
// Dedup is deliberately not content-based; identical payloads under distinct
// sequence tokens are distinct messages.
func (q *Queue) Send(ctx context.Context, msg Message) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO queue_messages(owner_id, sequence, body)
		VALUES ($1,$2,$3)
		ON CONFLICT (owner_id, sequence) DO NOTHING
	`, msg.OwnerID, int64(msg.Sequence), msg.Body)
	return err
}

// Receive claims up to max visible messages from a single owner partition and
// returns them in sequence order. It returns an empty slice when no partition
// is claimable. The claim leases every returned message for the lease window
// and increments its receive count.
//
// A partition is claimable only when none of its messages carry a live lease.
// The candidate scan alone cannot guarantee that: an uncommitted lease from a
// concurrent claimant is invisible to it, and SKIP LOCKED lets two
// transactions pick the same owner through different rows. The claim therefore
// takes a per-owner advisory transaction lock and re-checks the lease under
// it before leasing anything. Other partitions stay fully parallel.
func (q *Queue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ownerID string
	err = tx.QueryRow(ctx, `
		SELECT m.owner_id
		FROM queue_messages m
		WHERE (m.leased_until IS NULL OR m.leased_until <= now())
		  AND NOT EXISTS (
			SELECT 1 FROM queue_messages h
			WHERE h.owner_id = m.owner_id AND h.leased_until > now()
		  )
		ORDER BY m.id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Serialize claimants per owner. A held lock means another worker is
	// mid-claim on this partition; treat it like an unclaimable partition.
	var locked bool
	if err := tx.QueryRow(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtext($1)::bigint)`, ownerID,
	).Scan(&locked); err != nil {
		return nil, err
	}
	if !locked {
		return nil, nil
	}

	// Re-check under the lock: a claimant that committed between our candidate
	// scan and the lock acquisition has left a live lease we must honor.
	var leased bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_messages
			WHERE owner_id=$1 AND leased_until > now()
		)
	`, ownerID).Scan(&leased); err != nil {
		return nil, err
	}
	if leased {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `
		UPDATE queue_messages SET
			leased_until  = now() + make_interval(secs => $3),
			receive_count = receive_count + 1
		WHERE id IN (
			SELECT id FROM queue_messages
			WHERE owner_id=$1 AND (leased_until IS NULL OR leased_until <= now())
			ORDER BY sequence
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, owner_id, sequence, body, receive_count
	`, ownerID, max, q.lease.Seconds())
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for rows.Next() {
		var m Message
		var seq int64
		if err := rows.Scan(&m.ID, &m.OwnerID, &seq, &m.Body, &m.ReceiveCount); err != nil {
			rows.Close()
			return nil, err
		}
		m.Sequence = uint64(seq)
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// RETURNING gives no ordering guarantee.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Sequence < msgs[j].Sequence })
	return msgs, nil
}

// Ack deletes processed messages. Acking an already-deleted message (late ack
// racing a lease expiry) is harmless.
func (q *Queue) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.pool.Exec(ctx, `
		DELETE FROM queue_messages WHERE id = ANY($1)
	`, ids)
	return err
}

// DeadLetter quarantines a poison message: it is copied to the dead-letter
// table and removed from the live queue in one transaction, so the owner
// partition keeps moving.
func (q *Queue) DeadLetter(ctx context.Context, msg Message, reason string) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_dead_letters(owner_id, sequence, body, reason, receive_count)
		VALUES ($1,$2,$3,$4,$5)
	`, msg.OwnerID, int64(msg.Sequence), msg.Body, reason, msg.ReceiveCount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM queue_messages WHERE id=$1
	`, msg.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Depth returns the number of messages currently in the queue, for health
// reporting.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_messages`).Scan(&n)
	return n, err
}
