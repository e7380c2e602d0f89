package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/obs"
)

// SnapshotStore is the durable surface the publisher writes to.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, ownerID string, generatedAt time.Time, productCount int, payload []byte) (int64, error)
	AdvanceLatest(ctx context.Context, ownerID string, version int64) error
}

// Publisher durably publishes consolidated documents as versioned snapshots.
// The write ordering is fixed: the full snapshot row first, the latest-pointer
// swap second, so readers never see a pointer to a partial snapshot. An
// orphaned row whose pointer swap lost a race is harmless; the winning swap
// supersedes it.
type Publisher struct {
	store SnapshotStore
}

// NewPublisher constructs a Publisher over the snapshot store.
func NewPublisher(store SnapshotStore) *Publisher {
	return &Publisher{store: store}
}

// Publish writes doc as the next snapshot version for its owner and advances
// the latest pointer. It returns the published version. A pointer regression
// is surfaced unchanged so the caller can treat it as an invariant violation.
func (p *Publisher) Publish(ctx context.Context, doc models.CatalogDocument) (int64, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode catalog document: %w", err)
	}

	version, err := p.store.InsertSnapshot(ctx, doc.OwnerID, doc.GeneratedAt, doc.ProductCount, payload)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot for owner %s: %w", doc.OwnerID, err)
	}

	if err := p.store.AdvanceLatest(ctx, doc.OwnerID, version); err != nil {
		return 0, fmt.Errorf("advance latest pointer owner=%s version=%d: %w", doc.OwnerID, version, err)
	}

	obs.SnapshotsPublished.Inc()
	obs.Logger.Info("snapshot_published",
		"owner_id", doc.OwnerID,
		"version", version,
		"product_count", doc.ProductCount,
	)
	return version, nil
}
