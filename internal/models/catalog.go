package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies which kind of mutation triggered a catalog event.
// The set is closed: the consumer handles every variant exhaustively.
type EventType string

const (
	ProductUpserted  EventType = "PRODUCT_UPSERTED"
	ProductDeleted   EventType = "PRODUCT_DELETED"
	CategoryUpserted EventType = "CATEGORY_UPSERTED"
	CategoryDeleted  EventType = "CATEGORY_DELETED"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case ProductUpserted, ProductDeleted, CategoryUpserted, CategoryDeleted:
		return true
	}
	return false
}

// CatalogEvent is the immutable message emitted after a product or category
// mutation commits. Sequence is an owner-scoped monotonic token; uniqueness is
// per (OwnerID, Sequence).
type CatalogEvent struct {
	OwnerID   string    `json:"owner_id"`
	Type      EventType `json:"event_type"`
	EntityID  string    `json:"entity_id"`
	Sequence  uint64    `json:"sequence"`
	EmittedAt time.Time `json:"emitted_at"`
}

// DecodeCatalogEvent parses a queue message body into a CatalogEvent.
// A malformed body or unknown event type is a poison message.
func DecodeCatalogEvent(body []byte) (CatalogEvent, error) {
	var ev CatalogEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return CatalogEvent{}, fmt.Errorf("decode catalog event: %w", err)
	}
	if ev.OwnerID == "" {
		return CatalogEvent{}, fmt.Errorf("decode catalog event: owner_id required")
	}
	if !ev.Type.Valid() {
		return CatalogEvent{}, fmt.Errorf("decode catalog event: unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Product is an owned catalog record. Version supports optimistic concurrency
// on updates; the pipeline only ever reads products.
type Product struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	CategoryID  string    `json:"category_id,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Category is an owned catalog record grouping products.
type Category struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CategoryListing is a category with its products nested, as it appears in the
// consolidated document.
type CategoryListing struct {
	Category
	Products []Product `json:"products"`
}

// CatalogDocument is the consolidated catalog for one owner, produced by a full
// rebuild from the record store. Building is deterministic: listings and
// products are sorted by ID.
type CatalogDocument struct {
	OwnerID       string            `json:"owner_id"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Categories    []CategoryListing `json:"categories"`
	Uncategorized []Product         `json:"uncategorized"`
	ProductCount  int               `json:"product_count"`
}

// CatalogSnapshot is one published, immutable version of an owner's catalog.
// A new mutation always produces a new version, never an in-place edit.
type CatalogSnapshot struct {
	OwnerID      string          `json:"owner_id"`
	Version      int64           `json:"version"`
	GeneratedAt  time.Time       `json:"generated_at"`
	ProductCount int             `json:"product_count"`
	Payload      json.RawMessage `json:"payload"`
}
