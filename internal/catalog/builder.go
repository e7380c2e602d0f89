// Package catalog assembles and publishes consolidated catalog documents.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mbarros/product-catalog-service/internal/models"
)

// EntityLister reads the current record set for an owner.
type EntityLister interface {
	ListEntities(ctx context.Context, ownerID string) ([]models.Product, []models.Category, error)
}

// Builder produces the consolidated catalog document for one owner by a full
// rebuild from authoritative state. Rebuilding never applies events as diffs,
// so out-of-order delivery can only cause redundant recomputation, never a
// corrupt result.
type Builder struct {
	lister EntityLister
}

// NewBuilder constructs a Builder over the record store.
func NewBuilder(lister EntityLister) *Builder {
	return &Builder{lister: lister}
}

// Build reads all products and categories for the owner and assembles the
// document: categories with nested product listings, plus products without a
// known category. Output is deterministic for a given record set; listings
// and products are sorted by ID and GeneratedAt is the only varying field.
func (b *Builder) Build(ctx context.Context, ownerID string) (models.CatalogDocument, error) {
	products, categories, err := b.lister.ListEntities(ctx, ownerID)
	if err != nil {
		return models.CatalogDocument{}, fmt.Errorf("list entities for owner %s: %w", ownerID, err)
	}

	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })

	byCategory := make(map[string][]models.Product)
	var uncategorized []models.Product
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c.ID] = true
	}
	for _, p := range products {
		if p.CategoryID != "" && known[p.CategoryID] {
			byCategory[p.CategoryID] = append(byCategory[p.CategoryID], p)
			continue
		}
		uncategorized = append(uncategorized, p)
	}

	listings := make([]models.CategoryListing, 0, len(categories))
	for _, c := range categories {
		prods := byCategory[c.ID]
		if prods == nil {
			prods = []models.Product{}
		}
		listings = append(listings, models.CategoryListing{Category: c, Products: prods})
	}
	if uncategorized == nil {
		uncategorized = []models.Product{}
	}

	return models.CatalogDocument{
		OwnerID:       ownerID,
		GeneratedAt:   time.Now().UTC(),
		Categories:    listings,
		Uncategorized: uncategorized,
		ProductCount:  len(products),
	}, nil
}
