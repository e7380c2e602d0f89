package models

import "encoding/json"

// ProductCreateRequest is the POST /products payload.
type ProductCreateRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	CategoryID  string  `json:"category_id,omitempty"`
}

// ProductUpdateRequest is the PUT /products/:id payload.
// Version must match the stored record (optimistic concurrency).
type ProductUpdateRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	CategoryID  *string  `json:"category_id,omitempty"`
	Version     int64    `json:"version"`
}

// CategoryCreateRequest is the POST /categories payload.
type CategoryCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CategoryUpdateRequest is the PUT /categories/:id payload.
type CategoryUpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Version     int64   `json:"version"`
}

// SnapshotResponse is returned by GET /catalog.
type SnapshotResponse struct {
	Version      int64           `json:"version"`
	GeneratedAt  string          `json:"generated_at"`
	ProductCount int             `json:"product_count"`
	Payload      json.RawMessage `json:"payload"`
}
