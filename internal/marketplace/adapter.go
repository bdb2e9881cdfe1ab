// Package marketplace contains the pluggable marketplace connectors. Every
// marketplace exposes the same three operations behind the Adapter interface;
// wire formats, pagination and auth are connector concerns.
package marketplace

import (
	"context"

	"marketsync/internal/model"
)

// Listing is a wire-ready create request for one catalog item. Price and
// quantity are final values already computed by the pricing rules; brand and
// category identifiers come from the external lookup.
type Listing struct {
	Record     model.CatalogRecord
	Barcode    string
	Title      string
	Price      float64
	Quantity   int
	BrandID    int64
	CategoryID int64
}

// ItemFailure records why one item of a batch was rejected
type ItemFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// BatchResult reports the outcome of one batched call. Per-item rejections
// land in Failures; a quota rejection of the whole call is an error return,
// distinguishable with IsQuotaExceeded.
type BatchResult struct {
	Succeeded int           `json:"succeeded"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// Adapter abstracts one marketplace seller account.
type Adapter interface {
	// Tag returns the marketplace tag this adapter serves
	Tag() string

	// ListRemoteInventory fetches the account's full remote inventory,
	// invoking fn once per page. The adapter owns pagination and rate
	// gating of the listing calls.
	ListRemoteInventory(ctx context.Context, fn func(items []model.RemoteProduct) error) error

	// CreateListings pushes one batch of new listings
	CreateListings(ctx context.Context, items []Listing) (*BatchResult, error)

	// UpdatePriceAndStock pushes one batch of price/stock updates
	UpdatePriceAndStock(ctx context.Context, updates []model.PriceStockUpdate) (*BatchResult, error)
}

// Registry maps marketplace tags to adapters
type Registry map[string]Adapter

// Get looks up the adapter for a tag
func (r Registry) Get(tag string) (Adapter, bool) {
	a, ok := r[tag]
	return a, ok
}
