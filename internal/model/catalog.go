package model

import "time"

// CatalogRecord is one canonical catalog entry keyed by stock code, produced
// by the upstream feed ingestion. Read-only for this service.
type CatalogRecord struct {
	StockCode   string            `json:"stock_code"`
	Barcode     string            `json:"barcode,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Category    string            `json:"category,omitempty"`
	Price       float64           `json:"price"`
	Quantity    int               `json:"quantity"`
	VatRate     int               `json:"vat_rate,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// RemoteProduct is a marketplace listing as currently known externally,
// returned by an adapter's inventory listing.
type RemoteProduct struct {
	RemoteID  string  `json:"remote_id"`
	StockCode string  `json:"stock_code"`
	Barcode   string  `json:"barcode,omitempty"`
	Title     string  `json:"title,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Approved  bool    `json:"approved"`
	OnSale    bool    `json:"on_sale"`
}

// MirrorProduct is the locally mirrored copy of a remote listing. SourceID
// records which catalog source created the listing; listings with an empty
// SourceID were never pushed by this system and are never zeroed out.
type MirrorProduct struct {
	OwnerID     string    `bson:"owner_id" json:"owner_id"`
	Marketplace string    `bson:"marketplace" json:"marketplace"`
	RemoteID    string    `bson:"remote_id,omitempty" json:"remote_id,omitempty"`
	StockCode   string    `bson:"stock_code" json:"stock_code"`
	Barcode     string    `bson:"barcode,omitempty" json:"barcode,omitempty"`
	Title       string    `bson:"title,omitempty" json:"title,omitempty"`
	Price       float64   `bson:"price" json:"price"`
	Quantity    int       `bson:"quantity" json:"quantity"`
	Status      string    `bson:"status,omitempty" json:"status,omitempty"`
	OnSale      bool      `bson:"on_sale" json:"on_sale"`
	SourceID    string    `bson:"source_id,omitempty" json:"source_id,omitempty"`
	LastSyncAt  time.Time `bson:"last_sync_at" json:"last_sync_at"`
}

// Exclusion match types
const (
	MatchStockCode = "stock_code"
	MatchBarcode   = "barcode"
)

// ExclusionRule marks a stock code or barcode that must never be auto-created
// or auto-zeroed. Items already listed may still receive price/stock updates.
type ExclusionRule struct {
	OwnerID   string    `bson:"owner_id" json:"owner_id"`
	Value     string    `bson:"value" json:"value"`
	MatchType string    `bson:"match_type" json:"match_type"`
	Note      string    `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// PriceStockUpdate is one item of a batched price/stock push to a marketplace.
type PriceStockUpdate struct {
	Key      string  `json:"key"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}
