// Package catalog holds the canonical product catalog index consumed by
// reconciliation. The records themselves are produced upstream; this package
// only organizes them for key lookups.
package catalog

import (
	"marketsync/internal/model"
)

// Index maps the canonical catalog by its two join keys. Stock code is the
// primary key; barcode is kept as a fallback because some marketplaces key
// listings by what the catalog considers a barcode.
type Index struct {
	SourceID    string
	ByStockCode map[string]*model.CatalogRecord
	ByBarcode   map[string]*model.CatalogRecord
}

// NewIndex builds an Index from catalog records. When two records share a
// barcode the first one wins; stock codes are expected unique upstream.
func NewIndex(sourceID string, records []model.CatalogRecord) *Index {
	idx := &Index{
		SourceID:    sourceID,
		ByStockCode: make(map[string]*model.CatalogRecord, len(records)),
		ByBarcode:   make(map[string]*model.CatalogRecord, len(records)),
	}

	for i := range records {
		rec := &records[i]
		if rec.StockCode == "" {
			continue
		}
		idx.ByStockCode[rec.StockCode] = rec
		if rec.Barcode != "" {
			if _, exists := idx.ByBarcode[rec.Barcode]; !exists {
				idx.ByBarcode[rec.Barcode] = rec
			}
		}
	}

	return idx
}

// Len returns the number of indexed catalog records
func (i *Index) Len() int {
	return len(i.ByStockCode)
}

// Match resolves a remote listing to a catalog record. A stock code match
// always wins over a barcode fallback match.
func (i *Index) Match(stockCode, barcode string) (*model.CatalogRecord, bool) {
	if stockCode != "" {
		if rec, ok := i.ByStockCode[stockCode]; ok {
			return rec, true
		}
	}
	if barcode != "" {
		if rec, ok := i.ByBarcode[barcode]; ok {
			return rec, true
		}
	}
	return nil, false
}
