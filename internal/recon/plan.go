package recon

import (
	"sort"

	"marketsync/internal/catalog"
	"marketsync/internal/model"
)

// UpdateItem pairs a catalog record with the remote listing it should
// overwrite. PushKey is the key the marketplace itself lists under, which is
// not always the catalog stock code.
type UpdateItem struct {
	Catalog  *model.CatalogRecord
	Remote   *model.RemoteProduct
	PushKey  string
	Price    float64
	Quantity int
}

// ZeroItem is a source-owned remote listing whose catalog counterpart has
// disappeared; its stock is set to zero without deleting the listing.
type ZeroItem struct {
	Remote  *model.RemoteProduct
	PushKey string
	Price   float64
}

// Plan is the three-way partition computed once per reconciliation run. The
// three sets are disjoint: a key is updated, created or zeroed, never more
// than one.
type Plan struct {
	ToUpdate []UpdateItem
	ToCreate []*model.CatalogRecord
	ToZero   []ZeroItem

	// SkippedZeroPrice counts catalog items left out of create/update
	// because the pricing rule produced a non-positive price.
	SkippedZeroPrice int
}

// Total returns the number of planned operations
func (p *Plan) Total() int {
	return len(p.ToUpdate) + len(p.ToCreate) + len(p.ToZero)
}

// PlanOptions carries the policy knobs that shape a diff plan
type PlanOptions struct {
	// SourceID is the active catalog source; only remote listings whose
	// mirror row carries this source tag are eligible for zero-out.
	SourceID string
	// MirrorSources maps remote stock code to the source tag recorded when
	// this system last pushed the listing. Missing or empty entries mark
	// listings this system never created.
	MirrorSources map[string]string
	// Exclusions holds stock codes and barcodes that must never be
	// auto-created or auto-zeroed.
	Exclusions map[string]struct{}
	// Pricer computes the final per-marketplace price.
	Pricer func(basePrice float64) float64
	// TreatZeroStockAsOne sends quantity 1 for zero-stock catalog items.
	TreatZeroStockAsOne bool
}

// pushKey returns the key the marketplace lists an item under. Marketplaces
// that key by barcode fall back to the stock code when no barcode is set.
func pushKey(r *model.RemoteProduct) string {
	if r.Barcode != "" {
		return r.Barcode
	}
	return r.StockCode
}

func (o *PlanOptions) excluded(values ...string) bool {
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := o.Exclusions[v]; ok {
			return true
		}
	}
	return false
}

// BuildPlan classifies every remote listing and every catalog record into
// the three-way diff. Iteration is in sorted key order so two runs over the
// same inputs produce identical plans.
//
// Classification of a remote listing:
//   - matched by stock code, or by barcode as a fallback -> update candidate,
//     kept only if price or quantity actually differ;
//   - unmatched -> zero candidate, only when the mirror attributes the
//     listing to the active source. Untagged listings are manually managed
//     and left untouched.
//
// Excluded keys are never created or zeroed but may still be updated when
// they already match; the exclusion list is a safety valve against automated
// create/zero actions, not against keeping a live listing current.
func BuildPlan(idx *catalog.Index, remote []model.RemoteProduct, opts PlanOptions) *Plan {
	plan := &Plan{}

	quantity := func(rec *model.CatalogRecord) int {
		if rec.Quantity == 0 && opts.TreatZeroStockAsOne {
			return 1
		}
		return rec.Quantity
	}

	sorted := make([]*model.RemoteProduct, 0, len(remote))
	for i := range remote {
		sorted = append(sorted, &remote[i])
	}
	sort.Slice(sorted, func(i, j int) bool {
		return pushKey(sorted[i]) < pushKey(sorted[j])
	})

	matched := make(map[string]struct{}, len(sorted))

	for _, r := range sorted {
		rec, ok := idx.Match(r.StockCode, r.Barcode)
		if ok {
			matched[rec.StockCode] = struct{}{}

			price := opts.Pricer(rec.Price)
			if price <= 0 {
				plan.SkippedZeroPrice++
				continue
			}

			qty := quantity(rec)
			if price != r.Price || qty != r.Quantity {
				plan.ToUpdate = append(plan.ToUpdate, UpdateItem{
					Catalog:  rec,
					Remote:   r,
					PushKey:  pushKey(r),
					Price:    price,
					Quantity: qty,
				})
			}
			continue
		}

		// No catalog counterpart: zero-out candidate
		if opts.excluded(r.StockCode, r.Barcode) {
			continue
		}
		if r.Quantity == 0 {
			// Already at zero, nothing to push
			continue
		}
		if source, ok := opts.MirrorSources[r.StockCode]; !ok || source == "" || source != opts.SourceID {
			// Not attributable to this source; do not clobber listings
			// the system did not create
			continue
		}

		plan.ToZero = append(plan.ToZero, ZeroItem{
			Remote:  r,
			PushKey: pushKey(r),
			Price:   r.Price,
		})
	}

	codes := make([]string, 0, len(idx.ByStockCode))
	for code := range idx.ByStockCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		if _, ok := matched[code]; ok {
			continue
		}
		rec := idx.ByStockCode[code]
		if opts.excluded(rec.StockCode, rec.Barcode) {
			continue
		}
		if opts.Pricer(rec.Price) <= 0 {
			plan.SkippedZeroPrice++
			continue
		}
		plan.ToCreate = append(plan.ToCreate, rec)
	}

	return plan
}
