package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"marketsync/internal/cache"
	"marketsync/internal/catalog"
	"marketsync/internal/config"
	"marketsync/internal/database"
	"marketsync/internal/marketplace"
	"marketsync/internal/model"
)

// Result is the structured outcome of one reconciliation run. Per-item and
// per-batch failures are accumulated here instead of aborting the run; only
// unexpected errors escalate to failing the whole job.
type Result struct {
	Marketplace     string                    `bson:"marketplace" json:"marketplace"`
	SourceID        string                    `bson:"source_id" json:"source_id"`
	RemoteCount     int                       `bson:"remote_count" json:"remote_count"`
	CatalogCount    int                       `bson:"catalog_count" json:"catalog_count"`
	PlannedUpdates  int                       `bson:"planned_updates" json:"planned_updates"`
	PlannedCreates  int                       `bson:"planned_creates" json:"planned_creates"`
	PlannedZeroes   int                       `bson:"planned_zeroes" json:"planned_zeroes"`
	UpdatedCount    int                       `bson:"updated_count" json:"updated_count"`
	CreatedCount    int                       `bson:"created_count" json:"created_count"`
	ZeroedCount     int                       `bson:"zeroed_count" json:"zeroed_count"`
	SkippedCount    int                       `bson:"skipped_count" json:"skipped_count"`
	FailureCount    int                       `bson:"failure_count" json:"failure_count"`
	FailedBatches   int                       `bson:"failed_batches" json:"failed_batches"`
	Failures        []marketplace.ItemFailure `bson:"failures,omitempty" json:"failures,omitempty"`
	Cancelled       bool                      `bson:"cancelled" json:"cancelled"`
	DurationSeconds float64                   `bson:"duration_seconds" json:"duration_seconds"`
}

const snapshotTTL = 5 * time.Minute

// Engine executes catalog reconciliation against one marketplace at a time.
// All job interaction goes through the shared store so pause/resume/cancel
// work from any process.
type Engine struct {
	jobs       database.JobDatabase
	mirror     database.MirrorDatabase
	exclusions database.ExclusionDatabase
	adapters   marketplace.Registry
	snapshots  cache.Cache
	brands     *cache.LookupCache
	categories *cache.LookupCache
	pricing    PricingRule
	jobsCfg    config.JobsConfig
	mpCfg      map[string]config.MarketplaceConfig
}

// NewEngine wires a reconciliation engine
func NewEngine(
	jobs database.JobDatabase,
	mirror database.MirrorDatabase,
	exclusions database.ExclusionDatabase,
	adapters marketplace.Registry,
	snapshots cache.Cache,
	brands *cache.LookupCache,
	categories *cache.LookupCache,
	pricing PricingRule,
	jobsCfg config.JobsConfig,
	mpCfg map[string]config.MarketplaceConfig,
) *Engine {
	return &Engine{
		jobs:       jobs,
		mirror:     mirror,
		exclusions: exclusions,
		adapters:   adapters,
		snapshots:  snapshots,
		brands:     brands,
		categories: categories,
		pricing:    pricing,
		jobsCfg:    jobsCfg,
		mpCfg:      mpCfg,
	}
}

// errCancelled flows out of checkpoints; it is resolved to a cancelled
// result, never surfaced as a job failure.
var errCancelled = errors.New("job cancelled")

// Reconcile runs a full diff-and-push pass for one owner and marketplace.
// The returned Result carries partial counts even when the run is cancelled
// midway; the run is safe to repeat because the mirror converges.
func (e *Engine) Reconcile(ctx context.Context, ownerID, marketplaceTag string, idx *catalog.Index, jobID primitive.ObjectID) (*Result, error) {
	start := time.Now()

	adapter, ok := e.adapters.Get(marketplaceTag)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for marketplace %q", marketplaceTag)
	}
	mpCfg := e.mpCfg[marketplaceTag]

	result := &Result{
		Marketplace:  marketplaceTag,
		SourceID:     idx.SourceID,
		CatalogCount: idx.Len(),
	}

	// 1. Full remote inventory through the adapter
	e.logf(ctx, jobID, model.LogInfo, "Fetching remote inventory from %s", marketplaceTag)

	var remote []model.RemoteProduct
	err := adapter.ListRemoteInventory(ctx, func(items []model.RemoteProduct) error {
		remote = append(remote, items...)
		e.progress(ctx, jobID, model.JobProgress{
			Current: len(remote),
			Total:   0,
			Message: fmt.Sprintf("Fetched %d remote listings...", len(remote)),
		})
		cancelled, cerr := e.checkpoint(ctx, jobID)
		if cerr != nil {
			return cerr
		}
		if cancelled {
			return errCancelled
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			result.Cancelled = true
			result.DurationSeconds = time.Since(start).Seconds()
			return result, nil
		}
		return nil, fmt.Errorf("list remote inventory: %w", err)
	}
	result.RemoteCount = len(remote)
	e.cacheSnapshot(ctx, ownerID, marketplaceTag, remote)

	// 2. Exclusion set for the owner
	exclusions, err := e.exclusions.GetExclusionSet(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load exclusion set: %w", err)
	}

	// Mirror rows give us source ownership for the zero-out guard
	mirrorRows, err := e.mirror.ListMirrorProducts(ctx, ownerID, marketplaceTag)
	if err != nil {
		return nil, fmt.Errorf("load mirror: %w", err)
	}
	mirrorSources := make(map[string]string, len(mirrorRows))
	for _, row := range mirrorRows {
		mirrorSources[row.StockCode] = row.SourceID
	}

	// 3-5. Three-way diff with pricing applied
	plan := BuildPlan(idx, remote, PlanOptions{
		SourceID:            idx.SourceID,
		MirrorSources:       mirrorSources,
		Exclusions:          exclusions,
		Pricer:              func(base float64) float64 { return e.pricing(base, marketplaceTag) },
		TreatZeroStockAsOne: mpCfg.TreatZeroStockAsOne,
	})

	result.PlannedUpdates = len(plan.ToUpdate)
	result.PlannedCreates = len(plan.ToCreate)
	result.PlannedZeroes = len(plan.ToZero)
	result.SkippedCount = plan.SkippedZeroPrice

	e.logf(ctx, jobID, model.LogInfo, "Diff complete: %d updates, %d creates, %d zero-outs (%d skipped for zero price)",
		len(plan.ToUpdate), len(plan.ToCreate), len(plan.ToZero), plan.SkippedZeroPrice)

	if plan.Total() == 0 {
		e.logf(ctx, jobID, model.LogInfo, "Everything already in sync")
		result.DurationSeconds = time.Since(start).Seconds()
		return result, nil
	}

	totalOps := plan.Total()
	completedOps := 0

	// 6-8. Execute the plan in bounded batches
	cancelled, err := e.executeUpdates(ctx, ownerID, marketplaceTag, adapter, plan.ToUpdate, mpCfg.UpdateBatchSize, idx.SourceID, jobID, result, &completedOps, totalOps)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		cancelled, err = e.executeCreates(ctx, ownerID, marketplaceTag, adapter, plan.ToCreate, mpCfg.CreateBatchSize, idx.SourceID, jobID, result, &completedOps, totalOps)
		if err != nil {
			return nil, err
		}
	}
	if !cancelled {
		cancelled, err = e.executeZeroes(ctx, ownerID, marketplaceTag, adapter, plan.ToZero, mpCfg.UpdateBatchSize, idx.SourceID, jobID, result, &completedOps, totalOps)
		if err != nil {
			return nil, err
		}
	}

	result.Cancelled = cancelled
	result.DurationSeconds = time.Since(start).Seconds()

	e.logf(ctx, jobID, model.LogInfo, "Reconciliation finished: %d updated, %d created, %d zeroed, %d failed",
		result.UpdatedCount, result.CreatedCount, result.ZeroedCount, result.FailureCount)

	return result, nil
}

func (e *Engine) executeUpdates(ctx context.Context, ownerID, tag string, adapter marketplace.Adapter, items []UpdateItem, batchSize int, sourceID string, jobID primitive.ObjectID, result *Result, completedOps *int, totalOps int) (bool, error) {
	for _, batch := range splitBatches(items, batchSize) {
		cancelled, err := e.checkpoint(ctx, jobID)
		if err != nil {
			return false, err
		}
		if cancelled {
			return true, nil
		}

		updates := make([]model.PriceStockUpdate, 0, len(batch))
		mirrorUpdates := make([]model.PriceStockUpdate, 0, len(batch))
		for _, item := range batch {
			updates = append(updates, model.PriceStockUpdate{
				Key:      item.PushKey,
				Price:    item.Price,
				Quantity: item.Quantity,
			})
			mirrorUpdates = append(mirrorUpdates, model.PriceStockUpdate{
				Key:      item.Catalog.StockCode,
				Price:    item.Price,
				Quantity: item.Quantity,
			})
		}

		batchResult, err := e.pushWithRetry(ctx, jobID, func() (*marketplace.BatchResult, error) {
			return adapter.UpdatePriceAndStock(ctx, updates)
		})
		if err != nil {
			result.FailedBatches++
			result.FailureCount += len(batch)
			e.logf(ctx, jobID, model.LogError, "Update batch of %d failed: %v", len(batch), err)
			continue
		}

		if err := e.mirror.SetMirrorQuantities(ctx, ownerID, tag, mirrorUpdates, sourceID); err != nil {
			return false, fmt.Errorf("update mirror after batch: %w", err)
		}

		e.recordBatch(result, batchResult)
		result.UpdatedCount += batchResult.Succeeded

		*completedOps += len(batch)
		first := batch[0]
		e.logf(ctx, jobID, model.LogInfo, "Updated %d listings (e.g. %s: qty %d -> %d, price %.2f -> %.2f)",
			batchResult.Succeeded, first.Catalog.StockCode,
			first.Remote.Quantity, first.Quantity, first.Remote.Price, first.Price)
		e.progress(ctx, jobID, model.JobProgress{
			Current: *completedOps,
			Total:   totalOps,
			Message: fmt.Sprintf("Updating listings (%d/%d)...", *completedOps, totalOps),
		})
	}

	return false, nil
}

func (e *Engine) executeCreates(ctx context.Context, ownerID, tag string, adapter marketplace.Adapter, records []*model.CatalogRecord, batchSize int, sourceID string, jobID primitive.ObjectID, result *Result, completedOps *int, totalOps int) (bool, error) {
	for _, batch := range splitBatches(records, batchSize) {
		cancelled, err := e.checkpoint(ctx, jobID)
		if err != nil {
			return false, err
		}
		if cancelled {
			return true, nil
		}

		listings := make([]marketplace.Listing, 0, len(batch))
		mirrorRows := make([]*model.MirrorProduct, 0, len(batch))
		for _, rec := range batch {
			listing, skipReason := e.buildListing(ctx, tag, rec)
			if skipReason != "" {
				result.SkippedCount++
				e.appendFailure(result, marketplace.ItemFailure{Key: rec.StockCode, Reason: skipReason})
				e.logf(ctx, jobID, model.LogWarning, "Skipped %s: %s", rec.StockCode, skipReason)
				continue
			}
			listings = append(listings, *listing)
			mirrorRows = append(mirrorRows, &model.MirrorProduct{
				OwnerID:     ownerID,
				Marketplace: tag,
				StockCode:   rec.StockCode,
				Barcode:     listing.Barcode,
				Title:       listing.Title,
				Price:       listing.Price,
				Quantity:    listing.Quantity,
				Status:      "Pending",
				OnSale:      true,
				SourceID:    sourceID,
			})
		}

		if len(listings) == 0 {
			*completedOps += len(batch)
			continue
		}

		batchResult, err := e.pushWithRetry(ctx, jobID, func() (*marketplace.BatchResult, error) {
			return adapter.CreateListings(ctx, listings)
		})
		if err != nil {
			result.FailedBatches++
			result.FailureCount += len(listings)
			e.logf(ctx, jobID, model.LogError, "Create batch of %d failed: %v", len(listings), err)
			continue
		}

		if err := e.mirror.UpsertMirrorProducts(ctx, mirrorRows); err != nil {
			return false, fmt.Errorf("mirror new listings: %w", err)
		}

		e.recordBatch(result, batchResult)
		result.CreatedCount += batchResult.Succeeded

		*completedOps += len(batch)
		e.logf(ctx, jobID, model.LogInfo, "Created %d new listings on %s", batchResult.Succeeded, tag)
		e.progress(ctx, jobID, model.JobProgress{
			Current: *completedOps,
			Total:   totalOps,
			Message: fmt.Sprintf("Creating listings (%d/%d)...", *completedOps, totalOps),
		})
	}

	return false, nil
}

func (e *Engine) executeZeroes(ctx context.Context, ownerID, tag string, adapter marketplace.Adapter, items []ZeroItem, batchSize int, sourceID string, jobID primitive.ObjectID, result *Result, completedOps *int, totalOps int) (bool, error) {
	for _, batch := range splitBatches(items, batchSize) {
		cancelled, err := e.checkpoint(ctx, jobID)
		if err != nil {
			return false, err
		}
		if cancelled {
			return true, nil
		}

		updates := make([]model.PriceStockUpdate, 0, len(batch))
		mirrorUpdates := make([]model.PriceStockUpdate, 0, len(batch))
		for _, item := range batch {
			updates = append(updates, model.PriceStockUpdate{
				Key:      item.PushKey,
				Price:    item.Price,
				Quantity: 0,
			})
			mirrorUpdates = append(mirrorUpdates, model.PriceStockUpdate{
				Key:      item.Remote.StockCode,
				Price:    item.Price,
				Quantity: 0,
			})
			e.logf(ctx, jobID, model.LogInfo, "Zeroing stock (gone from catalog): %s", item.Remote.StockCode)
		}

		batchResult, err := e.pushWithRetry(ctx, jobID, func() (*marketplace.BatchResult, error) {
			return adapter.UpdatePriceAndStock(ctx, updates)
		})
		if err != nil {
			result.FailedBatches++
			result.FailureCount += len(batch)
			e.logf(ctx, jobID, model.LogError, "Zero-out batch of %d failed: %v", len(batch), err)
			continue
		}

		if err := e.mirror.SetMirrorQuantities(ctx, ownerID, tag, mirrorUpdates, sourceID); err != nil {
			return false, fmt.Errorf("update mirror after zero-out: %w", err)
		}

		e.recordBatch(result, batchResult)
		result.ZeroedCount += batchResult.Succeeded

		*completedOps += len(batch)
		e.progress(ctx, jobID, model.JobProgress{
			Current: *completedOps,
			Total:   totalOps,
			Message: fmt.Sprintf("Zeroing stock (%d/%d)...", *completedOps, totalOps),
		})
	}

	return false, nil
}

// buildListing resolves brand and category for a create. An unresolved
// lookup is an ordinary per-item skip, not an error.
func (e *Engine) buildListing(ctx context.Context, tag string, rec *model.CatalogRecord) (*marketplace.Listing, string) {
	brandID, err := e.brands.Resolve(ctx, tag, rec.Brand)
	if err != nil {
		if errors.Is(err, cache.ErrNotResolved) {
			return nil, fmt.Sprintf("brand %q not resolved", rec.Brand)
		}
		return nil, fmt.Sprintf("brand lookup failed: %v", err)
	}

	categoryID, err := e.categories.Resolve(ctx, tag, rec.Category)
	if err != nil {
		if errors.Is(err, cache.ErrNotResolved) {
			return nil, fmt.Sprintf("category %q not resolved", rec.Category)
		}
		return nil, fmt.Sprintf("category lookup failed: %v", err)
	}

	barcode := rec.Barcode
	if barcode == "" {
		barcode = randomBarcode()
	}

	qty := rec.Quantity
	if qty == 0 && e.mpCfg[tag].TreatZeroStockAsOne {
		qty = 1
	}

	return &marketplace.Listing{
		Record:     *rec,
		Barcode:    barcode,
		Title:      sanitizeTitle(rec.Title, barcode),
		Price:      e.pricing(rec.Price, tag),
		Quantity:   qty,
		BrandID:    brandID,
		CategoryID: categoryID,
	}, ""
}

// pushWithRetry executes one batched call, retrying only quota exhaustion
// with the configured long delay. Other failures surface immediately.
func (e *Engine) pushWithRetry(ctx context.Context, jobID primitive.ObjectID, push func() (*marketplace.BatchResult, error)) (*marketplace.BatchResult, error) {
	attempts := e.jobsCfg.QuotaRetryAttempts
	delay := time.Duration(e.jobsCfg.QuotaRetryDelaySeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := push()
		if err == nil {
			return result, nil
		}
		if !marketplace.IsQuotaExceeded(err) {
			return nil, err
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		e.logf(ctx, jobID, model.LogWarning, "Quota exhausted, waiting %s before retry (%d/%d)", delay, attempt, attempts)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("quota retries exhausted: %w", lastErr)
}

// checkpoint reads the job's control flags from the shared store. A pause
// flag parks the worker in a poll loop until resumed or cancelled; a cancel
// flag stops the run at the next batch boundary.
func (e *Engine) checkpoint(ctx context.Context, jobID primitive.ObjectID) (bool, error) {
	for {
		job, err := e.jobs.GetJobByID(ctx, jobID)
		if err != nil {
			return false, fmt.Errorf("read job state: %w", err)
		}

		if job.CancelRequested {
			return true, nil
		}
		if !job.PauseRequested {
			return false, nil
		}

		// Paused: in-flight work already finished, hold here until the
		// flag clears
		poll := time.Duration(e.jobsCfg.PausePollSeconds) * time.Second
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *Engine) recordBatch(result *Result, br *marketplace.BatchResult) {
	result.FailureCount += len(br.Failures)
	for _, f := range br.Failures {
		e.appendFailure(result, f)
	}
}

func (e *Engine) appendFailure(result *Result, f marketplace.ItemFailure) {
	if len(result.Failures) < e.jobsCfg.MaxFailureReasons {
		result.Failures = append(result.Failures, f)
	}
}

// SnapshotKey names the cache entry holding the remote inventory observed
// on the most recent run for one owner and marketplace. The read side of
// the API serves it from here.
func SnapshotKey(ownerID, tag string) string {
	return fmt.Sprintf("snapshot:%s:%s", ownerID, tag)
}

func (e *Engine) cacheSnapshot(ctx context.Context, ownerID, tag string, remote []model.RemoteProduct) {
	if e.snapshots == nil {
		return
	}
	raw, err := json.Marshal(remote)
	if err != nil {
		return
	}
	if err := e.snapshots.Set(ctx, SnapshotKey(ownerID, tag), raw, snapshotTTL); err != nil {
		log.Warn().Err(err).Str("marketplace", tag).Msg("Failed to cache remote snapshot")
	}
}

func (e *Engine) logf(ctx context.Context, jobID primitive.ObjectID, level model.LogLevel, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if err := e.jobs.AppendJobLog(ctx, jobID, level, message); err != nil {
		log.Error().Err(err).Str("jobID", jobID.Hex()).Msg("Failed to append job log")
	}
}

func (e *Engine) progress(ctx context.Context, jobID primitive.ObjectID, p model.JobProgress) {
	if err := e.jobs.UpdateJobProgress(ctx, jobID, p); err != nil {
		log.Error().Err(err).Str("jobID", jobID.Hex()).Msg("Failed to update job progress")
	}
}

// splitBatches divides items into batches of at most batchSize
func splitBatches[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		batchSize = 50
	}
	if len(items) == 0 {
		return nil
	}

	numBatches := (len(items) + batchSize - 1) / batchSize
	batches := make([][]T, 0, numBatches)
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}

	return batches
}

// sanitizeTitle enforces the 3..100 character listing title limits
func sanitizeTitle(title, barcode string) string {
	if len(title) < 3 {
		if title == "" {
			return "Product " + barcode
		}
		return title + " - Product"
	}
	if len(title) > 100 {
		return title[:100]
	}
	return title
}

const barcodeDigits = "0123456789"

// randomBarcode generates a 12-digit barcode for catalog items without one
func randomBarcode() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = barcodeDigits[rand.Intn(len(barcodeDigits))]
	}
	return string(b)
}
