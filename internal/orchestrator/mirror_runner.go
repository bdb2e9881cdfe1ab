package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"marketsync/internal/database"
	"marketsync/internal/marketplace"
	"marketsync/internal/model"
)

// MirrorRefreshRunner rebuilds the local mirror of a marketplace from the
// remote inventory. It refreshes price, stock and approval state on every
// row and prunes rows whose listings no longer exist remotely. Source
// ownership tags are carried over, never invented: a listing this system
// did not create stays untagged.
type MirrorRefreshRunner struct {
	jobs     database.JobDatabase
	mirror   database.MirrorDatabase
	adapters marketplace.Registry
}

func NewMirrorRefreshRunner(jobs database.JobDatabase, mirror database.MirrorDatabase, adapters marketplace.Registry) *MirrorRefreshRunner {
	return &MirrorRefreshRunner{
		jobs:     jobs,
		mirror:   mirror,
		adapters: adapters,
	}
}

func (r *MirrorRefreshRunner) Name() string { return "Mirror Refresh" }
func (r *MirrorRefreshRunner) Type() string { return JobTypeMirrorRefresh }

// MirrorRefreshResult summarizes one refresh run
type MirrorRefreshResult struct {
	Marketplace string `bson:"marketplace" json:"marketplace"`
	Refreshed   int    `bson:"refreshed" json:"refreshed"`
	Pruned      int64  `bson:"pruned" json:"pruned"`
	Cancelled   bool   `bson:"cancelled" json:"cancelled"`
}

func (r *MirrorRefreshRunner) Run(ctx context.Context, job *model.Job) (interface{}, bool, error) {
	adapter, ok := r.adapters.Get(job.Marketplace)
	if !ok {
		return nil, false, fmt.Errorf("no adapter registered for marketplace %q", job.Marketplace)
	}

	existing, err := r.mirror.ListMirrorProducts(ctx, job.OwnerID, job.Marketplace)
	if err != nil {
		return nil, false, fmt.Errorf("load mirror: %w", err)
	}
	sources := make(map[string]string, len(existing))
	for _, row := range existing {
		sources[row.StockCode] = row.SourceID
	}

	result := &MirrorRefreshResult{Marketplace: job.Marketplace}
	var seen []string

	err = adapter.ListRemoteInventory(ctx, func(items []model.RemoteProduct) error {
		current, jerr := r.jobs.GetJobByID(ctx, job.ID)
		if jerr != nil {
			return fmt.Errorf("read job state: %w", jerr)
		}
		if current.CancelRequested {
			result.Cancelled = true
			return errStopListing
		}

		rows := make([]*model.MirrorProduct, 0, len(items))
		for _, item := range items {
			code := item.StockCode
			if code == "" {
				continue
			}
			seen = append(seen, code)
			rows = append(rows, &model.MirrorProduct{
				OwnerID:     job.OwnerID,
				Marketplace: job.Marketplace,
				StockCode:   code,
				Barcode:     item.Barcode,
				RemoteID:    item.RemoteID,
				Title:       item.Title,
				Price:       item.Price,
				Quantity:    item.Quantity,
				Status:      remoteStatus(&item),
				OnSale:      item.OnSale,
				SourceID:    sources[code],
			})
		}

		if err := r.mirror.UpsertMirrorProducts(ctx, rows); err != nil {
			return fmt.Errorf("upsert mirror rows: %w", err)
		}
		result.Refreshed += len(rows)

		r.jobs.UpdateJobProgress(ctx, job.ID, model.JobProgress{
			Current: result.Refreshed,
			Message: fmt.Sprintf("Refreshed %d mirror rows...", result.Refreshed),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStopListing) {
		return nil, false, fmt.Errorf("list remote inventory: %w", err)
	}

	if !result.Cancelled {
		pruned, err := r.mirror.DeleteMirrorProductsNotIn(ctx, job.OwnerID, job.Marketplace, seen)
		if err != nil {
			return nil, false, fmt.Errorf("prune vanished listings: %w", err)
		}
		result.Pruned = pruned
	}

	return result, result.Cancelled, nil
}

var errStopListing = errors.New("stop listing")

func remoteStatus(p *model.RemoteProduct) string {
	if p.Approved {
		return "Approved"
	}
	return "Pending"
}
