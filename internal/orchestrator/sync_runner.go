package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"marketsync/internal/aws"
	"marketsync/internal/catalog"
	"marketsync/internal/model"
	"marketsync/internal/recon"
)

const (
	JobTypeCatalogSync   = "catalog_sync"
	JobTypeMirrorRefresh = "refresh_mirror"
)

// CatalogSyncRunner executes the full reconciliation pipeline: load the
// newest catalog feed snapshot, diff it against the marketplace, push the
// differences, and archive a run report.
type CatalogSyncRunner struct {
	loader *catalog.Loader
	engine *recon.Engine
	feed   aws.FeedService
}

func NewCatalogSyncRunner(loader *catalog.Loader, engine *recon.Engine, feed aws.FeedService) *CatalogSyncRunner {
	return &CatalogSyncRunner{
		loader: loader,
		engine: engine,
		feed:   feed,
	}
}

func (r *CatalogSyncRunner) Name() string { return "Catalog Sync" }
func (r *CatalogSyncRunner) Type() string { return JobTypeCatalogSync }

func (r *CatalogSyncRunner) Run(ctx context.Context, job *model.Job) (interface{}, bool, error) {
	sourceID := job.Params["source_id"]
	if sourceID == "" {
		return nil, false, fmt.Errorf("job %s has no source_id param", job.ID.Hex())
	}
	if job.Marketplace == "" {
		return nil, false, fmt.Errorf("job %s has no marketplace", job.ID.Hex())
	}

	idx, err := r.loader.LoadIndex(ctx, sourceID)
	if err != nil {
		return nil, false, fmt.Errorf("load catalog feed: %w", err)
	}

	result, err := r.engine.Reconcile(ctx, job.OwnerID, job.Marketplace, idx, job.ID)
	if err != nil {
		return nil, false, err
	}

	r.uploadReport(ctx, job, result)

	return result, result.Cancelled, nil
}

// uploadReport archives the run outcome to S3. A failed upload never fails
// the sync; the result is still persisted on the job document.
func (r *CatalogSyncRunner) uploadReport(ctx context.Context, job *model.Job, result *recon.Result) {
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}

	name := fmt.Sprintf("%s/%s-%s.json",
		job.Marketplace, time.Now().UTC().Format("2006-01-02T15-04-05"), job.ID.Hex())

	url, err := r.feed.UploadReport(ctx, name, body)
	if err != nil {
		log.Warn().Err(err).Str("jobID", job.ID.Hex()).Msg("Failed to upload sync report")
		return
	}

	log.Info().Str("jobID", job.ID.Hex()).Str("url", url).Msg("Uploaded sync report")
}
