package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"marketsync/internal/aws"
	"marketsync/internal/model"
)

// Loader builds catalog indexes from feed snapshots stored in S3. A snapshot
// is a JSON array of catalog records written by the upstream ingestion
// pipeline.
type Loader struct {
	feed aws.FeedService
}

// NewLoader creates a Loader on top of the feed service
func NewLoader(feed aws.FeedService) *Loader {
	return &Loader{feed: feed}
}

// LoadIndex fetches the newest snapshot for a catalog source and indexes it
func (l *Loader) LoadIndex(ctx context.Context, sourceID string) (*Index, error) {
	key, err := l.feed.LatestSnapshotKey(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	data, err := l.feed.DownloadSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}

	var records []model.CatalogRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode feed snapshot %s: %w", key, err)
	}

	idx := NewIndex(sourceID, records)
	log.Info().
		Str("sourceID", sourceID).
		Str("key", key).
		Int("records", idx.Len()).
		Msg("Loaded catalog index from feed snapshot")

	return idx, nil
}
