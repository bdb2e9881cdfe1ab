package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketsync/internal/cache"
	"marketsync/internal/database"
	"marketsync/internal/model"
	"marketsync/internal/recon"
)

// CatalogController serves the read side of the mirror and manages the
// exclusion list
type CatalogController interface {
	ListMirror(ctx context.Context, ownerID, marketplace string) ([]*model.MirrorProduct, error)

	// RemoteSnapshot returns the remote inventory captured by the most
	// recent sync run; cache.ErrCacheMiss when none is fresh enough.
	RemoteSnapshot(ctx context.Context, ownerID, marketplace string) ([]model.RemoteProduct, error)

	ListExclusions(ctx context.Context, ownerID string) ([]*model.ExclusionRule, error)
	AddExclusion(ctx context.Context, ownerID, value, matchType string) (*model.ExclusionRule, error)
	RemoveExclusion(ctx context.Context, ownerID, value, matchType string) error
}

type catalogController struct {
	mirror     database.MirrorDatabase
	exclusions database.ExclusionDatabase
	snapshots  cache.Cache
}

func NewCatalogController(mirror database.MirrorDatabase, exclusions database.ExclusionDatabase, snapshots cache.Cache) CatalogController {
	return &catalogController{
		mirror:     mirror,
		exclusions: exclusions,
		snapshots:  snapshots,
	}
}

func (c *catalogController) ListMirror(ctx context.Context, ownerID, marketplace string) ([]*model.MirrorProduct, error) {
	return c.mirror.ListMirrorProducts(ctx, ownerID, marketplace)
}

func (c *catalogController) RemoteSnapshot(ctx context.Context, ownerID, marketplace string) ([]model.RemoteProduct, error) {
	raw, err := c.snapshots.Get(ctx, recon.SnapshotKey(ownerID, marketplace))
	if err != nil {
		return nil, err
	}

	var items []model.RemoteProduct
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode remote snapshot: %w", err)
	}
	return items, nil
}

func (c *catalogController) ListExclusions(ctx context.Context, ownerID string) ([]*model.ExclusionRule, error) {
	return c.exclusions.ListExclusions(ctx, ownerID)
}

func (c *catalogController) AddExclusion(ctx context.Context, ownerID, value, matchType string) (*model.ExclusionRule, error) {
	if value == "" {
		return nil, fmt.Errorf("exclusion value is required")
	}
	if matchType != model.MatchStockCode && matchType != model.MatchBarcode {
		return nil, fmt.Errorf("invalid match type: %v", matchType)
	}

	rule := &model.ExclusionRule{
		OwnerID:   ownerID,
		Value:     value,
		MatchType: matchType,
		CreatedAt: time.Now(),
	}
	if err := c.exclusions.AddExclusion(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (c *catalogController) RemoveExclusion(ctx context.Context, ownerID, value, matchType string) error {
	if value == "" {
		return fmt.Errorf("exclusion value is required")
	}
	return c.exclusions.RemoveExclusion(ctx, ownerID, value, matchType)
}
