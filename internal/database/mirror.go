package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketsync/internal/model"
)

// MirrorDatabase defines operations on the local mirror of remote listings.
// The mirror is what reconciliation consults for source ownership and what
// the admin surface reads for display.
type MirrorDatabase interface {
	// ListMirrorProducts returns every mirror row for an owner+marketplace
	ListMirrorProducts(ctx context.Context, ownerID, marketplace string) ([]*model.MirrorProduct, error)

	// UpsertMirrorProducts writes mirror rows keyed by stock code
	UpsertMirrorProducts(ctx context.Context, products []*model.MirrorProduct) error

	// SetMirrorQuantities updates price/quantity on existing rows after a
	// successful push batch
	SetMirrorQuantities(ctx context.Context, ownerID, marketplace string, updates []model.PriceStockUpdate, sourceID string) error

	// DeleteMirrorProductsNotIn prunes rows whose stock code is absent from
	// the given set; used by mirror refresh when remote listings vanish
	DeleteMirrorProductsNotIn(ctx context.Context, ownerID, marketplace string, stockCodes []string) (int64, error)
}

// ListMirrorProducts returns the full mirror for an owner and marketplace
func (m *mongoDB) ListMirrorProducts(ctx context.Context, ownerID, marketplace string) ([]*model.MirrorProduct, error) {
	cursor, err := m.mirrorCol.Find(ctx, bson.M{
		"owner_id":    ownerID,
		"marketplace": marketplace,
	})
	if err != nil {
		log.Error().Err(err).Str("marketplace", marketplace).Msg("Failed to list mirror products")
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []*model.MirrorProduct
	if err := cursor.All(ctx, &products); err != nil {
		log.Error().Err(err).Msg("Failed to decode mirror products")
		return nil, err
	}

	return products, nil
}

// UpsertMirrorProducts writes each row keyed by (owner, marketplace, stock code)
func (m *mongoDB) UpsertMirrorProducts(ctx context.Context, products []*model.MirrorProduct) error {
	if len(products) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(products))
	for _, p := range products {
		p.LastSyncAt = time.Now()
		filter := bson.M{
			"owner_id":    p.OwnerID,
			"marketplace": p.Marketplace,
			"stock_code":  p.StockCode,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(filter).
			SetReplacement(p).
			SetUpsert(true))
	}

	_, err := m.mirrorCol.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		log.Error().Err(err).Int("count", len(products)).Msg("Failed to upsert mirror products")
		return err
	}

	log.Debug().Int("count", len(products)).Msg("Upserted mirror products")
	return nil
}

// SetMirrorQuantities applies price/quantity from a pushed batch and stamps
// the source tag so later runs can attribute the listing to this catalog.
func (m *mongoDB) SetMirrorQuantities(ctx context.Context, ownerID, marketplace string, updates []model.PriceStockUpdate, sourceID string) error {
	if len(updates) == 0 {
		return nil
	}

	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		filter := bson.M{
			"owner_id":    ownerID,
			"marketplace": marketplace,
			"stock_code":  u.Key,
		}
		set := bson.M{
			"price":        u.Price,
			"quantity":     u.Quantity,
			"last_sync_at": now,
		}
		if sourceID != "" {
			set["source_id"] = sourceID
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": set}))
	}

	_, err := m.mirrorCol.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		log.Error().Err(err).Int("count", len(updates)).Msg("Failed to update mirror quantities")
		return err
	}

	return nil
}

// DeleteMirrorProductsNotIn removes rows no longer present remotely
func (m *mongoDB) DeleteMirrorProductsNotIn(ctx context.Context, ownerID, marketplace string, stockCodes []string) (int64, error) {
	result, err := m.mirrorCol.DeleteMany(ctx, bson.M{
		"owner_id":    ownerID,
		"marketplace": marketplace,
		"stock_code":  bson.M{"$nin": stockCodes},
	})
	if err != nil {
		log.Error().Err(err).Str("marketplace", marketplace).Msg("Failed to prune mirror products")
		return 0, err
	}

	return result.DeletedCount, nil
}
