package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketsync/internal/model"
)

// ExclusionDatabase manages the per-owner exclusion list: stock codes and
// barcodes that must never be auto-created or auto-zeroed.
type ExclusionDatabase interface {
	// GetExclusionSet returns every excluded value for an owner as a set
	GetExclusionSet(ctx context.Context, ownerID string) (map[string]struct{}, error)

	// ListExclusions returns the full rules for display
	ListExclusions(ctx context.Context, ownerID string) ([]*model.ExclusionRule, error)

	// AddExclusion inserts or refreshes one rule
	AddExclusion(ctx context.Context, rule *model.ExclusionRule) error

	// RemoveExclusion deletes a rule by value and match type
	RemoveExclusion(ctx context.Context, ownerID, value, matchType string) error
}

// GetExclusionSet returns the owner's excluded values keyed for O(1) lookups
func (m *mongoDB) GetExclusionSet(ctx context.Context, ownerID string) (map[string]struct{}, error) {
	cursor, err := m.exclusionsCol.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		log.Error().Err(err).Str("ownerID", ownerID).Msg("Failed to load exclusion set")
		return nil, err
	}
	defer cursor.Close(ctx)

	set := make(map[string]struct{})
	for cursor.Next(ctx) {
		var rule model.ExclusionRule
		if err := cursor.Decode(&rule); err != nil {
			log.Error().Err(err).Msg("Failed to decode exclusion rule")
			return nil, err
		}
		set[rule.Value] = struct{}{}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return set, nil
}

// ListExclusions returns the owner's rules
func (m *mongoDB) ListExclusions(ctx context.Context, ownerID string) ([]*model.ExclusionRule, error) {
	cursor, err := m.exclusionsCol.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		log.Error().Err(err).Str("ownerID", ownerID).Msg("Failed to list exclusions")
		return nil, err
	}
	defer cursor.Close(ctx)

	var rules []*model.ExclusionRule
	if err := cursor.All(ctx, &rules); err != nil {
		log.Error().Err(err).Msg("Failed to decode exclusion rules")
		return nil, err
	}

	return rules, nil
}

// AddExclusion upserts one rule, keyed by (owner, value, match type)
func (m *mongoDB) AddExclusion(ctx context.Context, rule *model.ExclusionRule) error {
	if rule.MatchType == "" {
		rule.MatchType = model.MatchStockCode
	}
	rule.CreatedAt = time.Now()

	filter := bson.M{
		"owner_id":   rule.OwnerID,
		"value":      rule.Value,
		"match_type": rule.MatchType,
	}
	update := bson.M{"$set": rule}

	_, err := m.exclusionsCol.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Str("value", rule.Value).Msg("Failed to add exclusion")
		return err
	}

	log.Debug().Str("ownerID", rule.OwnerID).Str("value", rule.Value).Msg("Added exclusion rule")
	return nil
}

// RemoveExclusion deletes one rule
func (m *mongoDB) RemoveExclusion(ctx context.Context, ownerID, value, matchType string) error {
	filter := bson.M{
		"owner_id": ownerID,
		"value":    value,
	}
	if matchType != "" {
		filter["match_type"] = matchType
	}

	_, err := m.exclusionsCol.DeleteMany(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("value", value).Msg("Failed to remove exclusion")
		return err
	}

	return nil
}
