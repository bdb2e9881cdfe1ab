package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketsync/internal/config"
)

type Database interface {
	Health() error
	Close(ctx context.Context) error
	JobDatabase
	MirrorDatabase
	ExclusionDatabase
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	jobsCol       *mongo.Collection
	mirrorCol     *mongo.Collection
	exclusionsCol *mongo.Collection
}

func New(cfg *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.MongoDB.Username,
			Password: cfg.MongoDB.Password,
		})
	}

	client, err := mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.MongoDB.DB)

	jobsCol := db.Collection("jobs")
	jobIndexModels := []mongo.IndexModel{
		{
			// Index for status-based queries, including the global
			// running-count ceiling check
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "owner_id", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	mirrorCol := db.Collection("mirror_products")
	mirrorIndexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "marketplace", Value: 1},
				{Key: "stock_code", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "marketplace", Value: 1}},
			Options: options.Index(),
		},
	}

	exclusionsCol := db.Collection("sync_exceptions")
	exclusionIndexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "value", Value: 1},
				{Key: "match_type", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := jobsCol.Indexes().CreateMany(ctx, jobIndexModels); err != nil {
		return nil, err
	}
	if _, err := mirrorCol.Indexes().CreateMany(ctx, mirrorIndexModels); err != nil {
		return nil, err
	}
	if _, err := exclusionsCol.Indexes().CreateMany(ctx, exclusionIndexModels); err != nil {
		return nil, err
	}

	return &mongoDB{
		client:        client,
		db:            db,
		jobsCol:       jobsCol,
		mirrorCol:     mirrorCol,
		exclusionsCol: exclusionsCol,
	}, nil
}

// Health pings the database
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.client.Ping(ctx, nil)
}

// Close disconnects the underlying client
func (m *mongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
