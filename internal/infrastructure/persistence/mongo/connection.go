// Package mongo reads collaborator data (members, check-ins, workouts,
// payments) from the CRUD backend's MongoDB. The engine never writes here.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config holds the collaborator database settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	// QueryTimeout bounds every read that arrives without a deadline.
	QueryTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "nextfit",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   3 * time.Second,
	}
}

// Connect opens a client, pings the primary-preferred node and returns the
// configured database. Reads go to secondaries when available.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetReadPreference(readpref.SecondaryPreferred()).
		SetAppName("galpao-gamification")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}
