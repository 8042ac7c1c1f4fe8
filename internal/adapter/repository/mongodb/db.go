package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

const (
	listingCollectionName      = "listings"
	transactionCollectionName  = "transactions"
	ratingCollectionName       = "ratings"
	activityCollectionName     = "activities"
	userCollectionName         = "users"
	loginHistoryCollectionName = "login_history"
)

// NewClient connects to MongoDB and pings the primary before returning.
func NewClient(ctx context.Context, uri, user, password string, log *logger.Logger) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if user != "" {
		opts.SetAuth(options.Credential{Username: user, Password: password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	log.Info("Successfully connected and pinged MongoDB.")
	return client, nil
}

// ensureIndexes creates indexes for a collection. Failures are logged and
// tolerated since the indexes may have been created out of band.
func ensureIndexes(collection *mongo.Collection, indexes []mongo.IndexModel, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Error("Failed to create indexes", zap.String("collection", collection.Name()), zap.Error(err))
		return
	}
	log.Debug("Ensured indexes", zap.String("collection", collection.Name()))
}

// objectID parses a hex id. A malformed id cannot name a stored document,
// so it is reported as notFound.
func objectID(id string, notFound error) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, notFound
	}
	return oid, nil
}

func pageOptions(page, limit int) *options.FindOptions {
	return options.Find().
		SetSkip(int64(page-1) * int64(limit)).
		SetLimit(int64(limit))
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func sortDirection(desc bool) int {
	if desc {
		return -1
	}
	return 1
}

func byCreatedDesc() bson.D {
	return bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
}
