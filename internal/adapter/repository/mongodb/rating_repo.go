package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

type RatingRepository struct {
	collection *mongo.Collection
	logger     *logger.Logger
}

func NewRatingRepository(db *mongo.Database, log *logger.Logger) *RatingRepository {
	collection := db.Collection(ratingCollectionName)
	ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "is_deleted", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "from_user_id", Value: 1}}},
	}, log)

	return &RatingRepository{
		collection: collection,
		logger:     log.Named("mongodb.rating"),
	}
}

func (r *RatingRepository) Create(ctx context.Context, rating *domain.Rating) error {
	doc := ratingDocument{
		ID:         primitive.NewObjectID(),
		FromUserID: rating.FromUserID,
		ToUserID:   rating.ToUserID,
		Score:      rating.Score,
		Comment:    rating.Comment,
		CreatedAt:  rating.CreatedAt,
		UpdatedAt:  rating.UpdatedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		r.logger.Error("Failed to insert rating", zap.String("to_user_id", rating.ToUserID), zap.Error(err))
		return fmt.Errorf("db insert rating: %w", err)
	}
	rating.ID = doc.ID.Hex()
	return nil
}

func (r *RatingRepository) GetByID(ctx context.Context, id string) (*domain.Rating, error) {
	oid, err := objectID(id, domain.ErrRatingNotFound)
	if err != nil {
		return nil, err
	}
	var doc ratingDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrRatingNotFound
		}
		return nil, fmt.Errorf("db find rating: %w", err)
	}
	return doc.toDomain(), nil
}

// SoftDelete flags a live rating as deleted. Deleting twice reports not found.
func (r *RatingRepository) SoftDelete(ctx context.Context, id string) error {
	oid, err := objectID(id, domain.ErrRatingNotFound)
	if err != nil {
		return err
	}
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid, "is_deleted": false},
		bson.M{"$set": bson.M{"is_deleted": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		r.logger.Error("Failed to soft delete rating", zap.String("rating_id", id), zap.Error(err))
		return fmt.Errorf("db delete rating: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrRatingNotFound
	}
	return nil
}

func (r *RatingRepository) ListForUser(ctx context.Context, toUserID string, page, limit int) ([]*domain.Rating, int64, error) {
	query := bson.M{"to_user_id": toUserID, "is_deleted": false}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("db count ratings: %w", err)
	}

	cursor, err := r.collection.Find(ctx, query, pageOptions(page, limit).SetSort(byCreatedDesc()))
	if err != nil {
		return nil, 0, fmt.Errorf("db find ratings: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*ratingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("db decode ratings: %w", err)
	}
	ratings := make([]*domain.Rating, len(docs))
	for i, doc := range docs {
		ratings[i] = doc.toDomain()
	}
	return ratings, total, nil
}

func (r *RatingRepository) Summary(ctx context.Context, toUserID string) (domain.RatingSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "to_user_id", Value: toUserID},
			{Key: "is_deleted", Value: false},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$to_user_id"},
			{Key: "average", Value: bson.D{{Key: "$avg", Value: "$score"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		r.logger.Error("Failed to aggregate rating summary", zap.String("to_user_id", toUserID), zap.Error(err))
		return domain.RatingSummary{}, fmt.Errorf("db aggregate ratings: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Average float64 `bson:"average"`
		Count   int64   `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return domain.RatingSummary{}, fmt.Errorf("db decode rating summary: %w", err)
	}
	if len(results) == 0 {
		return domain.RatingSummary{}, nil
	}
	return domain.RatingSummary{Average: results[0].Average, Count: results[0].Count}, nil
}
