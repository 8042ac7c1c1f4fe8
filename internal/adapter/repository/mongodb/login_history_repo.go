package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

type LoginHistoryRepository struct {
	collection *mongo.Collection
	logger     *logger.Logger
}

func NewLoginHistoryRepository(db *mongo.Database, log *logger.Logger) *LoginHistoryRepository {
	collection := db.Collection(loginHistoryCollectionName)
	ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "login_time", Value: -1}}},
	}, log)

	return &LoginHistoryRepository{
		collection: collection,
		logger:     log.Named("mongodb.login_history"),
	}
}

func (r *LoginHistoryRepository) Create(ctx context.Context, record *domain.LoginRecord) error {
	doc := loginRecordDocument{
		ID:            primitive.NewObjectID(),
		UserID:        record.UserID,
		LoginTime:     record.LoginTime,
		IPAddress:     record.IPAddress,
		UserAgent:     record.UserAgent,
		Status:        record.Status,
		FailureReason: record.FailureReason,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("db insert login record: %w", err)
	}
	record.ID = doc.ID.Hex()
	return nil
}

func (r *LoginHistoryRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.LoginRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "login_time", Value: -1}}).SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("db find login history: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*loginRecordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("db decode login history: %w", err)
	}
	records := make([]*domain.LoginRecord, len(docs))
	for i, doc := range docs {
		records[i] = doc.toDomain()
	}
	return records, nil
}

func (r *LoginHistoryRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("db delete login history: %w", err)
	}
	return nil
}
