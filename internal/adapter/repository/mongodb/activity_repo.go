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

// ActivityRepository is append-only: there is no update or delete.
type ActivityRepository struct {
	collection *mongo.Collection
	logger     *logger.Logger
}

func NewActivityRepository(db *mongo.Database, log *logger.Logger) *ActivityRepository {
	collection := db.Collection(activityCollectionName)
	ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "action_type", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "target_type", Value: 1}, {Key: "target_id", Value: 1}}},
	}, log)

	return &ActivityRepository{
		collection: collection,
		logger:     log.Named("mongodb.activity"),
	}
}

func (r *ActivityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	doc := activityDocument{
		ID:         primitive.NewObjectID(),
		UserID:     activity.UserID,
		ActionType: activity.ActionType,
		TargetType: activity.TargetType,
		TargetID:   activity.TargetID,
		Metadata:   activity.Metadata,
		IPAddress:  activity.IPAddress,
		UserAgent:  activity.UserAgent,
		CreatedAt:  activity.CreatedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("db insert activity: %w", err)
	}
	activity.ID = doc.ID.Hex()
	return nil
}

func (r *ActivityRepository) List(ctx context.Context, filter domain.ActivityFilter) ([]*domain.Activity, int64, error) {
	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.ActionType != "" {
		query["action_type"] = filter.ActionType
	}
	if created := createdRange(filter.StartDate, filter.EndDate); len(created) > 0 {
		query["created_at"] = created
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("db count activities: %w", err)
	}

	cursor, err := r.collection.Find(ctx, query, pageOptions(filter.Page, filter.Limit).SetSort(byCreatedDesc()))
	if err != nil {
		r.logger.Error("Failed to find activities", zap.Error(err))
		return nil, 0, fmt.Errorf("db find activities: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*activityDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("db decode activities: %w", err)
	}
	activities := make([]*domain.Activity, len(docs))
	for i, doc := range docs {
		activities[i] = doc.toDomain()
	}
	return activities, total, nil
}

// Statistics counts activities per action type and UTC day.
func (r *ActivityRepository) Statistics(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivityStat, error) {
	match := bson.D{{Key: "created_at", Value: bson.M{"$gte": from, "$lte": to}}}
	if userID != "" {
		match = append(match, bson.E{Key: "user_id", Value: userID})
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "action_type", Value: "$action_type"},
				{Key: "date", Value: bson.D{{Key: "$dateToString", Value: bson.D{
					{Key: "format", Value: "%Y-%m-%d"},
					{Key: "date", Value: "$created_at"},
				}}}},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.date", Value: 1}, {Key: "_id.action_type", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		r.logger.Error("Failed to aggregate activity statistics", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("db aggregate activities: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID struct {
			ActionType domain.ActionType `bson:"action_type"`
			Date       string            `bson:"date"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("db decode activity statistics: %w", err)
	}

	stats := make([]domain.ActivityStat, len(rows))
	for i, row := range rows {
		stats[i] = domain.ActivityStat{ActionType: row.ID.ActionType, Date: row.ID.Date, Count: row.Count}
	}
	return stats, nil
}

func createdRange(start, end *time.Time) bson.M {
	created := bson.M{}
	if start != nil {
		created["$gte"] = *start
	}
	if end != nil {
		created["$lte"] = *end
	}
	return created
}
