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

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

type UserRepository struct {
	collection *mongo.Collection
	logger     *logger.Logger
}

func NewUserRepository(db *mongo.Database, log *logger.Logger) *UserRepository {
	collection := db.Collection(userCollectionName)
	ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "banned_until", Value: 1}}},
	}, log)

	return &UserRepository{
		collection: collection,
		logger:     log.Named("mongodb.user"),
	}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	doc := toUserDocument(user)
	doc.ID = primitive.NewObjectID()

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			r.logger.Warn("Duplicate email on user creation", zap.String("email", user.Email))
			return domain.ErrEmailTaken
		}
		r.logger.Error("Failed to insert user", zap.Error(err))
		return fmt.Errorf("db insert user: %w", err)
	}
	user.ID = doc.ID.Hex()
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := objectID(id, domain.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrUserNotFound
		}
		r.logger.Error("Failed to get user", zap.Error(err))
		return nil, fmt.Errorf("db find user: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name string, contact domain.ContactInfo) (*domain.User, error) {
	return r.updateAndReturn(ctx, id, bson.M{"$set": bson.M{
		"name":         name,
		"contact_info": contactInfoDocument(contact),
		"updated_at":   time.Now().UTC(),
	}})
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"password_hash": passwordHash,
		"updated_at":    time.Now().UTC(),
	}})
}

// RecordFailedLogin increments the failure counter with $inc so concurrent
// failures are all counted. Only an update that observes the threshold
// applies the lock.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*domain.User, error) {
	oid, err := objectID(id, domain.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	user, err := r.findOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{
		"$inc": bson.M{"login_attempts": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil || user.LoginAttempts < maxAttempts {
		return user, err
	}

	locked, err := r.findOneAndUpdate(ctx,
		bson.M{"_id": oid, "login_attempts": bson.M{"$gte": maxAttempts}},
		bson.M{"$set": bson.M{"login_attempts": 0, "lock_until": lockUntil, "updated_at": time.Now().UTC()}},
	)
	if errors.Is(err, domain.ErrUserNotFound) {
		// A concurrent failure applied the lock first.
		return r.findOne(ctx, bson.M{"_id": oid})
	}
	if err != nil {
		return nil, err
	}
	r.logger.Warn("Account locked after repeated failures", zap.String("user_id", id))
	return locked, nil
}

func (r *UserRepository) ResetLoginState(ctx context.Context, id string) error {
	return r.updateOne(ctx, id, bson.M{
		"$set":   bson.M{"login_attempts": 0, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"lock_until": ""},
	})
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role domain.Role, ban *domain.BanInfo) (*domain.User, error) {
	set := bson.M{"role": role, "updated_at": time.Now().UTC()}
	update := bson.M{"$set": set}
	if ban != nil {
		set["ban_reason"] = ban.Reason
		set["banned_at"] = ban.BannedAt
		if ban.BannedUntil != nil {
			set["banned_until"] = *ban.BannedUntil
		} else {
			update["$unset"] = bson.M{"banned_until": ""}
		}
	} else {
		update["$unset"] = bson.M{"ban_reason": "", "banned_at": "", "banned_until": ""}
	}
	return r.updateAndReturn(ctx, id, update)
}

// UpsertAdmin creates an admin account under email, or turns the existing
// account into one with a fresh password and no lockout or ban. It reports
// whether the account was created.
func (r *UserRepository) UpsertAdmin(ctx context.Context, email, name, passwordHash string, now time.Time) (*domain.User, bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{
			"$set": bson.M{
				"password_hash":     passwordHash,
				"name":              name,
				"role":              domain.RoleAdmin,
				"login_attempts":    0,
				"is_email_verified": true,
				"updated_at":        now,
			},
			"$unset": bson.M{"lock_until": "", "ban_reason": "", "banned_at": "", "banned_until": ""},
			"$setOnInsert": bson.M{
				"contact_info":   contactInfoDocument{},
				"average_rating": 0.0,
				"total_ratings":  int64(0),
				"created_at":     now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		r.logger.Error("Failed to upsert admin", zap.String("email", email), zap.Error(err))
		return nil, false, fmt.Errorf("db upsert admin: %w", err)
	}
	admin, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	return admin, result.UpsertedCount == 1, nil
}

func (r *UserRepository) UpdateRatingSummary(ctx context.Context, id string, average float64, total int64) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"average_rating": average,
		"total_ratings":  total,
		"updated_at":     time.Now().UTC(),
	}})
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id, domain.ErrUserNotFound)
	if err != nil {
		return err
	}
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("db delete user: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// LiftExpiredBans restores the user role on bans whose end date has passed.
func (r *UserRepository) LiftExpiredBans(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"role": domain.RoleBanned, "banned_until": bson.M{"$lte": now}},
		bson.M{
			"$set":   bson.M{"role": domain.RoleUser, "updated_at": now},
			"$unset": bson.M{"ban_reason": "", "banned_at": "", "banned_until": ""},
		},
	)
	if err != nil {
		r.logger.Error("Failed to lift expired bans", zap.Error(err))
		return 0, fmt.Errorf("db lift bans: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *UserRepository) updateOne(ctx context.Context, id string, update bson.M) error {
	oid, err := objectID(id, domain.ErrUserNotFound)
	if err != nil {
		return err
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		r.logger.Error("Failed to update user", zap.String("user_id", id), zap.Error(err))
		return fmt.Errorf("db update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) updateAndReturn(ctx context.Context, id string, update bson.M) (*domain.User, error) {
	oid, err := objectID(id, domain.ErrUserNotFound)
	if err != nil {
		return nil, err
	}
	return r.findOneAndUpdate(ctx, bson.M{"_id": oid}, update)
}

func (r *UserRepository) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*domain.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDocument
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrUserNotFound
		}
		r.logger.Error("Failed to update user", zap.Any("filter", filter), zap.Error(err))
		return nil, fmt.Errorf("db update user: %w", err)
	}
	return doc.toDomain(), nil
}
