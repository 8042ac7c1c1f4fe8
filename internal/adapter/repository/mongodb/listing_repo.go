package mongodb

import (
	"context"
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

var listingSortColumns = map[string]string{
	"amount":    "amount",
	"price":     "price",
	"ratio":     "ratio",
	"createdAt": "created_at",
}

// ListingRepository implements domain.ListingRepository on MongoDB.
type ListingRepository struct {
	collection *mongo.Collection
	logger     *logger.Logger
}

func NewListingRepository(db *mongo.Database, log *logger.Logger) *ListingRepository {
	collection := db.Collection(listingCollectionName)
	ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "ratio", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	}, log)

	return &ListingRepository{
		collection: collection,
		logger:     log.Named("mongodb.listing"),
	}
}

func (r *ListingRepository) Create(ctx context.Context, listing *domain.Listing) error {
	doc := toListingDocument(listing)
	doc.ID = primitive.NewObjectID()

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		r.logger.Error("Failed to insert listing", zap.String("owner_id", listing.OwnerID), zap.Error(err))
		return fmt.Errorf("db insert listing: %w", err)
	}
	listing.ID = doc.ID.Hex()
	return nil
}

func (r *ListingRepository) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	oid, err := objectID(id, domain.ErrListingNotFound)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, oid)
}

func (r *ListingRepository) findOne(ctx context.Context, oid primitive.ObjectID) (*domain.Listing, error) {
	var doc listingDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrListingNotFound
		}
		r.logger.Error("Failed to get listing", zap.String("listing_id", oid.Hex()), zap.Error(err))
		return nil, fmt.Errorf("db find listing: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *ListingRepository) List(ctx context.Context, filter domain.ListingFilter) ([]*domain.Listing, int64, error) {
	query := listingQuery(filter)

	column, ok := listingSortColumns[filter.SortBy]
	if !ok {
		column = "ratio"
	}
	dir := sortDirection(filter.Order != domain.SortAsc)
	findOptions := pageOptions(filter.Page, filter.Limit).
		SetSort(bson.D{{Key: column, Value: dir}, {Key: "_id", Value: dir}})

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		r.logger.Error("Failed to count listings", zap.Error(err))
		return nil, 0, fmt.Errorf("db count listings: %w", err)
	}

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		r.logger.Error("Failed to find listings", zap.Error(err))
		return nil, 0, fmt.Errorf("db find listings: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*listingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("db decode listings: %w", err)
	}

	listings := make([]*domain.Listing, len(docs))
	for i, doc := range docs {
		listings[i] = doc.toDomain()
	}
	return listings, total, nil
}

func listingQuery(filter domain.ListingFilter) bson.M {
	query := bson.M{}
	switch filter.Tab {
	case domain.ListingTabMy:
		query["owner_id"] = filter.UserID
		query["status"] = domain.ListingStatusActive
	case domain.ListingTabTrading:
		query["status"] = domain.ListingStatusReserved
		query["$or"] = bson.A{
			bson.M{"owner_id": filter.UserID},
			bson.M{"buyer_id": filter.UserID},
		}
	case domain.ListingTabAdmin:
		query["status"] = bson.M{"$ne": domain.ListingStatusDeleted}
	default:
		query["status"] = domain.ListingStatusActive
	}
	if filter.BuyerID != "" {
		query["buyer_id"] = filter.BuyerID
	}
	return query
}

func (r *ListingRepository) UpdateTerms(ctx context.Context, listing *domain.Listing, expected domain.ListingStatus) (*domain.Listing, error) {
	oid, err := objectID(listing.ID, domain.ErrListingNotFound)
	if err != nil {
		return nil, err
	}

	update := bson.M{"$set": bson.M{
		"amount":     listing.Amount,
		"price":      listing.Price,
		"ratio":      listing.Ratio,
		"status":     listing.Status,
		"updated_at": time.Now().UTC(),
	}}
	return r.findOneAndUpdate(ctx, oid, bson.M{"_id": oid, "status": expected}, update)
}

func (r *ListingRepository) Reserve(ctx context.Context, listingID, buyerID, transactionID string) (bool, error) {
	oid, err := objectID(listingID, domain.ErrListingNotFound)
	if err != nil {
		return false, err
	}

	filter := bson.M{"_id": oid, "status": domain.ListingStatusActive}
	update := bson.M{"$set": bson.M{
		"status":         domain.ListingStatusReserved,
		"buyer_id":       buyerID,
		"transaction_id": transactionID,
		"updated_at":     time.Now().UTC(),
	}}
	return r.conditionalUpdate(ctx, "reserve", filter, update)
}

func (r *ListingRepository) Release(ctx context.Context, listingID, transactionID string) (bool, error) {
	oid, err := objectID(listingID, domain.ErrListingNotFound)
	if err != nil {
		return false, err
	}

	filter := bson.M{"_id": oid, "status": domain.ListingStatusReserved, "transaction_id": transactionID}
	if transactionID == "" {
		filter["transaction_id"] = bson.M{"$in": bson.A{nil, ""}}
	}
	update := bson.M{
		"$set":   bson.M{"status": domain.ListingStatusActive, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"buyer_id": "", "transaction_id": ""},
	}
	return r.conditionalUpdate(ctx, "release", filter, update)
}

func (r *ListingRepository) Settle(ctx context.Context, listingID, transactionID string, soldAmount float64) (bool, error) {
	oid, err := objectID(listingID, domain.ErrListingNotFound)
	if err != nil {
		return false, err
	}

	current, err := r.findOne(ctx, oid)
	if err != nil {
		return false, err
	}
	if current.Status != domain.ListingStatusReserved || current.TransactionID != transactionID {
		return false, nil
	}

	// The filter pins the amount that was read so the remainder is computed
	// from the value actually being replaced.
	filter := bson.M{
		"_id":            oid,
		"status":         domain.ListingStatusReserved,
		"transaction_id": transactionID,
		"amount":         current.Amount,
	}
	now := time.Now().UTC()

	var update bson.M
	if current.Amount <= soldAmount {
		update = bson.M{"$set": bson.M{"status": domain.ListingStatusSold, "updated_at": now}}
	} else {
		remaining := current.Amount - soldAmount
		update = bson.M{
			"$set": bson.M{
				"status":     domain.ListingStatusActive,
				"amount":     remaining,
				"ratio":      domain.ComputeRatio(remaining, current.Price),
				"updated_at": now,
			},
			"$unset": bson.M{"buyer_id": "", "transaction_id": ""},
		}
	}
	return r.conditionalUpdate(ctx, "settle", filter, update)
}

func (r *ListingRepository) SoftDelete(ctx context.Context, id string, allowedFrom []domain.ListingStatus) (*domain.Listing, error) {
	oid, err := objectID(id, domain.ErrListingNotFound)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"_id": oid, "status": bson.M{"$in": allowedFrom}}
	update := bson.M{"$set": bson.M{"status": domain.ListingStatusDeleted, "updated_at": time.Now().UTC()}}
	return r.findOneAndUpdate(ctx, oid, filter, update)
}

func (r *ListingRepository) ListReserved(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Listing, error) {
	query := bson.M{"status": domain.ListingStatusReserved, "updated_at": bson.M{"$lt": updatedBefore}}
	findOptions := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}}).SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, fmt.Errorf("db find reserved listings: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*listingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("db decode reserved listings: %w", err)
	}
	listings := make([]*domain.Listing, len(docs))
	for i, doc := range docs {
		listings[i] = doc.toDomain()
	}
	return listings, nil
}

func (r *ListingRepository) conditionalUpdate(ctx context.Context, op string, filter, update bson.M) (bool, error) {
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		r.logger.Error("Conditional listing update failed", zap.String("op", op), zap.Error(err))
		return false, fmt.Errorf("db %s listing: %w", op, err)
	}
	if result.MatchedCount == 0 {
		r.logger.Debug("Conditional listing update did not match", zap.String("op", op))
		return false, nil
	}
	return true, nil
}

// findOneAndUpdate applies update under filter and returns the new document.
// On a miss it distinguishes a missing listing from a status mismatch.
func (r *ListingRepository) findOneAndUpdate(ctx context.Context, oid primitive.ObjectID, filter, update bson.M) (*domain.Listing, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc listingDocument
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !isNoDocuments(err) {
		r.logger.Error("Failed to update listing", zap.String("listing_id", oid.Hex()), zap.Error(err))
		return nil, fmt.Errorf("db update listing: %w", err)
	}

	current, err := r.findOne(ctx, oid)
	if err != nil {
		return nil, err
	}
	return nil, domain.Conflictf("listing is %s", current.Status)
}
