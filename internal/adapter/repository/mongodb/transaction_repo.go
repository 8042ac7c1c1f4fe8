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

var openTransactionStatuses = []domain.TransactionStatus{
	domain.TransactionStatusReserved,
	domain.TransactionStatusPendingPayment,
	domain.TransactionStatusPaymentConfirmed,
}

// TransactionRepository implements domain.TransactionRepository on MongoDB.
// Every mutation is a FindOneAndUpdate guarded by the stored status.
type TransactionRepository struct {
	collection *mongo.Collection
	logger     *logger.Logger
}

func NewTransactionRepository(db *mongo.Database, log *logger.Logger) *TransactionRepository {
	collection := db.Collection(transactionCollectionName)
	ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seller_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "listing_id", Value: 1}}},
	}, log)

	return &TransactionRepository{
		collection: collection,
		logger:     log.Named("mongodb.transaction"),
	}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	doc := toTransactionDocument(tx)
	doc.ID = primitive.NewObjectID()

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		r.logger.Error("Failed to insert transaction", zap.String("listing_id", tx.ListingID), zap.Error(err))
		return fmt.Errorf("db insert transaction: %w", err)
	}
	tx.ID = doc.ID.Hex()
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	oid, err := objectID(id, domain.ErrTransactionNotFound)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, oid)
}

func (r *TransactionRepository) findOne(ctx context.Context, oid primitive.ObjectID) (*domain.Transaction, error) {
	var doc transactionDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrTransactionNotFound
		}
		r.logger.Error("Failed to get transaction", zap.String("transaction_id", oid.Hex()), zap.Error(err))
		return nil, fmt.Errorf("db find transaction: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id, domain.ErrTransactionNotFound)
	if err != nil {
		return err
	}
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		r.logger.Error("Failed to delete transaction", zap.String("transaction_id", id), zap.Error(err))
		return fmt.Errorf("db delete transaction: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) ListByParticipant(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, int64, error) {
	query := bson.M{"$or": bson.A{
		bson.M{"seller_id": filter.ParticipantID},
		bson.M{"buyer_id": filter.ParticipantID},
	}}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("db count transactions: %w", err)
	}

	cursor, err := r.collection.Find(ctx, query, pageOptions(filter.Page, filter.Limit).SetSort(byCreatedDesc()))
	if err != nil {
		r.logger.Error("Failed to find transactions", zap.String("participant_id", filter.ParticipantID), zap.Error(err))
		return nil, 0, fmt.Errorf("db find transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*transactionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("db decode transactions: %w", err)
	}
	txs := make([]*domain.Transaction, len(docs))
	for i, doc := range docs {
		txs[i] = doc.toDomain()
	}
	return txs, total, nil
}

func (r *TransactionRepository) AppendMessage(ctx context.Context, id string, msg domain.Message) (*domain.Transaction, error) {
	return r.transition(ctx, id, openTransactionStatuses, bson.M{
		"$push": bson.M{"messages": toMessageDocument(msg)},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	})
}

func (r *TransactionRepository) AttachPaymentProof(ctx context.Context, id string, proof domain.PaymentProof) (*domain.Transaction, error) {
	from := []domain.TransactionStatus{domain.TransactionStatusReserved, domain.TransactionStatusPendingPayment}
	return r.transition(ctx, id, from, bson.M{"$set": bson.M{
		"payment_proof": paymentProofDocument{ImageURL: proof.ImageURL, UploadedAt: proof.UploadedAt},
		"status":        domain.TransactionStatusPendingPayment,
		"updated_at":    time.Now().UTC(),
	}})
}

func (r *TransactionRepository) MarkPaymentReceived(ctx context.Context, id string) (*domain.Transaction, error) {
	from := []domain.TransactionStatus{domain.TransactionStatusPendingPayment}
	return r.transition(ctx, id, from, bson.M{"$set": bson.M{
		"status":     domain.TransactionStatusPaymentConfirmed,
		"updated_at": time.Now().UTC(),
	}})
}

func (r *TransactionRepository) SetSellerBankAccount(ctx context.Context, id, account string) (*domain.Transaction, error) {
	return r.transition(ctx, id, openTransactionStatuses, bson.M{"$set": bson.M{
		"seller_bank_account": account,
		"updated_at":          time.Now().UTC(),
	}})
}

func (r *TransactionRepository) SetConfirmation(ctx context.Context, id string, party domain.Party) (*domain.Transaction, error) {
	field := "buyer_confirmed"
	if party == domain.PartySeller {
		field = "seller_confirmed"
	}
	return r.transition(ctx, id, openTransactionStatuses, bson.M{"$set": bson.M{
		field:        true,
		"updated_at": time.Now().UTC(),
	}})
}

func (r *TransactionRepository) Complete(ctx context.Context, id string, method domain.CompletionMethod) (*domain.Transaction, bool, error) {
	now := time.Now().UTC()
	tx, err := r.transition(ctx, id, openTransactionStatuses, bson.M{"$set": bson.M{
		"status":            domain.TransactionStatusCompleted,
		"completion_method": method,
		"completed_at":      now,
		"updated_at":        now,
	}})
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, domain.ErrTransactionFinalized) {
		return nil, false, err
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	if current.Status == domain.TransactionStatusCompleted {
		return current, false, nil
	}
	return nil, false, domain.ErrTransactionFinalized
}

func (r *TransactionRepository) Cancel(ctx context.Context, id, cancelledBy string) (*domain.Transaction, error) {
	return r.transition(ctx, id, openTransactionStatuses, bson.M{"$set": bson.M{
		"status":       domain.TransactionStatusCancelled,
		"cancelled_by": cancelledBy,
		"updated_at":   time.Now().UTC(),
	}})
}

// transition applies update when the stored status is one of from. On a miss
// it reports not found, finalized, or the current non-matching status.
func (r *TransactionRepository) transition(ctx context.Context, id string, from []domain.TransactionStatus, update bson.M) (*domain.Transaction, error) {
	oid, err := objectID(id, domain.ErrTransactionNotFound)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"_id": oid, "status": bson.M{"$in": from}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc transactionDocument
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !isNoDocuments(err) {
		r.logger.Error("Failed to update transaction", zap.String("transaction_id", id), zap.Error(err))
		return nil, fmt.Errorf("db update transaction: %w", err)
	}

	current, err := r.findOne(ctx, oid)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, domain.ErrTransactionFinalized
	}
	return nil, domain.Conflictf("transaction is %s", current.Status)
}
