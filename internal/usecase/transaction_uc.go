package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

const (
	MaxPaymentProofSize = 5 << 20
	paymentProofPrefix  = "payment-proofs"
)

// proofExtensions maps the accepted sniffed image types to file extensions.
var proofExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// ConfirmResult reports the transaction after a confirmation and whether it
// is now completed.
type ConfirmResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	Completed   bool                `json:"completed"`
}

// TransactionUsecase drives a reserved transaction to completion or
// cancellation and cascades the outcome to its listing.
type TransactionUsecase struct {
	transactions domain.TransactionRepository
	listings     domain.ListingRepository
	cache        domain.ListingCache
	storage      domain.FileStorage
	activity     *ActivityRecorder
	publisher    domain.EventPublisher
	metrics      *metrics.MetricsManager
	logger       *logger.Logger
}

func NewTransactionUsecase(
	transactions domain.TransactionRepository,
	listings domain.ListingRepository,
	cache domain.ListingCache,
	storage domain.FileStorage,
	activity *ActivityRecorder,
	publisher domain.EventPublisher,
	m *metrics.MetricsManager,
	log *logger.Logger,
) *TransactionUsecase {
	return &TransactionUsecase{
		transactions: transactions,
		listings:     listings,
		cache:        cache,
		storage:      storage,
		activity:     activity,
		publisher:    publisher,
		metrics:      m,
		logger:       log.Named("usecase.transaction"),
	}
}

// load fetches a transaction the caller participates in and returns the
// caller's party.
func (uc *TransactionUsecase) load(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, domain.Party, error) {
	if err := auth.Authorize(p, auth.ActionTransactionParticipate); err != nil {
		return nil, "", err
	}
	tx, err := uc.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	party, ok := tx.PartyOf(p.UserID)
	if !ok {
		return nil, "", domain.ErrNotParticipant
	}
	return tx, party, nil
}

func (uc *TransactionUsecase) Get(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
	if p == nil || p.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}
	tx, err := uc.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.IsParticipant(p.UserID) && !p.Can(auth.ActionTransactionViewAny) {
		return nil, domain.ErrNotParticipant
	}
	return tx, nil
}

func (uc *TransactionUsecase) ListMine(ctx context.Context, p *auth.Principal, status domain.TransactionStatus, page, limit int) ([]*domain.Transaction, domain.Pagination, error) {
	if p == nil || p.UserID == "" {
		return nil, domain.Pagination{}, domain.ErrUnauthenticated
	}
	filter := domain.TransactionFilter{ParticipantID: p.UserID, Status: status, Page: page, Limit: limit}
	if err := filter.Normalize(); err != nil {
		return nil, domain.Pagination{}, err
	}
	items, total, err := uc.transactions.ListByParticipant(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list transactions: %w", err)
	}
	return items, domain.NewPagination(filter.Page, filter.Limit, total), nil
}

func (uc *TransactionUsecase) SendMessage(ctx context.Context, p *auth.Principal, id, content string) (*domain.Transaction, error) {
	tx, _, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return nil, domain.ErrTransactionFinalized
	}
	msg, err := domain.NewMessage(p.UserID, content)
	if err != nil {
		return nil, err
	}
	updated, err := uc.transactions.AppendMessage(ctx, id, msg)
	if err != nil {
		return nil, err
	}

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionSendMessage,
		TargetType: domain.TargetTransaction,
		TargetID:   id,
		Metadata:   map[string]any{"length": utf8.RuneCountInString(msg.Content)},
		Meta:       p.Meta,
	})
	return updated, nil
}

// UploadPaymentProof stores a buyer's transfer screenshot and moves the
// transaction to pending_payment.
func (uc *TransactionUsecase) UploadPaymentProof(ctx context.Context, p *auth.Principal, id, fileName string, data []byte) (*domain.Transaction, error) {
	tx, party, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if party != domain.PartyBuyer {
		return nil, domain.Forbiddenf("only the buyer can upload a payment proof")
	}
	if tx.Status.IsTerminal() {
		return nil, domain.ErrTransactionFinalized
	}
	if len(data) == 0 {
		return nil, domain.Validationf("payment proof file is required")
	}
	if len(data) > MaxPaymentProofSize {
		return nil, domain.Validationf("payment proof cannot exceed %d MB", MaxPaymentProofSize>>20)
	}
	contentType := http.DetectContentType(data)
	ext, ok := proofExtensions[contentType]
	if !ok {
		return nil, domain.Validationf("payment proof must be a jpeg, png or gif image")
	}
	// The stored extension follows the sniffed type, not the client's name.
	name := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName)) + ext

	url, err := uc.storage.Upload(ctx, paymentProofPrefix, name, contentType, data)
	if err != nil {
		uc.logger.Error("Payment proof upload failed", zap.String("transaction_id", id), zap.Error(err))
		return nil, domain.Upstream("upload payment proof", err)
	}

	updated, err := uc.transactions.AttachPaymentProof(ctx, id, domain.PaymentProof{ImageURL: url, UploadedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionUploadPaymentProof,
		TargetType: domain.TargetTransaction,
		TargetID:   id,
		Metadata:   map[string]any{"imageUrl": url, "size": len(data), "contentType": contentType},
		Meta:       p.Meta,
	})
	return updated, nil
}

func (uc *TransactionUsecase) MarkPaymentReceived(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
	tx, party, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if party != domain.PartySeller {
		return nil, domain.Forbiddenf("only the seller can mark the payment as received")
	}
	updated, err := uc.transactions.MarkPaymentReceived(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionUpdateTransactionStatus,
		TargetType: domain.TargetTransaction,
		TargetID:   id,
		Metadata:   map[string]any{"from": tx.Status, "to": updated.Status},
		Meta:       p.Meta,
	})
	return updated, nil
}

func (uc *TransactionUsecase) SetBankAccount(ctx context.Context, p *auth.Principal, id, account string) (*domain.Transaction, error) {
	tx, party, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if party != domain.PartySeller {
		return nil, domain.Forbiddenf("only the seller can set the bank account")
	}
	if tx.Status.IsTerminal() {
		return nil, domain.ErrTransactionFinalized
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, domain.Validationf("bank account is required")
	}
	if utf8.RuneCountInString(account) > domain.MaxBankAccountLength {
		return nil, domain.Validationf("bank account cannot exceed %d characters", domain.MaxBankAccountLength)
	}
	return uc.transactions.SetSellerBankAccount(ctx, id, account)
}

// Confirm records the caller's confirmation. The transaction completes once
// both parties have confirmed. Confirming a completed transaction is a no-op.
func (uc *TransactionUsecase) Confirm(ctx context.Context, p *auth.Principal, id string) (*ConfirmResult, error) {
	tx, party, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	switch tx.Status {
	case domain.TransactionStatusCompleted:
		return &ConfirmResult{Transaction: tx, Completed: true}, nil
	case domain.TransactionStatusCancelled:
		return nil, domain.ErrTransactionFinalized
	}

	updated, err := uc.transactions.SetConfirmation(ctx, id, party)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionFinalized) {
			return uc.settledConfirmResult(ctx, id)
		}
		return nil, err
	}
	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionConfirmTransaction,
		TargetType: domain.TargetTransaction,
		TargetID:   id,
		Metadata:   map[string]any{"party": party},
		Meta:       p.Meta,
	})

	if !updated.BothConfirmed() {
		return &ConfirmResult{Transaction: updated, Completed: false}, nil
	}
	completed, err := uc.complete(ctx, p, id, domain.CompletionMutual)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Transaction: completed, Completed: true}, nil
}

// settledConfirmResult handles a confirmation that raced with a terminal
// transition.
func (uc *TransactionUsecase) settledConfirmResult(ctx context.Context, id string) (*ConfirmResult, error) {
	current, err := uc.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.TransactionStatusCompleted {
		return &ConfirmResult{Transaction: current, Completed: true}, nil
	}
	return nil, domain.ErrTransactionFinalized
}

// ForceComplete lets the seller complete without the buyer's confirmation.
func (uc *TransactionUsecase) ForceComplete(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
	tx, party, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if party != domain.PartySeller {
		return nil, domain.Forbiddenf("only the seller can complete this transaction")
	}
	switch tx.Status {
	case domain.TransactionStatusCompleted:
		return tx, nil
	case domain.TransactionStatusCancelled:
		return nil, domain.ErrTransactionFinalized
	}
	return uc.complete(ctx, p, id, domain.CompletionSellerOverride)
}

// complete is the single guarded transition to completed. Only the caller
// whose write applied cascades to the listing and emits side effects.
func (uc *TransactionUsecase) complete(ctx context.Context, p *auth.Principal, id string, method domain.CompletionMethod) (*domain.Transaction, error) {
	tx, applied, err := uc.transactions.Complete(ctx, id, method)
	if err != nil {
		return nil, err
	}
	if !applied {
		return tx, nil
	}

	uc.metrics.TransactionCompleted(string(method))
	uc.logger.Info("Transaction completed",
		zap.String("transaction_id", id),
		zap.String("listing_id", tx.ListingID),
		zap.String("method", string(method)),
		zap.String("by", p.UserID))

	settled, err := uc.listings.Settle(ctx, tx.ListingID, tx.ID, tx.Amount)
	switch {
	case err != nil:
		uc.logger.Error("Listing settlement failed, reconciler will retry",
			zap.String("transaction_id", id), zap.String("listing_id", tx.ListingID), zap.Error(err))
	case !settled:
		uc.logger.Warn("Listing was not reserved by this transaction",
			zap.String("transaction_id", id), zap.String("listing_id", tx.ListingID))
	default:
		invalidateListing(ctx, uc.cache, uc.logger, tx.ListingID)
	}

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionCompleteTransaction,
		TargetType: domain.TargetTransaction,
		TargetID:   id,
		Metadata:   map[string]any{"method": method, "productId": tx.ListingID, "amount": tx.Amount},
		Meta:       p.Meta,
	})
	uc.publishClosed(ctx, domain.SubjectTransactionCompleted, tx, method, p.UserID)
	return tx, nil
}

// Cancel closes a non-terminal transaction and returns its listing to active.
func (uc *TransactionUsecase) Cancel(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
	tx, _, err := uc.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return nil, domain.ErrTransactionFinalized
	}

	cancelled, err := uc.transactions.Cancel(ctx, id, p.UserID)
	if err != nil {
		return nil, err
	}
	uc.metrics.TransactionCancelled()
	uc.logger.Info("Transaction cancelled", zap.String("transaction_id", id), zap.String("by", p.UserID))

	released, err := uc.listings.Release(ctx, cancelled.ListingID, cancelled.ID)
	switch {
	case err != nil:
		uc.logger.Error("Listing release failed, reconciler will retry",
			zap.String("transaction_id", id), zap.String("listing_id", cancelled.ListingID), zap.Error(err))
	case !released:
		uc.logger.Warn("Listing was not reserved by this transaction",
			zap.String("transaction_id", id), zap.String("listing_id", cancelled.ListingID))
	default:
		invalidateListing(ctx, uc.cache, uc.logger, cancelled.ListingID)
	}

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionCancelTransaction,
		TargetType: domain.TargetTransaction,
		TargetID:   id,
		Metadata:   map[string]any{"previousStatus": tx.Status, "productId": cancelled.ListingID},
		Meta:       p.Meta,
	})
	uc.publishClosed(ctx, domain.SubjectTransactionCancelled, cancelled, "", p.UserID)
	return cancelled, nil
}

func (uc *TransactionUsecase) publishClosed(ctx context.Context, subject string, tx *domain.Transaction, method domain.CompletionMethod, actorID string) {
	if uc.publisher == nil {
		return
	}
	event := domain.TransactionClosedEvent{
		TransactionID: tx.ID,
		ListingID:     tx.ListingID,
		SellerID:      tx.SellerID,
		BuyerID:       tx.BuyerID,
		Status:        tx.Status,
		Method:        method,
		ActorID:       actorID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := uc.publisher.Publish(ctx, subject, event); err != nil {
		uc.logger.Warn("Failed to publish transaction event", zap.String("subject", subject), zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}
