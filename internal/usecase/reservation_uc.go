package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

const compensationTimeout = 5 * time.Second

// systemActor marks transactions closed by the service itself.
const systemActor = "system"

type ReservationResult struct {
	Listing     *domain.Listing     `json:"product"`
	Transaction *domain.Transaction `json:"transaction"`
}

// ReservationUsecase turns an active listing into a reserved one backed by
// a new transaction. The listing status flip is the only serialization
// point: the transaction is created first and removed again when the flip
// loses.
type ReservationUsecase struct {
	listings     domain.ListingRepository
	transactions domain.TransactionRepository
	cache        domain.ListingCache
	activity     *ActivityRecorder
	publisher    domain.EventPublisher
	metrics      *metrics.MetricsManager
	logger       *logger.Logger
}

func NewReservationUsecase(
	listings domain.ListingRepository,
	transactions domain.TransactionRepository,
	cache domain.ListingCache,
	activity *ActivityRecorder,
	publisher domain.EventPublisher,
	m *metrics.MetricsManager,
	log *logger.Logger,
) *ReservationUsecase {
	return &ReservationUsecase{
		listings:     listings,
		transactions: transactions,
		cache:        cache,
		activity:     activity,
		publisher:    publisher,
		metrics:      m,
		logger:       log.Named("usecase.reservation"),
	}
}

func (uc *ReservationUsecase) Reserve(ctx context.Context, p *auth.Principal, listingID string) (*ReservationResult, error) {
	if err := auth.Authorize(p, auth.ActionListingReserve); err != nil {
		uc.metrics.Reservation(metrics.OutcomeRejected)
		return nil, err
	}

	listing, err := uc.listings.GetByID(ctx, listingID)
	if err != nil {
		uc.metrics.Reservation(metrics.OutcomeRejected)
		return nil, err
	}
	switch {
	case listing.Status == domain.ListingStatusDeleted:
		uc.metrics.Reservation(metrics.OutcomeRejected)
		return nil, domain.ErrListingNotFound
	case listing.Status != domain.ListingStatusActive:
		uc.metrics.Reservation(metrics.OutcomeConflict)
		return nil, domain.ErrReservationConflict
	case listing.IsOwnedBy(p.UserID):
		uc.metrics.Reservation(metrics.OutcomeRejected)
		return nil, domain.ErrSelfTrade
	}

	tx, err := domain.NewReservationTransaction(listing, p.UserID)
	if err != nil {
		uc.metrics.Reservation(metrics.OutcomeRejected)
		return nil, err
	}
	if err := uc.transactions.Create(ctx, tx); err != nil {
		uc.metrics.Reservation(metrics.OutcomeError)
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	won, err := uc.listings.Reserve(ctx, listing.ID, p.UserID, tx.ID)
	if err != nil || !won {
		uc.compensate(ctx, tx.ID)
		if err != nil {
			uc.metrics.Reservation(metrics.OutcomeError)
			return nil, fmt.Errorf("reserve listing: %w", err)
		}
		uc.metrics.Reservation(metrics.OutcomeConflict)
		uc.logger.Info("Reservation lost the race", zap.String("listing_id", listing.ID), zap.String("buyer_id", p.UserID))
		return nil, domain.ErrReservationConflict
	}

	invalidateListing(ctx, uc.cache, uc.logger, listing.ID)
	uc.metrics.Reservation(metrics.OutcomeReserved)

	reserved, err := uc.listings.GetByID(ctx, listing.ID)
	if err != nil {
		uc.logger.Warn("Failed to re-read reserved listing", zap.String("listing_id", listing.ID), zap.Error(err))
		reserved = listing
		reserved.Status = domain.ListingStatusReserved
		reserved.BuyerID = p.UserID
		reserved.TransactionID = tx.ID
	}

	uc.logger.Info("Listing reserved",
		zap.String("listing_id", listing.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("buyer_id", p.UserID))

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionCreateTransaction,
		TargetType: domain.TargetTransaction,
		TargetID:   tx.ID,
		Metadata:   map[string]any{"productId": listing.ID, "amount": tx.Amount, "price": tx.Price},
		Meta:       p.Meta,
	})
	if uc.publisher != nil {
		event := domain.ListingReservedEvent{
			ListingID:     listing.ID,
			TransactionID: tx.ID,
			SellerID:      tx.SellerID,
			BuyerID:       tx.BuyerID,
			Amount:        tx.Amount,
			Price:         tx.Price,
			OccurredAt:    tx.CreatedAt,
		}
		if err := uc.publisher.Publish(ctx, domain.SubjectListingReserved, event); err != nil {
			uc.logger.Warn("Failed to publish reservation event", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}

	return &ReservationResult{Listing: reserved, Transaction: tx}, nil
}

// compensate removes the transaction of a lost reservation. When the delete
// fails the transaction is cancelled so it never looks live.
func (uc *ReservationUsecase) compensate(ctx context.Context, txID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err := uc.transactions.Delete(cctx, txID)
	if err == nil {
		return
	}
	uc.logger.Error("Compensating delete failed, cancelling transaction", zap.String("transaction_id", txID), zap.Error(err))
	if _, cancelErr := uc.transactions.Cancel(cctx, txID, systemActor); cancelErr != nil {
		uc.logger.Error("Compensating cancel failed", zap.String("transaction_id", txID), zap.Error(cancelErr))
	}
}
