package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

var nonDeletedListingStatuses = []domain.ListingStatus{
	domain.ListingStatusActive,
	domain.ListingStatusReserved,
	domain.ListingStatusSold,
}

// ListingUsecase owns listing creation, browsing, owner edits and deletion.
type ListingUsecase struct {
	listings domain.ListingRepository
	cache    domain.ListingCache
	activity *ActivityRecorder
	metrics  *metrics.MetricsManager
	logger   *logger.Logger
	cacheTTL time.Duration
}

func NewListingUsecase(
	listings domain.ListingRepository,
	cache domain.ListingCache,
	activity *ActivityRecorder,
	m *metrics.MetricsManager,
	log *logger.Logger,
	cacheTTL time.Duration,
) *ListingUsecase {
	return &ListingUsecase{
		listings: listings,
		cache:    cache,
		activity: activity,
		metrics:  m,
		logger:   log.Named("usecase.listing"),
		cacheTTL: cacheTTL,
	}
}

func (uc *ListingUsecase) Create(ctx context.Context, p *auth.Principal, amount, price float64) (*domain.Listing, error) {
	if err := auth.Authorize(p, auth.ActionListingCreate); err != nil {
		return nil, err
	}
	listing, err := domain.NewListing(p.UserID, amount, price)
	if err != nil {
		return nil, err
	}
	if err := uc.listings.Create(ctx, listing); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	uc.metrics.ListingCreated()
	uc.logger.Info("Listing created", zap.String("listing_id", listing.ID), zap.String("owner_id", p.UserID))

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionCreateProduct,
		TargetType: domain.TargetProduct,
		TargetID:   listing.ID,
		Metadata:   map[string]any{"amount": amount, "price": price},
		Meta:       p.Meta,
	})
	return listing, nil
}

// Get reads through the detail cache. Deleted listings are not found.
func (uc *ListingUsecase) Get(ctx context.Context, id string, viewer *auth.Principal) (*domain.Listing, error) {
	listing, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status == domain.ListingStatusDeleted {
		return nil, domain.ErrListingNotFound
	}
	if listing.HasDanglingReservation() {
		uc.logger.Warn("Reserved listing has no transaction link", zap.String("listing_id", listing.ID))
	}

	if viewer != nil && viewer.UserID != "" {
		uc.activity.RecordAsync(ctx, ActivityEntry{
			UserID:     viewer.UserID,
			ActionType: domain.ActionViewProduct,
			TargetType: domain.TargetProduct,
			TargetID:   listing.ID,
			Meta:       viewer.Meta,
		})
	}
	return listing, nil
}

func (uc *ListingUsecase) load(ctx context.Context, id string) (*domain.Listing, error) {
	if uc.cache != nil {
		cached, err := uc.cache.Get(ctx, id)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			uc.logger.Warn("Listing cache read failed", zap.String("listing_id", id), zap.Error(err))
		}
	}

	listing, err := uc.listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, listing, uc.cacheTTL); err != nil {
			uc.logger.Warn("Listing cache write failed", zap.String("listing_id", id), zap.Error(err))
		}
	}
	return listing, nil
}

func (uc *ListingUsecase) invalidate(ctx context.Context, id string) {
	invalidateListing(ctx, uc.cache, uc.logger, id)
}

func invalidateListing(ctx context.Context, cache domain.ListingCache, log *logger.Logger, id string) {
	if cache == nil {
		return
	}
	if err := cache.Delete(ctx, id); err != nil {
		log.Warn("Listing cache invalidation failed", zap.String("listing_id", id), zap.Error(err))
	}
}

// List returns one page of listings for the requested tab.
func (uc *ListingUsecase) List(ctx context.Context, p *auth.Principal, filter domain.ListingFilter) ([]*domain.Listing, domain.Pagination, error) {
	if (filter.Tab == domain.ListingTabMy || filter.Tab == domain.ListingTabTrading) && filter.UserID == "" && p != nil {
		filter.UserID = p.UserID
	}
	if err := filter.Normalize(); err != nil {
		return nil, domain.Pagination{}, err
	}
	if filter.Tab == domain.ListingTabAdmin {
		if err := auth.Authorize(p, auth.ActionListingViewAll); err != nil {
			return nil, domain.Pagination{}, err
		}
	}

	items, total, err := uc.listings.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list listings: %w", err)
	}
	for _, l := range items {
		if l.HasDanglingReservation() {
			uc.logger.Warn("Reserved listing has no transaction link", zap.String("listing_id", l.ID))
		}
	}
	return items, domain.NewPagination(filter.Page, filter.Limit, total), nil
}

// Update applies an owner edit while the listing is still active.
func (uc *ListingUsecase) Update(ctx context.Context, p *auth.Principal, id string, upd domain.ListingUpdate) (*domain.Listing, error) {
	if err := auth.Authorize(p, auth.ActionListingUpdateOwn); err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return nil, domain.Validationf("nothing to update")
	}

	current, err := uc.listings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.ListingStatusDeleted {
		return nil, domain.ErrListingNotFound
	}
	if !current.IsOwnedBy(p.UserID) {
		return nil, domain.Forbiddenf("only the owner can update this listing")
	}
	if current.Status != domain.ListingStatusActive {
		return nil, domain.Conflictf("listing is %s and can no longer be edited", current.Status)
	}

	next := *current
	amount, price := current.Amount, current.Price
	if upd.Amount != nil {
		if *upd.Amount <= 0 {
			return nil, domain.Validationf("amount must be greater than 0")
		}
		amount = *upd.Amount
	}
	if upd.Price != nil {
		if *upd.Price < 0 {
			return nil, domain.Validationf("price cannot be negative")
		}
		price = *upd.Price
	}
	next.SetTerms(amount, price)
	if upd.Status != nil {
		if *upd.Status != domain.ListingStatusActive && *upd.Status != domain.ListingStatusDeleted {
			return nil, domain.Validationf("status can only be set to active or deleted")
		}
		next.Status = *upd.Status
	}

	updated, err := uc.listings.UpdateTerms(ctx, &next, domain.ListingStatusActive)
	if err != nil {
		return nil, err
	}
	uc.invalidate(ctx, id)

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionUpdateProduct,
		TargetType: domain.TargetProduct,
		TargetID:   id,
		Metadata: map[string]any{
			"previous": map[string]any{"amount": current.Amount, "price": current.Price, "status": current.Status},
			"current":  map[string]any{"amount": updated.Amount, "price": updated.Price, "status": updated.Status},
		},
		Meta: p.Meta,
	})
	return updated, nil
}

// Delete soft-deletes a listing. Owners may delete active listings; holders
// of listing:delete-any may delete any listing that is not already deleted.
func (uc *ListingUsecase) Delete(ctx context.Context, p *auth.Principal, id string) error {
	if p == nil || p.UserID == "" {
		return domain.ErrUnauthenticated
	}

	current, err := uc.listings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.ListingStatusDeleted {
		return domain.ErrListingNotFound
	}

	var allowed []domain.ListingStatus
	switch {
	case p.Can(auth.ActionListingDeleteAny):
		allowed = nonDeletedListingStatuses
	case current.IsOwnedBy(p.UserID) && p.Can(auth.ActionListingDeleteOwn):
		if current.Status != domain.ListingStatusActive {
			return domain.Conflictf("listing is %s and can no longer be deleted", current.Status)
		}
		allowed = []domain.ListingStatus{domain.ListingStatusActive}
	default:
		return domain.Forbiddenf("only the owner can delete this listing")
	}

	if _, err := uc.listings.SoftDelete(ctx, id, allowed); err != nil {
		return err
	}
	uc.invalidate(ctx, id)
	uc.logger.Info("Listing deleted", zap.String("listing_id", id), zap.String("by", p.UserID))

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionDeleteProduct,
		TargetType: domain.TargetProduct,
		TargetID:   id,
		Metadata:   map[string]any{"previousStatus": current.Status, "ownerId": current.OwnerID},
		Meta:       p.Meta,
	})
	return nil
}
