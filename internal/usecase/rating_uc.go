package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// RatingUsecase manages user ratings and keeps each user's aggregate in sync.
type RatingUsecase struct {
	ratings  domain.RatingRepository
	users    domain.UserRepository
	activity *ActivityRecorder
	logger   *logger.Logger
}

func NewRatingUsecase(ratings domain.RatingRepository, users domain.UserRepository, activity *ActivityRecorder, log *logger.Logger) *RatingUsecase {
	return &RatingUsecase{
		ratings:  ratings,
		users:    users,
		activity: activity,
		logger:   log.Named("usecase.rating"),
	}
}

func (uc *RatingUsecase) Create(ctx context.Context, p *auth.Principal, toUserID string, score int, comment string) (*domain.Rating, error) {
	if err := auth.Authorize(p, auth.ActionRatingWrite); err != nil {
		return nil, err
	}
	rating, err := domain.NewRating(p.UserID, toUserID, score, comment)
	if err != nil {
		return nil, err
	}
	if _, err := uc.users.GetByID(ctx, toUserID); err != nil {
		return nil, err
	}
	if err := uc.ratings.Create(ctx, rating); err != nil {
		return nil, fmt.Errorf("create rating: %w", err)
	}
	uc.recompute(ctx, toUserID)

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionCreateRating,
		TargetType: domain.TargetRating,
		TargetID:   rating.ID,
		Metadata:   map[string]any{"toUserId": toUserID, "score": score},
		Meta:       p.Meta,
	})
	return rating, nil
}

func (uc *RatingUsecase) ListForUser(ctx context.Context, userID string, page, limit int) ([]*domain.Rating, domain.Pagination, error) {
	if userID == "" {
		return nil, domain.Pagination{}, domain.Validationf("userId is required")
	}
	page, limit = domain.NormalizePage(page, limit)
	items, total, err := uc.ratings.ListForUser(ctx, userID, page, limit)
	if err != nil {
		return nil, domain.Pagination{}, fmt.Errorf("list ratings: %w", err)
	}
	return items, domain.NewPagination(page, limit, total), nil
}

// Delete soft-deletes a rating written by the caller.
func (uc *RatingUsecase) Delete(ctx context.Context, p *auth.Principal, ratingID string) error {
	if err := auth.Authorize(p, auth.ActionRatingWrite); err != nil {
		return err
	}
	rating, err := uc.ratings.GetByID(ctx, ratingID)
	if err != nil {
		return err
	}
	if rating.IsDeleted {
		return domain.ErrRatingNotFound
	}
	if rating.FromUserID != p.UserID {
		return domain.Forbiddenf("only the author can delete this rating")
	}
	if err := uc.ratings.SoftDelete(ctx, ratingID); err != nil {
		return err
	}
	uc.recompute(ctx, rating.ToUserID)

	uc.activity.RecordAsync(ctx, ActivityEntry{
		UserID:     p.UserID,
		ActionType: domain.ActionDeleteRating,
		TargetType: domain.TargetRating,
		TargetID:   ratingID,
		Metadata:   map[string]any{"toUserId": rating.ToUserID},
		Meta:       p.Meta,
	})
	return nil
}

// recompute refreshes the aggregate stored on the rated user. The rating
// write already succeeded, so failures are only logged.
func (uc *RatingUsecase) recompute(ctx context.Context, userID string) {
	summary, err := uc.ratings.Summary(ctx, userID)
	if err != nil {
		uc.logger.Error("Failed to aggregate ratings", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := uc.users.UpdateRatingSummary(ctx, userID, summary.Rounded(), summary.Count); err != nil {
		uc.logger.Error("Failed to store rating summary", zap.String("user_id", userID), zap.Error(err))
		return
	}
	uc.logger.Debug("Rating summary updated",
		zap.String("user_id", userID),
		zap.Float64("average", summary.Rounded()),
		zap.Int64("total", summary.Count))
}
