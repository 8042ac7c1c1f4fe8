package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

const (
	asyncRecordTimeout   = 5 * time.Second
	defaultStatsLookback = 30 * 24 * time.Hour
)

// ActivityEntry is one audit record to be written.
type ActivityEntry struct {
	UserID     string
	ActionType domain.ActionType
	TargetType domain.TargetType
	TargetID   string
	Metadata   map[string]any
	Meta       domain.RequestMeta
}

// ActivityRecorder writes audit entries. Recording is best effort: failures
// are logged and counted and never reach the caller.
type ActivityRecorder struct {
	repo      domain.ActivityRepository
	publisher domain.EventPublisher
	metrics   *metrics.MetricsManager
	logger    *logger.Logger
	now       func() time.Time
	pending   sync.WaitGroup
}

func NewActivityRecorder(repo domain.ActivityRepository, publisher domain.EventPublisher, m *metrics.MetricsManager, log *logger.Logger) *ActivityRecorder {
	return &ActivityRecorder{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		logger:    log.Named("usecase.activity"),
		now:       time.Now,
	}
}

// Record persists entry and returns it, or nil when it could not be stored.
func (r *ActivityRecorder) Record(ctx context.Context, entry ActivityEntry) *domain.Activity {
	if entry.UserID == "" || !entry.ActionType.IsValid() {
		r.logger.Warn("Skipping invalid activity entry",
			zap.String("user_id", entry.UserID),
			zap.String("action_type", string(entry.ActionType)))
		r.metrics.ActivityRecordFailed()
		return nil
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	activity := &domain.Activity{
		UserID:     entry.UserID,
		ActionType: entry.ActionType,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Metadata:   metadata,
		IPAddress:  entry.Meta.IPAddress,
		UserAgent:  entry.Meta.UserAgent,
		CreatedAt:  r.now().UTC(),
	}

	if err := r.repo.Create(ctx, activity); err != nil {
		r.logger.Error("Failed to record activity",
			zap.String("user_id", entry.UserID),
			zap.String("action_type", string(entry.ActionType)),
			zap.String("target_id", entry.TargetID),
			zap.Error(err))
		r.metrics.ActivityRecordFailed()
		return nil
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, domain.SubjectActivityRecorded, activity); err != nil {
			r.logger.Warn("Failed to publish activity event", zap.String("activity_id", activity.ID), zap.Error(err))
		}
	}
	return activity
}

// RecordAsync records entry in the background on a context detached from
// the request, bounded by a short timeout.
func (r *ActivityRecorder) RecordAsync(ctx context.Context, entry ActivityEntry) {
	detached := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		recordCtx, cancel := context.WithTimeout(detached, asyncRecordTimeout)
		defer cancel()
		r.Record(recordCtx, entry)
	}()
}

// Wait blocks until every RecordAsync call issued so far has finished.
func (r *ActivityRecorder) Wait() {
	r.pending.Wait()
}

// ActivityUsecase serves the audit queries.
type ActivityUsecase struct {
	repo   domain.ActivityRepository
	logger *logger.Logger
	now    func() time.Time
}

func NewActivityUsecase(repo domain.ActivityRepository, log *logger.Logger) *ActivityUsecase {
	return &ActivityUsecase{repo: repo, logger: log.Named("usecase.activity_query"), now: time.Now}
}

func (uc *ActivityUsecase) ListAll(ctx context.Context, p *auth.Principal, filter domain.ActivityFilter) ([]*domain.Activity, domain.Pagination, error) {
	if err := auth.Authorize(p, auth.ActionActivityViewAll); err != nil {
		return nil, domain.Pagination{}, err
	}
	return uc.list(ctx, filter)
}

func (uc *ActivityUsecase) ListMine(ctx context.Context, p *auth.Principal, filter domain.ActivityFilter) ([]*domain.Activity, domain.Pagination, error) {
	if err := auth.Authorize(p, auth.ActionActivityViewOwn); err != nil {
		return nil, domain.Pagination{}, err
	}
	filter.UserID = p.UserID
	return uc.list(ctx, filter)
}

func (uc *ActivityUsecase) list(ctx context.Context, filter domain.ActivityFilter) ([]*domain.Activity, domain.Pagination, error) {
	if err := filter.Normalize(); err != nil {
		return nil, domain.Pagination{}, err
	}
	items, total, err := uc.repo.List(ctx, filter)
	if err != nil {
		return nil, domain.Pagination{}, err
	}
	return items, domain.NewPagination(filter.Page, filter.Limit, total), nil
}

// Statistics counts activities per action and day. userID defaults to the
// caller; other users need activity:view-all.
func (uc *ActivityUsecase) Statistics(ctx context.Context, p *auth.Principal, userID string, from, to *time.Time) ([]domain.ActivityStat, error) {
	if err := auth.Authorize(p, auth.ActionActivityViewOwn); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = p.UserID
	}
	if userID != p.UserID {
		if err := auth.Authorize(p, auth.ActionActivityViewAll); err != nil {
			return nil, err
		}
	}

	end := uc.now().UTC()
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultStatsLookback)
	if from != nil {
		start = *from
	}
	if end.Before(start) {
		return nil, domain.Validationf("endDate must not be before startDate")
	}
	return uc.repo.Statistics(ctx, userID, start, end)
}
