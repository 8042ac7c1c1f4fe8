package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

type ActivityService interface {
	ListMine(ctx context.Context, p *auth.Principal, filter domain.ActivityFilter) ([]*domain.Activity, domain.Pagination, error)
	ListAll(ctx context.Context, p *auth.Principal, filter domain.ActivityFilter) ([]*domain.Activity, domain.Pagination, error)
	Statistics(ctx context.Context, p *auth.Principal, userID string, from, to *time.Time) ([]domain.ActivityStat, error)
}

// ActivityHandler serves /api/activities.
type ActivityHandler struct {
	activities ActivityService
	writer     *response.Writer
	logger     *logger.Logger
}

func NewActivityHandler(activities ActivityService, writer *response.Writer, log *logger.Logger) *ActivityHandler {
	return &ActivityHandler{activities: activities, writer: writer, logger: log.Named("http.activity")}
}

type activityPage struct {
	Activities []*domain.Activity `json:"activities"`
	Pagination domain.Pagination  `json:"pagination"`
}

type dateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

type activityStatistics struct {
	Stats     []domain.ActivityStat `json:"stats"`
	DateRange dateRange             `json:"dateRange"`
}

func activityFilter(r *http.Request) (domain.ActivityFilter, error) {
	page, limit, err := pageParams(r)
	if err != nil {
		return domain.ActivityFilter{}, err
	}
	start, err := queryDate(r, "startDate", false)
	if err != nil {
		return domain.ActivityFilter{}, err
	}
	end, err := queryDate(r, "endDate", true)
	if err != nil {
		return domain.ActivityFilter{}, err
	}
	q := r.URL.Query()
	return domain.ActivityFilter{
		UserID:     q.Get("userId"),
		ActionType: domain.ActionType(q.Get("actionType")),
		StartDate:  start,
		EndDate:    end,
		Page:       page,
		Limit:      limit,
	}, nil
}

func (h *ActivityHandler) list(w http.ResponseWriter, r *http.Request, op func(context.Context, *auth.Principal, domain.ActivityFilter) ([]*domain.Activity, domain.Pagination, error)) {
	filter, err := activityFilter(r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	items, pagination, err := op(r.Context(), auth.PrincipalFrom(r.Context()), filter)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.Activity{}
	}
	h.writer.Success(w, http.StatusOK, activityPage{Activities: items, Pagination: pagination})
}

func (h *ActivityHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.activities.ListMine)
}

func (h *ActivityHandler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.activities.ListAll)
}

func (h *ActivityHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "startDate", false)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	end, err := queryDate(r, "endDate", true)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	stats, err := h.activities.Statistics(r.Context(), auth.PrincipalFrom(r.Context()), r.URL.Query().Get("userId"), start, end)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if stats == nil {
		stats = []domain.ActivityStat{}
	}
	h.writer.Success(w, http.StatusOK, activityStatistics{Stats: stats, DateRange: dateRange{Start: start, End: end}})
}
