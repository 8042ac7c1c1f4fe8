package handler

import (
	"context"
	"net/http"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

type RatingService interface {
	Create(ctx context.Context, p *auth.Principal, toUserID string, score int, comment string) (*domain.Rating, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]*domain.Rating, domain.Pagination, error)
	Delete(ctx context.Context, p *auth.Principal, ratingID string) error
}

// RatingHandler serves /api/ratings.
type RatingHandler struct {
	ratings RatingService
	writer  *response.Writer
	logger  *logger.Logger
}

func NewRatingHandler(ratings RatingService, writer *response.Writer, log *logger.Logger) *RatingHandler {
	return &RatingHandler{ratings: ratings, writer: writer, logger: log.Named("http.rating")}
}

type createRatingRequest struct {
	ToUserID string `json:"toUserId"`
	Score    int    `json:"score"`
	Comment  string `json:"comment"`
}

func (h *RatingHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRatingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	rating, err := h.ratings.Create(r.Context(), auth.PrincipalFrom(r.Context()), req.ToUserID, req.Score, req.Comment)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusCreated, map[string]any{"rating": rating})
}

func (h *RatingHandler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := urlID(r, "userId")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	page, limit, err := pageParams(r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	ratings, pagination, err := h.ratings.ListForUser(r.Context(), userID, page, limit)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if ratings == nil {
		ratings = []*domain.Rating{}
	}
	h.writer.Success(w, http.StatusOK, map[string]any{"ratings": ratings, "pagination": pagination})
}

func (h *RatingHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ratingID, err := urlID(r, "ratingId")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.ratings.Delete(r.Context(), auth.PrincipalFrom(r.Context()), ratingID); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "rating deleted")
}
