package domain

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MinRatingScore       = 1
	MaxRatingScore       = 5
	MaxRatingCommentSize = 500
)

type Rating struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUser"`
	ToUserID   string    `json:"toUser"`
	Score      int       `json:"score"`
	Comment    string    `json:"comment"`
	IsDeleted  bool      `json:"isDeleted"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func NewRating(fromUserID, toUserID string, score int, comment string) (*Rating, error) {
	if toUserID == "" {
		return nil, Validationf("toUserId is required")
	}
	if fromUserID == toUserID {
		return nil, ErrSelfRating
	}
	if score < MinRatingScore || score > MaxRatingScore {
		return nil, Validationf("score must be between %d and %d", MinRatingScore, MaxRatingScore)
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, Validationf("comment is required")
	}
	if utf8.RuneCountInString(comment) > MaxRatingCommentSize {
		return nil, Validationf("comment cannot exceed %d characters", MaxRatingCommentSize)
	}
	now := time.Now().UTC()
	return &Rating{
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Score:      score,
		Comment:    comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// RatingSummary aggregates the non-deleted ratings a user received.
type RatingSummary struct {
	Average float64
	Count   int64
}

// Rounded returns the average rounded to two decimals.
func (s RatingSummary) Rounded() float64 {
	if s.Count == 0 {
		return 0
	}
	return math.Round(s.Average*100) / 100
}
