package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/usecase"
)

type ListingService interface {
	Create(ctx context.Context, p *auth.Principal, amount, price float64) (*domain.Listing, error)
	Get(ctx context.Context, id string, viewer *auth.Principal) (*domain.Listing, error)
	List(ctx context.Context, p *auth.Principal, filter domain.ListingFilter) ([]*domain.Listing, domain.Pagination, error)
	Update(ctx context.Context, p *auth.Principal, id string, upd domain.ListingUpdate) (*domain.Listing, error)
	Delete(ctx context.Context, p *auth.Principal, id string) error
}

type ReservationService interface {
	Reserve(ctx context.Context, p *auth.Principal, listingID string) (*usecase.ReservationResult, error)
}

// ProductHandler serves /api/products.
type ProductHandler struct {
	listings     ListingService
	reservations ReservationService
	writer       *response.Writer
	logger       *logger.Logger
}

func NewProductHandler(listings ListingService, reservations ReservationService, writer *response.Writer, log *logger.Logger) *ProductHandler {
	return &ProductHandler{
		listings:     listings,
		reservations: reservations,
		writer:       writer,
		logger:       log.Named("http.product"),
	}
}

type createProductRequest struct {
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

type updateProductRequest struct {
	Amount *float64              `json:"amount"`
	Price  *float64              `json:"price"`
	Status *domain.ListingStatus `json:"status"`
}

type productPayload struct {
	Product *domain.Listing `json:"product"`
}

type productPage struct {
	Products   []*domain.Listing `json:"products"`
	Pagination domain.Pagination `json:"pagination"`
}

func (h *ProductHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	listing, err := h.listings.Create(r.Context(), auth.PrincipalFrom(r.Context()), req.Amount, req.Price)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusCreated, productPayload{Product: listing})
}

func (h *ProductHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := domain.ListingFilter{
		Tab:     domain.ListingTab(q.Get("tab")),
		UserID:  q.Get("userId"),
		BuyerID: q.Get("buyerId"),
		SortBy:  q.Get("sortBy"),
		Order:   domain.SortOrder(q.Get("order")),
		Page:    page,
		Limit:   limit,
	}
	items, pagination, err := h.listings.List(r.Context(), auth.PrincipalFrom(r.Context()), filter)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.Listing{}
	}
	h.writer.Success(w, http.StatusOK, productPage{Products: items, Pagination: pagination})
}

func (h *ProductHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	listing, err := h.listings.Get(r.Context(), id, auth.PrincipalFrom(r.Context()))
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, productPayload{Product: listing})
}

func (h *ProductHandler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	result, err := h.reservations.Reserve(r.Context(), auth.PrincipalFrom(r.Context()), id)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.logger.Debug("Listing reserved", zap.String("listing_id", id), zap.String("transaction_id", result.Transaction.ID))
	h.writer.Success(w, http.StatusOK, result)
}

func (h *ProductHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req updateProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	listing, err := h.listings.Update(r.Context(), auth.PrincipalFrom(r.Context()), id, domain.ListingUpdate{
		Amount: req.Amount,
		Price:  req.Price,
		Status: req.Status,
	})
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, productPayload{Product: listing})
}

func (h *ProductHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.listings.Delete(r.Context(), auth.PrincipalFrom(r.Context()), id); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "listing deleted")
}
