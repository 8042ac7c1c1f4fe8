package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/usecase"
)

const (
	paymentProofField = "paymentProof"
	multipartOverhead = 1 << 20
)

type TransactionService interface {
	Get(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error)
	ListMine(ctx context.Context, p *auth.Principal, status domain.TransactionStatus, page, limit int) ([]*domain.Transaction, domain.Pagination, error)
	SendMessage(ctx context.Context, p *auth.Principal, id, content string) (*domain.Transaction, error)
	UploadPaymentProof(ctx context.Context, p *auth.Principal, id, fileName string, data []byte) (*domain.Transaction, error)
	MarkPaymentReceived(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error)
	SetBankAccount(ctx context.Context, p *auth.Principal, id, account string) (*domain.Transaction, error)
	Confirm(ctx context.Context, p *auth.Principal, id string) (*usecase.ConfirmResult, error)
	ForceComplete(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error)
	Cancel(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error)
}

// TransactionHandler serves /api/transactions.
type TransactionHandler struct {
	transactions TransactionService
	writer       *response.Writer
	logger       *logger.Logger
}

func NewTransactionHandler(transactions TransactionService, writer *response.Writer, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		transactions: transactions,
		writer:       writer,
		logger:       log.Named("http.transaction"),
	}
}

type transactionPayload struct {
	Transaction *domain.Transaction `json:"transaction"`
}

type transactionPage struct {
	Transactions []*domain.Transaction `json:"transactions"`
	Pagination   domain.Pagination     `json:"pagination"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type bankAccountRequest struct {
	BankAccount string `json:"bankAccount"`
}

// withTransaction runs op against the {id} in the path and renders the
// resulting transaction.
func (h *TransactionHandler) withTransaction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error)) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	tx, err := op(r.Context(), auth.PrincipalFrom(r.Context()), id)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, transactionPayload{Transaction: tx})
}

func (h *TransactionHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	status := domain.TransactionStatus(r.URL.Query().Get("status"))
	items, pagination, err := h.transactions.ListMine(r.Context(), auth.PrincipalFrom(r.Context()), status, page, limit)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.Transaction{}
	}
	h.writer.Success(w, http.StatusOK, transactionPage{Transactions: items, Pagination: pagination})
}

func (h *TransactionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.transactions.Get)
}

func (h *TransactionHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.withTransaction(w, r, func(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
		return h.transactions.SendMessage(ctx, p, id, req.Content)
	})
}

func (h *TransactionHandler) HandleUploadPaymentProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, usecase.MaxPaymentProofSize+multipartOverhead)
	if err := r.ParseMultipartForm(usecase.MaxPaymentProofSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writer.Error(w, r, domain.Validationf("payment proof must not exceed 5MB"))
			return
		}
		h.writer.Error(w, r, domain.Validationf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(paymentProofField)
	if err != nil {
		h.writer.Error(w, r, domain.Validationf("missing %s file", paymentProofField))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, usecase.MaxPaymentProofSize+1))
	if err != nil {
		h.logger.Error("Failed to read payment proof", zap.Error(err))
		h.writer.Error(w, r, domain.Validationf("failed to read uploaded file"))
		return
	}
	h.withTransaction(w, r, func(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
		return h.transactions.UploadPaymentProof(ctx, p, id, header.Filename, data)
	})
}

func (h *TransactionHandler) HandleMarkPaymentReceived(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.transactions.MarkPaymentReceived)
}

func (h *TransactionHandler) HandleSetBankAccount(w http.ResponseWriter, r *http.Request) {
	var req bankAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.withTransaction(w, r, func(ctx context.Context, p *auth.Principal, id string) (*domain.Transaction, error) {
		return h.transactions.SetBankAccount(ctx, p, id, req.BankAccount)
	})
}

// HandleComplete records the caller's confirmation. The transaction
// completes once both parties have confirmed.
func (h *TransactionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	result, err := h.transactions.Confirm(r.Context(), auth.PrincipalFrom(r.Context()), id)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	message := "confirmation recorded, waiting for the other party"
	if result.Completed {
		message = "transaction completed"
	}
	h.writer.JSON(w, http.StatusOK, response.Envelope{
		Status:  response.StatusSuccess,
		Message: message,
		Data:    result,
	})
}

// HandleForceComplete lets the seller complete without the buyer's
// confirmation.
func (h *TransactionHandler) HandleForceComplete(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.transactions.ForceComplete)
}

func (h *TransactionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.withTransaction(w, r, h.transactions.Cancel)
}
