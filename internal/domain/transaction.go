package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type TransactionStatus string

const (
	TransactionStatusReserved         TransactionStatus = "reserved"
	TransactionStatusPendingPayment   TransactionStatus = "pending_payment"
	TransactionStatusPaymentConfirmed TransactionStatus = "payment_confirmed"
	TransactionStatusCompleted        TransactionStatus = "completed"
	TransactionStatusCancelled        TransactionStatus = "cancelled"
)

// TerminalTransactionStatuses never transition again.
var TerminalTransactionStatuses = []TransactionStatus{
	TransactionStatusCompleted,
	TransactionStatusCancelled,
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusReserved, TransactionStatusPendingPayment, TransactionStatusPaymentConfirmed,
		TransactionStatusCompleted, TransactionStatusCancelled:
		return true
	}
	return false
}

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusCancelled
}

type CompletionMethod string

const (
	CompletionMutual         CompletionMethod = "mutual"
	CompletionSellerOverride CompletionMethod = "seller_override"
)

type Party string

const (
	PartySeller Party = "seller"
	PartyBuyer  Party = "buyer"
)

const (
	MaxMessageLength     = 500
	MaxBankAccountLength = 64
)

type Message struct {
	SenderID  string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage trims content and enforces the length limit in characters.
func NewMessage(senderID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, Validationf("message content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return Message{}, Validationf("message content cannot exceed %d characters", MaxMessageLength)
	}
	return Message{SenderID: senderID, Content: content, Timestamp: time.Now().UTC()}, nil
}

type PaymentProof struct {
	ImageURL   string    `json:"imageUrl"`
	UploadedAt time.Time `json:"uploadTime"`
}

// Transaction records one buyer's reservation and settlement of a listing.
type Transaction struct {
	ID                string            `json:"id"`
	SellerID          string            `json:"seller"`
	BuyerID           string            `json:"buyer"`
	ListingID         string            `json:"product"`
	Amount            float64           `json:"amount"`
	Price             float64           `json:"price"`
	Status            TransactionStatus `json:"status"`
	PaymentProof      *PaymentProof     `json:"paymentProof,omitempty"`
	Messages          []Message         `json:"messages"`
	SellerBankAccount string            `json:"sellerBankAccount,omitempty"`
	SellerConfirmed   bool              `json:"sellerConfirmed"`
	BuyerConfirmed    bool              `json:"buyerConfirmed"`
	CompletionMethod  CompletionMethod  `json:"completionMethod,omitempty"`
	CancelledBy       string            `json:"cancelledBy,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}

// NewReservationTransaction copies the listing terms into a reserved transaction.
func NewReservationTransaction(l *Listing, buyerID string) (*Transaction, error) {
	if l.Amount <= 0 {
		return nil, Validationf("listing amount must be greater than 0")
	}
	if l.Price < 0 {
		return nil, Validationf("listing price cannot be negative")
	}
	now := time.Now().UTC()
	return &Transaction{
		SellerID:  l.OwnerID,
		BuyerID:   buyerID,
		ListingID: l.ID,
		Amount:    l.Amount,
		Price:     l.Price,
		Status:    TransactionStatusReserved,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PartyOf returns the role userID plays in the transaction.
func (t *Transaction) PartyOf(userID string) (Party, bool) {
	switch {
	case userID == "":
		return "", false
	case t.SellerID == userID:
		return PartySeller, true
	case t.BuyerID == userID:
		return PartyBuyer, true
	}
	return "", false
}

func (t *Transaction) IsParticipant(userID string) bool {
	_, ok := t.PartyOf(userID)
	return ok
}

func (t *Transaction) BothConfirmed() bool {
	return t.SellerConfirmed && t.BuyerConfirmed
}

// TransactionFilter selects a participant's transactions.
type TransactionFilter struct {
	ParticipantID string
	Status        TransactionStatus
	Page          int
	Limit         int
}

func (f *TransactionFilter) Normalize() error {
	if f.ParticipantID == "" {
		return Validationf("participant id is required")
	}
	if f.Status != "" && !f.Status.IsValid() {
		return Validationf("invalid transaction status %q", f.Status)
	}
	f.Page, f.Limit = NormalizePage(f.Page, f.Limit)
	return nil
}
