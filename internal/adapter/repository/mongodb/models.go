package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
)

type listingDocument struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty"`
	OwnerID       string               `bson:"owner_id"`
	BuyerID       string               `bson:"buyer_id,omitempty"`
	Amount        float64              `bson:"amount"`
	Price         float64              `bson:"price"`
	Ratio         float64              `bson:"ratio"`
	Status        domain.ListingStatus `bson:"status"`
	TransactionID string               `bson:"transaction_id,omitempty"`
	CreatedAt     time.Time            `bson:"created_at"`
	UpdatedAt     time.Time            `bson:"updated_at"`
}

func toListingDocument(l *domain.Listing) *listingDocument {
	return &listingDocument{
		OwnerID:       l.OwnerID,
		BuyerID:       l.BuyerID,
		Amount:        l.Amount,
		Price:         l.Price,
		Ratio:         l.Ratio,
		Status:        l.Status,
		TransactionID: l.TransactionID,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

func (d *listingDocument) toDomain() *domain.Listing {
	return &domain.Listing{
		ID:            d.ID.Hex(),
		OwnerID:       d.OwnerID,
		BuyerID:       d.BuyerID,
		Amount:        d.Amount,
		Price:         d.Price,
		Ratio:         d.Ratio,
		Status:        d.Status,
		TransactionID: d.TransactionID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type messageDocument struct {
	SenderID  string    `bson:"sender_id"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

type paymentProofDocument struct {
	ImageURL   string    `bson:"image_url"`
	UploadedAt time.Time `bson:"uploaded_at"`
}

type transactionDocument struct {
	ID                primitive.ObjectID       `bson:"_id,omitempty"`
	SellerID          string                   `bson:"seller_id"`
	BuyerID           string                   `bson:"buyer_id"`
	ListingID         string                   `bson:"listing_id"`
	Amount            float64                  `bson:"amount"`
	Price             float64                  `bson:"price"`
	Status            domain.TransactionStatus `bson:"status"`
	PaymentProof      *paymentProofDocument    `bson:"payment_proof,omitempty"`
	Messages          []messageDocument        `bson:"messages"`
	SellerBankAccount string                   `bson:"seller_bank_account,omitempty"`
	SellerConfirmed   bool                     `bson:"seller_confirmed"`
	BuyerConfirmed    bool                     `bson:"buyer_confirmed"`
	CompletionMethod  domain.CompletionMethod  `bson:"completion_method,omitempty"`
	CancelledBy       string                   `bson:"cancelled_by,omitempty"`
	CreatedAt         time.Time                `bson:"created_at"`
	UpdatedAt         time.Time                `bson:"updated_at"`
	CompletedAt       *time.Time               `bson:"completed_at,omitempty"`
}

func toTransactionDocument(t *domain.Transaction) *transactionDocument {
	doc := &transactionDocument{
		SellerID:          t.SellerID,
		BuyerID:           t.BuyerID,
		ListingID:         t.ListingID,
		Amount:            t.Amount,
		Price:             t.Price,
		Status:            t.Status,
		Messages:          make([]messageDocument, 0, len(t.Messages)),
		SellerBankAccount: t.SellerBankAccount,
		SellerConfirmed:   t.SellerConfirmed,
		BuyerConfirmed:    t.BuyerConfirmed,
		CompletionMethod:  t.CompletionMethod,
		CancelledBy:       t.CancelledBy,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		CompletedAt:       t.CompletedAt,
	}
	if t.PaymentProof != nil {
		doc.PaymentProof = &paymentProofDocument{ImageURL: t.PaymentProof.ImageURL, UploadedAt: t.PaymentProof.UploadedAt}
	}
	for _, m := range t.Messages {
		doc.Messages = append(doc.Messages, toMessageDocument(m))
	}
	return doc
}

func toMessageDocument(m domain.Message) messageDocument {
	return messageDocument{SenderID: m.SenderID, Content: m.Content, Timestamp: m.Timestamp}
}

func (d *transactionDocument) toDomain() *domain.Transaction {
	t := &domain.Transaction{
		ID:                d.ID.Hex(),
		SellerID:          d.SellerID,
		BuyerID:           d.BuyerID,
		ListingID:         d.ListingID,
		Amount:            d.Amount,
		Price:             d.Price,
		Status:            d.Status,
		Messages:          make([]domain.Message, 0, len(d.Messages)),
		SellerBankAccount: d.SellerBankAccount,
		SellerConfirmed:   d.SellerConfirmed,
		BuyerConfirmed:    d.BuyerConfirmed,
		CompletionMethod:  d.CompletionMethod,
		CancelledBy:       d.CancelledBy,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		CompletedAt:       d.CompletedAt,
	}
	if d.PaymentProof != nil {
		t.PaymentProof = &domain.PaymentProof{ImageURL: d.PaymentProof.ImageURL, UploadedAt: d.PaymentProof.UploadedAt}
	}
	for _, m := range d.Messages {
		t.Messages = append(t.Messages, domain.Message{SenderID: m.SenderID, Content: m.Content, Timestamp: m.Timestamp})
	}
	return t
}

type ratingDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	FromUserID string             `bson:"from_user_id"`
	ToUserID   string             `bson:"to_user_id"`
	Score      int                `bson:"score"`
	Comment    string             `bson:"comment"`
	IsDeleted  bool               `bson:"is_deleted"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

func (d *ratingDocument) toDomain() *domain.Rating {
	return &domain.Rating{
		ID:         d.ID.Hex(),
		FromUserID: d.FromUserID,
		ToUserID:   d.ToUserID,
		Score:      d.Score,
		Comment:    d.Comment,
		IsDeleted:  d.IsDeleted,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type activityDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	UserID     string             `bson:"user_id"`
	ActionType domain.ActionType  `bson:"action_type"`
	TargetType domain.TargetType  `bson:"target_type"`
	TargetID   string             `bson:"target_id"`
	Metadata   map[string]any     `bson:"metadata,omitempty"`
	IPAddress  string             `bson:"ip_address,omitempty"`
	UserAgent  string             `bson:"user_agent,omitempty"`
	CreatedAt  time.Time          `bson:"created_at"`
}

func (d *activityDocument) toDomain() *domain.Activity {
	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &domain.Activity{
		ID:         d.ID.Hex(),
		UserID:     d.UserID,
		ActionType: d.ActionType,
		TargetType: d.TargetType,
		TargetID:   d.TargetID,
		Metadata:   metadata,
		IPAddress:  d.IPAddress,
		UserAgent:  d.UserAgent,
		CreatedAt:  d.CreatedAt,
	}
}

type contactInfoDocument struct {
	Line     string `bson:"line,omitempty"`
	Discord  string `bson:"discord,omitempty"`
	Facebook string `bson:"facebook,omitempty"`
}

type userDocument struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty"`
	Email           string              `bson:"email"`
	PasswordHash    string              `bson:"password_hash"`
	Name            string              `bson:"name"`
	Role            domain.Role         `bson:"role"`
	ContactInfo     contactInfoDocument `bson:"contact_info"`
	AverageRating   float64             `bson:"average_rating"`
	TotalRatings    int64               `bson:"total_ratings"`
	LoginAttempts   int                 `bson:"login_attempts"`
	LockUntil       *time.Time          `bson:"lock_until,omitempty"`
	BanReason       string              `bson:"ban_reason,omitempty"`
	BannedAt        *time.Time          `bson:"banned_at,omitempty"`
	BannedUntil     *time.Time          `bson:"banned_until,omitempty"`
	IsEmailVerified bool                `bson:"is_email_verified"`
	CreatedAt       time.Time           `bson:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at"`
}

func toUserDocument(u *domain.User) *userDocument {
	return &userDocument{
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		Name:            u.Name,
		Role:            u.Role,
		ContactInfo:     contactInfoDocument(u.ContactInfo),
		AverageRating:   u.AverageRating,
		TotalRatings:    u.TotalRatings,
		LoginAttempts:   u.LoginAttempts,
		LockUntil:       u.LockUntil,
		BanReason:       u.BanReason,
		BannedAt:        u.BannedAt,
		BannedUntil:     u.BannedUntil,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func (d *userDocument) toDomain() *domain.User {
	return &domain.User{
		ID:              d.ID.Hex(),
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Name:            d.Name,
		Role:            d.Role,
		ContactInfo:     domain.ContactInfo(d.ContactInfo),
		AverageRating:   d.AverageRating,
		TotalRatings:    d.TotalRatings,
		LoginAttempts:   d.LoginAttempts,
		LockUntil:       d.LockUntil,
		BanReason:       d.BanReason,
		BannedAt:        d.BannedAt,
		BannedUntil:     d.BannedUntil,
		IsEmailVerified: d.IsEmailVerified,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type loginRecordDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	UserID        string             `bson:"user_id"`
	LoginTime     time.Time          `bson:"login_time"`
	IPAddress     string             `bson:"ip_address"`
	UserAgent     string             `bson:"user_agent"`
	Status        domain.LoginStatus `bson:"status"`
	FailureReason string             `bson:"failure_reason,omitempty"`
}

func (d *loginRecordDocument) toDomain() *domain.LoginRecord {
	return &domain.LoginRecord{
		ID:            d.ID.Hex(),
		UserID:        d.UserID,
		LoginTime:     d.LoginTime,
		IPAddress:     d.IPAddress,
		UserAgent:     d.UserAgent,
		Status:        d.Status,
		FailureReason: d.FailureReason,
	}
}
