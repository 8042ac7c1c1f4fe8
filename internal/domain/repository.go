package domain

import (
	"context"
	"time"
)

// ListingRepository persists listings. Every status mutation is a conditional
// update on the stored status; a false result means the guard did not match.
type ListingRepository interface {
	Create(ctx context.Context, listing *Listing) error
	GetByID(ctx context.Context, id string) (*Listing, error)
	List(ctx context.Context, filter ListingFilter) ([]*Listing, int64, error)

	// UpdateTerms writes amount, price, ratio and status while the stored
	// status still equals expected.
	UpdateTerms(ctx context.Context, listing *Listing, expected ListingStatus) (*Listing, error)

	// Reserve flips active -> reserved and links buyer and transaction in one write.
	Reserve(ctx context.Context, listingID, buyerID, transactionID string) (bool, error)
	// Release returns a listing reserved by transactionID to active.
	Release(ctx context.Context, listingID, transactionID string) (bool, error)
	// Settle applies a completed transaction: sold when fully consumed,
	// otherwise the remainder is relisted.
	Settle(ctx context.Context, listingID, transactionID string, soldAmount float64) (bool, error)

	SoftDelete(ctx context.Context, id string, allowedFrom []ListingStatus) (*Listing, error)
	ListReserved(ctx context.Context, updatedBefore time.Time, limit int) ([]*Listing, error)
}

// TransactionRepository persists transactions. Mutations only apply to
// non-terminal transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	Delete(ctx context.Context, id string) error
	ListByParticipant(ctx context.Context, filter TransactionFilter) ([]*Transaction, int64, error)

	AppendMessage(ctx context.Context, id string, msg Message) (*Transaction, error)
	AttachPaymentProof(ctx context.Context, id string, proof PaymentProof) (*Transaction, error)
	MarkPaymentReceived(ctx context.Context, id string) (*Transaction, error)
	SetSellerBankAccount(ctx context.Context, id, account string) (*Transaction, error)
	SetConfirmation(ctx context.Context, id string, party Party) (*Transaction, error)

	// Complete moves a non-terminal transaction to completed. applied is true
	// only for the single caller whose write performed the transition.
	Complete(ctx context.Context, id string, method CompletionMethod) (tx *Transaction, applied bool, err error)
	Cancel(ctx context.Context, id, cancelledBy string) (*Transaction, error)
}

type RatingRepository interface {
	Create(ctx context.Context, rating *Rating) error
	GetByID(ctx context.Context, id string) (*Rating, error)
	SoftDelete(ctx context.Context, id string) error
	ListForUser(ctx context.Context, toUserID string, page, limit int) ([]*Rating, int64, error)
	// Summary aggregates non-deleted ratings received by toUserID.
	Summary(ctx context.Context, toUserID string) (RatingSummary, error)
}

type ActivityRepository interface {
	Create(ctx context.Context, activity *Activity) error
	List(ctx context.Context, filter ActivityFilter) ([]*Activity, int64, error)
	Statistics(ctx context.Context, userID string, from, to time.Time) ([]ActivityStat, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id, name string, contact ContactInfo) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// RecordFailedLogin counts one failed login atomically. The failure that
	// brings the count to maxAttempts locks the account until lockUntil and
	// resets the count.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*User, error)
	ResetLoginState(ctx context.Context, id string) error
	UpdateRole(ctx context.Context, id string, role Role, ban *BanInfo) (*User, error)
	UpdateRatingSummary(ctx context.Context, id string, average float64, total int64) error
	Delete(ctx context.Context, id string) error
	LiftExpiredBans(ctx context.Context, now time.Time) (int64, error)
}

type LoginHistoryRepository interface {
	Create(ctx context.Context, record *LoginRecord) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*LoginRecord, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// VerificationCodeStore keeps one-time codes with a TTL. Get returns
// ErrNotFound for missing or expired entries.
type VerificationCodeStore interface {
	Save(ctx context.Context, purpose VerificationPurpose, email string, entry VerificationEntry, ttl time.Duration) error
	Get(ctx context.Context, purpose VerificationPurpose, email string) (*VerificationEntry, error)
	MarkVerified(ctx context.Context, purpose VerificationPurpose, email string) error
	Delete(ctx context.Context, purpose VerificationPurpose, email string) error
}

// ListingCache is a read-through cache of listing details. Get returns
// ErrNotFound on a miss.
type ListingCache interface {
	Get(ctx context.Context, id string) (*Listing, error)
	Set(ctx context.Context, listing *Listing, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// FileStorage stores uploaded files and returns their public URL.
type FileStorage interface {
	Upload(ctx context.Context, prefix, originalFileName, contentType string, data []byte) (string, error)
}

// EventPublisher fans domain events out to other consumers.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// CodeMailer delivers one-time codes by email.
type CodeMailer interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendPasswordResetCode(ctx context.Context, to, code string) error
}
