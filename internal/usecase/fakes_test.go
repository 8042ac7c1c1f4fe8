package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
)

// In-memory repositories. Every mutation runs under one mutex so the guarded
// updates behave like the single-document conditional writes of the store.

var idSeq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idSeq.Add(1))
}

type memListings struct {
	mu      sync.Mutex
	items   map[string]*domain.Listing
	settles atomic.Int32
}

func newMemListings() *memListings {
	return &memListings{items: map[string]*domain.Listing{}}
}

func (r *memListings) put(l *domain.Listing) *domain.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == "" {
		l.ID = nextID("listing")
	}
	cp := *l
	r.items[l.ID] = &cp
	return l
}

func (r *memListings) snapshot(id string) domain.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *memListings) Create(_ context.Context, l *domain.Listing) error {
	r.put(l)
	return nil
}

func (r *memListings) GetByID(_ context.Context, id string) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.items[id]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memListings) List(_ context.Context, filter domain.ListingFilter) ([]*domain.Listing, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Listing
	for _, l := range r.items {
		if l.Status == domain.ListingStatusActive || filter.Tab == domain.ListingTabAdmin {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *memListings) UpdateTerms(_ context.Context, l *domain.Listing, expected domain.ListingStatus) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[l.ID]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	if cur.Status != expected {
		return nil, domain.Conflictf("listing is %s", cur.Status)
	}
	cur.SetTerms(l.Amount, l.Price)
	cur.Status = l.Status
	cp := *cur
	return &cp, nil
}

func (r *memListings) Reserve(_ context.Context, listingID, buyerID, txID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[listingID]
	if !ok || cur.Status != domain.ListingStatusActive {
		return false, nil
	}
	cur.Status, cur.BuyerID, cur.TransactionID = domain.ListingStatusReserved, buyerID, txID
	return true, nil
}

func (r *memListings) Release(_ context.Context, listingID, txID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[listingID]
	if !ok || cur.Status != domain.ListingStatusReserved || cur.TransactionID != txID {
		return false, nil
	}
	cur.Status, cur.BuyerID, cur.TransactionID = domain.ListingStatusActive, "", ""
	return true, nil
}

func (r *memListings) Settle(_ context.Context, listingID, txID string, sold float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[listingID]
	if !ok || cur.Status != domain.ListingStatusReserved || cur.TransactionID != txID {
		return false, nil
	}
	r.settles.Add(1)
	if cur.Amount <= sold {
		cur.Status = domain.ListingStatusSold
		return true, nil
	}
	cur.SetTerms(cur.Amount-sold, cur.Price)
	cur.Status, cur.BuyerID, cur.TransactionID = domain.ListingStatusActive, "", ""
	return true, nil
}

func (r *memListings) SoftDelete(_ context.Context, id string, allowed []domain.ListingStatus) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[id]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	for _, s := range allowed {
		if cur.Status == s {
			cur.Status = domain.ListingStatusDeleted
			cp := *cur
			return &cp, nil
		}
	}
	return nil, domain.Conflictf("listing is %s", cur.Status)
}

func (r *memListings) ListReserved(_ context.Context, before time.Time, limit int) ([]*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Listing
	for _, l := range r.items {
		if l.Status == domain.ListingStatusReserved && len(out) < limit {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memTransactions struct {
	mu    sync.Mutex
	items map[string]*domain.Transaction
}

func newMemTransactions() *memTransactions {
	return &memTransactions{items: map[string]*domain.Transaction{}}
}

func (r *memTransactions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *memTransactions) Create(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.ID = nextID("tx")
	cp := *tx
	r.items[tx.ID] = &cp
	return nil
}

func (r *memTransactions) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.items[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *memTransactions) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *memTransactions) ListByParticipant(_ context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range r.items {
		if tx.IsParticipant(f.ParticipantID) && (f.Status == "" || tx.Status == f.Status) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

// transition applies fn when the stored status is one of from.
func (r *memTransactions) transition(id string, from []domain.TransactionStatus, fn func(*domain.Transaction)) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.items[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	for _, s := range from {
		if tx.Status == s {
			fn(tx)
			cp := *tx
			return &cp, nil
		}
	}
	if tx.Status.IsTerminal() {
		return nil, domain.ErrTransactionFinalized
	}
	return nil, domain.Conflictf("transaction is %s", tx.Status)
}

var memOpen = []domain.TransactionStatus{
	domain.TransactionStatusReserved,
	domain.TransactionStatusPendingPayment,
	domain.TransactionStatusPaymentConfirmed,
}

func (r *memTransactions) AppendMessage(_ context.Context, id string, msg domain.Message) (*domain.Transaction, error) {
	return r.transition(id, memOpen, func(tx *domain.Transaction) {
		tx.Messages = append(append([]domain.Message{}, tx.Messages...), msg)
	})
}

func (r *memTransactions) AttachPaymentProof(_ context.Context, id string, proof domain.PaymentProof) (*domain.Transaction, error) {
	from := []domain.TransactionStatus{domain.TransactionStatusReserved, domain.TransactionStatusPendingPayment}
	return r.transition(id, from, func(tx *domain.Transaction) {
		tx.PaymentProof = &proof
		tx.Status = domain.TransactionStatusPendingPayment
	})
}

func (r *memTransactions) MarkPaymentReceived(_ context.Context, id string) (*domain.Transaction, error) {
	return r.transition(id, []domain.TransactionStatus{domain.TransactionStatusPendingPayment}, func(tx *domain.Transaction) {
		tx.Status = domain.TransactionStatusPaymentConfirmed
	})
}

func (r *memTransactions) SetSellerBankAccount(_ context.Context, id, account string) (*domain.Transaction, error) {
	return r.transition(id, memOpen, func(tx *domain.Transaction) { tx.SellerBankAccount = account })
}

func (r *memTransactions) SetConfirmation(_ context.Context, id string, party domain.Party) (*domain.Transaction, error) {
	return r.transition(id, memOpen, func(tx *domain.Transaction) {
		if party == domain.PartySeller {
			tx.SellerConfirmed = true
		} else {
			tx.BuyerConfirmed = true
		}
	})
}

func (r *memTransactions) Complete(ctx context.Context, id string, method domain.CompletionMethod) (*domain.Transaction, bool, error) {
	tx, err := r.transition(id, memOpen, func(tx *domain.Transaction) {
		now := time.Now().UTC()
		tx.Status, tx.CompletionMethod, tx.CompletedAt = domain.TransactionStatusCompleted, method, &now
	})
	if errors.Is(err, domain.ErrTransactionFinalized) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		if current.Status == domain.TransactionStatusCompleted {
			return current, false, nil
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

func (r *memTransactions) Cancel(_ context.Context, id, by string) (*domain.Transaction, error) {
	return r.transition(id, memOpen, func(tx *domain.Transaction) {
		tx.Status, tx.CancelledBy = domain.TransactionStatusCancelled, by
	})
}

type memActivities struct {
	mu    sync.Mutex
	items []*domain.Activity
	fail  bool
}

func (r *memActivities) Create(_ context.Context, a *domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("activity store down")
	}
	a.ID = nextID("activity")
	r.items = append(r.items, a)
	return nil
}

func (r *memActivities) List(_ context.Context, f domain.ActivityFilter) ([]*domain.Activity, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Activity
	for _, a := range r.items {
		if (f.UserID == "" || a.UserID == f.UserID) && (f.ActionType == "" || a.ActionType == f.ActionType) {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memActivities) Statistics(context.Context, string, time.Time, time.Time) ([]domain.ActivityStat, error) {
	return nil, nil
}

func (r *memActivities) actions(userID string) []domain.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ActionType
	for _, a := range r.items {
		if a.UserID == userID {
			out = append(out, a.ActionType)
		}
	}
	return out
}

type memRatings struct {
	mu    sync.Mutex
	items map[string]*domain.Rating
}

func newMemRatings() *memRatings {
	return &memRatings{items: map[string]*domain.Rating{}}
}

func (r *memRatings) Create(_ context.Context, rating *domain.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rating.ID = nextID("rating")
	cp := *rating
	r.items[rating.ID] = &cp
	return nil
}

func (r *memRatings) GetByID(_ context.Context, id string) (*domain.Rating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rating, ok := r.items[id]
	if !ok {
		return nil, domain.ErrRatingNotFound
	}
	cp := *rating
	return &cp, nil
}

func (r *memRatings) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rating, ok := r.items[id]
	if !ok || rating.IsDeleted {
		return domain.ErrRatingNotFound
	}
	rating.IsDeleted = true
	return nil
}

func (r *memRatings) ListForUser(_ context.Context, toUserID string, _, _ int) ([]*domain.Rating, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Rating
	for _, rating := range r.items {
		if rating.ToUserID == toUserID && !rating.IsDeleted {
			cp := *rating
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memRatings) Summary(_ context.Context, toUserID string) (domain.RatingSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum, n int
	for _, rating := range r.items {
		if rating.ToUserID == toUserID && !rating.IsDeleted {
			sum += rating.Score
			n++
		}
	}
	if n == 0 {
		return domain.RatingSummary{}, nil
	}
	return domain.RatingSummary{Average: float64(sum) / float64(n), Count: int64(n)}, nil
}

type memUsers struct {
	mu    sync.Mutex
	items map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{items: map[string]*domain.User{}}
}

func (r *memUsers) get(id string) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

func (r *memUsers) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.Email == u.Email {
			return domain.ErrEmailTaken
		}
	}
	u.ID = nextID("user")
	cp := *u
	r.items[u.ID] = &cp
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.items[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.items {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memUsers) update(id string, fn func(*domain.User)) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.items[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	fn(u)
	cp := *u
	return &cp, nil
}

func (r *memUsers) UpdateProfile(_ context.Context, id, name string, contact domain.ContactInfo) (*domain.User, error) {
	return r.update(id, func(u *domain.User) { u.Name, u.ContactInfo = name, contact })
}

func (r *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	_, err := r.update(id, func(u *domain.User) { u.PasswordHash = hash })
	return err
}

func (r *memUsers) RecordFailedLogin(_ context.Context, id string, maxAttempts int, lockUntil time.Time) (*domain.User, error) {
	return r.update(id, func(u *domain.User) {
		u.LoginAttempts++
		if u.LoginAttempts >= maxAttempts {
			u.LoginAttempts, u.LockUntil = 0, &lockUntil
		}
	})
}

func (r *memUsers) ResetLoginState(_ context.Context, id string) error {
	_, err := r.update(id, func(u *domain.User) { u.LoginAttempts, u.LockUntil = 0, nil })
	return err
}

func (r *memUsers) UpdateRole(_ context.Context, id string, role domain.Role, ban *domain.BanInfo) (*domain.User, error) {
	return r.update(id, func(u *domain.User) {
		u.Role = role
		u.BanReason, u.BannedAt, u.BannedUntil = "", nil, nil
		if ban != nil {
			at := ban.BannedAt
			u.BanReason, u.BannedAt, u.BannedUntil = ban.Reason, &at, ban.BannedUntil
		}
	})
}

func (r *memUsers) UpsertAdmin(_ context.Context, email, name, hash string, now time.Time) (*domain.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var u *domain.User
	for _, existing := range r.items {
		if existing.Email == email {
			u = existing
		}
	}
	created := u == nil
	if created {
		u = &domain.User{ID: nextID("user"), Email: email, CreatedAt: now}
		r.items[u.ID] = u
	}
	u.PasswordHash, u.Name, u.Role = hash, name, domain.RoleAdmin
	u.LoginAttempts, u.LockUntil = 0, nil
	u.BanReason, u.BannedAt, u.BannedUntil = "", nil, nil
	u.IsEmailVerified, u.UpdatedAt = true, now
	cp := *u
	return &cp, created, nil
}

func (r *memUsers) UpdateRatingSummary(_ context.Context, id string, avg float64, total int64) error {
	_, err := r.update(id, func(u *domain.User) { u.AverageRating, u.TotalRatings = avg, total })
	return err
}

func (r *memUsers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memUsers) LiftExpiredBans(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.items {
		if u.Role == domain.RoleBanned && u.BannedUntil != nil && !u.BannedUntil.After(now) {
			u.Role, u.BanReason, u.BannedAt, u.BannedUntil = domain.RoleUser, "", nil, nil
			n++
		}
	}
	return n, nil
}

type memHistory struct {
	mu      sync.Mutex
	records []*domain.LoginRecord
}

func (r *memHistory) Create(_ context.Context, rec *domain.LoginRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memHistory) ListRecent(_ context.Context, userID string, limit int) ([]*domain.LoginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LoginRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].UserID == userID {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

func (r *memHistory) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.UserID != userID {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

type memCodes struct {
	mu      sync.Mutex
	entries map[string]domain.VerificationEntry
}

func newMemCodes() *memCodes {
	return &memCodes{entries: map[string]domain.VerificationEntry{}}
}

func codeKey(purpose domain.VerificationPurpose, email string) string {
	return string(purpose) + ":" + email
}

func (s *memCodes) Save(_ context.Context, purpose domain.VerificationPurpose, email string, entry domain.VerificationEntry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[codeKey(purpose, email)] = entry
	return nil
}

func (s *memCodes) Get(_ context.Context, purpose domain.VerificationPurpose, email string) (*domain.VerificationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[codeKey(purpose, email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

func (s *memCodes) MarkVerified(_ context.Context, purpose domain.VerificationPurpose, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := codeKey(purpose, email)
	entry, ok := s.entries[key]
	if !ok {
		return domain.ErrNotFound
	}
	entry.Verified = true
	s.entries[key] = entry
	return nil
}

func (s *memCodes) Delete(_ context.Context, purpose domain.VerificationPurpose, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, codeKey(purpose, email))
	return nil
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, subject string, payload any) error {
	args := m.Called(ctx, subject, payload)
	return args.Error(0)
}

type MockMailer struct{ mock.Mock }

func (m *MockMailer) SendVerificationCode(ctx context.Context, to, code string) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

func (m *MockMailer) SendPasswordResetCode(ctx context.Context, to, code string) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

type MockStorage struct{ mock.Mock }

func (m *MockStorage) Upload(ctx context.Context, prefix, name, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, prefix, name, contentType, data)
	return args.String(0), args.Error(1)
}
