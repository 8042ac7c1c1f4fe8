package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, errors.Is(ErrReservationConflict, ErrStateConflict))
	assert.True(t, errors.Is(ErrTransactionFinalized, ErrStateConflict))
	assert.True(t, errors.Is(ErrSelfTrade, ErrValidation))
	assert.True(t, errors.Is(ErrListingNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrInvalidCredentials, ErrUnauthenticated))
	assert.True(t, errors.Is(ErrNotParticipant, ErrForbidden))
	assert.False(t, errors.Is(ErrReservationConflict, ErrValidation))

	err := Upstream("send mail", errors.New("dial tcp: refused"))
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Contains(t, err.Error(), "send mail")
}

func TestNewListing(t *testing.T) {
	l, err := NewListing("seller", 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, ListingStatusActive, l.Status)
	assert.Equal(t, 2.0, l.Ratio)

	_, err = NewListing("seller", 0, 10)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewListing("seller", 10, -1)
	assert.ErrorIs(t, err, ErrValidation)

	free, err := NewListing("seller", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, free.Ratio)
}

func TestListing_SetTermsRecomputesRatio(t *testing.T) {
	l := &Listing{}
	l.SetTerms(300, 100)
	assert.Equal(t, 3.0, l.Ratio)
	l.SetTerms(300, 150)
	assert.Equal(t, 2.0, l.Ratio)
}

func TestListing_HasDanglingReservation(t *testing.T) {
	l := &Listing{Status: ListingStatusReserved}
	assert.True(t, l.HasDanglingReservation())
	l.TransactionID = "tx"
	assert.False(t, l.HasDanglingReservation())
}

func TestListingFilter_Normalize(t *testing.T) {
	f := ListingFilter{SortBy: "value"}
	require.NoError(t, f.Normalize())
	assert.Equal(t, ListingTabAll, f.Tab)
	assert.Equal(t, "ratio", f.SortBy)
	assert.Equal(t, SortDesc, f.Order)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 10, f.Limit)

	f = ListingFilter{SortBy: "secret"}
	assert.ErrorIs(t, f.Normalize(), ErrValidation)

	f = ListingFilter{Tab: ListingTabTrading}
	assert.ErrorIs(t, f.Normalize(), ErrValidation)

	f = ListingFilter{Tab: ListingTabMy, UserID: "u1", Order: "ASC", Limit: 1000}
	require.NoError(t, f.Normalize())
	assert.Equal(t, SortAsc, f.Order)
	assert.Equal(t, MaxPageLimit, f.Limit)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 10, 25)
	assert.Equal(t, Pagination{Current: 2, Total: 3, TotalRecords: 25}, p)
	assert.Equal(t, int64(0), NewPagination(1, 10, 0).Total)
}

func TestTransaction_PartyOf(t *testing.T) {
	tx := &Transaction{SellerID: "s", BuyerID: "b"}

	p, ok := tx.PartyOf("s")
	assert.True(t, ok)
	assert.Equal(t, PartySeller, p)

	p, ok = tx.PartyOf("b")
	assert.True(t, ok)
	assert.Equal(t, PartyBuyer, p)

	_, ok = tx.PartyOf("x")
	assert.False(t, ok)
	_, ok = tx.PartyOf("")
	assert.False(t, ok)
}

func TestTransactionStatus_IsTerminal(t *testing.T) {
	assert.True(t, TransactionStatusCompleted.IsTerminal())
	assert.True(t, TransactionStatusCancelled.IsTerminal())
	assert.False(t, TransactionStatusReserved.IsTerminal())
	assert.False(t, TransactionStatusPendingPayment.IsTerminal())
	assert.False(t, TransactionStatusPaymentConfirmed.IsTerminal())
}

func TestNewReservationTransaction_CopiesTerms(t *testing.T) {
	l := &Listing{ID: "l1", OwnerID: "s", Amount: 1000, Price: 500, Status: ListingStatusActive}
	tx, err := NewReservationTransaction(l, "b")
	require.NoError(t, err)
	assert.Equal(t, TransactionStatusReserved, tx.Status)
	assert.Equal(t, 1000.0, tx.Amount)
	assert.Equal(t, 500.0, tx.Price)
	assert.Equal(t, "s", tx.SellerID)
	assert.Equal(t, "b", tx.BuyerID)
	assert.Equal(t, "l1", tx.ListingID)
	assert.False(t, tx.SellerConfirmed || tx.BuyerConfirmed)
}

func TestNewMessage(t *testing.T) {
	m, err := NewMessage("u", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)

	_, err = NewMessage("u", "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewMessage("u", strings.Repeat("金", MaxMessageLength))
	assert.NoError(t, err)

	_, err = NewMessage("u", strings.Repeat("a", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewRating(t *testing.T) {
	_, err := NewRating("a", "a", 5, "self")
	assert.ErrorIs(t, err, ErrSelfRating)

	_, err = NewRating("a", "b", 6, "too high")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewRating("a", "b", 3, " ")
	assert.ErrorIs(t, err, ErrValidation)

	r, err := NewRating("a", "b", 4, " smooth trade ")
	require.NoError(t, err)
	assert.Equal(t, "smooth trade", r.Comment)
}

func TestRatingSummary_Rounded(t *testing.T) {
	assert.Equal(t, 4.33, RatingSummary{Average: 13.0 / 3.0, Count: 3}.Rounded())
	assert.Equal(t, 0.0, RatingSummary{}.Rounded())
}

func TestUser_BanState(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	permanent := &User{Role: RoleBanned}
	assert.True(t, permanent.IsBanned(now))
	assert.Equal(t, RoleBanned, permanent.EffectiveRole(now))

	expired := &User{Role: RoleBanned, BannedUntil: &past}
	assert.False(t, expired.IsBanned(now))
	assert.Equal(t, RoleUser, expired.EffectiveRole(now))

	active := &User{Role: RoleBanned, BannedUntil: &future}
	assert.True(t, active.IsBanned(now))

	admin := &User{Role: RoleAdmin}
	assert.Equal(t, RoleAdmin, admin.EffectiveRole(now))
}

func TestBanError(t *testing.T) {
	now := time.Now()
	until := now.Add(90*time.Minute + time.Second)

	timed := NewBanError(&User{Role: RoleBanned, BanReason: "scam", BannedUntil: &until}, now)
	assert.ErrorIs(t, timed, ErrForbidden)
	assert.False(t, timed.Permanent())
	assert.Equal(t, 91, timed.RemainingMinutes())
	assert.Contains(t, timed.Error(), "scam")

	permanent := NewBanError(&User{Role: RoleBanned}, now)
	assert.True(t, permanent.Permanent())
	assert.Contains(t, permanent.Error(), "permanently")
}

func TestUser_IsLocked(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	assert.True(t, (&User{LockUntil: &future}).IsLocked(now))
	assert.False(t, (&User{}).IsLocked(now))
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  Trader@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", email)

	_, err = NormalizeEmail("not-an-email")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NormalizeEmail("Name <a@b.c>")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestActivityFilter_Normalize(t *testing.T) {
	f := ActivityFilter{}
	require.NoError(t, f.Normalize())
	assert.Equal(t, DefaultActivityPageLimit, f.Limit)

	f = ActivityFilter{ActionType: "HACK"}
	assert.ErrorIs(t, f.Normalize(), ErrValidation)

	start := time.Now()
	end := start.Add(-time.Hour)
	f = ActivityFilter{StartDate: &start, EndDate: &end}
	assert.ErrorIs(t, f.Normalize(), ErrValidation)
}
