package domain

import (
	"strings"
	"time"
)

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusReserved ListingStatus = "reserved"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusDeleted  ListingStatus = "deleted"
)

func (s ListingStatus) IsValid() bool {
	switch s {
	case ListingStatusActive, ListingStatusReserved, ListingStatusSold, ListingStatusDeleted:
		return true
	}
	return false
}

// Listing is a lot of in-game currency offered by a seller.
type Listing struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"userId"`
	BuyerID       string        `json:"buyerId,omitempty"`
	Amount        float64       `json:"amount"`
	Price         float64       `json:"price"`
	Ratio         float64       `json:"ratio"`
	Status        ListingStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// NewListing validates the terms and returns an active listing.
func NewListing(ownerID string, amount, price float64) (*Listing, error) {
	if ownerID == "" {
		return nil, Validationf("owner id is required")
	}
	if amount <= 0 {
		return nil, Validationf("amount must be greater than 0")
	}
	if price < 0 {
		return nil, Validationf("price cannot be negative")
	}
	now := time.Now().UTC()
	l := &Listing{
		OwnerID:   ownerID,
		Status:    ListingStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.SetTerms(amount, price)
	return l, nil
}

// SetTerms updates amount and price and recomputes the ratio.
func (l *Listing) SetTerms(amount, price float64) {
	l.Amount = amount
	l.Price = price
	l.Ratio = ComputeRatio(amount, price)
}

// ComputeRatio is currency units per unit of price, 0 for a free lot.
func ComputeRatio(amount, price float64) float64 {
	if price <= 0 || amount <= 0 {
		return 0
	}
	return amount / price
}

func (l *Listing) IsOwnedBy(userID string) bool {
	return userID != "" && l.OwnerID == userID
}

// HasDanglingReservation reports a reserved listing missing its transaction link.
func (l *Listing) HasDanglingReservation() bool {
	return l.Status == ListingStatusReserved && l.TransactionID == ""
}

// ListingUpdate carries the optional fields of an owner edit.
type ListingUpdate struct {
	Amount *float64
	Price  *float64
	Status *ListingStatus
}

func (u ListingUpdate) IsEmpty() bool {
	return u.Amount == nil && u.Price == nil && u.Status == nil
}

type ListingTab string

const (
	ListingTabAll     ListingTab = "all"
	ListingTabMy      ListingTab = "my"
	ListingTabTrading ListingTab = "trading"
	ListingTabAdmin   ListingTab = "admin"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultPage      = 1
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

var listingSortFields = map[string]bool{
	"amount":    true,
	"price":     true,
	"ratio":     true,
	"createdAt": true,
}

// ListingFilter is the normalized query for listing pages.
type ListingFilter struct {
	Tab     ListingTab
	UserID  string
	BuyerID string
	SortBy  string
	Order   SortOrder
	Page    int
	Limit   int
}

// Normalize applies defaults and validates the filter.
func (f *ListingFilter) Normalize() error {
	if f.Tab == "" {
		f.Tab = ListingTabAll
	}
	switch f.Tab {
	case ListingTabAll, ListingTabMy, ListingTabTrading, ListingTabAdmin:
	default:
		return Validationf("invalid tab %q", f.Tab)
	}
	if (f.Tab == ListingTabMy || f.Tab == ListingTabTrading) && f.UserID == "" {
		return Validationf("userId is required for the %s tab", f.Tab)
	}

	if f.SortBy == "" || f.SortBy == "value" {
		f.SortBy = "ratio"
	}
	if !listingSortFields[f.SortBy] {
		return Validationf("invalid sort field %q", f.SortBy)
	}

	f.Order = SortOrder(strings.ToLower(string(f.Order)))
	if f.Order == "" {
		f.Order = SortDesc
	}
	if f.Order != SortAsc && f.Order != SortDesc {
		return Validationf("invalid sort order %q", f.Order)
	}

	f.Page, f.Limit = NormalizePage(f.Page, f.Limit)
	return nil
}

// NormalizePage clamps page and limit to sane bounds.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// Pagination is returned alongside every paged list.
type Pagination struct {
	Current      int   `json:"current"`
	Total        int64 `json:"total"`
	TotalRecords int64 `json:"totalRecords"`
}

func NewPagination(page, limit int, totalRecords int64) Pagination {
	pages := int64(0)
	if limit > 0 {
		pages = (totalRecords + int64(limit) - 1) / int64(limit)
	}
	return Pagination{Current: page, Total: pages, TotalRecords: totalRecords}
}
