package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

var ctxBG = context.Background()

type market struct {
	listings     *memListings
	transactions *memTransactions
	activities   *memActivities
	storage      *MockStorage
	metrics      *metrics.MetricsManager
	recorder     *ActivityRecorder

	listingUC     *ListingUsecase
	reservationUC *ReservationUsecase
	transactionUC *TransactionUsecase
}

func newMarket(t *testing.T) *market {
	t.Helper()
	log := logger.NewNop()
	m := &market{
		listings:     newMemListings(),
		transactions: newMemTransactions(),
		activities:   &memActivities{},
		storage:      new(MockStorage),
		metrics:      metrics.NewMetricsManager("test"),
	}
	m.recorder = NewActivityRecorder(m.activities, nil, m.metrics, log)
	m.listingUC = NewListingUsecase(m.listings, nil, m.recorder, m.metrics, log, time.Minute)
	m.reservationUC = NewReservationUsecase(m.listings, m.transactions, nil, m.recorder, nil, m.metrics, log)
	m.transactionUC = NewTransactionUsecase(m.transactions, m.listings, nil, m.storage, m.recorder, nil, m.metrics, log)
	t.Cleanup(m.recorder.Wait)
	return m
}

func user(id string) *auth.Principal {
	return &auth.Principal{UserID: id, Role: domain.RoleUser}
}

var authBanned = auth.Principal{UserID: "banned", Role: domain.RoleBanned}

func admin(id string) *auth.Principal {
	return &auth.Principal{UserID: id, Role: domain.RoleAdmin}
}

func (m *market) seedListing(t *testing.T, owner string, amount, price float64) *domain.Listing {
	t.Helper()
	l, err := domain.NewListing(owner, amount, price)
	require.NoError(t, err)
	return m.listings.put(l)
}

// reserved returns a listing reserved by buyer together with its transaction.
func (m *market) reserved(t *testing.T, seller, buyer string, amount, price float64) (*domain.Listing, *domain.Transaction) {
	t.Helper()
	l := m.seedListing(t, seller, amount, price)
	res, err := m.reservationUC.Reserve(ctxBG, user(buyer), l.ID)
	require.NoError(t, err)
	return res.Listing, res.Transaction
}
