//go:build integration

package mongodb

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

var testDB *mongo.Database

// TestMain starts a disposable MongoDB container for the repository suite.
func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}
	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mongo",
		Tag:        "6.0",
		Env: []string{
			"MONGO_INITDB_ROOT_USERNAME=root",
			"MONGO_INITDB_ROOT_PASSWORD=password",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start MongoDB resource: %s", err)
	}
	uri := fmt.Sprintf("mongodb://root:password@%s/?authSource=admin", resource.GetHostPort("27017/tcp"))

	var client *mongo.Client
	if err := pool.Retry(func() error {
		var errRetry error
		client, errRetry = mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
		if errRetry != nil {
			return errRetry
		}
		return client.Ping(context.Background(), nil)
	}); err != nil {
		log.Fatalf("Could not connect to MongoDB: %s", err)
	}
	testDB = client.Database("jx3_market_test")

	code := m.Run()

	_ = client.Disconnect(context.Background())
	if err := pool.Purge(resource); err != nil {
		log.Printf("Could not purge MongoDB resource: %s", err)
	}
	os.Exit(code)
}

func freshCollections(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.Drop(context.Background()))
}

func TestListingRepository_ReserveIsExclusive(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewListingRepository(testDB, logger.NewNop())

	listing, err := domain.NewListing("seller", 1000, 500)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, listing))

	const buyers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.Reserve(ctx, listing.ID, fmt.Sprintf("buyer-%d", i), fmt.Sprintf("tx-%d", i))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	stored, err := repo.GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusReserved, stored.Status)
	assert.NotEmpty(t, stored.TransactionID)
	assert.NotEmpty(t, stored.BuyerID)
}

func TestListingRepository_SettlePartialRelists(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewListingRepository(testDB, logger.NewNop())

	listing, err := domain.NewListing("seller", 1000, 500)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, listing))

	ok, err := repo.Reserve(ctx, listing.ID, "buyer", "tx-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Settle(ctx, listing.ID, "tx-other", 400)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Settle(ctx, listing.ID, "tx-1", 400)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := repo.GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusActive, stored.Status)
	assert.Equal(t, 600.0, stored.Amount)
	assert.Equal(t, 1.2, stored.Ratio)
	assert.Empty(t, stored.TransactionID)
	assert.Empty(t, stored.BuyerID)

	ok, err = repo.Settle(ctx, listing.ID, "tx-1", 400)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListingRepository_UpdateTermsRequiresExpectedStatus(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewListingRepository(testDB, logger.NewNop())

	listing, err := domain.NewListing("seller", 100, 50)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, listing))
	_, err = repo.Reserve(ctx, listing.ID, "buyer", "tx")
	require.NoError(t, err)

	listing.SetTerms(200, 50)
	_, err = repo.UpdateTerms(ctx, listing, domain.ListingStatusActive)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	_, err = repo.GetByID(ctx, "not-a-hex-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListingRepository_ListTabs(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewListingRepository(testDB, logger.NewNop())

	for _, amount := range []float64{100, 300, 200} {
		l, err := domain.NewListing("seller", amount, 100)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, l))
	}
	reserved, err := domain.NewListing("seller", 50, 100)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, reserved))
	_, err = repo.Reserve(ctx, reserved.ID, "buyer", "tx")
	require.NoError(t, err)

	filter := domain.ListingFilter{}
	require.NoError(t, filter.Normalize())
	items, total, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 3)
	assert.Equal(t, 3.0, items[0].Ratio)

	filter = domain.ListingFilter{Tab: domain.ListingTabTrading, UserID: "buyer"}
	require.NoError(t, filter.Normalize())
	items, total, err = repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, reserved.ID, items[0].ID)

	filter = domain.ListingFilter{Tab: domain.ListingTabAdmin}
	require.NoError(t, filter.Normalize())
	_, total, err = repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestTransactionRepository_CompleteAppliesOnce(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewTransactionRepository(testDB, logger.NewNop())

	tx, err := domain.NewReservationTransaction(&domain.Listing{ID: "l", OwnerID: "s", Amount: 10, Price: 5}, "b")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, tx))

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			method := domain.CompletionMutual
			if i%2 == 0 {
				method = domain.CompletionSellerOverride
			}
			_, ok, err := repo.Complete(ctx, tx.ID, method)
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), applied.Load())

	_, err = repo.Cancel(ctx, tx.ID, "b")
	assert.ErrorIs(t, err, domain.ErrTransactionFinalized)

	_, err = repo.AppendMessage(ctx, tx.ID, domain.Message{SenderID: "b", Content: "late", Timestamp: time.Now()})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestTransactionRepository_PaymentFlow(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewTransactionRepository(testDB, logger.NewNop())

	tx, err := domain.NewReservationTransaction(&domain.Listing{ID: "l", OwnerID: "s", Amount: 10, Price: 5}, "b")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, tx))

	_, err = repo.MarkPaymentReceived(ctx, tx.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	updated, err := repo.AttachPaymentProof(ctx, tx.ID, domain.PaymentProof{ImageURL: "http://x/p.png", UploadedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPendingPayment, updated.Status)
	require.NotNil(t, updated.PaymentProof)

	updated, err = repo.MarkPaymentReceived(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPaymentConfirmed, updated.Status)

	updated, err = repo.SetConfirmation(ctx, tx.ID, domain.PartySeller)
	require.NoError(t, err)
	assert.True(t, updated.SellerConfirmed)
	assert.False(t, updated.BuyerConfirmed)
}

func TestRatingRepository_SummaryExcludesDeleted(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewRatingRepository(testDB, logger.NewNop())

	var ids []string
	for i, score := range []int{5, 4, 1} {
		r, err := domain.NewRating(fmt.Sprintf("rater-%d", i), "seller", score, "ok")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, r))
		ids = append(ids, r.ID)
	}

	summary, err := repo.Summary(ctx, "seller")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Count)
	assert.Equal(t, 3.33, summary.Rounded())

	require.NoError(t, repo.SoftDelete(ctx, ids[2]))
	assert.ErrorIs(t, repo.SoftDelete(ctx, ids[2]), domain.ErrNotFound)

	summary, err = repo.Summary(ctx, "seller")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Count)
	assert.Equal(t, 4.5, summary.Rounded())
}

func TestActivityRepository_Statistics(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewActivityRepository(testDB, logger.NewNop())

	day := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := []domain.ActionType{domain.ActionViewProduct, domain.ActionViewProduct, domain.ActionCreateProduct}
	for _, action := range entries {
		require.NoError(t, repo.Create(ctx, &domain.Activity{
			UserID: "u", ActionType: action, TargetType: domain.TargetProduct, TargetID: "l", CreatedAt: day,
		}))
	}

	stats, err := repo.Statistics(ctx, "u", day.Add(-time.Hour), day.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, domain.ActivityStat{ActionType: domain.ActionCreateProduct, Date: "2024-05-01", Count: 1}, stats[0])
	assert.Equal(t, domain.ActivityStat{ActionType: domain.ActionViewProduct, Date: "2024-05-01", Count: 2}, stats[1])
}

func TestUserRepository_EmailUniqueAndBans(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewUserRepository(testDB, logger.NewNop())

	now := time.Now().UTC()
	user := &domain.User{Email: "a@example.com", Name: "A", Role: domain.RoleUser, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, user))
	assert.ErrorIs(t, repo.Create(ctx, &domain.User{Email: "a@example.com", Role: domain.RoleUser}), domain.ErrEmailTaken)

	past := now.Add(-time.Minute)
	banned, err := repo.UpdateRole(ctx, user.ID, domain.RoleBanned, &domain.BanInfo{Reason: "spam", BannedAt: now.Add(-time.Hour), BannedUntil: &past})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBanned, banned.Role)

	lifted, err := repo.LiftExpiredBans(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lifted)

	stored, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, stored.Role)
	assert.Nil(t, stored.BannedUntil)
}

func TestUserRepository_RecordFailedLoginCountsConcurrentFailures(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewUserRepository(testDB, logger.NewNop())

	now := time.Now().UTC()
	user := &domain.User{Email: "b@example.com", Name: "B", Role: domain.RoleUser, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, user))

	lockUntil := now.Add(domain.LockoutDuration)
	var (
		wg     sync.WaitGroup
		locked atomic.Int32
	)
	for i := 0; i < domain.MaxLoginAttempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := repo.RecordFailedLogin(ctx, user.ID, domain.MaxLoginAttempts, lockUntil)
			if assert.NoError(t, err) && u.IsLocked(now) {
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, locked.Load(), int32(1))
	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LoginAttempts)
	require.NotNil(t, stored.LockUntil)
	assert.True(t, stored.IsLocked(now))

	require.NoError(t, repo.ResetLoginState(ctx, user.ID))
	stored, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LockUntil)
}

func TestUserRepository_UpsertAdmin(t *testing.T) {
	freshCollections(t)
	ctx := context.Background()
	repo := NewUserRepository(testDB, logger.NewNop())
	now := time.Now().UTC()

	admin, created, err := repo.UpsertAdmin(ctx, "root@example.com", "Root", "hash-1", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.True(t, admin.IsEmailVerified)

	require.NoError(t, repo.UpdateRatingSummary(ctx, admin.ID, 4, 3))
	again, created, err := repo.UpsertAdmin(ctx, "root@example.com", "Root", "hash-2", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, "hash-2", again.PasswordHash)
	assert.Equal(t, int64(3), again.TotalRatings)
}
