// Package worker runs the scheduled background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

const (
	DefaultSchedule = "@every 5m"

	// A reservation younger than this may still be mid-saga.
	reservationGrace = time.Minute
	reconcileBatch   = 200
	runTimeout       = 2 * time.Minute

	RepairSettled    = "settled"
	RepairReleased   = "released"
	RepairBanLifted  = "ban_lifted"
	RepairLimiterGC  = "limiter_evicted"
	repairErrorLabel = "error"
)

type ListingStore interface {
	ListReserved(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Listing, error)
	Release(ctx context.Context, listingID, transactionID string) (bool, error)
	Settle(ctx context.Context, listingID, transactionID string, soldAmount float64) (bool, error)
}

type TransactionReader interface {
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
}

type BanLifter interface {
	LiftExpiredBans(ctx context.Context, now time.Time) (int64, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Settled    int
	Released   int
	BansLifted int64
	Evicted    int
	Errors     int
}

// Reconciler repairs listings left reserved after their transaction closed,
// lifts elapsed bans and evicts idle rate limiter state.
type Reconciler struct {
	listings     ListingStore
	transactions TransactionReader
	users        BanLifter
	cache        domain.ListingCache
	sweepers     []func() int
	metrics      *metrics.MetricsManager
	logger       *logger.Logger
	now          func() time.Time

	cron *cron.Cron
}

func NewReconciler(
	listings ListingStore,
	transactions TransactionReader,
	users BanLifter,
	cache domain.ListingCache,
	m *metrics.MetricsManager,
	log *logger.Logger,
	sweepers ...func() int,
) *Reconciler {
	return &Reconciler{
		listings:     listings,
		transactions: transactions,
		users:        users,
		cache:        cache,
		sweepers:     sweepers,
		metrics:      m,
		logger:       log.Named("worker.reconciler"),
		now:          time.Now,
	}
}

// Start schedules RunOnce on spec.
func (r *Reconciler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	cl := cronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", spec, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("Reconciler scheduled", zap.String("schedule", spec))
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (r *Reconciler) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.logger.Warn("Reconciler did not stop before the deadline")
	}
}

// RunOnce performs a full pass.
func (r *Reconciler) RunOnce(ctx context.Context) Report {
	var rep Report
	now := r.now()

	r.reconcileListings(ctx, now, &rep)

	if r.users != nil {
		lifted, err := r.users.LiftExpiredBans(ctx, now)
		if err != nil {
			rep.Errors++
			r.metrics.ReconcilerRepair(repairErrorLabel)
			r.logger.Error("Failed to lift expired bans", zap.Error(err))
		}
		rep.BansLifted = lifted
		for i := int64(0); i < lifted; i++ {
			r.metrics.ReconcilerRepair(RepairBanLifted)
		}
	}

	for _, sweep := range r.sweepers {
		n := sweep()
		rep.Evicted += n
		for i := 0; i < n; i++ {
			r.metrics.ReconcilerRepair(RepairLimiterGC)
		}
	}

	if rep.Settled+rep.Released > 0 || rep.BansLifted > 0 || rep.Errors > 0 {
		r.logger.Info("Reconciliation pass finished",
			zap.Int("settled", rep.Settled),
			zap.Int("released", rep.Released),
			zap.Int64("bans_lifted", rep.BansLifted),
			zap.Int("limiters_evicted", rep.Evicted),
			zap.Int("errors", rep.Errors))
	} else {
		r.logger.Debug("Reconciliation pass found nothing to repair", zap.Int("limiters_evicted", rep.Evicted))
	}
	return rep
}

func (r *Reconciler) reconcileListings(ctx context.Context, now time.Time, rep *Report) {
	listings, err := r.listings.ListReserved(ctx, now.Add(-reservationGrace), reconcileBatch)
	if err != nil {
		rep.Errors++
		r.metrics.ReconcilerRepair(repairErrorLabel)
		r.logger.Error("Failed to list reserved listings", zap.Error(err))
		return
	}

	for _, l := range listings {
		if ctx.Err() != nil {
			return
		}
		kind, err := r.repair(ctx, l)
		if err != nil {
			rep.Errors++
			r.metrics.ReconcilerRepair(repairErrorLabel)
			r.logger.Error("Failed to repair listing",
				zap.String("listing_id", l.ID), zap.String("transaction_id", l.TransactionID), zap.Error(err))
			continue
		}
		switch kind {
		case RepairSettled:
			rep.Settled++
		case RepairReleased:
			rep.Released++
		default:
			continue
		}
		r.metrics.ReconcilerRepair(kind)
		if r.cache != nil {
			if err := r.cache.Delete(ctx, l.ID); err != nil {
				r.logger.Warn("Failed to invalidate listing cache", zap.String("listing_id", l.ID), zap.Error(err))
			}
		}
		r.logger.Info("Repaired reserved listing",
			zap.String("listing_id", l.ID), zap.String("transaction_id", l.TransactionID), zap.String("repair", kind))
	}
}

// repair applies the missing cascade for one reserved listing and reports
// which one, or "" when the listing is legitimately reserved. A reservation
// with no transaction link has nothing to complete and is released.
func (r *Reconciler) repair(ctx context.Context, l *domain.Listing) (string, error) {
	if l.TransactionID == "" {
		r.logger.Warn("Releasing reserved listing without a transaction link", zap.String("listing_id", l.ID))
		ok, err := r.listings.Release(ctx, l.ID, "")
		if err != nil || !ok {
			return "", err
		}
		return RepairReleased, nil
	}

	var (
		kind string
		ok   bool
	)
	tx, err := r.transactions.GetByID(ctx, l.TransactionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		kind = RepairReleased
		ok, err = r.listings.Release(ctx, l.ID, l.TransactionID)
	case err != nil:
		return "", err
	case tx.Status == domain.TransactionStatusCompleted:
		kind = RepairSettled
		ok, err = r.listings.Settle(ctx, l.ID, tx.ID, tx.Amount)
	case tx.Status == domain.TransactionStatusCancelled:
		kind = RepairReleased
		ok, err = r.listings.Release(ctx, l.ID, tx.ID)
	default:
		return "", nil
	}
	if err != nil || !ok {
		return "", err
	}
	return kind, nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
