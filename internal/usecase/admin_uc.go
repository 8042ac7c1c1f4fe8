package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// AdminStore persists the bootstrap administrator.
type AdminStore interface {
	UpsertAdmin(ctx context.Context, email, name, passwordHash string, now time.Time) (*domain.User, bool, error)
}

// EnsureAdmin creates the administrator account, or promotes the account
// already registered under email. The password is replaced and lockout and
// ban state are cleared. Ratings and contact details are kept.
func EnsureAdmin(ctx context.Context, store AdminStore, email, password, name string, bcryptCost int, log *logger.Logger) (*domain.User, bool, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, false, err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, false, err
	}
	name, err = normalizeName(name)
	if err != nil {
		return nil, false, err
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, false, err
	}
	admin, created, err := store.UpsertAdmin(ctx, email, name, string(hash), time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	log.Named("usecase.admin").Info("Administrator account ready",
		zap.String("user_id", admin.ID), zap.String("email", admin.Email), zap.Bool("created", created))
	return admin, created, nil
}
