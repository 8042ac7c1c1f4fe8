package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

const (
	verificationCodeDigits = 6
	loginHistoryLimit      = 10
	maxNameLength          = 50
)

// AuthResult is returned by every operation that signs a user in.
type AuthResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

type UserUsecaseConfig struct {
	BcryptCost          int
	VerificationCodeTTL time.Duration
}

// UserUsecase handles registration, login, profile and role management.
type UserUsecase struct {
	users   domain.UserRepository
	history domain.LoginHistoryRepository
	codes   domain.VerificationCodeStore
	mailer  domain.CodeMailer
	tokens  *auth.TokenManager
	logger  *logger.Logger
	cfg     UserUsecaseConfig
	now     func() time.Time
}

func NewUserUsecase(
	users domain.UserRepository,
	history domain.LoginHistoryRepository,
	codes domain.VerificationCodeStore,
	mailer domain.CodeMailer,
	tokens *auth.TokenManager,
	log *logger.Logger,
	cfg UserUsecaseConfig,
) *UserUsecase {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.VerificationCodeTTL == 0 {
		cfg.VerificationCodeTTL = 10 * time.Minute
	}
	return &UserUsecase{
		users:   users,
		history: history,
		codes:   codes,
		mailer:  mailer,
		tokens:  tokens,
		logger:  log.Named("usecase.user"),
		cfg:     cfg,
		now:     time.Now,
	}
}

func generateCode() (string, error) {
	limit := big.NewInt(int64(math.Pow10(verificationCodeDigits)))
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", verificationCodeDigits, n.Int64()), nil
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (uc *UserUsecase) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SendVerificationCode starts a registration: the password hash is parked
// with the code until the email is verified.
func (uc *UserUsecase) SendVerificationCode(ctx context.Context, email, password string) error {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	if _, err := uc.users.GetByEmail(ctx, email); err == nil {
		return domain.ErrEmailTaken
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	hash, err := uc.hashPassword(password)
	if err != nil {
		return err
	}
	code, err := generateCode()
	if err != nil {
		return err
	}
	entry := domain.VerificationEntry{Code: code, PasswordHash: hash}
	if err := uc.codes.Save(ctx, domain.PurposeRegister, email, entry, uc.cfg.VerificationCodeTTL); err != nil {
		return err
	}
	if err := uc.mailer.SendVerificationCode(ctx, email, code); err != nil {
		uc.dropCode(ctx, domain.PurposeRegister, email)
		uc.logger.Error("Failed to send verification code", zap.String("email", email), zap.Error(err))
		return domain.Upstream("send verification email", err)
	}
	uc.logger.Info("Verification code sent", zap.String("email", email))
	return nil
}

func (uc *UserUsecase) VerifyCode(ctx context.Context, email, code string) error {
	return uc.verify(ctx, domain.PurposeRegister, email, code)
}

func (uc *UserUsecase) verify(ctx context.Context, purpose domain.VerificationPurpose, email, code string) error {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := uc.matchCode(ctx, purpose, email, code); err != nil {
		return err
	}
	if err := uc.codes.MarkVerified(ctx, purpose, email); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Validationf("verification code has expired")
		}
		return err
	}
	return nil
}

func (uc *UserUsecase) matchCode(ctx context.Context, purpose domain.VerificationPurpose, email, code string) (*domain.VerificationEntry, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.Validationf("verification code is required")
	}
	entry, err := uc.codes.Get(ctx, purpose, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("verification code has expired or was never sent")
		}
		return nil, err
	}
	if !codesEqual(entry.Code, code) {
		return nil, domain.Validationf("verification code is incorrect")
	}
	return entry, nil
}

func (uc *UserUsecase) dropCode(ctx context.Context, purpose domain.VerificationPurpose, email string) {
	if err := uc.codes.Delete(ctx, purpose, email); err != nil {
		uc.logger.Warn("Failed to delete verification code",
			zap.String("purpose", string(purpose)), zap.String("email", email), zap.Error(err))
	}
}

// CompleteRegistration creates the account once its email was verified.
func (uc *UserUsecase) CompleteRegistration(ctx context.Context, email, name string) (*AuthResult, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name, err = normalizeName(name)
	if err != nil {
		return nil, err
	}
	entry, err := uc.codes.Get(ctx, domain.PurposeRegister, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("registration has expired, request a new code")
		}
		return nil, err
	}
	if !entry.Verified {
		return nil, domain.Validationf("email has not been verified")
	}

	now := uc.now().UTC()
	user := &domain.User{
		Email:           email,
		PasswordHash:    entry.PasswordHash,
		Name:            name,
		Role:            domain.RoleUser,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return nil, err
	}
	uc.dropCode(ctx, domain.PurposeRegister, email)
	uc.logger.Info("User registered", zap.String("user_id", user.ID))

	token, err := uc.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Validationf("name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", domain.Validationf("name cannot exceed %d characters", maxNameLength)
	}
	return name, nil
}

// Login checks credentials with lockout after repeated failures and refuses
// banned accounts.
func (uc *UserUsecase) Login(ctx context.Context, email, password string, meta domain.RequestMeta) (*AuthResult, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	now := uc.now()
	if user.IsLocked(now) {
		minutes := int(math.Ceil(user.LockUntil.Sub(now).Minutes()))
		uc.recordLogin(ctx, user.ID, domain.LoginFailed, "account locked", meta)
		return nil, domain.Unauthenticatedf("account is locked, try again in %d minutes", minutes)
	}

	if !checkPassword(user.PasswordHash, password) {
		return nil, uc.registerFailedAttempt(ctx, user, now, meta)
	}

	if user.LoginAttempts > 0 || user.LockUntil != nil {
		if err := uc.users.ResetLoginState(ctx, user.ID); err != nil {
			uc.logger.Warn("Failed to reset login attempts", zap.String("user_id", user.ID), zap.Error(err))
		}
		user.LoginAttempts, user.LockUntil = 0, nil
	}

	if user.Role == domain.RoleBanned {
		if user.IsBanned(now) {
			uc.recordLogin(ctx, user.ID, domain.LoginFailed, "banned", meta)
			return nil, domain.NewBanError(user, now)
		}
		lifted, err := uc.users.UpdateRole(ctx, user.ID, domain.RoleUser, nil)
		if err != nil {
			return nil, err
		}
		uc.logger.Info("Expired ban lifted at login", zap.String("user_id", user.ID))
		user = lifted
	}

	uc.recordLogin(ctx, user.ID, domain.LoginSuccess, "", meta)
	token, err := uc.tokens.Issue(user.ID, user.EffectiveRole(now))
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (uc *UserUsecase) registerFailedAttempt(ctx context.Context, user *domain.User, now time.Time, meta domain.RequestMeta) error {
	lockUntil := now.Add(domain.LockoutDuration).UTC()
	updated, err := uc.users.RecordFailedLogin(ctx, user.ID, domain.MaxLoginAttempts, lockUntil)
	if err != nil {
		uc.logger.Error("Failed to store login attempts", zap.String("user_id", user.ID), zap.Error(err))
		uc.recordLogin(ctx, user.ID, domain.LoginFailed, "invalid password", meta)
		return domain.ErrInvalidCredentials
	}

	if updated.IsLocked(now) {
		uc.recordLogin(ctx, user.ID, domain.LoginFailed, "too many failed attempts", meta)
		return domain.Unauthenticatedf("too many failed attempts, account is locked for %d minutes", int(domain.LockoutDuration.Minutes()))
	}
	uc.recordLogin(ctx, user.ID, domain.LoginFailed, "invalid password", meta)
	return domain.Unauthenticatedf("invalid email or password, %d attempts remaining", domain.MaxLoginAttempts-updated.LoginAttempts)
}

func (uc *UserUsecase) recordLogin(ctx context.Context, userID string, status domain.LoginStatus, reason string, meta domain.RequestMeta) {
	record := &domain.LoginRecord{
		UserID:        userID,
		LoginTime:     uc.now().UTC(),
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Status:        status,
		FailureReason: reason,
	}
	if err := uc.history.Create(ctx, record); err != nil {
		uc.logger.Warn("Failed to record login history", zap.String("user_id", userID), zap.Error(err))
	}
}

func (uc *UserUsecase) GetProfile(ctx context.Context, p *auth.Principal) (*domain.User, error) {
	if p == nil || p.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return uc.users.GetByID(ctx, p.UserID)
}

func (uc *UserUsecase) UpdateProfile(ctx context.Context, p *auth.Principal, name *string, contact *domain.ContactInfo) (*domain.User, error) {
	if err := auth.Authorize(p, auth.ActionProfileManage); err != nil {
		return nil, err
	}
	if name == nil && contact == nil {
		return nil, domain.Validationf("nothing to update")
	}
	current, err := uc.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	nextName, nextContact := current.Name, current.ContactInfo
	if name != nil {
		if nextName, err = normalizeName(*name); err != nil {
			return nil, err
		}
	}
	if contact != nil {
		nextContact = domain.ContactInfo{
			Line:     strings.TrimSpace(contact.Line),
			Discord:  strings.TrimSpace(contact.Discord),
			Facebook: strings.TrimSpace(contact.Facebook),
		}
	}
	return uc.users.UpdateProfile(ctx, p.UserID, nextName, nextContact)
}

func (uc *UserUsecase) UpdatePassword(ctx context.Context, p *auth.Principal, currentPassword, newPassword string) error {
	if err := auth.Authorize(p, auth.ActionProfileManage); err != nil {
		return err
	}
	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := uc.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !checkPassword(user.PasswordHash, currentPassword) {
		return domain.Validationf("current password is incorrect")
	}
	hash, err := uc.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := uc.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	uc.logger.Info("Password changed", zap.String("user_id", user.ID))
	return nil
}

// DeleteAccount removes the caller's account and login history.
func (uc *UserUsecase) DeleteAccount(ctx context.Context, p *auth.Principal, password string) error {
	if p == nil || p.UserID == "" {
		return domain.ErrUnauthenticated
	}
	user, err := uc.users.GetByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !checkPassword(user.PasswordHash, password) {
		return domain.Validationf("password is incorrect")
	}
	if err := uc.history.DeleteByUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete login history: %w", err)
	}
	if err := uc.users.Delete(ctx, user.ID); err != nil {
		return err
	}
	uc.logger.Info("Account deleted", zap.String("user_id", user.ID))
	return nil
}

func (uc *UserUsecase) LoginHistory(ctx context.Context, p *auth.Principal) ([]*domain.LoginRecord, error) {
	if p == nil || p.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return uc.history.ListRecent(ctx, p.UserID, loginHistoryLimit)
}

func (uc *UserUsecase) SendPasswordResetCode(ctx context.Context, email string) error {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := uc.users.GetByEmail(ctx, email); err != nil {
		return err
	}
	code, err := generateCode()
	if err != nil {
		return err
	}
	if err := uc.codes.Save(ctx, domain.PurposePasswordReset, email, domain.VerificationEntry{Code: code}, uc.cfg.VerificationCodeTTL); err != nil {
		return err
	}
	if err := uc.mailer.SendPasswordResetCode(ctx, email, code); err != nil {
		uc.dropCode(ctx, domain.PurposePasswordReset, email)
		uc.logger.Error("Failed to send password reset code", zap.String("email", email), zap.Error(err))
		return domain.Upstream("send password reset email", err)
	}
	return nil
}

func (uc *UserUsecase) VerifyPasswordResetCode(ctx context.Context, email, code string) error {
	return uc.verify(ctx, domain.PurposePasswordReset, email, code)
}

// ResetPasswordWithCode sets a new password and clears any lockout.
func (uc *UserUsecase) ResetPasswordWithCode(ctx context.Context, email, code, newPassword string) error {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}
	if _, err := uc.matchCode(ctx, domain.PurposePasswordReset, email, code); err != nil {
		return err
	}
	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := uc.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := uc.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := uc.users.ResetLoginState(ctx, user.ID); err != nil {
		uc.logger.Warn("Failed to clear lockout after reset", zap.String("user_id", user.ID), zap.Error(err))
	}
	uc.dropCode(ctx, domain.PurposePasswordReset, email)
	uc.logger.Info("Password reset with code", zap.String("user_id", user.ID))
	return nil
}

// UpdateUserRole changes a user's role. Banning records the reason and an
// optional end date; any other role clears the ban.
func (uc *UserUsecase) UpdateUserRole(ctx context.Context, p *auth.Principal, userID string, role domain.Role, banReason string, banDays int) (*domain.User, error) {
	if err := auth.Authorize(p, auth.ActionUserManageRoles); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, domain.Validationf("invalid role %q", role)
	}
	if userID == p.UserID {
		return nil, domain.Validationf("cannot change your own role")
	}
	if banDays < 0 {
		return nil, domain.Validationf("banDays cannot be negative")
	}
	if _, err := uc.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	var ban *domain.BanInfo
	if role == domain.RoleBanned {
		now := uc.now().UTC()
		ban = &domain.BanInfo{Reason: strings.TrimSpace(banReason), BannedAt: now}
		if banDays > 0 {
			until := now.AddDate(0, 0, banDays)
			ban.BannedUntil = &until
		}
	}
	updated, err := uc.users.UpdateRole(ctx, userID, role, ban)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("User role updated",
		zap.String("user_id", userID),
		zap.String("role", string(role)),
		zap.String("by", p.UserID))
	return updated, nil
}
