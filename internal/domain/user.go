package domain

import (
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleBanned Role = "banned"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleBanned
}

const (
	MinPasswordLength = 8
	MaxLoginAttempts  = 5
	LockoutDuration   = 30 * time.Minute
)

type ContactInfo struct {
	Line     string `json:"line,omitempty"`
	Discord  string `json:"discord,omitempty"`
	Facebook string `json:"facebook,omitempty"`
}

type User struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	PasswordHash    string      `json:"-"`
	Name            string      `json:"name"`
	Role            Role        `json:"role"`
	ContactInfo     ContactInfo `json:"contactInfo"`
	AverageRating   float64     `json:"averageRating"`
	TotalRatings    int64       `json:"totalRatings"`
	LoginAttempts   int         `json:"-"`
	LockUntil       *time.Time  `json:"-"`
	BanReason       string      `json:"banReason,omitempty"`
	BannedAt        *time.Time  `json:"bannedAt,omitempty"`
	BannedUntil     *time.Time  `json:"bannedUntil,omitempty"`
	IsEmailVerified bool        `json:"isEmailVerified"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// IsBanned reports an active ban. A ban with an elapsed end date is over.
func (u *User) IsBanned(now time.Time) bool {
	if u.Role != RoleBanned {
		return false
	}
	return u.BannedUntil == nil || u.BannedUntil.After(now)
}

// EffectiveRole is the role to authorize with at time now.
func (u *User) EffectiveRole(now time.Time) Role {
	if u.Role == RoleBanned && !u.IsBanned(now) {
		return RoleUser
	}
	return u.Role
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// BanInfo describes a ban placed by an admin.
type BanInfo struct {
	Reason      string
	BannedAt    time.Time
	BannedUntil *time.Time
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", Validationf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", Validationf("invalid email address")
	}
	return email, nil
}

func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return Validationf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

type LoginStatus string

const (
	LoginSuccess LoginStatus = "success"
	LoginFailed  LoginStatus = "failed"
)

type LoginRecord struct {
	ID            string      `json:"id"`
	UserID        string      `json:"userId"`
	LoginTime     time.Time   `json:"loginTime"`
	IPAddress     string      `json:"ipAddress"`
	UserAgent     string      `json:"userAgent"`
	Status        LoginStatus `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
}

// VerificationPurpose namespaces one-time codes.
type VerificationPurpose string

const (
	PurposeRegister      VerificationPurpose = "register"
	PurposePasswordReset VerificationPurpose = "reset"
)

// VerificationEntry is what the code store keeps per (purpose, email).
type VerificationEntry struct {
	Code         string `json:"code"`
	PasswordHash string `json:"password_hash,omitempty"`
	Verified     bool   `json:"verified"`
}

// BanError reports an active ban. It matches ErrForbidden.
type BanError struct {
	Reason      string
	BannedUntil *time.Time
	Remaining   time.Duration
}

// NewBanError describes u's ban as seen at now.
func NewBanError(u *User, now time.Time) *BanError {
	e := &BanError{Reason: u.BanReason, BannedUntil: u.BannedUntil}
	if u.BannedUntil != nil {
		e.Remaining = u.BannedUntil.Sub(now)
	}
	return e
}

func (e *BanError) Permanent() bool { return e.BannedUntil == nil }

// RemainingMinutes rounds the remaining ban time up to whole minutes.
func (e *BanError) RemainingMinutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

func (e *BanError) Error() string {
	msg := "account is banned"
	if e.Permanent() {
		msg += " permanently"
	} else {
		msg += fmt.Sprintf(", %d minutes remaining", e.RemainingMinutes())
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return ErrForbidden.Error() + ": " + msg
}

func (e *BanError) Unwrap() error { return ErrForbidden }
