package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// UserLoader resolves the account behind a token.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Authenticator turns bearer tokens into an auth.Principal on the request
// context. The account is re-read on every request so role changes and bans
// apply immediately.
type Authenticator struct {
	tokens *auth.TokenManager
	users  UserLoader
	writer *response.Writer
	logger *logger.Logger
	now    func() time.Time
}

func NewAuthenticator(tokens *auth.TokenManager, users UserLoader, writer *response.Writer, log *logger.Logger) *Authenticator {
	return &Authenticator{
		tokens: tokens,
		users:  users,
		writer: writer,
		logger: log.Named("http.auth"),
		now:    time.Now,
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// authenticate resolves the principal for token. A banned account yields a
// *domain.BanError.
func (a *Authenticator) authenticate(r *http.Request, token string) (*auth.Principal, error) {
	claims, err := a.tokens.Parse(token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, domain.Unauthenticatedf("token has expired, please log in again")
	case err != nil:
		return nil, domain.Unauthenticatedf("invalid token")
	}

	user, err := a.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Unauthenticatedf("account no longer exists")
		}
		return nil, err
	}
	now := a.now()
	if user.IsBanned(now) {
		return nil, domain.NewBanError(user, now)
	}
	return &auth.Principal{
		UserID: user.ID,
		Role:   user.EffectiveRole(now),
		Meta:   RequestMeta(r),
	}, nil
}

// JWTAuth rejects requests without a valid bearer token.
func (a *Authenticator) JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			a.writer.Error(w, r, domain.Unauthenticatedf("missing bearer token"))
			return
		}
		p, err := a.authenticate(r, token)
		if err != nil {
			a.logger.Debug("Authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			a.writer.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// OptionalAuth attaches the principal when a usable token is present and
// otherwise serves the request anonymously.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := a.authenticate(r, token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// RequireCapability must run after JWTAuth.
func RequireCapability(writer *response.Writer, action auth.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.Authorize(auth.PrincipalFrom(r.Context()), action); err != nil {
				writer.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestMeta captures the client address and user agent. RealIP upstream
// has already rewritten RemoteAddr from proxy headers.
func RequestMeta(r *http.Request) domain.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return domain.RequestMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}
