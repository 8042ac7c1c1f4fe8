package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

type stubUsers map[string]*domain.User

func (s stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func newAuthenticator(users stubUsers) (*Authenticator, *auth.TokenManager) {
	tokens := auth.NewTokenManager("middleware-secret", time.Hour, "test")
	writer := response.NewWriter(logger.NewNop(), false)
	return NewAuthenticator(tokens, users, writer, logger.NewNop()), tokens
}

// echoPrincipal writes the principal's user id and role.
var echoPrincipal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())
	if p == nil {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(p.UserID + ":" + string(p.Role)))
})

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, response.StatusError, env.Status)
	return env.Message
}

func TestJWTAuth(t *testing.T) {
	future := time.Now().Add(time.Hour)
	users := stubUsers{
		"u1":     {ID: "u1", Role: domain.RoleUser},
		"admin":  {ID: "admin", Role: domain.RoleAdmin},
		"banned": {ID: "banned", Role: domain.RoleBanned, BanReason: "spam", BannedUntil: &future},
	}
	a, tokens := newAuthenticator(users)
	h := a.JWTAuth(echoPrincipal)

	rec := serve(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer token", message(t, rec))

	rec = serve(h, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", message(t, rec))

	token, err := tokens.Issue("u1", domain.RoleUser)
	require.NoError(t, err)
	rec = serve(h, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1:user", rec.Body.String())

	// The stored role wins over the role in the token.
	token, err = tokens.Issue("admin", domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "admin:admin", serve(h, token).Body.String())

	token, err = tokens.Issue("banned", domain.RoleUser)
	require.NoError(t, err)
	rec = serve(h, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"banReason":"spam"`)

	token, err = tokens.Issue("ghost", domain.RoleUser)
	require.NoError(t, err)
	rec = serve(h, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "account no longer exists", message(t, rec))
}

func TestJWTAuth_ExpiredTokenIsReported(t *testing.T) {
	a, _ := newAuthenticator(stubUsers{"u1": {ID: "u1", Role: domain.RoleUser}})
	expired := auth.NewTokenManager("middleware-secret", -time.Minute, "test")
	token, err := expired.Issue("u1", domain.RoleUser)
	require.NoError(t, err)

	rec := serve(a.JWTAuth(echoPrincipal), token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token has expired, please log in again", message(t, rec))
}

func TestOptionalAuth(t *testing.T) {
	a, tokens := newAuthenticator(stubUsers{"u1": {ID: "u1", Role: domain.RoleUser}})
	h := a.OptionalAuth(echoPrincipal)

	assert.Equal(t, "anonymous", serve(h, "").Body.String())
	assert.Equal(t, "anonymous", serve(h, "garbage").Body.String())

	token, err := tokens.Issue("u1", domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "u1:user", serve(h, token).Body.String())
}

func TestRequireCapability(t *testing.T) {
	users := stubUsers{
		"u1":    {ID: "u1", Role: domain.RoleUser},
		"admin": {ID: "admin", Role: domain.RoleAdmin},
	}
	a, tokens := newAuthenticator(users)
	writer := response.NewWriter(logger.NewNop(), false)
	h := a.JWTAuth(RequireCapability(writer, auth.ActionActivityViewAll)(echoPrincipal))

	token, err := tokens.Issue("u1", domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(h, token).Code)

	token, err = tokens.Issue("admin", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, serve(h, token).Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, response.NewWriter(logger.NewNop(), false), logger.NewNop())
	h := rl.Handler(echoPrincipal)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(h, "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rl.now = func() time.Time { return time.Now().Add(2 * limiterIdleTTL) }
	assert.Equal(t, 1, rl.Sweep())
}

func TestRecoverer(t *testing.T) {
	writer := response.NewWriter(logger.NewNop(), false)
	h := Recoverer(writer)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(h, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", message(t, rec))
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.NewMetricsManager("test")
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products/"+id, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/products/{id}", http.MethodGet, "204")))
}

func TestRequestMeta(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	req.Header.Set("User-Agent", "jx3-client/1.0")

	meta := RequestMeta(req)
	assert.Equal(t, "203.0.113.9", meta.IPAddress)
	assert.Equal(t, "jx3-client/1.0", meta.UserAgent)
}
