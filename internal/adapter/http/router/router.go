// Package router wires the REST routes onto a chi mux.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/handler"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/middleware"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/platform/metrics"
)

// Handlers groups the per-resource handlers.
type Handlers struct {
	Products     *handler.ProductHandler
	Transactions *handler.TransactionHandler
	Ratings      *handler.RatingHandler
	Activities   *handler.ActivityHandler
	Users        *handler.UserHandler
}

type Deps struct {
	ServiceName   string
	Handlers      Handlers
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Writer        *response.Writer
	Metrics       *metrics.MetricsManager
	Logger        *logger.Logger
}

// New builds the application mux.
func New(d Deps) *chi.Mux {
	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.Tracing(d.ServiceName))
	mux.Use(middleware.RequestLogger(d.Logger))
	mux.Use(middleware.Metrics(d.Metrics))
	mux.Use(middleware.Recoverer(d.Writer))

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		d.Writer.Message(w, http.StatusOK, "ok")
	})
	if d.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	SetupProductRoutes(mux, d.Handlers.Products, d.Authenticator, d.Writer)
	SetupTransactionRoutes(mux, d.Handlers.Transactions, d.Authenticator, d.Writer)
	SetupRatingRoutes(mux, d.Handlers.Ratings, d.Authenticator, d.Writer)
	SetupActivityRoutes(mux, d.Handlers.Activities, d.Authenticator, d.Writer)
	SetupUserRoutes(mux, d.Handlers.Users, d.Authenticator, d.RateLimiter, d.Writer)

	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		d.Writer.Fail(w, http.StatusNotFound, "route not found")
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		d.Writer.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return mux
}

func SetupProductRoutes(mux *chi.Mux, h *handler.ProductHandler, a *middleware.Authenticator, writer *response.Writer) {
	mux.Route("/api/products", func(r chi.Router) {
		r.Group(func(public chi.Router) {
			public.Use(a.OptionalAuth)
			public.Get("/", h.HandleList)
			public.Get("/{id}", h.HandleGet)
		})
		r.Group(func(authed chi.Router) {
			authed.Use(a.JWTAuth)
			authed.With(middleware.RequireCapability(writer, auth.ActionListingCreate)).Post("/", h.HandleCreate)
			authed.With(middleware.RequireCapability(writer, auth.ActionListingReserve)).Post("/{id}/reserve", h.HandleReserve)
			authed.With(middleware.RequireCapability(writer, auth.ActionListingUpdateOwn)).Patch("/{id}", h.HandleUpdate)
			authed.Delete("/{id}", h.HandleDelete)
		})
	})
}

func SetupTransactionRoutes(mux *chi.Mux, h *handler.TransactionHandler, a *middleware.Authenticator, writer *response.Writer) {
	participate := middleware.RequireCapability(writer, auth.ActionTransactionParticipate)
	mux.Route("/api/transactions", func(r chi.Router) {
		r.Use(a.JWTAuth)
		r.Get("/", h.HandleListMine)
		r.Get("/{id}", h.HandleGet)
		r.With(participate).Post("/{id}/messages", h.HandleSendMessage)
		r.With(participate).Post("/{id}/payment-proof", h.HandleUploadPaymentProof)
		r.Patch("/{id}/payment-received", h.HandleMarkPaymentReceived)
		r.Patch("/{id}/bank-account", h.HandleSetBankAccount)
		r.Patch("/{id}/confirm", h.HandleForceComplete)
		r.Patch("/{id}/cancel", h.HandleCancel)
		r.Post("/{id}/complete", h.HandleComplete)
	})
}

func SetupRatingRoutes(mux *chi.Mux, h *handler.RatingHandler, a *middleware.Authenticator, writer *response.Writer) {
	mux.Route("/api/ratings", func(r chi.Router) {
		r.Get("/user/{userId}", h.HandleListForUser)
		r.Group(func(authed chi.Router) {
			authed.Use(a.JWTAuth)
			authed.With(middleware.RequireCapability(writer, auth.ActionRatingWrite)).Post("/", h.HandleCreate)
			authed.Delete("/{ratingId}", h.HandleDelete)
		})
	})
}

func SetupActivityRoutes(mux *chi.Mux, h *handler.ActivityHandler, a *middleware.Authenticator, writer *response.Writer) {
	mux.Route("/api/activities", func(r chi.Router) {
		r.Use(a.JWTAuth)
		r.Get("/", h.HandleListMine)
		r.With(middleware.RequireCapability(writer, auth.ActionActivityViewAll)).Get("/all", h.HandleListAll)
		r.Get("/statistics", h.HandleStatistics)
	})
}

// SetupUserRoutes rate limits the unauthenticated account endpoints.
func SetupUserRoutes(mux *chi.Mux, h *handler.UserHandler, a *middleware.Authenticator, limiter *middleware.RateLimiter, writer *response.Writer) {
	mux.Route("/api/users", func(r chi.Router) {
		r.Group(func(public chi.Router) {
			if limiter != nil {
				public.Use(limiter.Handler)
			}
			public.Post("/send-verification", h.HandleSendVerification)
			public.Post("/verify-code", h.HandleVerifyCode)
			public.Post("/complete-registration", h.HandleCompleteRegistration)
			public.Post("/login", h.HandleLogin)
			public.Post("/forgot-password/send-code", h.HandleSendResetCode)
			public.Post("/forgot-password/verify-code", h.HandleVerifyResetCode)
			public.Post("/forgot-password/reset", h.HandleResetPassword)
		})
		r.Group(func(authed chi.Router) {
			authed.Use(a.JWTAuth)
			authed.Get("/profile", h.HandleGetProfile)
			authed.Patch("/profile", h.HandleUpdateProfile)
			authed.Patch("/password", h.HandleUpdatePassword)
			authed.Get("/login-history", h.HandleLoginHistory)
			authed.Delete("/account", h.HandleDeleteAccount)
			authed.With(middleware.RequireCapability(writer, auth.ActionUserManageRoles)).Patch("/role/{userId}", h.HandleUpdateRole)
		})
	})
}
