// Package response writes the JSON envelope shared by every endpoint:
// {"status": "success"|"error", "data": ..., "message": ...}.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Writer renders envelopes. Internal error details are only exposed when
// Debug is set.
type Writer struct {
	Logger *logger.Logger
	Debug  bool
}

func NewWriter(log *logger.Logger, debug bool) *Writer {
	return &Writer{Logger: log.Named("http.response"), Debug: debug}
}

func (rw *Writer) JSON(w http.ResponseWriter, code int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		rw.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (rw *Writer) Success(w http.ResponseWriter, code int, data any) {
	rw.JSON(w, code, Envelope{Status: StatusSuccess, Data: data})
}

func (rw *Writer) Message(w http.ResponseWriter, code int, message string) {
	rw.JSON(w, code, Envelope{Status: StatusSuccess, Message: message})
}

func (rw *Writer) Fail(w http.ResponseWriter, code int, message string) {
	rw.JSON(w, code, Envelope{Status: StatusError, Message: message})
}

type classification struct {
	sentinel error
	code     int
	fallback string
}

var classifications = []classification{
	{domain.ErrValidation, http.StatusBadRequest, "invalid request"},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "authentication required"},
	{domain.ErrForbidden, http.StatusForbidden, "permission denied"},
	{domain.ErrNotFound, http.StatusNotFound, "resource not found"},
	{domain.ErrStateConflict, http.StatusConflict, "request conflicts with the current state"},
	{domain.ErrUpstream, http.StatusBadGateway, "a dependent service is unavailable"},
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return http.StatusInternalServerError
}

type banDetails struct {
	BanReason        string     `json:"banReason,omitempty"`
	BannedUntil      *time.Time `json:"bannedUntil,omitempty"`
	RemainingMinutes int        `json:"remainingMinutes,omitempty"`
	Permanent        bool       `json:"permanent"`
}

// Error classifies err and writes the matching error envelope.
func (rw *Writer) Error(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	env := Envelope{Status: StatusError, Message: rw.message(err, code)}

	var banErr *domain.BanError
	if errors.As(err, &banErr) {
		env.Data = banDetails{
			BanReason:        banErr.Reason,
			BannedUntil:      banErr.BannedUntil,
			RemainingMinutes: banErr.RemainingMinutes(),
			Permanent:        banErr.Permanent(),
		}
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", code),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		rw.Logger.Error("Request failed", fields...)
	} else {
		rw.Logger.Debug("Request rejected", fields...)
	}
	rw.JSON(w, code, env)
}

// message returns the client-facing part of err: the text following the
// taxonomy prefix for domain errors, a generic text for server faults.
func (rw *Writer) message(err error, code int) string {
	for _, c := range classifications {
		if !errors.Is(err, c.sentinel) {
			continue
		}
		if code >= http.StatusInternalServerError && !rw.Debug {
			return c.fallback
		}
		msg := err.Error()
		prefix := c.sentinel.Error() + ": "
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
		return msg
	}
	if rw.Debug {
		return "internal server error: " + err.Error()
	}
	return "internal server error"
}
