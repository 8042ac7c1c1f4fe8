// Package handler adapts the REST surface onto the usecases.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
)

const maxJSONBody = 1 << 20

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Validationf("request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.Validationf("request body is too large")
		}
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

func urlID(r *http.Request, key string) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, key))
	if id == "" {
		return "", domain.Validationf("missing %s", key)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter; zero means unset.
func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer", key)
	}
	return n, nil
}

func pageParams(r *http.Request) (page, limit int, err error) {
	if page, err = queryInt(r, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// queryDate accepts RFC 3339 timestamps or plain dates. A plain endDate
// covers the whole day.
func queryDate(r *http.Request, key string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, domain.Validationf("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
