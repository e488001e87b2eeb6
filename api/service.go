// Package api is the read surface over the catalog: paginated listing,
// single-creative lookup, account stats, and counter-task creation.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/pubwatch/catalog"
	"github.com/hazyhaar/pubwatch/idgen"
	"github.com/hazyhaar/pubwatch/kit"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
)

// Service serves the query API over the catalog store.
type Service struct {
	store  *catalog.Store
	logger *slog.Logger
}

// NewService builds the query service.
func NewService(store *catalog.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// RegisterHTTP mounts the routes on the router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Use(requestContext)
	r.Get("/ads", s.handleListAds)
	r.Get("/ads/stats", s.handleStats)
	r.Get("/ads/{id}", s.handleGetAd)
	r.Post("/ads/{id}/counter-task", s.handleCounterTask)
}

// requestContext copies per-request metadata into the context carried by
// the transport-agnostic endpoints, so log lines from deep in the store
// can be correlated with one inbound call.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		if id := chimw.GetReqID(r.Context()); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GET /ads?accountId&competitorId?&platform?&pageSize?&dateFrom?&dateTo?&cursor?
func (s *Service) handleListAds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var invalid []fieldError

	filter := catalog.ListFilter{
		AccountID:    strings.TrimSpace(q.Get("accountId")),
		CompetitorID: strings.TrimSpace(q.Get("competitorId")),
	}
	if filter.AccountID == "" {
		invalid = append(invalid, fieldError{"accountId", "required"})
	}

	if p := q.Get("platform"); p != "" {
		platform := catalog.Platform(p)
		if !catalog.ValidPlatform(platform) {
			invalid = append(invalid, fieldError{"platform", "must be one of meta, google, tiktok"})
		}
		filter.Platform = platform
	}

	pageSize := defaultPageSize
	if raw := q.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			invalid = append(invalid, fieldError{"pageSize", "must be an integer in [1, 100]"})
		} else {
			pageSize = n
		}
	}

	if raw := q.Get("dateFrom"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			invalid = append(invalid, fieldError{"dateFrom", "must be RFC 3339 or YYYY-MM-DD"})
		} else {
			filter.DateFrom = t
		}
	}
	if raw := q.Get("dateTo"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			invalid = append(invalid, fieldError{"dateTo", "must be RFC 3339 or YYYY-MM-DD"})
		} else {
			filter.DateTo = t
		}
	}

	if len(invalid) > 0 {
		writeValidationError(w, invalid)
		return
	}

	// A malformed cursor restarts the scan rather than erroring; stale
	// bookmarks from clients are routine, not exceptional.
	cursor := catalog.DecodeCursor(q.Get("cursor"))

	page, err := s.store.List(r.Context(), filter, cursor, pageSize)
	if err != nil {
		s.logger.Error("list ads failed", "request_id", kit.GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /ads/{id}
func (s *Service) handleGetAd(w http.ResponseWriter, r *http.Request) {
	// Lookup uses the canonical form: stored ids are lowercase and the
	// path segment may not be.
	id, err := idgen.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, []fieldError{{"id", "must be a UUID"}})
		return
	}

	ad, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get ad failed", "ad_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ad == nil {
		writeError(w, http.StatusNotFound, "ad not found")
		return
	}
	writeJSON(w, http.StatusOK, ad)
}

// GET /ads/stats?accountId
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		writeValidationError(w, []fieldError{{"accountId", "required"}})
		return
	}

	stats, err := s.store.Stats(r.Context(), accountID)
	if err != nil {
		s.logger.Error("stats failed", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// counterTaskRequest is the body for POST /ads/{id}/counter-task.
type counterTaskRequest struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
}

// POST /ads/{id}/counter-task
func (s *Service) handleCounterTask(w http.ResponseWriter, r *http.Request) {
	id, err := idgen.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, []fieldError{{"id", "must be a UUID"}})
		return
	}

	var req counterTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeValidationError(w, []fieldError{{"title", "required"}})
		return
	}

	ad, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("counter task lookup failed", "ad_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ad == nil {
		writeError(w, http.StatusNotFound, "ad not found")
		return
	}

	task, err := s.store.InsertCounterTask(r.Context(), &catalog.CounterTask{
		AdID:  id,
		Title: req.Title,
		Notes: req.Notes,
	})
	if err != nil {
		s.logger.Error("counter task insert failed", "ad_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("counter task created",
		"ad_id", id,
		"task_id", task.ID,
		"remote_addr", kit.GetRemoteAddr(r.Context()))
	writeJSON(w, http.StatusCreated, task)
}

// parseDate accepts RFC 3339 timestamps or bare dates. A bare dateTo is
// pushed to the end of its day so the range stays inclusive.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
