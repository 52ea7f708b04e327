package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hobbyme/hobbyme/matching"
)

// categoryParam reads ?category=, defaulting to indoor.
func categoryParam(w http.ResponseWriter, r *http.Request) (matching.Category, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("category"))
	if raw == "" {
		return matching.Indoor, true
	}
	c, err := matching.ParseCategory(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_category")
		return "", false
	}
	return c, true
}

// GET /dashboard?category=indoor|outdoor&q=&location=
func dashboardHandler(svc *matching.Service) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		category, ok := categoryParam(w, r)
		if !ok {
			return
		}

		start := time.Now()
		d, err := svc.Dashboard(r.Context(), matching.DashboardRequest{
			ViewerID:       currentUserID(r),
			Category:       category,
			SearchTerm:     r.URL.Query().Get("q"),
			LocationFilter: r.URL.Query().Get("location"),
		})
		if err != nil {
			slog.Error("build dashboard", "user_id", currentUserID(r), "category", category, "error", err)
			writeError(w, http.StatusInternalServerError, "dashboard_error")
			return
		}
		dashboardDuration.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
		writeJSON(w, http.StatusOK, d)
	})
}

// GET /suggestions?category=
func suggestionsHandler(svc *matching.Service) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		category, ok := categoryParam(w, r)
		if !ok {
			return
		}
		matches, err := svc.Suggestions(r.Context(), currentUserID(r), category)
		if err != nil {
			slog.Error("fetch suggestions", "user_id", currentUserID(r), "error", err)
			writeError(w, http.StatusInternalServerError, "suggestions_error")
			return
		}
		writeJSON(w, http.StatusOK, matches)
	})
}
