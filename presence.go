package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
)

// POST /me/ping marks the caller as online now.
func mePingHandler() http.HandlerFunc {
	// authenticate already refreshes last_online
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// isOnlineNow reports whether the user was seen in the last 90 seconds.
func isOnlineNow(ctx context.Context, db *sql.DB, userID string) (bool, error) {
	var online bool
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(last_online > now() - INTERVAL '90 seconds', false)
		FROM users
		WHERE id = $1`, userID).Scan(&online)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return online, err
}
