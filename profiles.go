package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hobbyme/hobbyme/matching"
)

// profilePatch is a partial update; nil fields are left untouched.
type profilePatch struct {
	Username  *string  `json:"username"`
	FullName  *string  `json:"full_name"`
	Bio       *string  `json:"bio"`
	Email     *string  `json:"email"`
	Phone     *string  `json:"phone"`
	Location  *string  `json:"location"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// validate trims string fields in place and returns an error code, or "".
func (p *profilePatch) validate() string {
	for _, f := range []*string{p.Username, p.FullName, p.Bio, p.Email, p.Phone, p.Location} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
	if p.Username != nil && *p.Username == "" {
		return "invalid_username"
	}
	if p.Email != nil && *p.Email != "" {
		if _, err := mail.ParseAddress(*p.Email); err != nil {
			return "invalid_email"
		}
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return "invalid_coordinates"
	}
	if p.Latitude != nil && !(matching.Coordinates{Latitude: *p.Latitude, Longitude: *p.Longitude}).Valid() {
		return "invalid_coordinates"
	}
	return ""
}

// resolveCoordinates decides the stored coordinates after applying p to current.
// change is false when the coordinates stay as they are.
func (p *profilePatch) resolveCoordinates(ctx context.Context, geo geocoder, current matching.Profile) (coords *matching.Coordinates, change bool) {
	if p.Latitude != nil {
		return &matching.Coordinates{Latitude: *p.Latitude, Longitude: *p.Longitude}, true
	}
	if p.Location == nil || *p.Location == current.Location {
		return nil, false
	}
	if *p.Location == "" || geo == nil {
		return nil, true
	}
	c, ok := geo.Geocode(ctx, *p.Location)
	if !ok {
		return nil, true
	}
	return &c, true
}

// updateProfile writes a validated patch.
func updateProfile(ctx context.Context, db *sql.DB, userID string, p profilePatch, coords *matching.Coordinates, coordsChange bool) error {
	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if p.Username != nil {
		set("username", *p.Username)
	}
	if p.FullName != nil {
		set("full_name", *p.FullName)
	}
	if p.Bio != nil {
		set("bio", *p.Bio)
	}
	if p.Email != nil {
		set("email", *p.Email)
	}
	if p.Phone != nil {
		set("phone", *p.Phone)
	}
	if p.Location != nil {
		set("location", *p.Location)
	}
	if coordsChange {
		if coords != nil {
			set("latitude", coords.Latitude)
			set("longitude", coords.Longitude)
		} else {
			set("latitude", nil)
			set("longitude", nil)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID)
	query := "UPDATE profiles SET " + strings.Join(sets, ", ") +
		", updated_at = now() WHERE id = $" + strconv.Itoa(len(args))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// GET/PATCH /me/profile
func meProfileHandler(db *sql.DB, store *pgStore, geo geocoder, bus *eventBus) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)

		current, err := store.FetchProfile(r.Context(), me)
		if err != nil {
			slog.Error("fetch profile", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if current == nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, current)
			return
		case http.MethodPatch:
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		var patch profilePatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		if code := patch.validate(); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}

		coords, change := patch.resolveCoordinates(r.Context(), geo, *current)
		if err := updateProfile(r.Context(), db, me, patch, coords, change); err != nil {
			if isUniqueViolation(err) {
				writeError(w, http.StatusConflict, "username_taken")
				return
			}
			slog.Error("update profile", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		updated, err := store.FetchProfile(r.Context(), me)
		if err != nil || updated == nil {
			slog.Error("reload profile", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		bus.profilesChanged()
		writeJSON(w, http.StatusOK, updated)
	})
}

type publicProfile struct {
	matching.Profile
	Media    []userMedia `json:"media"`
	IsOnline bool        `json:"is_online"`
}

// GET /users/{id}
func usersHandler(db *sql.DB, store *pgStore) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		parts := pathParts(r)
		if len(parts) != 2 || parts[0] != "users" {
			http.NotFound(w, r)
			return
		}
		targetID := parts[1]

		p, err := store.FetchProfile(r.Context(), targetID)
		if err != nil {
			slog.Error("fetch profile", "target_id", targetID, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if targetID != currentUserID(r) {
			*p = p.WithoutContact()
		}

		media, err := listUserMedia(r.Context(), db, targetID)
		if err != nil {
			slog.Error("list media", "target_id", targetID, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		online, err := isOnlineNow(r.Context(), db, targetID)
		if err != nil {
			// not critical, report offline
			online = false
		}
		writeJSON(w, http.StatusOK, publicProfile{Profile: *p, Media: media, IsOnline: online})
	})
}

func requireAdmin(db *sql.DB, next http.HandlerFunc) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		var isAdmin bool
		err := db.QueryRowContext(r.Context(),
			`SELECT is_admin FROM profiles WHERE id = $1`, currentUserID(r)).Scan(&isAdmin)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			slog.Error("check admin", "user_id", currentUserID(r), "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !isAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

// GET /admin/profiles, DELETE /admin/profiles/{id}
func adminProfilesHandler(db *sql.DB, store *pgStore, uploads uploadStore, bus *eventBus) http.HandlerFunc {
	return requireAdmin(db, func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			profiles, err := store.ListProfilesByUsername(r.Context())
			if err != nil {
				slog.Error("list profiles", "error", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, profiles)

		case len(parts) == 3 && r.Method == http.MethodDelete:
			target := parts[2]
			if _, err := uuid.Parse(target); err != nil {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
			if target == currentUserID(r) {
				writeError(w, http.StatusBadRequest, "cannot_delete_self")
				return
			}
			found, err := deleteUser(r.Context(), db, uploads, target)
			if err != nil {
				slog.Error("delete user", "target_id", target, "error", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if !found {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
			slog.Info("profile deleted by admin", "admin_id", currentUserID(r), "target_id", target)
			bus.profilesChanged()
			w.WriteHeader(http.StatusNoContent)

		case len(parts) == 2 || len(parts) == 3:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		default:
			http.NotFound(w, r)
		}
	})
}

// deleteUser removes the account (cascading to profile, memberships, media, messages) and its files.
func deleteUser(ctx context.Context, db *sql.DB, uploads uploadStore, userID string) (bool, error) {
	var files []string
	found := false
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT avatar_url FROM profiles WHERE id = $1 AND avatar_url IS NOT NULL
			UNION ALL
			SELECT url FROM user_media WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var url string
			if err := rows.Scan(&url); err != nil {
				rows.Close()
				return err
			}
			files = append(files, url)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		found = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if err := uploads.remove(f); err != nil {
			slog.Warn("remove user file", "url", f, "error", err)
		}
	}
	return found, nil
}
