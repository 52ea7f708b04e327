package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// POST /me/avatar (multipart form, field "file"), DELETE /me/avatar
func myAvatarHandler(db *sql.DB, uploads uploadStore, bus *eventBus) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)

		switch r.Method {
		case http.MethodDelete:
			if err := removeAvatar(r.Context(), db, uploads, me); err != nil {
				slog.Error("remove avatar", "user_id", me, "error", err)
				writeError(w, http.StatusInternalServerError, "remove_failed")
				return
			}
			bus.profilesChanged()
			writeJSON(w, http.StatusOK, map[string]any{"avatar_url": nil})
			return
		case http.MethodPost:
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		f, ctype, ok := readUpload(w, r, maxAvatarBytes)
		if !ok {
			return
		}
		defer f.Close()
		if !avatarTypes[ctype] {
			writeError(w, http.StatusBadRequest, "unsupported_image_type")
			return
		}

		url, err := uploads.save("avatars", ctype, f)
		if err != nil {
			slog.Error("save avatar", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		var previous sql.NullString
		err = withTx(r.Context(), db, func(tx *sql.Tx) error {
			err := tx.QueryRowContext(r.Context(),
				`SELECT avatar_url FROM profiles WHERE id = $1 FOR UPDATE`, me,
			).Scan(&previous)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(r.Context(),
				`UPDATE profiles SET avatar_url = $1, updated_at = now() WHERE id = $2`, url, me)
			return err
		})
		if err != nil {
			_ = uploads.remove(url)
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusConflict, "profile_not_initialized")
				return
			}
			slog.Error("update avatar", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "db_update_failed")
			return
		}
		if previous.Valid {
			if err := uploads.remove(previous.String); err != nil {
				slog.Warn("remove previous avatar", "url", previous.String, "error", err)
			}
		}

		bus.profilesChanged()
		writeJSON(w, http.StatusOK, map[string]any{"avatar_url": url})
	})
}

func removeAvatar(ctx context.Context, db *sql.DB, uploads uploadStore, userID string) error {
	var previous sql.NullString
	err := db.QueryRowContext(ctx, `
		UPDATE profiles p SET avatar_url = NULL, updated_at = now()
		FROM (SELECT id, avatar_url FROM profiles WHERE id = $1 FOR UPDATE) old
		WHERE p.id = old.id
		RETURNING old.avatar_url`, userID,
	).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear avatar: %w", err)
	}
	if previous.Valid {
		return uploads.remove(previous.String)
	}
	return nil
}
