package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hobbyme/hobbyme/matching"
)

type hobby struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// GET /hobbies[?category=]
func hobbiesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		var filter string
		if raw := r.URL.Query().Get("category"); raw != "" {
			c, err := matching.ParseCategory(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_category")
				return
			}
			filter = string(c)
		}

		rows, err := db.QueryContext(r.Context(), `
			SELECT id, name, category
			FROM hobbies
			WHERE $1 = '' OR category = $1
			ORDER BY name`, filter)
		if err != nil {
			slog.Error("list hobbies", "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		hobbies := []hobby{}
		for rows.Next() {
			var h hobby
			if err := rows.Scan(&h.ID, &h.Name, &h.Category); err != nil {
				slog.Error("scan hobby", "error", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			hobbies = append(hobbies, h)
		}
		if err := rows.Err(); err != nil {
			slog.Error("iterate hobbies", "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, hobbies)
	}
}

type membershipInput struct {
	HobbyID    string `json:"hobby_id"`
	SkillLevel string `json:"skill_level"`
}

type membership struct {
	HobbyID    string
	SkillLevel matching.SkillLevel
}

// normalizeMemberships validates the input; repeated hobby ids keep their first entry.
func normalizeMemberships(in []membershipInput) ([]membership, string) {
	out := make([]membership, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, m := range in {
		id, err := uuid.Parse(m.HobbyID)
		if err != nil {
			return nil, "invalid_hobby_id"
		}
		skill, err := matching.ParseSkillLevel(m.SkillLevel)
		if err != nil {
			return nil, "invalid_skill_level"
		}
		key := id.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, membership{HobbyID: key, SkillLevel: skill})
	}
	return out, ""
}

// replaceMemberships swaps the user's membership set in one transaction.
func replaceMemberships(ctx context.Context, db *sql.DB, userID string, ms []membership) error {
	ids := make([]string, len(ms))
	skills := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.HobbyID
		skills[i] = string(m.SkillLevel)
	}
	return withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_hobbies WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear memberships: %w", err)
		}
		if len(ms) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_hobbies (user_id, hobby_id, skill_level)
			SELECT $1, h, s FROM unnest($2::uuid[], $3::text[]) AS t(h, s)`,
			userID, pq.Array(ids), pq.Array(skills))
		if err != nil {
			return fmt.Errorf("insert memberships: %w", err)
		}
		return nil
	})
}

// GET/PUT /me/hobbies
func myHobbiesHandler(db *sql.DB, store *pgStore, bus *eventBus) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)

		switch r.Method {
		case http.MethodGet:
		case http.MethodPut:
			var req struct {
				Hobbies []membershipInput `json:"hobbies"`
			}
			if !decodeJSON(w, r, &req) {
				return
			}
			ms, code := normalizeMemberships(req.Hobbies)
			if code != "" {
				writeError(w, http.StatusBadRequest, code)
				return
			}
			if err := replaceMemberships(r.Context(), db, me, ms); err != nil {
				if isForeignKeyViolation(err) {
					writeError(w, http.StatusBadRequest, "unknown_hobby")
					return
				}
				slog.Error("replace memberships", "user_id", me, "error", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			bus.profilesChanged()
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		p, err := store.FetchProfile(r.Context(), me)
		if err != nil {
			slog.Error("fetch memberships", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeJSON(w, http.StatusOK, p.Hobbies)
	})
}
