package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const userIDKey ctxKey = "userID"

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 6
)

var jwtSecret = []byte(devJWTSecret)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type authResponse struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

// POST /register
func registerHandler(db *sql.DB, bus *eventBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		var req registerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Username = strings.TrimSpace(req.Username)
		req.FullName = strings.TrimSpace(req.FullName)
		if req.Email == "" || req.Password == "" || req.Username == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_email")
			return
		}
		if len(req.Password) < minPasswordLength {
			writeError(w, http.StatusBadRequest, "weak_password")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("hash password", "error", err)
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}

		var newID string
		err = withTx(r.Context(), db, func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(r.Context(),
				`INSERT INTO users (email, password_hash, last_online) VALUES ($1, $2, now()) RETURNING id`,
				req.Email, string(hash),
			).Scan(&newID); err != nil {
				return err
			}
			_, err := tx.ExecContext(r.Context(),
				`INSERT INTO profiles (id, username, full_name, email) VALUES ($1, $2, $3, $4)`,
				newID, req.Username, req.FullName, req.Email,
			)
			return err
		})
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				if strings.Contains(pqErr.Constraint, "username") {
					writeError(w, http.StatusConflict, "username_taken")
				} else {
					writeError(w, http.StatusConflict, "email_exists")
				}
				return
			}
			slog.Error("register user", "error", err)
			writeError(w, http.StatusInternalServerError, "register_error")
			return
		}

		token, err := issueToken(newID)
		if err != nil {
			slog.Error("issue token", "user_id", newID, "error", err)
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		bus.profilesChanged()
		writeJSON(w, http.StatusCreated, authResponse{Token: token, ID: newID})
	}
}

// POST /login
func loginHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		var userID, passwordHash string
		err := db.QueryRowContext(r.Context(),
			`SELECT id, password_hash FROM users WHERE email = $1`, req.Email,
		).Scan(&userID, &passwordHash)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			slog.Error("query user", "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		touchLastOnline(r.Context(), db, userID)

		token, err := issueToken(userID)
		if err != nil {
			slog.Error("issue token", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusOK, authResponse{Token: token, ID: userID})
	}
}

func issueToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(tokenTTL).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func parseUserIDFromJWT(tokenStr string) (string, bool) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", false
	}
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func getUserIDFromBearer(r *http.Request) (string, bool) {
	tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	return parseUserIDFromJWT(tokenStr)
}

// getUserIDFromRequest also accepts ?token= since browsers cannot set headers on websockets.
func getUserIDFromRequest(r *http.Request) (string, bool) {
	if id, ok := getUserIDFromBearer(r); ok {
		return id, true
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return parseUserIDFromJWT(q)
	}
	return "", false
}

func authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromBearer(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		touchLastOnline(r.Context(), db, userID)
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func touchLastOnline(ctx context.Context, db *sql.DB, userID string) {
	if db == nil {
		return
	}
	if _, err := db.ExecContext(ctx, `UPDATE users SET last_online = now() WHERE id = $1`, userID); err != nil {
		slog.Warn("update last_online", "user_id", userID, "error", err)
	}
}
