package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxAvatarBytes = 5 << 20
	maxMediaBytes  = 25 << 20
	uploadsPrefix  = "/uploads/"
)

var extensionsByType = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/avi":       ".avi",
	"audio/mpeg":      ".mp3",
	"audio/wave":      ".wav",
	"audio/aiff":      ".aiff",
	"application/ogg": ".ogg",
}

// uploadStore keeps user files on local disk under root/<area>/.
type uploadStore struct {
	root string
}

// sniffContentType detects the type from the first 512 bytes, then rewinds.
func sniffContentType(f multipart.File) (string, error) {
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	ctype, _, _ := strings.Cut(http.DetectContentType(head[:n]), ";")
	return ctype, nil
}

// save writes src to a fresh file in area and returns its public URL.
func (s uploadStore) save(area, ctype string, src io.Reader) (string, error) {
	dir := filepath.Join(s.root, area)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	ext, ok := extensionsByType[ctype]
	if !ok {
		ext = ".bin"
	}
	name := uuid.NewString() + ext
	dst := filepath.Join(dir, name)
	tmp := dst + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename upload: %w", err)
	}
	return path.Join(uploadsPrefix, area, name), nil
}

// remove deletes the file behind a URL returned by save. Unknown URLs are ignored.
func (s uploadStore) remove(url string) error {
	rel, ok := strings.CutPrefix(url, uploadsPrefix)
	if !ok {
		return nil
	}
	area, name, ok := strings.Cut(rel, "/")
	if !ok || area == "" || area == "." || area == ".." || area != filepath.Base(area) {
		return nil
	}
	full := filepath.Join(s.root, area, filepath.Base(name))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload %q: %w", full, err)
	}
	return nil
}

func (s uploadStore) handler() http.Handler {
	return http.StripPrefix(strings.TrimSuffix(uploadsPrefix, "/"), http.FileServer(http.Dir(s.root)))
}

// readUpload parses a multipart form limited to max bytes and returns the "file" part and its sniffed type.
func readUpload(w http.ResponseWriter, r *http.Request, max int64) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, max+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
		return nil, "", false
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return nil, "", false
	}
	if hdr.Size > max {
		f.Close()
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
		return nil, "", false
	}
	ctype, err := sniffContentType(f)
	if err != nil {
		f.Close()
		slog.Error("sniff upload", "error", err)
		writeError(w, http.StatusInternalServerError, "read_failed")
		return nil, "", false
	}
	return f, ctype, true
}

// mediaKind classifies a profile media upload.
func mediaKind(ctype string) (string, bool) {
	switch {
	case strings.HasPrefix(ctype, "image/"):
		return "image", true
	case strings.HasPrefix(ctype, "video/"):
		return "video", true
	}
	return "", false
}

type userMedia struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	Caption   string    `json:"caption"`
	HobbyID   *string   `json:"hobby_id"`
	HobbyName *string   `json:"hobby_name"`
	CreatedAt time.Time `json:"created_at"`
}

func listUserMedia(ctx context.Context, db *sql.DB, userID string) ([]userMedia, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.url, m.type, m.caption, m.hobby_id, h.name, m.created_at
		FROM user_media m
		LEFT JOIN hobbies h ON h.id = m.hobby_id
		WHERE m.user_id = $1
		ORDER BY m.created_at DESC, m.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	media := []userMedia{}
	for rows.Next() {
		var m userMedia
		var hobbyID, hobbyName sql.NullString
		if err := rows.Scan(&m.ID, &m.URL, &m.Type, &m.Caption, &hobbyID, &hobbyName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		if hobbyID.Valid {
			m.HobbyID = &hobbyID.String
		}
		if hobbyName.Valid {
			m.HobbyName = &hobbyName.String
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

// GET/POST /me/media, DELETE /me/media/{id}
func myMediaHandler(db *sql.DB, uploads uploadStore) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		parts := pathParts(r)

		if len(parts) == 3 {
			if r.Method != http.MethodDelete {
				writeError(w, http.StatusMethodNotAllowed, "invalid_method")
				return
			}
			deleteMedia(w, r, db, uploads, me, parts[2])
			return
		}
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			media, err := listUserMedia(r.Context(), db, me)
			if err != nil {
				slog.Error("list media", "user_id", me, "error", err)
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			writeJSON(w, http.StatusOK, media)
		case http.MethodPost:
			uploadMedia(w, r, db, uploads, me)
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		}
	})
}

func uploadMedia(w http.ResponseWriter, r *http.Request, db *sql.DB, uploads uploadStore, me string) {
	f, ctype, ok := readUpload(w, r, maxMediaBytes)
	if !ok {
		return
	}
	defer f.Close()

	kind, ok := mediaKind(ctype)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported_media_type")
		return
	}

	var hobbyID *string
	if v := strings.TrimSpace(r.FormValue("hobby_id")); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hobby_id")
			return
		}
		hobbyID = &v
	}
	caption := strings.TrimSpace(r.FormValue("caption"))

	url, err := uploads.save("media", ctype, f)
	if err != nil {
		slog.Error("save media", "user_id", me, "error", err)
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	m := userMedia{URL: url, Type: kind, Caption: caption, HobbyID: hobbyID}
	err = db.QueryRowContext(r.Context(), `
		INSERT INTO user_media (user_id, hobby_id, url, type, caption)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		me, hobbyID, url, kind, caption,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		_ = uploads.remove(url)
		code := "db_error"
		status := http.StatusInternalServerError
		if isForeignKeyViolation(err) {
			code, status = "unknown_hobby", http.StatusBadRequest
		} else {
			slog.Error("insert media", "user_id", me, "error", err)
		}
		writeError(w, status, code)
		return
	}
	if hobbyID != nil {
		var name string
		if err := db.QueryRowContext(r.Context(), `SELECT name FROM hobbies WHERE id = $1`, *hobbyID).Scan(&name); err == nil {
			m.HobbyName = &name
		}
	}
	writeJSON(w, http.StatusCreated, m)
}

func deleteMedia(w http.ResponseWriter, r *http.Request, db *sql.DB, uploads uploadStore, me, mediaID string) {
	if _, err := uuid.Parse(mediaID); err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	var url string
	err := db.QueryRowContext(r.Context(),
		`DELETE FROM user_media WHERE id = $1 AND user_id = $2 RETURNING url`, mediaID, me,
	).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		slog.Error("delete media", "media_id", mediaID, "error", err)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := uploads.remove(url); err != nil {
		slog.Warn("remove media file", "url", url, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
