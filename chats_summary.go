package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// chatSummary is one conversation in the caller's chat list.
type chatSummary struct {
	ChatID        string          `json:"chat_id"`
	Peer          *profileSummary `json:"peer"`
	LastMessage   string          `json:"last_message,omitempty"`
	LastKind      string          `json:"last_kind,omitempty"`
	LastMessageAt *time.Time      `json:"last_message_at,omitempty"`
	IsOnline      bool            `json:"is_online"`
}

// listChatSummaries returns every chat the user takes part in, newest activity first.
func listChatSummaries(ctx context.Context, db *sql.DB, userID string) ([]chatSummary, error) {
	// 1) mine = chats I take part in, with the other participant
	// 2) latest = newest message per chat
	const q = `
WITH mine AS (
  SELECT c.id AS chat_id, c.last_message_at, other.user_id AS peer_id
  FROM chats c
  JOIN chat_participants me ON me.chat_id = c.id AND me.user_id = $1
  JOIN chat_participants other ON other.chat_id = c.id AND other.user_id <> $1
),
latest AS (
  SELECT DISTINCT ON (m.chat_id) m.chat_id, m.content, m.type
  FROM messages m
  JOIN mine ON mine.chat_id = m.chat_id
  ORDER BY m.chat_id, m.created_at DESC, m.id DESC
)
SELECT
  mine.chat_id,
  mine.peer_id,
  COALESCE(latest.content, ''),
  COALESCE(latest.type, ''),
  mine.last_message_at,
  COALESCE(u.last_online > now() - INTERVAL '90 seconds', false)
FROM mine
JOIN users u ON u.id = mine.peer_id
LEFT JOIN latest ON latest.chat_id = mine.chat_id
ORDER BY mine.last_message_at DESC NULLS LAST, mine.chat_id`

	rows, err := db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat summaries: %w", err)
	}
	defer rows.Close()

	out := []chatSummary{}
	var peerIDs []string
	for rows.Next() {
		var (
			s      chatSummary
			peerID string
			lastAt sql.NullTime
		)
		if err := rows.Scan(&s.ChatID, &peerID, &s.LastMessage, &s.LastKind, &lastAt, &s.IsOnline); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		if lastAt.Valid {
			t := lastAt.Time
			s.LastMessageAt = &t
		}
		s.Peer = &profileSummary{ID: peerID}
		peerIDs = append(peerIDs, peerID)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat summaries: %w", err)
	}
	if len(peerIDs) == 0 {
		return out, nil
	}

	peers, err := loadSummaries(ctx, db, peerIDs)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if p, ok := peers[out[i].Peer.ID]; ok {
			out[i].Peer = p
		}
	}
	return out, nil
}

// GET /chats
func chatListHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
			return
		}
		me := currentUserID(r)
		chats, err := listChatSummaries(r.Context(), db, me)
		if err != nil {
			slog.Error("list chats", "user_id", me, "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, chats)
	})
}
