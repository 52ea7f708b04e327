package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errUnknownPeer = errors.New("unknown peer")

// clientFrame is what a websocket client sends.
type clientFrame struct {
	Type string `json:"type"` // "message" | "typing"
	To   string `json:"to"`
	Body string `json:"body,omitempty"`
}

// chatMessage is a persisted message as delivered to clients.
type chatMessage struct {
	ID       string          `json:"id"`
	ChatID   string          `json:"chat_id"`
	From     string          `json:"from"`
	To       string          `json:"to,omitempty"`
	Body     string          `json:"body"`
	Kind     string          `json:"kind"` // text | audio | video
	MediaURL *string         `json:"media_url,omitempty"`
	Ts       time.Time       `json:"ts"`
	Sender   *profileSummary `json:"sender,omitempty"`
}

// Client is one websocket connection of a user.
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan serverEvent
}

// Hub tracks connections per user; a user may have several.
type Hub struct {
	clientsByUser map[string]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
	wsConnections.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		if peers[c] {
			wsConnections.Dec()
		}
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

// sendToUser queues evt on each of the user's connections. A full buffer drops the event.
func (h *Hub) sendToUser(userID string, evt serverEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.send <- evt:
		default:
		}
	}
}

func (h *Hub) broadcast(evt serverEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, peers := range h.clientsByUser {
		for c := range peers {
			select {
			case c.send <- evt:
			default:
			}
		}
	}
}

func (h *Hub) connectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser)
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
}

// GET /ws/chat?token=...
func wsChatHandler(db *sql.DB, hub *Hub, bus *eventBus, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade", "user_id", userID, "error", err)
			return
		}

		client := &Client{
			userID: userID,
			conn:   conn,
			send:   make(chan serverEvent, 16),
		}
		hub.register(client)
		client.send <- serverEvent{Type: eventInfo, Data: "connected"}

		go clientWriter(client)
		clientReader(db, hub, bus, client)
	}
}

func clientReader(db *sql.DB, hub *Hub, bus *eventBus, c *Client) {
	defer func() {
		hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.reply(serverEvent{Type: eventError, Data: "invalid message format"})
			continue
		}
		if frame.Type != eventMessage && frame.Type != eventTyping {
			c.reply(serverEvent{Type: eventError, Data: "unknown message type"})
			continue
		}
		if _, err := uuid.Parse(frame.To); err != nil || frame.To == c.userID {
			c.reply(serverEvent{Type: eventError, Data: "invalid recipient"})
			continue
		}

		switch frame.Type {
		case eventMessage:
			body := strings.TrimSpace(frame.Body)
			if body == "" {
				c.reply(serverEvent{Type: eventError, Data: "empty message"})
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			msg, err := saveChatMessage(ctx, db, c.userID, frame.To, "text", body, nil)
			cancel()
			if err != nil {
				if !errors.Is(err, errUnknownPeer) {
					slog.Error("save chat message", "from", c.userID, "to", frame.To, "error", err)
				}
				c.reply(serverEvent{Type: eventError, Data: "cannot send message"})
				continue
			}
			deliverMessage(bus, msg)

		case eventTyping:
			bus.sendToUser(frame.To, serverEvent{Type: eventTyping, From: c.userID})
		}
	}
}

// reply queues an event for this connection only, dropping it if the buffer is full.
func (c *Client) reply(evt serverEvent) {
	select {
	case c.send <- evt:
	default:
	}
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliverMessage sends to the recipient and echoes to the sender's other tabs.
func deliverMessage(bus *eventBus, msg chatMessage) {
	evt := serverEvent{Type: eventMessage, From: msg.From, Data: msg}
	bus.sendToUser(msg.To, evt)
	bus.sendToUser(msg.From, evt)
}

// findOrCreateChat returns the single chat shared by a and b. The advisory
// lock serializes concurrent first messages between the same pair.
func findOrCreateChat(ctx context.Context, tx *sql.Tx, a, b string) (string, error) {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lo+":"+hi); err != nil {
		return "", fmt.Errorf("lock chat pair: %w", err)
	}

	chatID, err := lookupChat(ctx, tx, a, b)
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return chatID, err
	}

	if err := tx.QueryRowContext(ctx, `INSERT INTO chats DEFAULT VALUES RETURNING id`).Scan(&chatID); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`, chatID, a, b); err != nil {
		return "", fmt.Errorf("add chat participants: %w", err)
	}
	return chatID, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookupChat(ctx context.Context, q queryRower, a, b string) (string, error) {
	var chatID string
	err := q.QueryRowContext(ctx, `
		SELECT cp1.chat_id
		FROM chat_participants cp1
		JOIN chat_participants cp2 ON cp2.chat_id = cp1.chat_id
		WHERE cp1.user_id = $1 AND cp2.user_id = $2
		LIMIT 1`, a, b).Scan(&chatID)
	return chatID, err
}

func saveChatMessage(ctx context.Context, db *sql.DB, from, to, kind, body string, mediaURL *string) (chatMessage, error) {
	msg := chatMessage{From: from, To: to, Body: body, Kind: kind, MediaURL: mediaURL}
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, to).Scan(&exists); err != nil {
			return fmt.Errorf("check peer: %w", err)
		}
		if !exists {
			return errUnknownPeer
		}

		chatID, err := findOrCreateChat(ctx, tx, from, to)
		if err != nil {
			return err
		}
		msg.ChatID = chatID

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (chat_id, sender_id, content, type, media_url)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			chatID, from, body, kind, mediaURL,
		).Scan(&msg.ID, &msg.Ts); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE chats SET last_message_at = $2 WHERE id = $1`, chatID, msg.Ts)
		return err
	})
	if err != nil {
		return chatMessage{}, err
	}
	chatMessagesTotal.WithLabelValues(kind).Inc()
	return msg, nil
}

// getChatMessages returns up to limit messages older than before, oldest first.
func getChatMessages(ctx context.Context, db *sql.DB, userID, peerID string, limit int, before *time.Time) ([]chatMessage, error) {
	chatID, err := lookupChat(ctx, db, userID, peerID)
	if errors.Is(err, sql.ErrNoRows) {
		return []chatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve chat: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, sender_id, content, type, media_url, created_at
		FROM messages
		WHERE chat_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, chatID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]chatMessage, 0, limit)
	for rows.Next() {
		m := chatMessage{ChatID: chatID}
		var mediaURL sql.NullString
		if err := rows.Scan(&m.ID, &m.From, &m.Body, &m.Kind, &mediaURL, &m.Ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if mediaURL.Valid {
			m.MediaURL = &mediaURL.String
		}
		if m.From == userID {
			m.To = peerID
		} else {
			m.To = userID
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// chatMediaKind classifies a voice or video clip. requested is the client's
// "kind" form field; WebM and Ogg carry either, so they follow it. Without
// a requested kind the sniffed type decides.
func chatMediaKind(ctype, requested string) (string, bool) {
	isAudio := strings.HasPrefix(ctype, "audio/")
	isVideo := strings.HasPrefix(ctype, "video/")
	either := ctype == "video/webm" || ctype == "application/ogg"

	switch requested {
	case "":
		switch {
		case isAudio, ctype == "application/ogg":
			return "audio", true
		case isVideo:
			return "video", true
		}
	case "audio":
		if isAudio || either {
			return "audio", true
		}
	case "video":
		if isVideo || either {
			return "video", true
		}
	}
	return "", false
}

// GET /chats/{peerID}/messages?limit=50&before=RFC3339
// POST /chats/{peerID}/media (multipart "file", optional "kind" audio|video and "body")
func chatsHandler(db *sql.DB, uploads uploadStore, bus *eventBus) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		if len(parts) != 3 || parts[0] != "chats" {
			http.NotFound(w, r)
			return
		}
		me, peer := currentUserID(r), parts[1]
		if _, err := uuid.Parse(peer); err != nil || peer == me {
			writeError(w, http.StatusBadRequest, "invalid_peer")
			return
		}

		switch {
		case parts[2] == "messages" && r.Method == http.MethodGet:
			chatHistory(w, r, db, me, peer)
		case parts[2] == "media" && r.Method == http.MethodPost:
			chatMedia(w, r, db, uploads, bus, me, peer)
		case parts[2] == "messages" || parts[2] == "media":
			writeError(w, http.StatusMethodNotAllowed, "invalid_method")
		default:
			http.NotFound(w, r)
		}
	})
}

func chatHistory(w http.ResponseWriter, r *http.Request, db *sql.DB, me, peer string) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var before *time.Time
	if s := r.URL.Query().Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_before")
			return
		}
		before = &t
	}

	msgs, err := getChatMessages(r.Context(), db, me, peer, limit, before)
	if err != nil {
		slog.Error("fetch chat history", "user_id", me, "peer_id", peer, "error", err)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	senders, err := loadSummaries(r.Context(), db, []string{me, peer})
	if err != nil {
		slog.Warn("load message senders", "error", err)
	}
	for i := range msgs {
		msgs[i].Sender = senders[msgs[i].From]
	}
	writeJSON(w, http.StatusOK, msgs)
}

func chatMedia(w http.ResponseWriter, r *http.Request, db *sql.DB, uploads uploadStore, bus *eventBus, me, peer string) {
	f, ctype, ok := readUpload(w, r, maxMediaBytes)
	if !ok {
		return
	}
	defer f.Close()

	requested := strings.TrimSpace(r.FormValue("kind"))
	if requested != "" && requested != "audio" && requested != "video" {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}
	kind, ok := chatMediaKind(ctype, requested)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported_media_type")
		return
	}

	url, err := uploads.save("chat", ctype, f)
	if err != nil {
		slog.Error("save chat media", "user_id", me, "error", err)
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	msg, err := saveChatMessage(r.Context(), db, me, peer, kind, strings.TrimSpace(r.FormValue("body")), &url)
	if err != nil {
		_ = uploads.remove(url)
		if errors.Is(err, errUnknownPeer) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		slog.Error("save chat media message", "user_id", me, "peer_id", peer, "error", err)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	deliverMessage(bus, msg)
	writeJSON(w, http.StatusCreated, msg)
}
