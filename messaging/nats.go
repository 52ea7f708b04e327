// Package messaging wraps a NATS connection for fanning real-time events out
// across server instances. Events addressed to a user travel on a per-user
// subject; profile changes travel on a single broadcast subject.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects.
const (
	SubjectUser      = "hobbyme.user" // + .<user_id>
	SubjectBroadcast = "hobbyme.broadcast"
)

// Envelope is the wire format for every event on the bus.
type Envelope struct {
	To   string          `json:"to,omitempty"` // empty for broadcasts
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an envelope, embedding data as JSON.
func Encode(to, typ, from string, data any) ([]byte, error) {
	env := Envelope{To: to, Type: typ, From: from}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses an envelope and checks it carries a type.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decode envelope: missing type")
	}
	return env, nil
}

// UserSubject returns the subject events for userID are published on.
func UserSubject(userID string) string {
	return SubjectUser + "." + userID
}

// userFromSubject extracts the user id from a per-user subject.
func userFromSubject(subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, SubjectUser+".")
	return id, ok && id != ""
}

// NATSConfig holds connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "hobbyme",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient wraps the NATS connection and tracks subscriptions for cleanup.
type NATSClient struct {
	conn   *nats.Conn
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	logger *slog.Logger
}

// NewNATSClient connects to NATS and returns a ready client.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	logger := slog.Default().With("component", "nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn:   nc,
		subs:   make(map[string]*nats.Subscription),
		logger: logger,
	}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler and keeps the subscription for Close.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// PublishToUser publishes an event for a single user.
func (c *NATSClient) PublishToUser(userID string, data []byte) error {
	return c.Publish(UserSubject(userID), data)
}

// PublishBroadcast publishes an event for every connected user.
func (c *NATSClient) PublishBroadcast(data []byte) error {
	return c.Publish(SubjectBroadcast, data)
}

// SubscribeUsers receives every per-user event, passing the target user id.
func (c *NATSClient) SubscribeUsers(handler func(userID string, data []byte)) error {
	return c.Subscribe(SubjectUser+".*", func(msg *nats.Msg) {
		id, ok := userFromSubject(msg.Subject)
		if !ok {
			c.logger.Warn("dropping event with bad subject", "subject", msg.Subject)
			return
		}
		handler(id, msg.Data)
	})
}

// SubscribeBroadcast receives broadcast events.
func (c *NATSClient) SubscribeBroadcast(handler func(data []byte)) error {
	return c.Subscribe(SubjectBroadcast, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all subscriptions and the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", "subject", subject, "error", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("drain connection", "error", err)
	}
}
