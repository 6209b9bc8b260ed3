// Package transport implements the duplex server connection (C11): a
// gorilla/websocket client that registers on connect, heartbeats,
// reconnects with jittered exponential backoff, and delivers inbound
// messages back into the pipeline domain for dispatch.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionState tracks whether the transport may keep attempting to
// reconnect.
type SessionState string

const (
	SessionValid         SessionState = "valid"
	SessionExpired        SessionState = "session_expired"
	SessionAuthFailed     SessionState = "auth_failed"
	SessionBillingExpired SessionState = "billing_expired"
)

// Config controls connection, heartbeat and reconnect behavior.
type Config struct {
	ServerURL          string
	BearerToken        string
	HeartbeatInterval  time.Duration // default 30s, may be replaced by server welcome
	ReconnectBaseDelay time.Duration // default 1s
	ReconnectMaxDelay  time.Duration // default 5m
	ReconnectJitter    float64       // default 0.3 (±30%)
}

// DefaultConfig returns the spec's default transport timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  30 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  5 * time.Minute,
		ReconnectJitter:    0.3,
	}
}

// RegisterInfo is sent immediately on connect.
type RegisterInfo struct {
	DeviceID string `json:"device_id"`
	TenantID string `json:"tenant_id"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

// InboundHandler is called with every decoded inbound message, on the
// pipeline domain. dispatch-by-type happens in the pipeline's
// HandleInbound, which verifies HMAC signatures with
// escalation.VerifyInbound; this package only decodes the envelope.
type InboundHandler func(msgType string, body json.RawMessage, rawSignature string)

// Client owns one websocket connection and its reconnect state.
type Client struct {
	cfg      Config
	register RegisterInfo
	log      *zap.Logger
	onInbound InboundHandler

	mu       sync.Mutex
	conn     *websocket.Conn
	connected bool
	session  SessionState

	heartbeatInterval time.Duration
}

// New creates a Client. onInbound is invoked from the client's read
// loop goroutine; callers that need single-threaded pipeline semantics
// must hop back onto their own domain inside the handler.
func New(cfg Config, register RegisterInfo, onInbound InboundHandler, log *zap.Logger) *Client {
	return &Client{
		cfg:               cfg,
		register:          register,
		onInbound:         onInbound,
		log:               log,
		session:           SessionValid,
		heartbeatInterval: cfg.HeartbeatInterval,
	}
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SessionState returns the current session validity.
func (c *Client) SessionState() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Run owns the connect/read/reconnect loop until ctx is canceled.
// Reconnection ceases once the session is marked invalid by an inbound
// session_expired/auth_failed/billing_expired message.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if c.SessionState() != SessionValid {
			c.log.Warn("transport: session invalid, reconnects suspended until operator intervention", zap.String("state", string(c.SessionState())))
			return
		}

		if err := c.connectAndServe(ctx); err != nil {
			c.log.Warn("transport: connection ended", zap.Error(err))
		}

		if ctx.Err() != nil {
			return
		}

		delay := backoffDelay(attempt, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, c.cfg.ReconnectJitter)
		attempt++
		c.log.Info("transport: reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes a capped exponential backoff with ±jitter.
func backoffDelay(attempt int, base, max time.Duration, jitter float64) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		result = base
	}
	return result
}

func (c *Client) connectAndServe(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.BearerToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.ServerURL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := conn.WriteJSON(envelope{Type: "register", Body: mustMarshal(c.register)}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	c.log.Info("transport: connected and registered", zap.String("device_id", c.register.DeviceID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeatLoop(ctx)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleInbound(env)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	c.mu.Lock()
	interval := c.heartbeatInterval
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			current := c.heartbeatInterval
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if current != interval {
				interval = current
				ticker.Reset(interval)
			}
			if err := conn.WriteJSON(envelope{Type: "heartbeat"}); err != nil {
				c.log.Warn("transport: heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

// envelope is the wire-level message shape: every inbound/outbound
// message is dispatched by Type.
type envelope struct {
	Type      string          `json:"type"`
	Body      json.RawMessage `json:"body,omitempty"`
	Signature string          `json:"_signature,omitempty"`
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func (c *Client) handleInbound(env envelope) {
	switch env.Type {
	case "welcome":
		c.applyWelcome(env.Body)
	case "session_expired", "auth_failed", "billing_expired":
		c.mu.Lock()
		c.session = SessionState(env.Type)
		c.mu.Unlock()
	}
	if c.onInbound != nil {
		c.onInbound(env.Type, env.Body, env.Signature)
	}
}

type welcomeBody struct {
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"`
}

func (c *Client) applyWelcome(body json.RawMessage) {
	var w welcomeBody
	if err := json.Unmarshal(body, &w); err != nil || w.HeartbeatIntervalSeconds <= 0 {
		return
	}
	c.mu.Lock()
	c.heartbeatInterval = time.Duration(w.HeartbeatIntervalSeconds) * time.Second
	c.mu.Unlock()
}

// Send writes one outbound message. Returns an error (not a panic) if
// not currently connected; callers fall back to local handling (e.g.
// creating a Manual Ticket) on error.
func (c *Client) Send(msgType string, body any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	return conn.WriteJSON(envelope{Type: msgType, Body: mustMarshal(body)})
}
