// Package hub serves authenticated live connections and fans account-scoped
// mailbox events out to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"ravenmail/internal/conf"
	"ravenmail/internal/events"
	"ravenmail/internal/metrics"
	"ravenmail/internal/models"
	"ravenmail/internal/session"
)

// Close status codes
const (
	closePolicyViolation = 1008
	closeGoingAway       = 1001
)

const maxClientFrameBytes = 64 << 10

// SessionResolver derives identity from the session cookie
type SessionResolver interface {
	CookieName() string
	Resolve(ctx context.Context, raw string) (*models.Identity, error)
}

// AccountResolver lists the mail accounts a user owns
type AccountResolver interface {
	AccountIDsFor(ctx context.Context, userID string) ([]string, error)
}

// Hub accepts live connections and broadcasts events to them
type Hub struct {
	sessions SessionResolver
	accounts AccountResolver
	cfg      conf.HubConfig
	origins  []string
	log      *zap.SugaredLogger

	registry *registry
	server   websocket.Server

	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup
}

// New creates a hub. An empty allowedOrigins list accepts any origin.
func New(sessions SessionResolver, accounts AccountResolver, cfg conf.HubConfig, allowedOrigins []string, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		sessions: sessions,
		accounts: accounts,
		cfg:      cfg,
		origins:  allowedOrigins,
		log:      log,
		registry: newRegistry(),
	}
	h.server = websocket.Server{
		Handshake: h.checkOrigin,
		Handler:   h.handle,
	}
	return h
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// ServeHTTP upgrades the request to a websocket
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

func (h *Hub) checkOrigin(config *websocket.Config, r *http.Request) error {
	if len(h.origins) == 0 {
		return nil
	}
	origin, err := websocket.Origin(config, r)
	if err != nil || origin == nil {
		return fmt.Errorf("missing origin")
	}
	got := origin.Scheme + "://" + origin.Host
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), got) {
			return nil
		}
	}
	return fmt.Errorf("origin %s not allowed", got)
}

type clientMessage struct {
	Type string `json:"type"`
}

type eventFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type connectedFrame struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	AccountCount int    `json:"accountCount"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type timestampFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Hub) handle(ws *websocket.Conn) {
	ws.MaxPayloadBytes = maxClientFrameBytes

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		h.reject(ws, "server shutting down", closeGoingAway)
		return
	}
	h.handlers.Add(1)
	h.mu.Unlock()
	defer h.handlers.Done()

	conn := newConnection(ws, h.cfg.SendQueueSize)
	identity, accountIDs, err := h.authenticate(ws.Request())
	if err != nil {
		h.log.Infof("Rejected live connection from %s: %v", ws.Request().RemoteAddr, err)
		h.reject(ws, rejectMessage(err), closePolicyViolation)
		return
	}

	conn.authenticate(*identity, accountIDs)
	go conn.writeLoop()

	// The acknowledgement is queued before registration so it is always the
	// first frame the client sees.
	_ = conn.send(mustMarshal(connectedFrame{
		Type:         "connected",
		UserID:       identity.UserID,
		AccountCount: conn.accountCount(),
	}))
	h.registry.add(conn)
	metrics.HubConnections.Inc()
	if h.isClosing() {
		h.deregister(conn)
	}
	h.log.Infof("Live connection %s opened for user %s (%d accounts)", conn.ID(), identity.UserID, conn.accountCount())

	h.readLoop(conn)

	h.deregister(conn)
	<-conn.done
	h.log.Infof("Live connection %s closed for user %s", conn.ID(), identity.UserID)
}

// authenticate resolves identity and account scope from server-side state only
func (h *Hub) authenticate(r *http.Request) (*models.Identity, []string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandshakeTimeoutDuration())
	defer cancel()

	cookie, err := r.Cookie(h.sessions.CookieName())
	if err != nil || cookie.Value == "" {
		metrics.HubHandshakes.WithLabelValues("nosession").Inc()
		return nil, nil, session.ErrNoSession
	}

	identity, err := h.sessions.Resolve(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.HubHandshakes.WithLabelValues("timeout").Inc()
			return nil, nil, fmt.Errorf("session lookup: %w", err)
		}
		metrics.HubHandshakes.WithLabelValues("nosession").Inc()
		return nil, nil, err
	}

	accountIDs, err := h.accounts.AccountIDsFor(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			metrics.HubHandshakes.WithLabelValues("timeout").Inc()
			return nil, nil, fmt.Errorf("account lookup: %w", context.DeadlineExceeded)
		}
		metrics.HubHandshakes.WithLabelValues("accounts").Inc()
		return nil, nil, fmt.Errorf("account lookup: %w", err)
	}

	metrics.HubHandshakes.WithLabelValues("ok").Inc()
	return identity, accountIDs, nil
}

func rejectMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "authentication timed out"
	case errors.Is(err, session.ErrNoSession):
		return "authentication required"
	default:
		return "authentication failed"
	}
}

// reject sends one error frame and closes with the given status. The
// connection is never registered.
func (h *Hub) reject(ws *websocket.Conn, message string, status int) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = websocket.Message.Send(ws, string(mustMarshal(errorFrame{Type: "error", Message: message})))
	_ = ws.WriteClose(status)
}

func (h *Hub) readLoop(conn *Connection) {
	for {
		var raw []byte
		if err := websocket.Message.Receive(conn.ws, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				h.log.Debugf("Connection %s sent an oversized frame", conn.ID())
				continue
			}
			if !errors.Is(err, io.EOF) && conn.State() == models.StateAuthenticated {
				h.log.Debugf("Connection %s read error: %v", conn.ID(), err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Debugf("Connection %s sent a malformed frame: %v", conn.ID(), err)
			continue
		}

		switch msg.Type {
		case "ping":
			h.enqueue(conn, mustMarshal(timestampFrame{Type: "pong", Timestamp: time.Now().UnixMilli()}))
		default:
			h.log.Debugf("Connection %s sent unhandled message type %q", conn.ID(), msg.Type)
		}
	}
}

// enqueue delivers to one connection, dropping it when its queue is full
func (h *Hub) enqueue(conn *Connection, frame []byte) bool {
	err := conn.send(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, errQueueFull) {
		h.log.Warnf("Connection %s for user %s is not keeping up, closing", conn.ID(), conn.UserID())
		metrics.HubDroppedConnections.Inc()
		h.deregister(conn)
	}
	return false
}

func (h *Hub) deregister(conn *Connection) {
	if h.registry.remove(conn) {
		metrics.HubConnections.Dec()
	}
	conn.close()
}

// Broadcast delivers {type, data} to every open connection scoped to
// accountID and returns how many connections it was queued for
func (h *Hub) Broadcast(eventType, accountID string, payload any) int {
	frame, err := json.Marshal(eventFrame{Type: eventType, Data: payload})
	if err != nil {
		h.log.Errorf("Failed to encode %s frame: %v", eventType, err)
		return 0
	}

	delivered := 0
	for _, conn := range h.registry.snapshot() {
		if !conn.owns(accountID) {
			continue
		}
		if h.enqueue(conn, frame) {
			delivered++
		}
	}
	if delivered > 0 {
		metrics.HubFrames.WithLabelValues(eventType).Add(float64(delivered))
	}
	return delivered
}

// RefreshAccounts re-resolves the account scope of every open connection of userID
func (h *Hub) RefreshAccounts(ctx context.Context, userID string) error {
	conns := h.registry.byUser(userID)
	if len(conns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.HandshakeTimeoutDuration())
	defer cancel()

	accountIDs, err := h.accounts.AccountIDsFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to refresh accounts for %s: %w", userID, err)
	}
	for _, conn := range conns {
		conn.setAccounts(accountIDs)
		h.log.Debugf("Connection %s now scoped to %d accounts", conn.ID(), conn.accountCount())
	}
	h.log.Debugf("Refreshed account scope for user %s on %d connections", userID, len(conns))
	return nil
}

// Run consumes sub until ctx is done or the subscription closes
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) {
	defer sub.Unsubscribe()

	var heartbeat <-chan time.Time
	if interval := h.cfg.HeartbeatDuration(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			h.dispatch(ctx, ev)
		case <-heartbeat:
			h.heartbeat()
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev events.Event) {
	metrics.EventsHandled.WithLabelValues("hub", string(ev.Type())).Inc()

	switch e := ev.(type) {
	case events.AccountsChanged:
		if err := h.RefreshAccounts(ctx, e.UserID); err != nil {
			h.log.Warnf("%v", err)
		}
	case events.AccountEvent:
		h.Broadcast(string(e.Type()), e.Account(), e)
	}
}

func (h *Hub) heartbeat() {
	frame := mustMarshal(timestampFrame{Type: "heartbeat", Timestamp: time.Now().UnixMilli()})
	for _, conn := range h.registry.snapshot() {
		h.enqueue(conn, frame)
	}
}

// IsUserConnected reports whether userID has at least one open connection
func (h *Hub) IsUserConnected(userID string) bool {
	return h.registry.hasUser(userID)
}

// ConnectedUsers lists users with an open connection
func (h *Hub) ConnectedUsers() []string {
	return h.registry.users()
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	return h.registry.count()
}

// Shutdown closes every connection, refuses new ones, and waits for the
// connection handlers to return
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	for _, conn := range h.registry.snapshot() {
		h.deregister(conn)
	}

	done := make(chan struct{})
	go func() {
		h.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
