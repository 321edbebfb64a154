package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"ravenmail/internal/models"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("outbound queue full")
)

const writeTimeout = 10 * time.Second

// Connection is one authenticated live client. Identity is fixed at
// handshake; the account set only changes on an explicit refresh.
type Connection struct {
	id       string
	ws       *websocket.Conn
	identity models.Identity

	accountsMu sync.RWMutex
	accountIDs map[string]struct{}

	state atomic.Int32

	// queueMu serializes enqueue against close so a send never hits a closed channel
	queueMu sync.Mutex
	queue   chan []byte
	done    chan struct{}
}

func newConnection(ws *websocket.Conn, queueSize int) *Connection {
	c := &Connection{
		id:    uuid.NewString(),
		ws:    ws,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	c.state.Store(int32(models.StateConnecting))
	return c
}

// ID returns the connection handle
func (c *Connection) ID() string {
	return c.id
}

// UserID returns the authenticated user
func (c *Connection) UserID() string {
	return c.identity.UserID
}

// State returns the lifecycle state
func (c *Connection) State() models.ConnState {
	return models.ConnState(c.state.Load())
}

func (c *Connection) authenticate(identity models.Identity, accountIDs []string) {
	c.identity = identity
	c.setAccounts(accountIDs)
	c.state.Store(int32(models.StateAuthenticated))
}

func (c *Connection) setAccounts(accountIDs []string) {
	set := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		set[id] = struct{}{}
	}
	c.accountsMu.Lock()
	c.accountIDs = set
	c.accountsMu.Unlock()
}

func (c *Connection) owns(accountID string) bool {
	c.accountsMu.RLock()
	defer c.accountsMu.RUnlock()
	_, ok := c.accountIDs[accountID]
	return ok
}

func (c *Connection) accountCount() int {
	c.accountsMu.RLock()
	defer c.accountsMu.RUnlock()
	return len(c.accountIDs)
}

// send queues a frame, checking the open state at send time
func (c *Connection) send(frame []byte) error {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.State() != models.StateAuthenticated {
		return errConnClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return errQueueFull
	}
}

// close marks the connection closed and lets the writer flush what is queued
func (c *Connection) close() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.State() == models.StateClosed {
		return
	}
	c.state.Store(int32(models.StateClosed))
	close(c.queue)
}

// writeLoop is the only writer of application frames. It exits when the
// queue is closed and drained or a write fails, and then closes the socket,
// which also ends the read loop.
func (c *Connection) writeLoop() {
	defer close(c.done)
	defer func() { _ = c.ws.Close() }()

	for frame := range c.queue {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := websocket.Message.Send(c.ws, string(frame)); err != nil {
			return
		}
	}
}
