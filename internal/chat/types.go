package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/andy6609/direct-chat-server/internal/protocol"
)

// Transport is one framed connection: protocol.Conn over TCP or
// protocol.WSConn over WebSocket.
type Transport interface {
	Send(e protocol.Envelope) error
	Receive() (protocol.Envelope, error)
	Close() error
}

// Sink accepts outbound envelopes for one connected client.
// Deliver never blocks on network I/O.
type Sink interface {
	Deliver(e protocol.Envelope) error
}

// Client is the server side of one connection. It is owned by the goroutine
// serving the connection; the registry only keeps it as a Sink.
type Client struct {
	ID       uuid.UUID
	Addr     string
	Username string // set once registered, read only by the owning goroutine
	Conn     Transport

	mu         sync.Mutex
	out        chan protocol.Envelope
	closed     bool
	writerDone chan struct{}
}

func NewClient(conn Transport, addr string, outboxSize int) *Client {
	if outboxSize <= 0 {
		outboxSize = 32
	}
	return &Client{
		ID:         uuid.New(),
		Addr:       addr,
		Conn:       conn,
		out:        make(chan protocol.Envelope, outboxSize),
		writerDone: make(chan struct{}),
	}
}

// Deliver queues e for the writer goroutine. It fails with ErrSinkClosed once
// the connection is going away and with ErrSinkFull when the client does not
// keep up.
func (c *Client) Deliver(e protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSinkClosed
	}
	select {
	case c.out <- e:
		return nil
	default:
		return ErrSinkFull
	}
}

// closeOutbox stops accepting envelopes; the writer flushes what is queued
// and exits. Safe to call more than once.
func (c *Client) closeOutbox() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

var (
	ErrUsernameTaken     = errorString("username already taken")
	ErrUserNotFound      = errorString("user not found")
	ErrSinkClosed        = errorString("sink closed")
	ErrSinkFull          = errorString("sink full")
	ErrProtocolViolation = errorString("protocol violation")
)

type errorString string

func (e errorString) Error() string { return string(e) }
