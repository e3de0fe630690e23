package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// HeaderSize is the width of the big-endian payload length prefix.
	HeaderSize = 4

	DefaultMaxFrameSize = 1 << 20
)

type options struct {
	maxFrameSize int
	writeTimeout time.Duration
}

type Option func(*options)

// WithMaxFrameSize bounds the payload length accepted and produced.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithWriteTimeout sets a deadline on every frame write when the underlying
// stream supports deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{maxFrameSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn carries length-prefixed envelopes over a byte stream.
// Send is safe for concurrent use; Receive must be called from one goroutine.
type Conn struct {
	rwc  io.ReadWriteCloser
	r    *bufio.Reader
	opts options

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	return &Conn{
		rwc:  rwc,
		r:    bufio.NewReader(rwc),
		opts: buildOptions(opts),
	}
}

// Send writes e as a single frame: header and payload go out in one Write
// so concurrent senders never interleave.
func (c *Conn) Send(e Envelope) error {
	payload, err := Marshal(e)
	if err != nil {
		return err
	}
	if len(payload) > c.opts.maxFrameSize {
		return &TransportError{Err: ErrFrameTooLarge}
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return &TransportError{Err: ErrConnectionClosed}
	}
	if d, ok := c.rwc.(writeDeadliner); ok && c.opts.writeTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}
	if _, err := c.rwc.Write(frame); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Receive blocks until a complete frame has been read and decoded.
func (c *Conn) Receive() (Envelope, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return Envelope{}, c.readError(err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return Envelope{}, &FramingError{Err: ErrMalformedFrame, Cause: errors.New("zero length frame")}
	}
	if uint64(n) > uint64(c.opts.maxFrameSize) {
		return Envelope{}, &FramingError{Err: ErrFrameTooLarge}
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Envelope{}, c.readError(err)
	}
	e, err := Unmarshal(payload)
	if err != nil {
		return Envelope{}, &FramingError{Err: ErrMalformedFrame, Cause: err}
	}
	return e, nil
}

func (c *Conn) readError(err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &FramingError{Err: ErrTruncatedFrame, Cause: err}
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), c.closed.Load():
		return &FramingError{Err: ErrConnectionClosed}
	default:
		return &FramingError{Err: ErrConnectionClosed, Cause: err}
	}
}

// Close closes the underlying stream. Further calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address when the stream is a net.Conn.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}
