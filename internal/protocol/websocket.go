package protocol

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn carries one envelope per WebSocket message. The WebSocket framing
// already delimits messages, so no length prefix is added.
type WSConn struct {
	ws   *websocket.Conn
	opts options

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWSConn(ws *websocket.Conn, opts ...Option) *WSConn {
	o := buildOptions(opts)
	ws.SetReadLimit(int64(o.maxFrameSize))
	return &WSConn{ws: ws, opts: o}
}

func (c *WSConn) Send(e Envelope) error {
	payload, err := Marshal(e)
	if err != nil {
		return err
	}
	if len(payload) > c.opts.maxFrameSize {
		return &TransportError{Err: ErrFrameTooLarge}
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.opts.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return &TransportError{Err: ErrConnectionClosed}
		}
		return &TransportError{Err: err}
	}
	return nil
}

func (c *WSConn) Receive() (Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return Envelope{}, &FramingError{Err: ErrFrameTooLarge}
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Envelope{}, &FramingError{Err: ErrConnectionClosed}
		}
		return Envelope{}, &FramingError{Err: ErrConnectionClosed, Cause: err}
	}
	e, err := Unmarshal(data)
	if err != nil {
		return Envelope{}, &FramingError{Err: ErrMalformedFrame, Cause: err}
	}
	return e, nil
}

// Close sends a close control message on a best effort basis, then closes
// the socket.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with Send.
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *WSConn) RemoteAddr() string {
	if addr := c.ws.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
