// Package client is the connecting side of the chat protocol: dial,
// register, send requests and read whatever the server pushes back.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/andy6609/direct-chat-server/internal/protocol"
)

type Client struct {
	raw  net.Conn
	conn *protocol.Conn
}

func Dial(ctx context.Context, addr string, opts ...protocol.Option) (*Client, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{raw: raw, conn: protocol.NewConn(raw, opts...)}, nil
}

func (c *Client) Register(username string) error {
	return c.conn.Send(protocol.Register(username))
}

func (c *Client) ChatRequest(target string) error {
	return c.conn.Send(protocol.ChatRequest(target))
}

func (c *Client) Message(target, content string) error {
	return c.conn.Send(protocol.DirectMessage(target, content))
}

// Receive blocks until the server sends the next envelope.
func (c *Client) Receive() (protocol.Envelope, error) {
	return c.conn.Receive()
}

// ReceiveWithin is Receive bounded by a read deadline.
func (c *Client) ReceiveWithin(d time.Duration) (protocol.Envelope, error) {
	if err := c.raw.SetReadDeadline(time.Now().Add(d)); err != nil {
		return protocol.Envelope{}, err
	}
	defer c.raw.SetReadDeadline(time.Time{})
	return c.conn.Receive()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
