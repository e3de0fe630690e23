package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andy6609/direct-chat-server/internal/history"
	"github.com/andy6609/direct-chat-server/internal/protocol"
)

const (
	msgUsernameTaken = "Username already taken"
	msgUnexpected    = "Unexpected message"
)

// Router runs the per-connection session: a Register handshake, then a
// loop routing chat requests and direct messages through the registry.
type Router struct {
	registry   *Registry
	history    history.Sink
	logger     *slog.Logger
	outboxSize int
	// maxFrameSize must match the limit the transports enforce on Send.
	maxFrameSize int
	now          func() time.Time
}

func NewRouter(registry *Registry, sink history.Sink, logger *slog.Logger, outboxSize int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:     registry,
		history:      sink,
		logger:       logger,
		outboxSize:   outboxSize,
		maxFrameSize: protocol.DefaultMaxFrameSize,
		now:          time.Now,
	}
}

// Serve drives conn until the peer goes away or breaks the protocol. It
// owns conn and has closed it by the time it returns.
func (r *Router) Serve(ctx context.Context, conn Transport, addr string) {
	c := NewClient(conn, addr, r.outboxSize)
	startOutboundWriter(c, r.logger)
	defer r.close(c)

	if !r.handshake(c) {
		return
	}
	r.loop(ctx, c)
}

func (r *Router) handshake(c *Client) bool {
	e, err := c.Conn.Receive()
	if err != nil {
		r.logger.Debug("connection closed before registration", "addr", c.Addr, "error", err)
		ConnectionErrors.WithLabelValues("framing").Inc()
		return false
	}
	if e.Kind != protocol.KindRegister {
		r.logger.Warn("first envelope is not a registration", "addr", c.Addr, "kind", e.Kind,
			"error", ErrProtocolViolation)
		ConnectionErrors.WithLabelValues("protocol").Inc()
		return false
	}
	if !r.registry.TryRegister(e.Username, c) {
		r.logger.Info("registration rejected", "addr", c.Addr, "username", e.Username, "error", ErrUsernameTaken)
		ConnectionErrors.WithLabelValues("registration").Inc()
		r.reply(c, protocol.ErrorNotice(msgUsernameTaken))
		return false
	}
	c.Username = e.Username
	MessagesTotal.WithLabelValues(string(protocol.KindRegister)).Inc()
	r.reply(c, protocol.SystemNotice("Welcome "+c.Username))
	return true
}

func (r *Router) loop(ctx context.Context, c *Client) {
	for {
		e, err := c.Conn.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) {
				r.logger.Info("client disconnected", "username", c.Username, "addr", c.Addr)
			} else {
				r.logger.Warn("dropping connection", "username", c.Username, "addr", c.Addr, "error", err)
				ConnectionErrors.WithLabelValues("framing").Inc()
			}
			return
		}

		start := time.Now()
		r.route(ctx, c, e)
		MessagesTotal.WithLabelValues(string(e.Kind)).Inc()
		EventProcessingDuration.WithLabelValues(string(e.Kind)).Observe(time.Since(start).Seconds())
	}
}

func (r *Router) route(ctx context.Context, c *Client, e protocol.Envelope) {
	switch e.Kind {
	case protocol.KindChatRequest:
		// Only confirms the target is online; the target is not told.
		if _, ok := r.registry.Lookup(e.TargetUser); !ok {
			r.notFound(c, e.TargetUser)
			return
		}
		r.reply(c, protocol.SystemNotice("Chat started with "+e.TargetUser))
	case protocol.KindMessage:
		r.routeMessage(ctx, c, e)
	default:
		r.reply(c, protocol.ErrorNotice(msgUnexpected))
	}
}

func (r *Router) routeMessage(ctx context.Context, c *Client, e protocol.Envelope) {
	target, ok := r.registry.Lookup(e.TargetUser)
	if !ok {
		r.notFound(c, e.TargetUser)
		return
	}
	delivery := protocol.Delivery(c.Username, e.Content)
	// A delivery carries the sender's name, so it can outgrow the frame it
	// came from. Refuse it here rather than fail on the target's connection.
	if payload, err := protocol.Marshal(delivery); err != nil || len(payload) > r.maxFrameSize {
		r.logger.Warn("delivery too large", "from", c.Username, "to", e.TargetUser, "error", protocol.ErrFrameTooLarge)
		ConnectionErrors.WithLabelValues("delivery").Inc()
		r.reply(c, protocol.ErrorNotice(fmt.Sprintf("Message to %s is too large", e.TargetUser)))
		return
	}
	if err := target.Deliver(delivery); err != nil {
		// The target's own session cleans up its registry entry.
		r.logger.Warn("delivery failed", "from", c.Username, "to", e.TargetUser, "error", err)
		ConnectionErrors.WithLabelValues("delivery").Inc()
		r.reply(c, protocol.ErrorNotice(fmt.Sprintf("User %s is unreachable", e.TargetUser)))
		return
	}

	record := history.NewRecord(c.Username, e.TargetUser, e.Content, r.now())
	if err := r.history.Append(ctx, record); err != nil {
		r.logger.Error("chat log append failed", "from", record.From, "to", record.To, "error", err)
		ConnectionErrors.WithLabelValues("history").Inc()
	}
}

func (r *Router) reply(c *Client, e protocol.Envelope) {
	if err := c.Deliver(e); err != nil {
		r.logger.Debug("reply dropped", "addr", c.Addr, "kind", e.Kind, "error", err)
	}
}

// close runs exactly once per connection: release the name, flush the
// outbox, then close the transport.
func (r *Router) close(c *Client) {
	if c.Username != "" {
		r.registry.Unregister(c.Username)
	}
	c.closeOutbox()
	<-c.writerDone
	_ = c.Conn.Close()
}

func (r *Router) notFound(c *Client, target string) {
	r.logger.Debug("routing failed", "from", c.Username, "to", target, "error", ErrUserNotFound)
	r.reply(c, protocol.ErrorNotice(fmt.Sprintf("User %s not found", target)))
}
