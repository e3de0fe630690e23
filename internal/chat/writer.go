package chat

import "log/slog"

// startOutboundWriter drains c's outbox onto its transport. A failed write
// closes the transport so the reading side of the session ends too.
func startOutboundWriter(c *Client, logger *slog.Logger) {
	go func() {
		defer close(c.writerDone)
		for e := range c.out {
			if err := c.Conn.Send(e); err != nil {
				logger.Debug("outbound write failed", "client", c.ID, "addr", c.Addr, "error", err)
				ConnectionErrors.WithLabelValues("transport").Inc()
				c.closeOutbox()
				_ = c.Conn.Close()
				return
			}
		}
	}()
}
