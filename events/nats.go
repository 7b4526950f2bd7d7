package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"powledger/logger"
)

// Connect dials the NATS server at url and wraps the connection in an
// Emitter. An empty url yields Noop.
func Connect(url, node, subjectPrefix string) (Emitter, error) {
	if url == "" {
		return Noop{}, nil
	}
	opts := []nats.Option{
		nats.Name(node),
		nats.MaxReconnects(-1), // retry forever
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", "error", err)
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return NewEmitter(nc, node, subjectPrefix, func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}), nil
}
