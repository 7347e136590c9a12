package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// readTimeout bounds each ReadFromUDP call so Run can observe ctx
// cancellation without a second goroutine.
const readTimeout = 500 * time.Millisecond

// Loop drives an Engine from a UDP socket: one datagram is read, fully
// dispatched (including any outbound replies), and written back before
// the next datagram is read. There is no concurrency within the loop
// itself; Engine's own mutex only guards against the control server
// reading Status concurrently.
type Loop struct {
	conn   *net.UDPConn
	engine *Engine
	log    *slog.Logger
}

// NewLoop builds a Loop bound to conn and engine.
func NewLoop(conn *net.UDPConn, engine *Engine, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{conn: conn, engine: engine, log: logger.With("component", "relay-loop")}
}

// Run processes datagrams until ctx is cancelled or the socket is closed.
func (l *Loop) Run(ctx context.Context) error {
	recvBuf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}

		n, addr, err := l.conn.ReadFromUDP(recvBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.log.Error("reading datagram", "error", err)
			continue
		}

		for _, o := range l.engine.HandleDatagram(addr, recvBuf[:n]) {
			if _, err := l.conn.WriteToUDP(o.Data, o.Addr); err != nil {
				l.log.Error("writing datagram", "error", err, "addr", o.Addr)
			}
		}
	}
}
