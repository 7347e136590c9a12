package relay

import (
	"time"

	"github.com/kuuji/turnrelay/internal/control"
)

func uptimeSeconds(startedAt time.Time) float64 {
	return time.Since(startedAt).Seconds()
}

// Status returns a snapshot of the engine's operational state, suitable
// for the control server's StatusProvider.
func (e *Engine) Status(listenAddr string) control.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	return control.Status{
		ListenAddr:       listenAddr,
		UptimeSeconds:    uptimeSeconds(e.startedAt),
		AllocationCount:  len(e.associations),
		DatagramsIn:      e.datagramsIn,
		DatagramsOut:     e.datagramsOut,
		DatagramsDropped: e.datagramsDropped,
		StartedAt:        e.startedAt,
	}
}
