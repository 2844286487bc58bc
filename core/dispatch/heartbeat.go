package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/evcharger/core/ocpp"
)

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatTick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeatTick(ctx)
		}
	}
}

// heartbeatTick sends a Heartbeat when the charger is connected and more
// whole seconds than the negotiated interval elapsed since the last
// successful one. A failed send leaves the timestamp untouched, so the next
// tick tries again.
func (e *Engine) heartbeatTick(ctx context.Context) {
	st := e.store.Read()
	if !st.IsConnected() {
		return
	}
	now := e.clock()
	e.hbMu.Lock()
	last := e.lastHeartbeat
	e.hbMu.Unlock()
	if int(now.Sub(last)/time.Second) <= st.HeartbeatInterval {
		return
	}

	start := time.Now()
	_, err := e.client.Heartbeat(ctx)
	e.observe(ocpp.ActionHeartbeat, nil, "", err, time.Since(start))
	if err != nil {
		return
	}
	e.hbMu.Lock()
	e.lastHeartbeat = now
	e.hbMu.Unlock()
}
