// Package monitor runs the collaboration health-check loop. Transport
// failures are often silent (the socket looks open but nothing comes
// back), so liveness is judged by echoes: the relay reflects every frame
// to its sender, and a sent frame without an echo inside the timeout
// means the connection is broken regardless of what the socket reports.
package monitor

import (
	"context"
	"time"

	"chatsync/pkg/collab"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

// Monitor periodically inspects the active session's transport.
type Monitor struct {
	cfg   config.MonitorConfig
	coord *collab.Coordinator

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a monitor over the session coordinator.
func New(cfg config.MonitorConfig, coord *collab.Coordinator) *Monitor {
	return &Monitor{cfg: cfg, coord: coord}
}

// Start launches the check loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check applies three detection tiers, most specific first.
func (m *Monitor) check() {
	transport := m.coord.Transport()
	if transport == nil {
		return
	}

	// transport dropped while peers are active: skip the normal backoff
	// and redial immediately
	if !transport.Connected() {
		if transport.PeerCount() > 0 {
			logger.Warn("monitor_transport_down_with_peers", "peers", transport.PeerCount())
			transport.ForceReconnect()
		}
		return
	}

	// silent break: we sent something, the echo never came back
	lastSend := transport.LastSend()
	lastEcho := transport.LastEcho()
	if !lastSend.IsZero() && lastSend.After(lastEcho) &&
		time.Since(lastSend) > m.cfg.EchoTimeout.Duration() {
		logger.Warn("monitor_echo_timeout",
			"last_send", lastSend.Format(time.RFC3339),
			"last_echo", lastEcho.Format(time.RFC3339))
		transport.ForceReconnect()
		return
	}

	// nobody visible on an ostensibly healthy connection: probe with a
	// touch frame so the next tick has an echo to judge by
	if transport.PeerCount() == 0 {
		logger.Debug("monitor_touch_probe")
		transport.Send(collab.Frame{Type: collab.FrameTouch})
	}
}
