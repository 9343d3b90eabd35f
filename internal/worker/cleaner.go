package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/server"
)

// PresenceCleaner evicts authenticated connections that stopped sending
// frames. Heartbeats and any other inbound traffic count as liveness.
type PresenceCleaner struct {
	registry *server.Registry
	timeout  time.Duration
	interval time.Duration
	evict    func(c *server.Conn)
}

func NewPresenceCleaner(registry *server.Registry, timeout, interval time.Duration, evict func(c *server.Conn)) *PresenceCleaner {
	return &PresenceCleaner{
		registry: registry,
		timeout:  timeout,
		interval: interval,
		evict:    evict,
	}
}

func (p *PresenceCleaner) Start(ctx context.Context) {
	slog.Info("starting presence cleaner", "component", "cleaner",
		"timeout", p.timeout, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping presence cleaner", "component", "cleaner")
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *PresenceCleaner) sweep() {
	cutoff := time.Now().Add(-p.timeout)
	for _, c := range p.registry.IdleConns(cutoff) {
		slog.Info("evicting idle connection", "component", "cleaner",
			"user_id", c.UserID(), "conn_id", c.ID, "last_seen", c.LastSeen())
		p.evict(c)
	}
}
