package worker

import (
	"context"
	"log/slog"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/metrics"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

const wakeBuffer = 256

// OfflineDispatcher owns send-or-queue delivery. Events for offline users
// land in the persistent queue; a wakeup on login drains them back out in
// FIFO order on the dispatcher goroutine.
type OfflineDispatcher struct {
	registry *server.Registry
	queue    *db.OfflineQueueRepository
	wake     chan string
}

func NewOfflineDispatcher(registry *server.Registry, queue *db.OfflineQueueRepository) *OfflineDispatcher {
	return &OfflineDispatcher{
		registry: registry,
		queue:    queue,
		wake:     make(chan string, wakeBuffer),
	}
}

// Deliver sends env to the user's live connection, falling back to the
// offline queue. The returned bool reports live delivery.
func (d *OfflineDispatcher) Deliver(userID string, env *protocol.Envelope) bool {
	if d.registry.SendToUser(userID, env) {
		metrics.EventsDelivered.WithLabelValues(env.Command).Inc()
		return true
	}
	d.Park(userID, env)
	return false
}

// Park stores env for later replay without attempting live delivery.
func (d *OfflineDispatcher) Park(userID string, env *protocol.Envelope) {
	frame, err := protocol.Encode(env)
	if err != nil {
		slog.Error("dropping undeliverable event", "component", "offline",
			"user_id", userID, "command", env.Command, "error", err)
		return
	}
	if err := d.queue.Enqueue(userID, frame); err != nil {
		slog.Error("offline enqueue failed", "component", "offline",
			"user_id", userID, "command", env.Command, "error", err)
		return
	}
	metrics.OfflineEnqueued.Inc()
}

// NotifyOnline schedules a queue drain for a freshly authenticated user.
// Non-blocking; a full wake channel drops the signal and the next login
// retries.
func (d *OfflineDispatcher) NotifyOnline(userID string) {
	select {
	case d.wake <- userID:
	default:
		slog.Warn("wake channel full, drain deferred", "component", "offline", "user_id", userID)
	}
}

// Start runs the drain loop until ctx is cancelled.
func (d *OfflineDispatcher) Start(ctx context.Context) {
	slog.Info("starting offline dispatcher", "component", "offline")
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping offline dispatcher", "component", "offline")
			return
		case userID := <-d.wake:
			d.drain(userID)
		}
	}
}

// drain replays queued frames in FIFO order. A failed delivery puts the
// failed frame and the whole remaining tail back in the queue so nothing is
// lost and order is preserved.
func (d *OfflineDispatcher) drain(userID string) {
	events, err := d.queue.Drain(userID)
	if err != nil {
		slog.Error("offline drain failed", "component", "offline", "user_id", userID, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	for i, event := range events {
		if d.registry.SendFrameToUser(userID, event.Frame) {
			metrics.OfflineDrained.Inc()
			continue
		}
		for _, remaining := range events[i:] {
			if err := d.queue.Enqueue(userID, remaining.Frame); err != nil {
				slog.Error("offline requeue failed", "component", "offline",
					"user_id", userID, "error", err)
			}
		}
		slog.Debug("drain interrupted, tail requeued", "component", "offline",
			"user_id", userID, "requeued", len(events)-i)
		return
	}
	slog.Debug("offline queue drained", "component", "offline",
		"user_id", userID, "count", len(events))
}
