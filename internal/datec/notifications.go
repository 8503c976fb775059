package datec

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"datec-go/internal/model"
)

const (
	// MaxQueuedNotifications is the per-recipient queue bound.
	MaxQueuedNotifications = 50

	// broadcastConcurrency bounds in-flight sends during a broadcast.
	broadcastConcurrency = 8
)

// NotificationKey is the ephemeral queue holding a user's notifications.
func NotificationKey(userID string) string {
	return "notifications:user:" + userID
}

// Fanout delivers notifications into bounded per-recipient queues.
type Fanout struct {
	store   EphemeralStore
	logger  Logger
	metrics Metrics
	clock   Clock
	idgen   IDGenerator
}

// NewFanout creates a Fanout over store.
func NewFanout(store EphemeralStore, logger Logger, metrics Metrics, clock Clock, idgen IDGenerator) *Fanout {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Fanout{store: store, logger: logger, metrics: metrics, clock: clock, idgen: idgen}
}

// New builds a notification stamped with a fresh ID and the current time.
func (f *Fanout) New(p model.Payload) (model.Notification, error) {
	n, err := model.NewNotification(f.idgen.New(), p, f.clock.Now())
	if err != nil {
		return model.Notification{}, invalidInput("notification.new", "%v", err)
	}
	return n, nil
}

// Send pushes n to the front of recipient's queue, keeping the newest 50.
func (f *Fanout) Send(ctx context.Context, recipientID string, n model.Notification) error {
	if !model.KnownKind(n.Kind()) {
		return invalidInput("notification.send", "unknown notification kind %q", n.Kind())
	}
	b, err := model.EncodeNotification(n)
	if err != nil {
		return invalidInput("notification.send", "%v", err)
	}
	if err := f.store.PushFront(ctx, NotificationKey(recipientID), b, MaxQueuedNotifications); err != nil {
		f.metrics.NotificationDelivered(string(n.Kind()), false)
		return upstream("notification.send", "pushing notification", err)
	}
	f.metrics.NotificationDelivered(string(n.Kind()), true)
	return nil
}

// Broadcast sends n to every recipient independently and returns how many
// deliveries succeeded. Per-recipient failures are logged, not returned.
func (f *Fanout) Broadcast(ctx context.Context, recipientIDs []string, n model.Notification) int {
	var delivered atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, id := range recipientIDs {
		g.Go(func() error {
			if err := f.Send(gctx, id, n); err != nil {
				f.logger.Warn("notification delivery failed", "recipient", id, "kind", n.Kind(), "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

// List returns up to limit notifications for a user, newest first.
// A limit <= 0 returns the full queue. Undecodable entries are skipped.
func (f *Fanout) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > MaxQueuedNotifications {
		limit = MaxQueuedNotifications
	}
	items, err := f.store.Range(ctx, NotificationKey(userID), limit)
	if err != nil {
		return nil, upstream("notification.list", "reading notifications", err)
	}

	out := make([]model.Notification, 0, len(items))
	for _, b := range items {
		n, err := model.DecodeNotification(b)
		if err != nil {
			f.logger.Warn("skipping malformed notification", "user", userID, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Count returns the number of queued notifications for a user.
func (f *Fanout) Count(ctx context.Context, userID string) (int, error) {
	n, err := f.store.Len(ctx, NotificationKey(userID))
	if err != nil {
		return 0, upstream("notification.count", "counting notifications", err)
	}
	return n, nil
}

// Clear drops every queued notification for a user.
func (f *Fanout) Clear(ctx context.Context, userID string) error {
	if err := f.store.Delete(ctx, NotificationKey(userID)); err != nil {
		return upstream("notification.clear", fmt.Sprintf("clearing notifications for %s", userID), err)
	}
	return nil
}
