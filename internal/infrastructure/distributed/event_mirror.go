package distributed

import (
	"context"
	"encoding/json"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventChannel = "streamgrid:events"

// mirroredEvent is the wire form on the redis channel: the domain event
// plus the publishing instance and a timestamp, so other instances can
// skip their own echoes.
type mirroredEvent struct {
	InstanceID string       `json:"instanceId"`
	Timestamp  time.Time    `json:"timestamp"`
	Event      domain.Event `json:"event"`
}

// EventMirror publishes every signaling event to a redis channel so
// dashboards and sibling instances can observe stream lifecycle without a
// websocket connection. It implements the notifier port but delivers to
// nobody directly; compose it with the hub via MultiNotifier.
type EventMirror struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewEventMirror(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventMirror {
	return &EventMirror{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (m *EventMirror) publish(event domain.Event) {
	data, err := json.Marshal(mirroredEvent{
		InstanceID: m.instanceID,
		Timestamp:  time.Now(),
		Event:      event,
	})
	if err != nil {
		m.logger.Errorw("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		m.logger.Warnw("event mirror publish failed", "type", event.Type, "error", err)
		return
	}

	m.logger.Debugw("mirrored event", "type", event.Type, "stream_id", event.StreamID)
}

func (m *EventMirror) Broadcast(event domain.Event) {
	m.publish(event)
}

// Send mirrors targeted events too; the channel carries lifecycle
// observability, not per-recipient delivery, so the recipient list is
// dropped.
func (m *EventMirror) Send(sessions []domain.SessionID, event domain.Event) {
	m.publish(event)
}

// Subscribe consumes mirrored events from sibling instances until ctx is
// cancelled. Events published by this instance are skipped.
func (m *EventMirror) Subscribe(ctx context.Context, handler func(domain.Event)) error {
	pubsub := m.client.Subscribe(ctx, eventChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var mirrored mirroredEvent
			if err := json.Unmarshal([]byte(msg.Payload), &mirrored); err != nil {
				m.logger.Warnw("failed to unmarshal mirrored event", "error", err)
				continue
			}
			if mirrored.InstanceID == m.instanceID {
				continue
			}
			handler(mirrored.Event)
		}
	}
}

var _ ports.Notifier = (*EventMirror)(nil)

// MultiNotifier fans one event out to several notifiers in order. The hub
// comes first so local delivery is never delayed by the mirror.
type MultiNotifier struct {
	notifiers []ports.Notifier
}

func NewMultiNotifier(notifiers ...ports.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (n *MultiNotifier) Broadcast(event domain.Event) {
	for _, notifier := range n.notifiers {
		notifier.Broadcast(event)
	}
}

func (n *MultiNotifier) Send(sessions []domain.SessionID, event domain.Event) {
	for _, notifier := range n.notifiers {
		notifier.Send(sessions, event)
	}
}

var _ ports.Notifier = (*MultiNotifier)(nil)
