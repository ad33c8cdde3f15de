package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/xid"
)

type Topic string

const (
	TopicSaleCommitted   Topic = "sale.committed"
	TopicRefundCommitted Topic = "refund.committed"
	TopicShiftClosed     Topic = "shift.closed"
	TopicOrderCalled     Topic = "order.called"
	TopicNotification    Topic = "notification"
)

type SaleCommitted struct {
	Sale domain.Sale `json:"sale"`
}

type RefundCommitted struct {
	Refund       domain.Refund `json:"refund"`
	TicketNumber string        `json:"ticket_number"`
}

type ShiftClosed struct {
	Shift domain.Shift `json:"shift"`
}

// ShiftCloseBlocked is published on the notification topic when counted
// amounts do not match the expected buckets.
type ShiftCloseBlocked struct {
	ShiftID string          `json:"shift_id"`
	Buckets []domain.Bucket `json:"buckets"`
}

type OrderCalled struct {
	TicketNumber string `json:"ticket_number"`
	CalledBy     string `json:"called_by"`
}

type Notification struct {
	Level   string `json:"level"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type Event struct {
	ID      string    `json:"id"`
	Topic   Topic     `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type Handler func(ctx context.Context, evt Event)

// Relay forwards published events outside the process.
type Relay interface {
	Forward(ctx context.Context, evt Event) error
}

// Bus is an in-process publish/subscribe hub. Handlers run synchronously on
// the publishing goroutine; a panicking handler is logged and skipped.
type Bus struct {
	logger *slog.Logger
	keep   int
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[Topic]map[int]Handler
	nextID int
	recent map[Topic][]Event
	relays []Relay
}

func NewBus(logger *slog.Logger, keep int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if keep <= 0 {
		keep = 50
	}
	return &Bus{
		logger: logger,
		keep:   keep,
		now:    time.Now,
		subs:   make(map[Topic]map[int]Handler),
		recent: make(map[Topic][]Event),
	}
}

func (b *Bus) AddRelay(r Relay) {
	if r == nil {
		return
	}
	b.mu.Lock()
	b.relays = append(b.relays, r)
	b.mu.Unlock()
}

// Subscribe registers h for topic and returns a function removing it.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) Event {
	evt := Event{ID: xid.New("evt"), Topic: topic, Payload: payload, At: b.now().UTC()}

	b.mu.Lock()
	kept := append(b.recent[topic], evt)
	if len(kept) > b.keep {
		kept = kept[len(kept)-b.keep:]
	}
	b.recent[topic] = kept
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	relays := append([]Relay(nil), b.relays...)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, evt)
	}
	for _, r := range relays {
		if err := r.Forward(ctx, evt); err != nil {
			b.logger.Warn("event relay failed", slog.String("topic", string(topic)), slog.Any("error", err))
		}
	}
	return evt
}

func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", slog.String("topic", string(evt.Topic)), slog.Any("panic", r))
		}
	}()
	h(ctx, evt)
}

// Recent returns up to limit most recent events of topic, newest first.
func (b *Bus) Recent(topic Topic, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	kept := b.recent[topic]
	if limit <= 0 || limit > len(kept) {
		limit = len(kept)
	}
	out := make([]Event, 0, limit)
	for i := len(kept) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, kept[i])
	}
	return out
}

// RedisRelay publishes every event as JSON on the channel prefix+topic.
type RedisRelay struct {
	client *redis.Client
	prefix string
}

func NewRedisRelay(client *redis.Client, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "kassa:events:"
	}
	return &RedisRelay{client: client, prefix: prefix}
}

func (r *RedisRelay) Channel(topic Topic) string {
	return r.prefix + string(topic)
}

func (r *RedisRelay) Forward(ctx context.Context, evt Event) error {
	if r == nil || r.client == nil {
		return nil
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(evt.Topic), raw).Err()
}
