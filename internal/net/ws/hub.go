// Package ws carries replication traffic over websockets: the server hub fans
// out authoritative updates and stages client intents, the client applies the
// updates it receives.
package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/net/proto"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
	loggingnetwork "github.com/eraflo/FallGuys/logging/network"
)

// DefaultSendBuffer bounds the frames queued per subscriber.
const DefaultSendBuffer = 256

const (
	reasonSlowConsumer = "slow_consumer"
	reasonDisconnected = "disconnected"
	reasonReplaced     = "replaced"
)

// HubConfig wires the hub to the rest of the server.
type HubConfig struct {
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Publisher  logging.Publisher
	Clock      logging.Clock
	Tick       func() uint64
	SendBuffer int
}

// Hub tracks websocket subscribers and the latest replicated state of every
// entity. It implements replication.Downlink.
type Hub struct {
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	publisher  logging.Publisher
	clock      logging.Clock
	tick       func() uint64
	sendBuffer int

	mu          sync.Mutex
	latest      map[blackboard.Handle]replication.StateUpdate
	subscribers map[string]*subscriber
}

// NewHub constructs an empty hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	tick := cfg.Tick
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		logger:      logger,
		metrics:     metrics,
		publisher:   publisher,
		clock:       clock,
		tick:        tick,
		sendBuffer:  sendBuffer,
		latest:      make(map[blackboard.Handle]replication.StateUpdate),
		subscribers: make(map[string]*subscriber),
	}
}

// Prime seeds the latest-state table, typically from a world snapshot taken
// before the hub was attached.
func (h *Hub) Prime(updates []replication.StateUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, update := range updates {
		h.storeLocked(update)
	}
}

func (h *Hub) storeLocked(update replication.StateUpdate) bool {
	if prev, ok := h.latest[update.Entity]; ok && prev.Seq >= update.Seq {
		return false
	}
	h.latest[update.Entity] = update
	return true
}

// Forget drops the replicated state of a removed entity.
func (h *Hub) Forget(handle blackboard.Handle) {
	h.mu.Lock()
	delete(h.latest, handle)
	h.mu.Unlock()
}

// Publish implements replication.Downlink. It never blocks on the network; a
// subscriber whose queue is full is disconnected.
func (h *Hub) Publish(update replication.StateUpdate) {
	data, err := proto.EncodeUpdate(update)
	if err != nil {
		h.logger.Printf("[ws] failed to encode update for %s: %v", update.Entity, err)
		return
	}

	h.mu.Lock()
	if !h.storeLocked(update) {
		h.mu.Unlock()
		return
	}
	var slow []*subscriber
	for _, sub := range h.subscribers {
		if !sub.enqueue(data) {
			slow = append(slow, sub)
		}
	}
	fanout := len(h.subscribers) - len(slow)
	h.mu.Unlock()

	h.metrics.Add("ws_broadcast_bytes_total", uint64(len(data)*fanout))
	for _, sub := range slow {
		h.metrics.Add("ws_slow_consumer_total", 1)
		h.logger.Printf("[ws] dropping slow subscriber %s", sub.id)
		h.disconnect(sub, reasonSlowConsumer)
	}
}

// Snapshot returns the latest replicated state in handle order.
func (h *Hub) Snapshot() []replication.StateUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []replication.StateUpdate {
	updates := make([]replication.StateUpdate, 0, len(h.latest))
	for _, update := range h.latest {
		updates = append(updates, update)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Entity < updates[j].Entity })
	return updates
}

// Subscribe registers conn under id and queues the snapshot as its first
// frame. A previous subscriber with the same id is replaced.
func (h *Hub) Subscribe(id string, conn *websocket.Conn) (*subscriber, error) {
	sub := newSubscriber(id, conn, h.sendBuffer)

	h.mu.Lock()
	entities := h.snapshotLocked()
	data, err := proto.EncodeSnapshotV1(proto.SnapshotV1{
		Tick:       h.tick(),
		ServerTime: h.clock.Now().UnixMilli(),
		Entities:   entities,
	})
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	sub.enqueue(data)
	previous := h.subscribers[id]
	h.subscribers[id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	if previous != nil {
		previous.close()
		loggingnetwork.SubscriberLeft(context.Background(), h.publisher, h.tick(), logging.Participant(id), loggingnetwork.SubscriberPayload{Reason: reasonReplaced}, nil)
	}
	go sub.writeLoop(func(err error) {
		h.logger.Printf("[ws] write to %s failed: %v", id, err)
		h.disconnect(sub, reasonDisconnected)
	})

	h.metrics.Store("ws_subscribers", uint64(count))
	loggingnetwork.SubscriberJoined(context.Background(), h.publisher, h.tick(), logging.Participant(id), loggingnetwork.SubscriberPayload{Entities: len(entities)}, nil)
	return sub, nil
}

// Disconnect removes the subscriber registered under id.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	sub := h.subscribers[id]
	h.mu.Unlock()
	if sub != nil {
		h.disconnect(sub, reasonDisconnected)
	}
}

func (h *Hub) disconnect(sub *subscriber, reason string) {
	h.mu.Lock()
	current, ok := h.subscribers[sub.id]
	owned := ok && current == sub
	if owned {
		delete(h.subscribers, sub.id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	sub.close()
	if !owned {
		return
	}
	h.metrics.Store("ws_subscribers", uint64(count))
	loggingnetwork.SubscriberLeft(context.Background(), h.publisher, h.tick(), logging.Participant(sub.id), loggingnetwork.SubscriberPayload{Reason: reason}, nil)
}

// write queues a direct response to one subscriber.
func (h *Hub) write(sub *subscriber, data []byte) bool {
	if sub.enqueue(data) {
		return true
	}
	h.metrics.Add("ws_slow_consumer_total", 1)
	h.disconnect(sub, reasonSlowConsumer)
	return false
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// DiagnosticsSnapshot describes every subscriber for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() []SubscriberDiagnostics {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	out := make([]SubscriberDiagnostics, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.diagnostics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.disconnect(sub, reasonDisconnected)
	}
}
