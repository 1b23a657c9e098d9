package ws

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eraflo/FallGuys/internal/net/intake"
	"github.com/eraflo/FallGuys/internal/net/proto"
	"github.com/eraflo/FallGuys/internal/sim"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
	loggingnetwork "github.com/eraflo/FallGuys/logging/network"
)

type HandlerConfig struct {
	Logger telemetry.Logger
	Clock  logging.Clock
}

// Handler upgrades /ws requests and serves one session per connection.
type Handler struct {
	hub      *Hub
	intake   intake.CommandContext
	logger   telemetry.Logger
	clock    logging.Clock
	upgrader websocket.Upgrader
}

// NewHandler serves sessions on hub, staging client commands through ctx.
func NewHandler(hub *Hub, ctx intake.CommandContext, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	if ctx.Now == nil {
		ctx.Now = clock.Now
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		intake:   ctx,
		logger:   logger,
		clock:    clock,
		upgrader: upgrader,
	}
}

// Handle upgrades the request. The peer id comes from the id query parameter
// and is generated when absent.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	peerID := r.URL.Query().Get("id")
	if peerID == "" {
		peerID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", peerID, err)
		return
	}

	sub, err := h.hub.Subscribe(peerID, conn)
	if err != nil {
		h.logger.Printf("failed to subscribe %s: %v", peerID, err)
		message := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot failed")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	h.serve(sub)
}

func (h *Handler) serve(sub *subscriber) {
	defer h.hub.disconnect(sub, reasonDisconnected)

	for {
		_, payload, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", sub.id, err)
			continue
		}

		seq := msg.Seq()

		switch msg.Type {
		case proto.TypeAction, proto.TypeStateRequest:
			if seq > 0 {
				if last := sub.LastCommandSeq(); last > 0 && seq <= last {
					if !h.sendAck(sub, seq, 0) {
						return
					}
					continue
				}
			}
			cmd, ok, reason := intake.StageClientCommand(h.intake, sub.id, msg)
			if ok {
				if seq > 0 {
					if !h.sendAck(sub, seq, cmd.OriginTick) {
						return
					}
					sub.StoreLastCommandSeq(seq)
				}
				continue
			}
			h.reportReject(sub, msg, seq, reason)
			if seq > 0 && !h.sendReject(sub, seq, reason) {
				return
			}
		case proto.TypeHeartbeat:
			now := h.clock.Now()
			var rtt time.Duration
			if msg.SentAt > 0 {
				rtt = now.Sub(time.UnixMilli(msg.SentAt))
				if rtt < 0 {
					rtt = 0
				}
			}
			sub.recordHeartbeat(now, rtt)
			data, err := proto.EncodeHeartbeat(proto.Heartbeat{
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt.Milliseconds(),
			})
			if err != nil {
				h.logger.Printf("failed to marshal heartbeat ack for %s: %v", sub.id, err)
				continue
			}
			if !h.hub.write(sub, data) {
				return
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, sub.id)
		}
	}
}

func (h *Handler) sendAck(sub *subscriber, seq, tick uint64) bool {
	data, err := proto.EncodeCommandAck(proto.CommandAck{Seq: seq, Tick: tick})
	if err != nil {
		h.logger.Printf("failed to marshal ack for %s: %v", sub.id, err)
		return true
	}
	return h.hub.write(sub, data)
}

func (h *Handler) sendReject(sub *subscriber, seq uint64, reason string) bool {
	data, err := proto.EncodeCommandReject(proto.CommandReject{
		Seq:    seq,
		Reason: reason,
		Retry:  reason == sim.CommandRejectQueueLimit,
	})
	if err != nil {
		h.logger.Printf("failed to marshal reject for %s: %v", sub.id, err)
		return true
	}
	return h.hub.write(sub, data)
}

func (h *Handler) reportReject(sub *subscriber, msg proto.ClientMessage, seq uint64, reason string) {
	var tick uint64
	if h.intake.Tick != nil {
		tick = h.intake.Tick()
	}
	loggingnetwork.IntentRejected(context.Background(), h.hub.publisher, tick, logging.Participant(sub.id), loggingnetwork.IntentRejectedPayload{
		Entity: string(msg.Entity),
		Kind:   msg.Type,
		Seq:    seq,
		Reason: reason,
	}, nil)
}
