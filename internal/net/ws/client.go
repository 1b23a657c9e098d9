package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eraflo/FallGuys/internal/net/proto"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/telemetry"
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("ws: client closed")

type ClientConfig struct {
	PeerID string
	Logger telemetry.Logger
	Dialer *websocket.Dialer
}

// ClientHandlers receive the decoded server frames. Snapshot entries are
// delivered through OnUpdate in handle order before any later update.
type ClientHandlers struct {
	OnUpdate    func(replication.StateUpdate)
	OnAck       func(proto.CommandAck)
	OnReject    func(proto.CommandReject)
	OnHeartbeat func(proto.Heartbeat)
}

// Client is the participant side of a websocket session. It implements
// replication.Uplink.
type Client struct {
	conn   *websocket.Conn
	logger telemetry.Logger
	seq    atomic.Uint64

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to the server's websocket endpoint.
func Dial(ctx context.Context, rawURL string, cfg ClientConfig) (*Client, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch target.Scheme {
	case "http":
		target.Scheme = "ws"
	case "https":
		target.Scheme = "wss"
	}
	if cfg.PeerID != "" {
		query := target.Query()
		query.Set("id", cfg.PeerID)
		target.RawQuery = query.Encode()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.Redacted(), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Send implements replication.Uplink. Each intent carries the next command
// sequence number.
func (c *Client) Send(intent replication.Intent) error {
	data, err := proto.EncodeIntent(intent, c.seq.Add(1))
	if err != nil {
		return err
	}
	return c.write(data)
}

// LastSeq returns the sequence number of the last intent sent.
func (c *Client) LastSeq() uint64 { return c.seq.Load() }

// Heartbeat sends a heartbeat stamped with now.
func (c *Client) Heartbeat(now time.Time) error {
	data, err := proto.EncodeHeartbeatRequest(now.UnixMilli())
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Run reads server frames until ctx is done or the connection fails.
func (c *Client) Run(ctx context.Context, handlers ClientHandlers) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		msg, err := proto.DecodeServerMessage(payload)
		if err != nil {
			c.logger.Printf("[ws] discarding malformed server frame: %v", err)
			continue
		}

		switch msg.Type {
		case proto.TypeSnapshot:
			if handlers.OnUpdate == nil {
				continue
			}
			for _, update := range msg.Entities {
				handlers.OnUpdate(update)
			}
		case proto.TypeUpdate:
			if msg.Update != nil && handlers.OnUpdate != nil {
				handlers.OnUpdate(*msg.Update)
			}
		case proto.TypeCommandAck:
			if handlers.OnAck != nil {
				handlers.OnAck(proto.CommandAck{Seq: msg.Seq, Tick: msg.Tick})
			}
		case proto.TypeCommandReject:
			if handlers.OnReject != nil {
				handlers.OnReject(proto.CommandReject{Seq: msg.Seq, Reason: msg.Reason, Retry: msg.Retry, Tick: msg.Tick})
			}
		case proto.TypeHeartbeat:
			if handlers.OnHeartbeat != nil {
				handlers.OnHeartbeat(proto.Heartbeat{ServerTime: msg.ServerTime, ClientTime: msg.ClientTime, RTTMillis: msg.RTTMillis})
			}
		default:
			c.logger.Printf("[ws] unknown server frame %q", msg.Type)
		}
	}
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}
