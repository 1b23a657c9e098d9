package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// SubscriberDiagnostics is the per-connection view served on /diagnostics.
type SubscriberDiagnostics struct {
	ID             string `json:"id"`
	Queued         int    `json:"queued"`
	LastCommandSeq uint64 `json:"lastCommandSeq"`
	LastHeartbeat  int64  `json:"lastHeartbeat"`
	RTTMillis      int64  `json:"rttMillis"`
}

// subscriber owns one websocket connection. Frames are written by a single
// goroutine draining send.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	lastCommandSeq atomic.Uint64
	lastHeartbeat  atomic.Int64
	rttMillis      atomic.Int64
}

func newSubscriber(id string, conn *websocket.Conn, buffer int) *subscriber {
	return &subscriber{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

// enqueue reports false when the queue is full. Frames sent after close are
// discarded.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.closed:
		return true
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) writeLoop(onError func(error)) {
	for {
		select {
		case <-s.closed:
			return
		case data := <-s.send:
			if s.conn == nil {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				onError(err)
				return
			}
		}
	}
}

// close reports whether this call closed the subscriber.
func (s *subscriber) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			s.conn.Close()
		}
		closed = true
	})
	return closed
}

func (s *subscriber) LastCommandSeq() uint64 { return s.lastCommandSeq.Load() }

func (s *subscriber) StoreLastCommandSeq(seq uint64) { s.lastCommandSeq.Store(seq) }

func (s *subscriber) recordHeartbeat(now time.Time, rtt time.Duration) {
	s.lastHeartbeat.Store(now.UnixMilli())
	s.rttMillis.Store(rtt.Milliseconds())
}

func (s *subscriber) diagnostics() SubscriberDiagnostics {
	return SubscriberDiagnostics{
		ID:             s.id,
		Queued:         len(s.send),
		LastCommandSeq: s.lastCommandSeq.Load(),
		LastHeartbeat:  s.lastHeartbeat.Load(),
		RTTMillis:      s.rttMillis.Load(),
	}
}
