package replication

import (
	"errors"
	"sort"
	"sync"
)

// ErrUnknownPeer is returned when a loopback peer is used before it joined.
var ErrUnknownPeer = errors.New("replication: unknown loopback peer")

// Loopback is an in-process network joining one server with any number of
// clients. Messages queue until the receiving side drains them, which keeps
// delivery deterministic and lets callers model propagation delay.
type Loopback struct {
	mu      sync.Mutex
	peers   map[string][]StateUpdate
	intents []Intent
	latest  map[string]StateUpdate
}

// NewLoopback constructs an empty network.
func NewLoopback() *Loopback {
	return &Loopback{peers: make(map[string][]StateUpdate), latest: make(map[string]StateUpdate)}
}

// Join registers a client. A late joiner first receives the latest update of
// every entity, in entity order.
func (l *Loopback) Join(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.peers[peer]; ok {
		return
	}
	handles := make([]string, 0, len(l.latest))
	for handle := range l.latest {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	queue := make([]StateUpdate, 0, len(handles))
	for _, handle := range handles {
		queue = append(queue, l.latest[handle])
	}
	l.peers[peer] = queue
}

// Leave removes a client and discards its pending updates.
func (l *Loopback) Leave(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, peer)
}

// Publish implements Downlink by queueing update for every joined client.
func (l *Loopback) Publish(update StateUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latest[string(update.Entity)] = update
	for peer, queue := range l.peers {
		l.peers[peer] = append(queue, update)
	}
}

// Updates drains the updates queued for peer in publication order.
func (l *Loopback) Updates(peer string) []StateUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.peers[peer]
	if _, ok := l.peers[peer]; ok {
		l.peers[peer] = nil
	}
	return queue
}

// Uplink returns the client side of the intent channel for peer.
func (l *Loopback) Uplink(peer string) Uplink {
	return UplinkFunc(func(intent Intent) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.peers[peer]; !ok {
			return ErrUnknownPeer
		}
		intent.Origin = peer
		l.intents = append(l.intents, intent)
		return nil
	})
}

// Intents drains the intents sent to the server in arrival order.
func (l *Loopback) Intents() []Intent {
	l.mu.Lock()
	defer l.mu.Unlock()
	intents := l.intents
	l.intents = nil
	return intents
}
