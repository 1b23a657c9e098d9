package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// Sink receives events from a dedicated router worker.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

const (
	defaultSinkBuffer = 512
	minSinkBuffer     = 32
	maxSinkBuffer     = 1024
	maxSinkBackoff    = 3200 * time.Millisecond
)

// Router filters, stamps and fans published events out to its sinks. Events
// are prepared on the publishing goroutine and handed to one bounded queue per
// sink; Publish never blocks, a full queue drops the event for that sink only.
type Router struct {
	clock       Clock
	fallback    *log.Logger
	minSeverity Severity
	fields      map[string]any
	warnEvery   time.Duration

	mu     sync.RWMutex
	closed bool
	sinks  []*sinkWorker
	wg     sync.WaitGroup

	eventsTotal   atomic.Uint64
	filteredTotal atomic.Uint64
	droppedTotal  atomic.Uint64
	lastDropLog   atomic.Int64

	categoryMu sync.Mutex
	categories map[string]uint64
}

// RouterStats counts routed events. An event counts as dropped once even when
// several sinks dropped it.
type RouterStats struct {
	EventsTotal   uint64            `json:"eventsTotal"`
	FilteredTotal uint64            `json:"filteredTotal"`
	DroppedTotal  uint64            `json:"droppedTotal"`
	SinkDrops     map[string]uint64 `json:"sinkDrops,omitempty"`
	Categories    map[string]uint64 `json:"categories,omitempty"`
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	warnEvery := cfg.DropWarnInterval
	if warnEvery <= 0 {
		warnEvery = 5 * time.Second
	}
	r := &Router{
		clock:       clock,
		fallback:    log.New(os.Stderr, "[fallguys/logging] ", log.LstdFlags),
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		warnEvery:   warnEvery,
		categories:  make(map[string]uint64),
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	buffer = max(minSinkBuffer, min(buffer, maxSinkBuffer))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		worker := newSinkWorker(named.Name, named.Sink, buffer, r.fallback)
		r.sinks = append(r.sinks, worker)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			worker.run()
		}()
	}
	return r, nil
}

// Publish implements Publisher. Untyped events, events below the minimum
// severity and events published after Close are discarded.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" {
		return
	}
	if event.Severity < r.minSeverity {
		r.filteredTotal.Add(1)
		return
	}
	event = r.prepare(event)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.eventsTotal.Add(1)
	r.countCategory(event.Category)
	dropped := false
	for _, worker := range r.sinks {
		if !worker.enqueue(cloneForFields(event)) {
			dropped = true
		}
	}
	if dropped {
		r.reportDrop(event)
	}
}

// prepare stamps the router clock and merges the configured fields without
// overriding the event's own.
func (r *Router) prepare(event Event) Event {
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) == 0 {
		return event
	}
	event = cloneForFields(event)
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(r.fields))
	}
	for k, v := range r.fields {
		if _, exists := event.Extra[k]; !exists {
			event.Extra[k] = v
		}
	}
	return event
}

func (r *Router) countCategory(category string) {
	if category == "" {
		category = CategorySystem
	}
	r.categoryMu.Lock()
	r.categories[category]++
	r.categoryMu.Unlock()
}

// reportDrop logs at most one drop line per warn interval.
func (r *Router) reportDrop(event Event) {
	r.droppedTotal.Add(1)
	now := time.Now().UnixNano()
	next := r.lastDropLog.Load()
	if now < next {
		return
	}
	if r.lastDropLog.CompareAndSwap(next, now+r.warnEvery.Nanoseconds()) {
		r.fallback.Printf("dropping event type=%s tick=%d actor=%s", event.Type, event.Tick, event.Actor.ID)
	}
}

// Close stops accepting events, lets every sink drain its queue and closes
// the sinks. A second call is a no-op.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, worker := range r.sinks {
		close(worker.events)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:   r.eventsTotal.Load(),
		FilteredTotal: r.filteredTotal.Load(),
		DroppedTotal:  r.droppedTotal.Load(),
	}
	if len(r.sinks) > 0 {
		stats.SinkDrops = make(map[string]uint64, len(r.sinks))
		for _, worker := range r.sinks {
			stats.SinkDrops[worker.name] = worker.dropped.Load()
		}
	}
	r.categoryMu.Lock()
	if len(r.categories) > 0 {
		stats.Categories = make(map[string]uint64, len(r.categories))
		for category, n := range r.categories {
			stats.Categories[category] = n
		}
	}
	r.categoryMu.Unlock()
	return stats
}

// Sink returns the sink registered under name, or nil.
func (r *Router) Sink(name string) Sink {
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	dropped  atomic.Uint64
	failures int
}

func newSinkWorker(name string, sink Sink, buffer int, fallback *log.Logger) *sinkWorker {
	return &sinkWorker{
		name:     name,
		sink:     sink,
		events:   make(chan Event, buffer),
		fallback: fallback,
	}
}

// enqueue reports false when the sink's queue is full.
func (w *sinkWorker) enqueue(event Event) bool {
	select {
	case w.events <- event:
		return true
	default:
		if w.dropped.Add(1)%64 == 1 {
			w.fallback.Printf("sink %s backlog full dropping event type=%s", w.name, event.Type)
		}
		return false
	}
}

// run writes queued events until the queue is closed. After a failed write
// the worker backs off, doubling up to maxSinkBackoff, before the next one.
func (w *sinkWorker) run() {
	for event := range w.events {
		if err := w.sink.Write(event); err != nil {
			w.failures++
			delay := min(time.Duration(1<<min(w.failures, 5))*100*time.Millisecond, maxSinkBackoff)
			w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
			time.Sleep(delay)
			continue
		}
		w.failures = 0
	}
}
