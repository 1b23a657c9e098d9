package sinks

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eraflo/FallGuys/logging"
)

// Zerolog forwards events to a zerolog logger, either as JSON lines or
// through zerolog's console writer.
type Zerolog struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewZerolog builds a zerolog sink writing to w.
func NewZerolog(w io.Writer, app string, cfg logging.ZerologConfig) *Zerolog {
	if w == nil {
		w = io.Discard
	}
	output := w
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	logger := zerolog.New(output).With().Str("app", app).Logger()
	return &Zerolog{logger: logger}
}

// Write satisfies logging.Sink.
func (s *Zerolog) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.logger.WithLevel(zerologLevel(event.Severity)).
		Time("time", event.Time).
		Uint64("tick", event.Tick).
		Str("actor", formatEntity(event.Actor))
	if event.Category != "" {
		entry = entry.Str("category", event.Category)
	}
	if len(event.Targets) > 0 {
		entry = entry.Interface("targets", event.Targets)
	}
	if event.Payload != nil {
		entry = entry.Interface("payload", event.Payload)
	}
	if len(event.Extra) > 0 {
		entry = entry.Fields(event.Extra)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	entry.Msg(string(event.Type))
	return nil
}

// Close satisfies logging.Sink.
func (s *Zerolog) Close(context.Context) error {
	return nil
}

func zerologLevel(sev logging.Severity) zerolog.Level {
	switch sev {
	case logging.SeverityDebug:
		return zerolog.DebugLevel
	case logging.SeverityWarn:
		return zerolog.WarnLevel
	case logging.SeverityError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
