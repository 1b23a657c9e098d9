package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/eraflo/FallGuys/logging"
)

// ConsoleSink renders one human-readable line per event.
type ConsoleSink struct {
	logger *log.Logger
	color  bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags), color: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	payload := formatPayload(event.Payload)
	targets := formatTargets(event.Targets)
	severity := event.Severity.String()
	if s.color {
		severity = colorize(event.Severity, severity)
	}
	s.logger.Printf("[%s] tick=%d actor=%s severity=%s%s%s%s", event.Type, event.Tick, formatEntity(event.Actor), severity, targets, payload, formatExtra(event.Extra))
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func colorize(sev logging.Severity, text string) string {
	code := "37"
	switch sev {
	case logging.SeverityDebug:
		code = "90"
	case logging.SeverityWarn:
		code = "33"
	case logging.SeverityError:
		code = "31"
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return fmt.Sprintf(" targets=%s", strings.Join(parts, ","))
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, extra[key]))
	}
	return " " + strings.Join(parts, " ")
}
