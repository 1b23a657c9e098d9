package sinks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/eraflo/FallGuys/logging"
)

// Sink names accepted in logging.Config.EnabledSinks.
const (
	NameConsole = "console"
	NameJSON    = "json"
	NameMemory  = "memory"
	NameZerolog = "zerolog"
)

// Build constructs the sinks enabled in cfg. Console and zerolog output goes
// to stdout; the JSON sink appends to cfg.JSON.FilePath, or stdout when unset.
func Build(cfg logging.Config, app string, stdout io.Writer) ([]logging.NamedSink, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	var named []logging.NamedSink
	if cfg.HasSink(NameConsole) {
		named = append(named, logging.NamedSink{Name: NameConsole, Sink: NewConsoleSink(stdout, cfg.Console)})
	}
	if cfg.HasSink(NameZerolog) {
		named = append(named, logging.NamedSink{Name: NameZerolog, Sink: NewZerolog(stdout, app, cfg.Zerolog)})
	}
	if cfg.HasSink(NameJSON) {
		var w io.Writer = stdout
		if path := cfg.JSON.FilePath; path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("logging: create json log dir: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("logging: open json log: %w", err)
			}
			w = file
		}
		named = append(named, logging.NamedSink{Name: NameJSON, Sink: NewJSON(w, cfg.JSON.FlushInterval)})
	}
	if cfg.HasSink(NameMemory) {
		named = append(named, logging.NamedSink{Name: NameMemory, Sink: NewMemorySink()})
	}
	return named, nil
}
