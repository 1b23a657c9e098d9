package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/eraflo/FallGuys/internal/driver"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/sim"
	"github.com/eraflo/FallGuys/logging"
)

// EnvPrefix namespaces every environment variable read by LoadConfig.
const EnvPrefix = "FALLGUYS_"

// Config is the server configuration. Values come from defaults, then the
// TOML file, then the environment.
type Config struct {
	Listen          string `toml:"listen" env:"LISTEN"`
	TickRate        int    `toml:"tick_rate" env:"TICK_RATE"`
	CatchupMaxTicks int    `toml:"catchup_max_ticks" env:"CATCHUP_MAX_TICKS"`
	CommandCapacity int    `toml:"command_capacity" env:"COMMAND_CAPACITY"`
	PerActorLimit   int    `toml:"per_actor_limit" env:"PER_ACTOR_LIMIT"`
	Workers         int    `toml:"workers" env:"WORKERS"`

	BehaviorDir string `toml:"behavior_dir" env:"BEHAVIOR_DIR"`
	HotReload   bool   `toml:"hot_reload" env:"HOT_RELOAD"`

	LogSinks       []string `toml:"log_sinks" env:"LOG_SINKS" envSeparator:","`
	LogMinSeverity string   `toml:"log_min_severity" env:"LOG_MIN_SEVERITY"`
	LogJSONPath    string   `toml:"log_json_path" env:"LOG_JSON_PATH"`

	EnableTracing    bool `toml:"enable_tracing" env:"ENABLE_TRACING"`
	EnablePprofTrace bool `toml:"enable_pprof_trace" env:"ENABLE_PPROF_TRACE"`

	// Placements seed the world at startup.
	Placements []driver.Placement `toml:"placements" env:"-"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Listen:          ":8080",
		TickRate:        sim.DefaultTickRate,
		CatchupMaxTicks: 4,
		CommandCapacity: sim.DefaultCommandCapacity,
		PerActorLimit:   32,
		Workers:         1,
		LogSinks:        []string{"console"},
		LogMinSeverity:  "info",
	}
}

// LoadConfig overlays the TOML file at path (optional, may be empty) and the
// environment on the defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate must be positive, got %d", c.TickRate))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if _, ok := logging.ParseSeverity(c.LogMinSeverity); !ok {
		errs = append(errs, fmt.Errorf("unknown log_min_severity %q", c.LogMinSeverity))
	}
	if c.HotReload && c.BehaviorDir == "" {
		errs = append(errs, errors.New("hot_reload requires behavior_dir"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LoggingConfig derives the router configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	}
	if severity, ok := logging.ParseSeverity(c.LogMinSeverity); ok {
		cfg.MinimumSeverity = severity
	}
	cfg.JSON.FilePath = c.LogJSONPath
	return cfg
}

// ObservabilityConfig derives the tracing and profiling switches.
func (c Config) ObservabilityConfig() observability.Config {
	return observability.Config{
		EnablePprofTrace: c.EnablePprofTrace,
		EnableTracing:    c.EnableTracing,
	}
}

// LoopConfig derives the tick loop configuration.
func (c Config) LoopConfig() sim.LoopConfig {
	return sim.LoopConfig{
		TickRate:        c.TickRate,
		CatchupMaxTicks: c.CatchupMaxTicks,
		CommandCapacity: c.CommandCapacity,
		PerActorLimit:   c.PerActorLimit,
	}
}
