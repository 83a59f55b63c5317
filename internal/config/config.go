package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server holds every tunable the process reads at startup. Values come from
// the environment; the category ladder optionally comes from a JSON file so
// designers can edit it without a rebuild.
type Server struct {
	Addr string `env:"DRIFTLINE_ADDR" envDefault:":8080"`

	TickRate         int `env:"DRIFTLINE_TICK_RATE" envDefault:"15"`
	CatchupMaxTicks  int `env:"DRIFTLINE_CATCHUP_MAX_TICKS" envDefault:"5"`
	CommandCapacity  int `env:"DRIFTLINE_COMMAND_CAPACITY" envDefault:"512"`
	PerActorLimit    int `env:"DRIFTLINE_PER_ACTOR_LIMIT" envDefault:"32"`
	QueueWarningStep int `env:"DRIFTLINE_QUEUE_WARNING_STEP" envDefault:"128"`

	KeyframeInterval int           `env:"DRIFTLINE_KEYFRAME_INTERVAL_TICKS" envDefault:"60"`
	KeyframeCapacity int           `env:"DRIFTLINE_KEYFRAME_CAPACITY" envDefault:"32"`
	KeyframeMaxAge   time.Duration `env:"DRIFTLINE_KEYFRAME_MAX_AGE" envDefault:"0s"`

	CategoryFile string `env:"DRIFTLINE_CATEGORY_FILE"`

	EnablePprof bool `env:"DRIFTLINE_ENABLE_PPROF" envDefault:"false"`

	LogSinks    []string `env:"DRIFTLINE_LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogJSONPath string   `env:"DRIFTLINE_LOG_JSON_PATH"`
}

// Load parses the environment into a validated server configuration.
func Load() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the loop and journal cannot run with.
func (c Server) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr is empty")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("config: tick rate must be positive, got %d", c.TickRate)
	}
	if c.CatchupMaxTicks < 0 {
		return fmt.Errorf("config: catchup max ticks must not be negative, got %d", c.CatchupMaxTicks)
	}
	if c.CommandCapacity <= 0 {
		return fmt.Errorf("config: command capacity must be positive, got %d", c.CommandCapacity)
	}
	if c.PerActorLimit <= 0 {
		return fmt.Errorf("config: per-actor limit must be positive, got %d", c.PerActorLimit)
	}
	if c.KeyframeInterval <= 0 {
		return fmt.Errorf("config: keyframe interval must be positive, got %d", c.KeyframeInterval)
	}
	if c.KeyframeCapacity < 0 {
		return fmt.Errorf("config: keyframe capacity must not be negative, got %d", c.KeyframeCapacity)
	}
	if c.KeyframeMaxAge < 0 {
		return fmt.Errorf("config: keyframe max age must not be negative, got %s", c.KeyframeMaxAge)
	}
	for _, sink := range c.LogSinks {
		switch sink {
		case "console", "json", "memory":
		default:
			return fmt.Errorf("config: unknown log sink %q", sink)
		}
	}
	return nil
}
