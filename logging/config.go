package logging

import "time"

// Config tunes the event router and the sinks the app wires behind it.
// EnabledSinks names the sinks to build; the router itself only consumes
// the buffer, severity, and drop-warning knobs.
type Config struct {
	EnabledSinks      []string
	BufferSize        int
	MinimumSeverity   Severity
	Fields            map[string]any
	JSONFlushInterval time.Duration
	DropWarnInterval  time.Duration
}

// DefaultConfig enables the console sink with a buffer sized for one busy
// tick of modifier traffic.
func DefaultConfig() Config {
	return Config{
		EnabledSinks:      []string{"console"},
		BufferSize:        512,
		MinimumSeverity:   SeverityInfo,
		JSONFlushInterval: 2 * time.Second,
		DropWarnInterval:  5 * time.Second,
	}
}

// CloneFields copies the static fields stamped onto every event, so the
// router owns its map independently of the caller's.
func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
