package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"driftline/server/logging"
)

// ConsoleSink renders events as single-line key=value records for an
// operator tailing the process.
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var line strings.Builder
	fmt.Fprintf(&line, "[%s] tick=%d actor=%s severity=%s", event.Type, event.Tick, formatEntity(event.Actor), severityLabel(event.Severity))
	if event.Category != "" {
		fmt.Fprintf(&line, " category=%s", event.Category)
	}
	if len(event.Targets) > 0 {
		parts := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			parts = append(parts, formatEntity(target))
		}
		fmt.Fprintf(&line, " targets=%s", strings.Join(parts, ","))
	}
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			fmt.Fprintf(&line, " payload=%s", data)
		} else {
			fmt.Fprintf(&line, " payload=%v", event.Payload)
		}
	}
	s.logger.Print(line.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func severityLabel(sev logging.Severity) string {
	switch sev {
	case logging.SeverityDebug:
		return "debug"
	case logging.SeverityInfo:
		return "info"
	case logging.SeverityWarn:
		return "warn"
	case logging.SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}
