package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"driftline/server/internal/config"
	"driftline/server/internal/hub"
	servernet "driftline/server/internal/net"
	"driftline/server/internal/observability"
	"driftline/server/internal/sim"
	"driftline/server/logging"
	"driftline/server/logging/sinks"
)

// Run loads configuration, wires the world and hub, and serves HTTP until the
// listener fails.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.Default()

	categories, err := config.LoadCategories(cfg.CategoryFile)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}

	router, err := buildRouter(cfg, logger)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := logging.NewMetrics()
	world, err := sim.NewWorld(sim.WorldConfig{
		Categories:       categories,
		KeyframeCapacity: cfg.KeyframeCapacity,
		KeyframeMaxAge:   cfg.KeyframeMaxAge,
	}, sim.Deps{
		Logger:    logger,
		Metrics:   metrics,
		Clock:     logging.SystemClock{},
		Publisher: router,
	})
	if err != nil {
		return fmt.Errorf("construct world: %w", err)
	}

	h := hub.New(world, hub.Config{
		TickRate:         cfg.TickRate,
		CatchupMaxTicks:  cfg.CatchupMaxTicks,
		CommandCapacity:  cfg.CommandCapacity,
		PerActorLimit:    cfg.PerActorLimit,
		QueueWarningStep: cfg.QueueWarningStep,
		KeyframeInterval: cfg.KeyframeInterval,
	})

	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(h, servernet.HTTPHandlerConfig{
		Logger:        logger,
		Metrics:       metrics,
		TickRate:      cfg.TickRate,
		Observability: observability.Config{EnablePprofTrace: cfg.EnablePprof},
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	logger.Printf("server listening on %s", srv.Addr)

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func buildRouter(cfg config.Server, logger *log.Logger) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = cfg.LogSinks

	var named []logging.NamedSink
	for _, name := range cfg.LogSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{
				Name: name,
				Sink: sinks.NewConsoleSink(os.Stdout),
			})
		case "json":
			out := os.Stdout
			if cfg.LogJSONPath != "" {
				file, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return nil, fmt.Errorf("open json log file: %w", err)
				}
				out = file
			}
			named = append(named, logging.NamedSink{
				Name: name,
				Sink: sinks.NewJSONSink(out, logConfig.JSONFlushInterval),
			})
		case "memory":
			named = append(named, logging.NamedSink{Name: name, Sink: sinks.NewMemorySink()})
		}
	}

	return logging.NewRouter(logging.SystemClock{}, logConfig, named)
}
