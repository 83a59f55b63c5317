package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"driftline/server/internal/config"
	"driftline/server/internal/hub"
	"driftline/server/internal/net/proto"
	"driftline/server/internal/net/ws"
	"driftline/server/internal/observability"
	"driftline/server/logging"
)

// HTTPHandlerConfig tunes the HTTP surface.
type HTTPHandlerConfig struct {
	Logger        *log.Logger
	Metrics       *logging.Metrics
	TickRate      int
	Observability observability.Config
}

// NewHTTPHandler builds the mux: join, websocket upgrade, category table and
// diagnostics.
func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string            `json:"status"`
			ServerTime int64             `json:"serverTime"`
			TickRate   int               `json:"tickRate"`
			Telemetry  map[string]uint64 `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Telemetry:  h.TelemetrySnapshot(),
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		join, err := h.Join()
		if err != nil {
			logger.Printf("join failed: %v", err)
			httpError(w, "join failed", nethttp.StatusInternalServerError)
			return
		}
		data, err := proto.EncodeJoinResponseV1(join)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/categories", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, logger, config.CategoryDocument{
			Ver:        config.CategoryFileVersion,
			Categories: h.Categories(),
		})
	})

	mux.Handle("/ws", ws.NewHandler(h, logger, cfg.Metrics))

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger *log.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(message))
}
