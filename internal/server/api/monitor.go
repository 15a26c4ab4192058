package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/eyesoff/internal/alert"
	"github.com/ayusman/eyesoff/internal/app"
	"github.com/ayusman/eyesoff/internal/config"
)

// Monitor is the part of the application the control API drives.
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	DismissAlert() error
	TestAlert() error
	Status() app.Status
	Stats() alert.Statistics
	Config() *config.Config
	ApplyConfig(cfg *config.Config) error
}

// MonitorHandler serves status, statistics, alert and monitoring control,
// and the configuration.
type MonitorHandler struct {
	monitor Monitor
	// ctx outlives requests; monitoring started over HTTP runs under it.
	ctx    context.Context
	save   func(*config.Config) error
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewMonitorHandler creates a MonitorHandler. save, if non-nil, persists a
// configuration accepted by PUT /api/config.
func NewMonitorHandler(ctx context.Context, m Monitor, save func(*config.Config) error, logger *slog.Logger) *MonitorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &MonitorHandler{
		monitor: m,
		ctx:     ctx,
		save:    save,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /api/status", h.status)
	h.mux.HandleFunc("GET /api/stats", h.stats)
	h.mux.HandleFunc("POST /api/alert/{action}", h.alertAction)
	h.mux.HandleFunc("POST /api/monitoring/{action}", h.monitoring)
	h.mux.HandleFunc("GET /api/config", h.getConfig)
	h.mux.HandleFunc("PUT /api/config", h.putConfig)
	return h
}

// ServeHTTP implements http.Handler.
func (h *MonitorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type statsResponse struct {
	alert.Statistics
	SessionSeconds float64 `json:"session_seconds"`
	Summary        string  `json:"summary"`
}

func (h *MonitorHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) stats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s := h.monitor.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Statistics:     s,
		SessionSeconds: s.SessionDuration(now).Seconds(),
		Summary:        s.Summary(now),
	})
}

func (h *MonitorHandler) alertAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("action") {
	case "dismiss":
		err = h.monitor.DismissAlert()
	case "test":
		err = h.monitor.TestAlert()
	default:
		writeError(w, http.StatusNotFound, "Unknown alert action")
		return
	}
	h.respond(w, err)
}

func (h *MonitorHandler) monitoring(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = h.monitor.Start(h.ctx)
	case "stop":
		err = h.monitor.Stop()
	case "pause":
		err = h.monitor.Pause()
	case "resume":
		err = h.monitor.Resume()
	default:
		writeError(w, http.StatusNotFound, "Unknown monitoring action")
		return
	}
	h.respond(w, err)
}

// respond writes the status after a control action, or maps err.
func (h *MonitorHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		if errors.Is(err, app.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Warn("control action failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *MonitorHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Config())
}

// putConfig merges the body over the active configuration, so partial
// documents only change the fields they name.
func (h *MonitorHandler) putConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.monitor.Config()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.monitor.ApplyConfig(cfg); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: strings.TrimSpace(verrs.Error()), Fields: fields})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.save != nil {
		if err := h.save(cfg); err != nil {
			h.logger.Warn("failed to save configuration", "error", err)
			writeError(w, http.StatusInternalServerError, "Configuration applied but not saved")
			return
		}
	}
	writeJSON(w, http.StatusOK, h.monitor.Config())
}
