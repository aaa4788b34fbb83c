// Copyright 2025 Certen Protocol
//
// Admin HTTP surface (spec.md §6): health probes plus the bearer-token
// gated cron control plane. Grounded on proof_handlers.go's manual
// path-parsing/writeJSON/writeError idiom — no router dependency is
// introduced here since the teacher itself never uses one.

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/certen/tee-verifier/pkg/queue"
	"github.com/certen/tee-verifier/pkg/scheduler"
)

// AdminHandlers serves the health and cron-control admin surface.
type AdminHandlers struct {
	serviceName string
	apiKey      string

	sched *scheduler.Scheduler
	q     *queue.Queue

	pingDB          func(ctx context.Context) error
	latestCompleted func(ctx context.Context) (*time.Time, error)
	forceRefresh    func(ctx context.Context) (int, error)

	logger *log.Logger
}

// NewAdminHandlers constructs the admin surface. apiKey gates every
// /cron/* endpoint via a bearer token; an empty apiKey disables the
// check (development only — main.go logs a warning in that case).
func NewAdminHandlers(
	serviceName, apiKey string,
	sched *scheduler.Scheduler,
	q *queue.Queue,
	pingDB func(ctx context.Context) error,
	latestCompleted func(ctx context.Context) (*time.Time, error),
	forceRefresh func(ctx context.Context) (int, error),
	logger *log.Logger,
) *AdminHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[admin] ", log.LstdFlags)
	}
	return &AdminHandlers{
		serviceName:     serviceName,
		apiKey:          apiKey,
		sched:           sched,
		q:               q,
		pingDB:          pingDB,
		latestCompleted: latestCompleted,
		forceRefresh:    forceRefresh,
		logger:          logger,
	}
}

// ============================================================================
// HEALTH
// ============================================================================

// HandleHealth handles GET /health.
func (h *AdminHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}

	status := "ok"
	code := http.StatusOK
	if err := h.pingDB(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"service":   h.serviceName,
	})
}

// HandleHealthDetailed handles GET /health/detailed.
func (h *AdminHandlers) HandleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}

	ctx := r.Context()
	status := "ok"
	code := http.StatusOK
	if err := h.pingDB(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"service":   h.serviceName,
	}

	if h.latestCompleted != nil {
		if t, err := h.latestCompleted(ctx); err == nil && t != nil {
			body["latestCompletedReportTime"] = t.UTC()
		}
	}

	if h.q != nil {
		if stats, err := h.q.HealthCheck(ctx); err == nil {
			body["queue"] = stats
		}
	}

	h.writeJSON(w, code, body)
}

// ============================================================================
// CRON CONTROL — bearer-token gated
// ============================================================================

// HandleCronAction handles POST /cron/{start|stop|trigger}/:name.
func (h *AdminHandlers) HandleCronAction(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/cron/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_PATH", "expected /cron/{start|stop|trigger}/:name")
		return
	}
	action, name := parts[0], parts[1]

	var err error
	switch action {
	case "start":
		err = h.sched.Start(name)
	case "stop":
		err = h.sched.Stop(name)
	case "trigger":
		err = h.sched.Trigger(r.Context(), name)
	default:
		h.writeError(w, http.StatusNotFound, "UNKNOWN_ACTION", "action must be one of start, stop, trigger")
		return
	}

	if err != nil {
		h.writeError(w, http.StatusBadRequest, "CRON_ACTION_FAILED", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "action": action, "ok": true})
}

// HandleCronStartAll handles POST /cron/start-all.
func (h *AdminHandlers) HandleCronStartAll(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if err := h.sched.StartAll(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// HandleCronStopAll handles POST /cron/stop-all.
func (h *AdminHandlers) HandleCronStopAll(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if err := h.sched.StopAll(); err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// HandleCronForceRefreshApps handles POST /cron/force-refresh-apps.
func (h *AdminHandlers) HandleCronForceRefreshApps(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	n, err := h.forceRefresh(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"enqueued": n})
}

// HandleCronStatus handles GET /cron/status.
func (h *AdminHandlers) HandleCronStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": h.sched.StatusAll()})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *AdminHandlers) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.apiKey == "" {
		return true
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) || strings.TrimPrefix(auth, prefix) != h.apiKey {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
		return false
	}
	return true
}

func (h *AdminHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

func (h *AdminHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
