package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
)

// StatusHandler serves liveness and readiness checks
type StatusHandler struct {
	switches  SwitchInspector
	startTime time.Time
}

// NewStatusHandler creates a status handler
func NewStatusHandler(switches SwitchInspector) *StatusHandler {
	return &StatusHandler{
		switches:  switches,
		startTime: time.Now(),
	}
}

// StatusResponse is the body of the liveness and readiness endpoints
type StatusResponse struct {
	Status         string    `json:"status"`
	ActiveSwitches int       `json:"active_switches"`
	Uptime         string    `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
}

// LivenessHandler reports that the process is serving requests
func (h *StatusHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, "alive", h.activeSwitches())
}

// ReadinessHandler reports ready once at least one switch is active
func (h *StatusHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	active := h.activeSwitches()
	if active == 0 {
		h.write(w, http.StatusServiceUnavailable, "waiting_for_switch", 0)
		return
	}
	h.write(w, http.StatusOK, "ready", active)
}

func (h *StatusHandler) activeSwitches() int {
	active := 0
	for _, s := range h.switches.Switches() {
		if s.State == domain.SwitchActive.String() {
			active++
		}
	}
	return active
}

func (h *StatusHandler) write(w http.ResponseWriter, status int, state string, active int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(StatusResponse{
		Status:         state,
		ActiveSwitches: active,
		Uptime:         time.Since(h.startTime).String(),
		Timestamp:      time.Now().UTC(),
	})
}
