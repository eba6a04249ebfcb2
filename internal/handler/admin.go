package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mir00r/sdn-load-balancer/internal/controller"
	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/internal/middleware"
	"github.com/mir00r/sdn-load-balancer/internal/repository"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// SwitchInspector is the controller surface exposed by the admin API
type SwitchInspector interface {
	Switches() []controller.SwitchStatus
	LearnedAddresses(dpid uint64) ([]repository.MacEntry, error)
	ForgetAddresses(dpid uint64) (int, error)
}

// AdminHandler provides administrative API endpoints
type AdminHandler struct {
	switches  SwitchInspector
	selector  controller.ServerSelector
	gatherer  prometheus.Gatherer
	status    *StatusHandler
	logger    *logger.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler. gatherer may be nil, which
// leaves /metrics unregistered.
func NewAdminHandler(switches SwitchInspector, selector controller.ServerSelector, gatherer prometheus.Gatherer, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		switches:  switches,
		selector:  selector,
		gatherer:  gatherer,
		status:    NewStatusHandler(switches),
		logger:    log.AdminLogger(),
		startTime: time.Now(),
	}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Switches  int       `json:"switches"`
	Active    int       `json:"active_switches"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// MacTableResponse lists the learned addresses of one switch
type MacTableResponse struct {
	DPID    string                `json:"dpid"`
	Entries []repository.MacEntry `json:"entries"`
}

// EvictResponse reports an explicit eviction
type EvictResponse struct {
	DPID    string `json:"dpid"`
	Evicted int    `json:"evicted"`
}

// DecisionResponse represents a live server selection
type DecisionResponse struct {
	ServerID string   `json:"server_id"`
	MAC      string   `json:"mac"`
	IP       string   `json:"ip"`
	CPULoad  float64  `json:"cpu"`
	MemLoad  float64  `json:"mem"`
	Tied     []string `json:"tied"`
	Fallback bool     `json:"fallback,omitempty"`
}

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Status    int       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Router builds the admin API router
func (h *AdminHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RecoveryMiddleware(h.logger), middleware.LoggingMiddleware(h.logger))

	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.status.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.status.ReadinessHandler).Methods(http.MethodGet)
	r.HandleFunc("/switches", h.ListSwitchesHandler).Methods(http.MethodGet)
	r.HandleFunc("/switches/{dpid}/macs", h.ListMacsHandler).Methods(http.MethodGet)
	r.HandleFunc("/switches/{dpid}/macs", h.EvictMacsHandler).Methods(http.MethodDelete)
	r.HandleFunc("/balancer/decision", h.DecisionHandler).Methods(http.MethodGet)

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// HealthHandler handles GET /health
func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Switches:  len(h.switches.Switches()),
		Active:    h.status.activeSwitches(),
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC(),
	})
}

// ListSwitchesHandler handles GET /switches
func (h *AdminHandler) ListSwitchesHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.switches.Switches())
}

// ListMacsHandler handles GET /switches/{dpid}/macs
func (h *AdminHandler) ListMacsHandler(w http.ResponseWriter, r *http.Request) {
	dpid, ok := h.parseDPID(w, r)
	if !ok {
		return
	}

	entries, err := h.switches.LearnedAddresses(dpid)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, MacTableResponse{
		DPID:    mux.Vars(r)["dpid"],
		Entries: entries,
	})
}

// EvictMacsHandler handles DELETE /switches/{dpid}/macs
func (h *AdminHandler) EvictMacsHandler(w http.ResponseWriter, r *http.Request) {
	dpid, ok := h.parseDPID(w, r)
	if !ok {
		return
	}

	n, err := h.switches.ForgetAddresses(dpid)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"action":  "evict_macs",
		"dpid":    mux.Vars(r)["dpid"],
		"evicted": n,
	}).Info("Evicted learned addresses")

	h.writeJSON(w, http.StatusOK, EvictResponse{
		DPID:    mux.Vars(r)["dpid"],
		Evicted: n,
	})
}

// DecisionHandler handles GET /balancer/decision. It runs a real selection
// against the monitoring service, exactly as a VIP ARP request would.
func (h *AdminHandler) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	decision, err := h.selector.SelectServer(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, NewDecisionResponse(decision))
}

// NewDecisionResponse flattens a decision for JSON output
func NewDecisionResponse(decision *domain.LoadBalancingDecision) DecisionResponse {
	chosen := decision.Chosen
	tied := make([]string, len(decision.TieBrokenAmong))
	for i, rec := range decision.TieBrokenAmong {
		tied[i] = rec.ID
	}

	return DecisionResponse{
		ServerID: chosen.ID,
		MAC:      chosen.MAC.String(),
		IP:       chosen.IP.String(),
		CPULoad:  chosen.CPULoad,
		MemLoad:  chosen.MemLoad,
		Tied:     tied,
		Fallback: decision.Fallback,
	}
}

// parseDPID accepts the hex form used in responses, with or without 0x
func (h *AdminHandler) parseDPID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["dpid"]
	dpid, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
	if err != nil {
		h.writeError(w, cerrors.NewError(cerrors.ErrCodeInvalidRequest, "admin", "invalid datapath id "+strconv.Quote(raw)))
		return 0, false
	}
	return dpid, true
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Warn("Failed to encode response")
	}
}

// writeError writes a standardized error response
func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	status := cerrors.GetHTTPStatusCode(err)

	h.writeJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Code:      string(cerrors.GetErrorCode(err)),
		Status:    status,
		Timestamp: time.Now(),
	})

	h.logger.WithFields(map[string]interface{}{
		"error": err.Error(),
		"code":  status,
	}).Warn("API error response")
}
