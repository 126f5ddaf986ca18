package report

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/swarmwatch/internal/logging"
	"github.com/ryandielhenn/swarmwatch/internal/telemetry"
)

// Handler serves the current view over HTTP.
type Handler struct {
	members Members
	obs     Observations
	network string
	log     *zap.Logger
}

func NewHandler(m Members, o Observations, network string, logger *zap.Logger) *Handler {
	return &Handler{members: m, obs: o, network: network, log: logging.OrNop(logger)}
}

// Register mounts the report endpoints on mux, each instrumented.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/get_status", telemetry.Instrument("get_status", http.HandlerFunc(h.GetStatus)))
	mux.Handle("/nodes", telemetry.Instrument("nodes", http.HandlerFunc(h.Nodes)))
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(h.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(h.Info)))
}

// GetStatus writes the view grouped by swarm id.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	h.writeJSON(w, BySwarm(CurrentView(h.members, h.obs)))
}

// Nodes writes a flat node list with a summary.
func (h *Handler) Nodes(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	type resp struct {
		Network string         `json:"network"`
		Summary Summary        `json:"summary"`
		Nodes   []NodeResponse `json:"nodes"`
	}
	view := CurrentView(h.members, h.obs)
	h.writeJSON(w, resp{Network: h.network, Summary: Summarize(view), Nodes: Flat(view)})
}

// Healthz returns 200 OK to indicate the monitor is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the process ID, current time, uptime and how many nodes are known.
func (h *Handler) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID     int       `json:"pid"`
		Now     time.Time `json:"now"`
		Uptime  string    `json:"uptime"`
		Network string    `json:"network"`
		Nodes   int       `json:"nodes"`
	}
	h.writeJSON(w, resp{
		PID:     os.Getpid(),
		Now:     time.Now(),
		Uptime:  telemetry.Uptime().Round(time.Second).String(),
		Network: h.network,
		Nodes:   len(h.members.Snapshot()),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("could not encode response", zap.Error(err))
		http.Error(w, "could not construct json", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
