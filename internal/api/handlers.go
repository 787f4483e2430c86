package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/collector"
	"github.com/chadmayfield/seismicd/internal/runlog"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Collector     *collector.Collector
	RunLog        *runlog.Store
	Stations      []chunk.Station
	Logger        *slog.Logger
	StartTime     time.Time
	StorageDriver string
	Version       string
}

// apiError is a JSON error response.
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"version":        h.Version,
		"uptime":         formatUptime(time.Since(h.StartTime)),
		"storage_driver": h.StorageDriver,
		"stations":       len(h.Stations),
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStatus handles GET /api/v1/status. This is the surface backfill and
// validation tools bootstrap from: the last productive run timestamp saves
// them a full storage scan, and the running flag tells them which windows
// are still in flight.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.Collector.Status()

	resp := struct {
		Running          bool          `json:"running"`
		Stations         int           `json:"stations"`
		LastRun          *runlog.Entry `json:"last_run,omitempty"`
		LastProductiveAt *time.Time    `json:"last_productive_at,omitempty"`
	}{
		Running:  status.Running,
		Stations: status.Stations,
		LastRun:  status.LastRun,
	}

	last, err := h.RunLog.LastProductive(r.Context())
	if err != nil {
		h.Logger.Warn("failed to read run log for status", "error", err)
	} else if last != nil {
		resp.LastProductiveAt = &last.StartTime
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRuns handles GET /api/v1/runs
func (h *Handlers) GetRuns(w http.ResponseWriter, r *http.Request) {
	l, err := h.RunLog.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run log")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ListStations handles GET /api/v1/stations
func (h *Handlers) ListStations(w http.ResponseWriter, r *http.Request) {
	type stationResponse struct {
		Network    string  `json:"network"`
		Station    string  `json:"station"`
		Location   string  `json:"location"`
		Channel    string  `json:"channel"`
		Volcano    string  `json:"volcano"`
		SampleRate float64 `json:"sample_rate"`
		Code       string  `json:"code"`
	}

	result := make([]stationResponse, 0, len(h.Stations))
	for _, st := range h.Stations {
		result = append(result, stationResponse{
			Network:    st.Network,
			Station:    st.Station,
			Location:   st.LocationToken(),
			Channel:    st.Channel,
			Volcano:    st.Volcano,
			SampleRate: st.SampleRate,
			Code:       st.Code(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": result})
}
