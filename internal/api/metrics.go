package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/lares-bridge/internal/bridge"
)

// SystemMetrics represents the complete bridge metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Bridge        *bridge.Metrics `json:"bridge,omitempty"`
	Panel         PanelMetrics    `json:"panel"`
	Devices       DeviceMetrics   `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// PanelMetrics contains panel session statistics.
type PanelMetrics struct {
	State       string `json:"state"`
	Ready       bool   `json:"ready"`
	FramesRx    uint64 `json:"frames_rx"`
	FramesTx    uint64 `json:"frames_tx"`
	ParseErrors uint64 `json:"parse_errors"`
	Reconnects  uint64 `json:"reconnects"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total int `json:"total"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns bridge counters and runtime statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.panel.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Panel: PanelMetrics{
			State:       stats.State,
			Ready:       s.panel.Ready(),
			FramesRx:    stats.FramesRx,
			FramesTx:    stats.FramesTx,
			ParseErrors: stats.ParseErrors,
			Reconnects:  stats.Reconnects,
		},
		Devices: DeviceMetrics{
			Total: s.devices.Count(),
		},
	}

	if s.bridge != nil {
		m := s.bridge.GetMetrics()
		metrics.Bridge = &m
	}

	writeJSON(w, http.StatusOK, metrics)
}
