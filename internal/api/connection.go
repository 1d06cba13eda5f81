package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/lares-bridge/internal/lares"
)

// ConnectionInfo is the response body for GET /connection.
type ConnectionInfo struct {
	State        string      `json:"state"`
	Ready        bool        `json:"ready"`
	FramesRx     uint64      `json:"frames_rx"`
	FramesTx     uint64      `json:"frames_tx"`
	ParseErrors  uint64      `json:"parse_errors"`
	Reconnects   uint64      `json:"reconnects"`
	LastActivity *time.Time  `json:"last_activity,omitempty"`
}

// handleConnection returns the panel session state and counters.
func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	stats := s.panel.Stats()
	writeJSON(w, http.StatusOK, newConnectionInfo(s.panel.Ready(), stats))
}

// newConnectionInfo builds the response from a stats snapshot.
func newConnectionInfo(ready bool, stats lares.Stats) ConnectionInfo {
	info := ConnectionInfo{
		State:       stats.State,
		Ready:       ready,
		FramesRx:    stats.FramesRx,
		FramesTx:    stats.FramesTx,
		ParseErrors: stats.ParseErrors,
		Reconnects:  stats.Reconnects,
	}
	if !stats.LastActivity.IsZero() {
		t := stats.LastActivity.UTC()
		info.LastActivity = &t
	}
	return info
}
