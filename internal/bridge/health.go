package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/lares-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals and samples
// the panel transport counters into the telemetry store.
type HealthReporter struct {
	version   string
	panelHost string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	panel     PanelMonitor
	telemetry TelemetryWriter

	// Device count (updated externally)
	deviceCount   int
	deviceCountMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// PanelMonitor provides the panel session view health reports are built
// from. Satisfied by *lares.Client.
type PanelMonitor interface {
	// Ready reports whether the session is authenticated and serving.
	Ready() bool

	// Stats returns a snapshot of the session counters.
	Stats() lares.Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// PanelHost tags telemetry samples with the panel they belong to.
	PanelHost string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Panel provides session state and counters.
	Panel PanelMonitor

	// Telemetry receives periodic counter samples. Optional.
	Telemetry TelemetryWriter
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		version:   cfg.Version,
		panelHost: cfg.PanelHost,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		panel:     cfg.Panel,
		telemetry: cfg.Telemetry,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Final stopping status is best-effort; the broker may already
		// be gone at this point.
		//nolint:errcheck
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount updates the managed device count.
// Called as discovery sweeps grow the registry.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCountMu.Lock()
	h.deviceCount = count
	h.deviceCountMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialisation.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
			h.recordStats()
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if h.panel == nil || !h.panel.Ready() {
		return HealthDegraded, "panel session not ready"
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	h.deviceCountMu.RLock()
	deviceCount := h.deviceCount
	h.deviceCountMu.RUnlock()

	var stats lares.Stats
	if h.panel != nil {
		stats = h.panel.Stats()
	}

	msg := NewHealthMessage(h.version, status, stats, deviceCount, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Retained so consumers joining late see the last report.
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}

// recordStats samples the panel transport counters into telemetry.
func (h *HealthReporter) recordStats() {
	if h.telemetry == nil || h.panel == nil {
		return
	}

	s := h.panel.Stats()
	h.telemetry.WriteSessionStats(h.panelHost, s.State,
		int64(s.FramesRx), int64(s.FramesTx),
		int64(s.ParseErrors), int64(s.Reconnects))
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
