package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lares-bridge/internal/audit"
	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

// Bridge operation constants.
const (
	// commandTopicParts is the segment count of a device command topic
	// (laresbridge/command/{kind}/{device_id}).
	commandTopicParts = 4

	// auditTimeout bounds audit writes so a stalled database cannot
	// block command handling.
	auditTimeout = 5 * time.Second

	// Cover endpoint positions for the open/close shorthand actions.
	positionOpen   = 100
	positionClosed = 0
)

// Bridge republishes panel device state onto MQTT and feeds MQTT commands
// back into the panel session. It handles:
//   - Publishing retained discovery, state and availability topics
//   - Receiving commands from consumers and forwarding them to the panel
//   - Acknowledging every command, success or error
//   - Health reporting, audit records and telemetry samples
//
// The bridge registers itself as a listener on both the device registry
// and the panel client; those invoke its callbacks from their own
// goroutines.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	mqtt      MQTTClient
	panel     PanelClient
	devices   DeviceSource
	audit     AuditRecorder   // Optional audit trail
	telemetry TelemetryWriter // Optional telemetry store
	health    *HealthReporter

	// host is the panel host, used in availability payloads and audit
	// entries.
	host string

	// Command counters for the metrics endpoint
	commandsForwarded atomic.Uint64
	commandsFailed    atomic.Uint64

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// PanelClient is the southbound surface the bridge drives.
// Satisfied by *lares.Client.
type PanelClient interface {
	// Send finalises a command against the live session and writes it.
	Send(cmd lares.Command) error

	// Ready reports whether the session is authenticated and serving.
	Ready() bool

	// Stats returns a snapshot of the session counters.
	Stats() lares.Stats
}

// DeviceSource provides read access to the device registry.
// Satisfied by *device.Registry.
type DeviceSource interface {
	// Get returns a snapshot of one device.
	Get(id string) (device.Device, bool)

	// Count returns the number of devices.
	Count() int
}

// AuditRecorder persists audit entries.
// This is optional - if nil, the bridge operates without an audit trail.
type AuditRecorder interface {
	// Create persists one audit entry.
	Create(ctx context.Context, entry *audit.AuditLog) error
}

// TelemetryWriter records operational measurements.
// This is optional - if nil, the bridge operates without telemetry.
type TelemetryWriter interface {
	// WriteSessionEvent records a panel session transition.
	WriteSessionEvent(host, event string)

	// WriteSessionStats records the panel transport counters.
	WriteSessionStats(host, state string, framesRx, framesTx, parseErrors, reconnects int64)
}

// Logger is the minimal structured logging surface the bridge needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Panel is the panel session client. Required.
	Panel PanelClient

	// Devices is the device registry. Required.
	Devices DeviceSource

	// Audit is the audit trail. Optional.
	Audit AuditRecorder

	// Telemetry is the telemetry store. Optional.
	Telemetry TelemetryWriter

	// Logger is optional structured logger.
	Logger Logger

	// PanelHost names the panel in availability payloads, audit entries
	// and telemetry tags.
	PanelHost string

	// Version is the bridge software version, reported in health messages.
	Version string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration
}

// New creates a bridge. Call Start to begin operation, then register the
// returned bridge as a listener on the device registry and panel client.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Panel == nil {
		return nil, fmt.Errorf("panel client is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}

	// Bridge-level context so audit writes abort on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTT,
		panel:     opts.Panel,
		devices:   opts.Devices,
		audit:     opts.Audit,     // May be nil (optional)
		telemetry: opts.Telemetry, // May be nil (optional)
		host:      opts.PanelHost,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		PanelHost: opts.PanelHost,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Panel:     opts.Panel,
		Telemetry: opts.Telemetry,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation: subscribes to command topics, seeds the
// retained availability topic and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// A retained "connected" left over from a previous run would mislead
	// consumers until the first session event, so reset it up front.
	b.publishConnection(ConnectionOffline, "starting")

	commandTopic := mqtt.Topics{}.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started")
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// Abort in-flight audit writes
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// =============================================================================
// Device registry events
// =============================================================================

// DeviceDiscovered implements device.Listener. Announcements are retained
// so consumers joining later still see the full inventory; the panel
// re-announces everything after a reconnect and the republish refreshes
// both topics.
func (b *Bridge) DeviceDiscovered(d device.Device) {
	msg := NewDiscoveryMessage(d)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}

	topic := mqtt.Topics{}.DeviceDiscovery(string(d.Kind), d.ID)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}

	// Seed the state topic too. Devices whose state never deviates from
	// the defaults would otherwise have no retained state at all; the
	// first realtime push corrects everything else.
	b.publishState(d)

	b.health.SetDeviceCount(b.devices.Count())

	b.logDebug("device announced", "device_id", d.ID, "kind", string(d.Kind))
}

// DeviceUpdated implements device.Listener.
func (b *Bridge) DeviceUpdated(d device.Device) {
	b.publishState(d)
}

// publishState publishes a device's current state, retained.
func (b *Bridge) publishState(d device.Device) {
	msg := NewStateMessage(d)
	if msg.State == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := mqtt.Topics{}.DeviceState(string(d.Kind), d.ID)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// =============================================================================
// Panel session events
// =============================================================================

// Connected implements lares.ConnectionListener. Fires once per session,
// after authentication and the discovery sweep complete.
func (b *Bridge) Connected() {
	b.publishConnection(ConnectionOnline, "")
	b.recordPanelEvent(audit.ActionConnect, nil)

	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent(b.host, "connected")
	}

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	b.logInfo("panel session established", "host", b.host)
}

// Disconnected implements lares.ConnectionListener. A rejected PIN is
// terminal: the client will not retry, so the availability topic flags it
// distinctly for operator attention.
func (b *Bridge) Disconnected(err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}

	if errors.Is(err, lares.ErrAuthenticationFailed) {
		b.publishConnection(ConnectionAuthFailed, reason)
		b.recordPanelEvent(audit.ActionAuthFailure, map[string]any{"reason": reason})
		if b.telemetry != nil {
			b.telemetry.WriteSessionEvent(b.host, "auth_failure")
		}
		b.logError("panel rejected credentials", err)
		return
	}

	b.publishConnection(ConnectionOffline, reason)

	var details map[string]any
	if reason != "" {
		details = map[string]any{"reason": reason}
	}
	b.recordPanelEvent(audit.ActionDisconnect, details)

	if b.telemetry != nil {
		b.telemetry.WriteSessionEvent(b.host, "disconnected")
	}

	b.logInfo("panel session lost", "host", b.host, "reason", reason)
}

// publishConnection publishes panel availability, retained.
func (b *Bridge) publishConnection(status, reason string) {
	msg := NewConnectionMessage(status, b.host, reason)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal connection status", err)
		return
	}

	if err := b.mqtt.Publish(mqtt.Topics{}.Connection(), payload, 1, true); err != nil {
		b.logError("failed to publish connection status", err)
	}
}

// =============================================================================
// Command intake
// =============================================================================

// handleCommandMessage processes a command from MQTT. Every command is
// acknowledged exactly once, success or error.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	kind, deviceID, ok := parseCommandTopic(topic)
	if !ok {
		b.logDebug("ignoring message on unexpected topic", "topic", topic)
		return
	}

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.commandsFailed.Add(1)
		b.logError("failed to parse command", err)
		b.publishAckError(req, kind, deviceID, ErrCodeInvalidCommand, "malformed command payload")
		return
	}

	// The device id is authoritative; a mismatched kind segment means the
	// consumer addressed the wrong topic.
	if d, found := b.devices.Get(deviceID); found && string(d.Kind) != kind {
		b.commandsFailed.Add(1)
		b.publishAckError(req, kind, deviceID,
			ErrCodeInvalidCommand, fmt.Sprintf("device %s is a %s, not a %s", deviceID, d.Kind, kind))
		return
	}

	if err := b.Execute(b.ctx, deviceID, req, audit.SourceMQTT); err != nil {
		b.publishAckError(req, kind, deviceID, ackCode(err), err.Error())
		return
	}

	b.publishAck(req, kind, deviceID)
}

// Execute validates a command against the target device and forwards it
// to the panel. The API layer calls this directly; the MQTT intake wraps
// it with acknowledgment publication. Each forwarded command is recorded
// in the audit trail.
func (b *Bridge) Execute(ctx context.Context, deviceID string, req CommandRequest, source string) error {
	d, ok := b.devices.Get(deviceID)
	if !ok {
		b.commandsFailed.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	cmd, err := buildCommand(d, req)
	if err != nil {
		b.commandsFailed.Add(1)
		return err
	}

	if err := b.panel.Send(cmd); err != nil {
		b.commandsFailed.Add(1)
		return err
	}

	b.commandsForwarded.Add(1)
	b.recordCommand(ctx, source, d, req)

	b.logInfo("command forwarded",
		"device_id", d.ID,
		"kind", string(d.Kind),
		"action", req.Action,
		"source", source)
	return nil
}

// buildCommand maps an action onto a panel command for the device's kind.
// Range validation lives in the command constructors; only parameter
// presence is checked here.
func buildCommand(d device.Device, req CommandRequest) (lares.Command, error) {
	switch d.Kind {
	case device.KindLight:
		switch req.Action {
		case ActionSwitch:
			if req.On == nil {
				return lares.Command{}, fmt.Errorf("%w: on", ErrMissingParameter)
			}
			return lares.SwitchOutput(d.NativeID, *req.On), nil
		case ActionDim:
			if req.Level == nil {
				return lares.Command{}, fmt.Errorf("%w: level", ErrMissingParameter)
			}
			return lares.DimOutput(d.NativeID, *req.Level), nil
		}

	case device.KindCover:
		switch req.Action {
		case ActionOpen:
			return lares.PositionOutput(d.NativeID, positionOpen), nil
		case ActionClose:
			return lares.PositionOutput(d.NativeID, positionClosed), nil
		case ActionPosition:
			if req.Position == nil {
				return lares.Command{}, fmt.Errorf("%w: position", ErrMissingParameter)
			}
			return lares.PositionOutput(d.NativeID, *req.Position), nil
		}

	case device.KindGate:
		switch req.Action {
		case ActionPulse:
			return lares.PulseOutput(d.NativeID), nil
		case ActionSwitch:
			if req.On == nil {
				return lares.Command{}, fmt.Errorf("%w: on", ErrMissingParameter)
			}
			return lares.SwitchOutput(d.NativeID, *req.On), nil
		}

	case device.KindThermostat:
		switch req.Action {
		case ActionSetMode:
			if req.Mode == "" {
				return lares.Command{}, fmt.Errorf("%w: mode", ErrMissingParameter)
			}
			return lares.SetThermostatMode(d.NativeID, req.Mode), nil
		case ActionSetTarget:
			if req.Target == nil {
				return lares.Command{}, fmt.Errorf("%w: target", ErrMissingParameter)
			}
			return lares.SetThermostatTarget(d.NativeID, *req.Target), nil
		}

	case device.KindScenario:
		if req.Action == ActionExecute {
			return lares.ExecuteScenario(d.NativeID), nil
		}

	case device.KindZone, device.KindSensor:
		return lares.Command{}, fmt.Errorf("%w: %s", ErrReadOnlyDevice, d.Kind)
	}

	return lares.Command{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, req.Action, d.Kind)
}

// ackCode maps a command error onto its acknowledgment error code.
func ackCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeUnknownDevice
	case errors.Is(err, ErrMissingParameter), errors.Is(err, lares.ErrInvalidCommand):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnsupportedAction), errors.Is(err, ErrReadOnlyDevice):
		return ErrCodeInvalidCommand
	case errors.Is(err, lares.ErrNotConnected), errors.Is(err, lares.ErrClosed):
		return ErrCodePanelUnavailable
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes a successful command acknowledgment.
func (b *Bridge) publishAck(req CommandRequest, kind, deviceID string) {
	ack := NewAckAccepted(req, kind, deviceID)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := mqtt.Topics{}.DeviceAck(kind, deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(req CommandRequest, kind, deviceID, code, message string) {
	ack := NewAckError(req, kind, deviceID, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	topic := mqtt.Topics{}.DeviceAck(kind, deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// parseCommandTopic extracts the kind and device id from a command topic
// (laresbridge/command/{kind}/{device_id}).
func parseCommandTopic(topic string) (kind, deviceID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts {
		return "", "", false
	}
	if parts[0] != mqtt.TopicPrefix || parts[1] != "command" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// =============================================================================
// Audit records
// =============================================================================

// recordCommand writes the audit entry for a forwarded command. Details
// carry the command shape only; credentials never appear here.
func (b *Bridge) recordCommand(ctx context.Context, source string, d device.Device, req CommandRequest) {
	if b.audit == nil {
		return
	}

	details := map[string]any{
		"action": req.Action,
		"kind":   string(d.Kind),
	}
	if req.On != nil {
		details["on"] = *req.On
	}
	if req.Level != nil {
		details["level"] = *req.Level
	}
	if req.Position != nil {
		details["position"] = *req.Position
	}
	if req.Mode != "" {
		details["mode"] = req.Mode
	}
	if req.Target != nil {
		details["target"] = *req.Target
	}

	cctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	if err := b.audit.Create(cctx, audit.CommandEntry(source, d.ID, details)); err != nil {
		b.logError("failed to record command audit entry", err)
	}
}

// recordPanelEvent writes the audit entry for a panel session transition.
func (b *Bridge) recordPanelEvent(action string, details map[string]any) {
	if b.audit == nil {
		return
	}

	cctx, cancel := context.WithTimeout(b.ctx, auditTimeout)
	defer cancel()

	if err := b.audit.Create(cctx, audit.PanelEntry(action, b.host, details)); err != nil {
		b.logError("failed to record panel audit entry", err)
	}
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// =============================================================================
// Metrics
// =============================================================================

// Metrics contains bridge counters for the API metrics endpoint.
type Metrics struct {
	PanelConnected    bool   `json:"panel_connected"`
	PanelState        string `json:"panel_state"`
	MQTTConnected     bool   `json:"mqtt_connected"`
	FramesRx          uint64 `json:"frames_rx"`
	FramesTx          uint64 `json:"frames_tx"`
	ParseErrors       uint64 `json:"parse_errors"`
	Reconnects        uint64 `json:"reconnects"`
	CommandsForwarded uint64 `json:"commands_forwarded"`
	CommandsFailed    uint64 `json:"commands_failed"`
	DevicesManaged    int    `json:"devices_managed"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	stats := b.panel.Stats()

	return Metrics{
		PanelConnected:    b.panel.Ready(),
		PanelState:        stats.State,
		MQTTConnected:     b.mqtt.IsConnected(),
		FramesRx:          stats.FramesRx,
		FramesTx:          stats.FramesTx,
		ParseErrors:       stats.ParseErrors,
		Reconnects:        stats.Reconnects,
		CommandsForwarded: b.commandsForwarded.Load(),
		CommandsFailed:    b.commandsFailed.Load(),
		DevicesManaged:    b.devices.Count(),
	}
}
