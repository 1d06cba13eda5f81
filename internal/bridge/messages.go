package bridge

import (
	"time"

	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

// MQTT message types exchanged between the bridge and its consumers.
// Outbound payloads carry RFC3339 UTC timestamps.

// CommandRequest is the inbound command payload.
// Topic: laresbridge/command/{kind}/{device_id}
//
// Action decides which parameters are required; the rest are ignored.
// Optional parameters use pointers so absent and zero are distinguishable.
type CommandRequest struct {
	// ID correlates the acknowledgment with this command. Optional.
	ID string `json:"id,omitempty"`

	// Action is the command name (e.g., "switch", "dim", "position").
	Action string `json:"action"`

	// On is the target state for "switch".
	On *bool `json:"on,omitempty"`

	// Level is the brightness percentage (0-100) for "dim".
	Level *int `json:"level,omitempty"`

	// Position is the cover position percentage (0-100) for "position".
	Position *int `json:"position,omitempty"`

	// Mode is the season mode for "set_mode" (off, heat, cool, auto).
	Mode string `json:"mode,omitempty"`

	// Target is the temperature in degrees Celsius for "set_target".
	Target *float64 `json:"target,omitempty"`
}

// Command actions, validated against the target device's kind.
const (
	// ActionSwitch turns a light or gate output on or off. Requires "on".
	ActionSwitch = "switch"

	// ActionDim sets a dimmable output's brightness. Requires "level".
	ActionDim = "dim"

	// ActionPulse momentarily activates a gate relay.
	ActionPulse = "pulse"

	// ActionOpen drives a cover fully open.
	ActionOpen = "open"

	// ActionClose drives a cover fully closed.
	ActionClose = "close"

	// ActionPosition moves a cover to a position. Requires "position".
	ActionPosition = "position"

	// ActionSetMode selects a thermostat season mode. Requires "mode".
	ActionSetMode = "set_mode"

	// ActionSetTarget sets a thermostat target. Requires "target".
	ActionSetTarget = "set_target"

	// ActionExecute triggers a scenario.
	ActionExecute = "execute"
)

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was validated and written to the
	// panel session.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command. Every command receives exactly one.
// Topic: laresbridge/ack/{kind}/{device_id}
type AckMessage struct {
	// CommandID echoes the ID from the original command, if any.
	CommandID string `json:"command_id,omitempty"`

	// Timestamp is when the acknowledgment was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device identifier.
	DeviceID string `json:"device_id"`

	// Kind is the target device kind.
	Kind string `json:"kind"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Error carries details when Status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the machine-readable failure class.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeUnknownDevice     = "UNKNOWN_DEVICE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodePanelUnavailable  = "PANEL_UNAVAILABLE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries a device's current state.
// Topic: laresbridge/state/{kind}/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the device identifier.
	DeviceID string `json:"device_id"`

	// Kind is the device kind.
	Kind string `json:"kind"`

	// Timestamp is when the state was observed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// State is the kind-specific status:
	//   light:      {"on": true, "brightness": 75}
	//   cover:      {"position": 50, "target": 50, "motion": "stopped"}
	//   thermostat: {"current": 21.5, "target": 22.0, "mode": "HEAT"}
	//   sensor:     {"type": "temperature", "value": 21.5, "unit": "°C"}
	//   zone:       {"open": false, "armed": true, "bypassed": false, "fault": false}
	//   scenario:   {"active": false}
	//   gate:       {"open": false}
	State any `json:"state"`
}

// DiscoveryMessage announces a device the panel reported during its
// inventory sweep. Re-published after every reconnect.
// Topic: laresbridge/discovery/{kind}/{device_id}
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	// DeviceID is the device identifier.
	DeviceID string `json:"device_id"`

	// Kind is the device kind.
	Kind string `json:"kind"`

	// Name is the display name configured on the panel.
	Name string `json:"name"`

	// NativeID is the panel's own identifier for the underlying entity.
	NativeID string `json:"native_id"`

	// Timestamp is when the announcement was generated (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// Panel connection states published on the availability topic.
const (
	// ConnectionOnline means the panel session is authenticated and serving.
	ConnectionOnline = "connected"

	// ConnectionOffline means the panel session is down.
	ConnectionOffline = "disconnected"

	// ConnectionAuthFailed means the panel rejected the configured PIN.
	// The client does not retry; operator action is required.
	ConnectionAuthFailed = "auth_failed"
)

// ConnectionMessage reports panel session availability.
// Topic: laresbridge/connection
// QoS: 1, Retained: Yes
type ConnectionMessage struct {
	// Status is the connection state.
	Status string `json:"status"`

	// Host is the panel host.
	Host string `json:"host"`

	// Timestamp is when the transition was observed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Reason explains the transition (especially for disconnects).
	Reason string `json:"reason,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: laresbridge/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// Timestamp is when the health status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Panel contains panel session details.
	Panel *PanelHealth `json:"panel,omitempty"`

	// DevicesManaged is the number of devices in the registry.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// PanelHealth describes the panel session inside a health message.
type PanelHealth struct {
	// State is the session state ("disconnected", "connecting",
	// "authenticating", "ready").
	State string `json:"state"`

	// FramesRx and FramesTx are cumulative frame counters.
	FramesRx uint64 `json:"frames_rx"`
	FramesTx uint64 `json:"frames_tx"`

	// ParseErrors is the cumulative dropped-frame counter.
	ParseErrors uint64 `json:"parse_errors"`

	// Reconnects is the cumulative reconnect counter.
	Reconnects uint64 `json:"reconnects"`

	// LastActivity is when the session last saw traffic.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// NewAckAccepted creates the acknowledgment for a forwarded command.
func NewAckAccepted(req CommandRequest, kind, deviceID string) AckMessage {
	return AckMessage{
		CommandID: req.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Kind:      kind,
		Status:    AckAccepted,
	}
}

// NewAckError creates the acknowledgment for a failed command.
func NewAckError(req CommandRequest, kind, deviceID, code, message string) AckMessage {
	return AckMessage{
		CommandID: req.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Kind:      kind,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message from a device snapshot. State
// is nil when the device carries no status yet.
func NewStateMessage(d device.Device) StateMessage {
	return StateMessage{
		DeviceID:  d.ID,
		Kind:      string(d.Kind),
		Timestamp: time.Now().UTC(),
		State:     deviceState(d),
	}
}

// NewDiscoveryMessage creates a discovery announcement for a device.
func NewDiscoveryMessage(d device.Device) DiscoveryMessage {
	return DiscoveryMessage{
		DeviceID:  d.ID,
		Kind:      string(d.Kind),
		Name:      d.Name,
		NativeID:  d.NativeID,
		Timestamp: time.Now().UTC(),
	}
}

// NewConnectionMessage creates a panel availability message.
func NewConnectionMessage(status, host, reason string) ConnectionMessage {
	return ConnectionMessage{
		Status:    status,
		Host:      host,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(version string, status HealthStatus, stats lares.Stats, deviceCount int, startTime time.Time) HealthMessage {
	panel := &PanelHealth{
		State:       stats.State,
		FramesRx:    stats.FramesRx,
		FramesTx:    stats.FramesTx,
		ParseErrors: stats.ParseErrors,
		Reconnects:  stats.Reconnects,
	}
	if !stats.LastActivity.IsZero() {
		t := stats.LastActivity.UTC()
		panel.LastActivity = &t
	}

	return HealthMessage{
		Status:         status,
		Version:        version,
		Timestamp:      time.Now().UTC(),
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		Panel:          panel,
		DevicesManaged: deviceCount,
	}
}

// deviceState returns the kind-specific status of a device, or nil when
// the device has none.
func deviceState(d device.Device) any {
	switch {
	case d.Light != nil:
		return d.Light
	case d.Cover != nil:
		return d.Cover
	case d.Thermostat != nil:
		return d.Thermostat
	case d.Sensor != nil:
		return d.Sensor
	case d.Zone != nil:
		return d.Zone
	case d.Scenario != nil:
		return d.Scenario
	case d.Gate != nil:
		return d.Gate
	}
	return nil
}
