package mqtt

import "fmt"

// Topic scheme for everything the bridge publishes and consumes.
//
// Device topics use the flat scheme: laresbridge/{category}/{kind}/{device_id}
// The kind segment lets consumers subscribe per device class
// (laresbridge/state/light/+) without maintaining device lists.
const (
	// TopicPrefix is the base for all bridge topics.
	// Flat scheme: laresbridge/{category}/{kind}/{device_id}
	TopicPrefix = "laresbridge"

	// TopicPrefixSystem is the base for bridge lifecycle topics.
	TopicPrefixSystem = "laresbridge/system"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("light", "light_3")
//	// Returns: "laresbridge/state/light/light_3"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the retained state topic for a device.
//
// Example: laresbridge/state/light/light_3
func (Topics) DeviceState(kind, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, kind, deviceID)
}

// DeviceDiscovery returns the retained discovery topic for a device.
// Published whenever the panel announces the device, including
// re-announcements after reconnect.
//
// Example: laresbridge/discovery/cover/cover_7
func (Topics) DeviceDiscovery(kind, deviceID string) string {
	return fmt.Sprintf("%s/discovery/%s/%s", TopicPrefix, kind, deviceID)
}

// DeviceCommand returns the topic consumers publish commands to.
//
// Example: laresbridge/command/light/light_3
func (Topics) DeviceCommand(kind, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, kind, deviceID)
}

// DeviceAck returns the topic for command acknowledgements.
// Every command receives exactly one ack, success or error.
//
// Example: laresbridge/ack/light/light_3
func (Topics) DeviceAck(kind, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, kind, deviceID)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Connection returns the retained panel connection availability topic.
//
// Example: laresbridge/connection
func (Topics) Connection() string {
	return fmt.Sprintf("%s/connection", TopicPrefix)
}

// Health returns the retained bridge health topic.
// The health reporter publishes here on a fixed interval.
//
// Example: laresbridge/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// SystemStatus returns the bridge online/offline status topic.
// The broker publishes the Last Will here if the bridge dies without
// a graceful disconnect.
//
// Example: laresbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllStates returns a pattern matching all device state topics.
//
// Pattern: laresbridge/state/+/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllCommands returns a pattern matching all device command topics.
// The bridge subscribes here for its command intake.
//
/// Pattern: laresbridge/command/+/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllAcks returns a pattern matching all command acknowledgements.
//
// Pattern: laresbridge/ack/+/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefix)
}

// AllDiscovery returns a pattern matching all discovery announcements.
//
// Pattern: laresbridge/discovery/+/+
func (Topics) AllDiscovery() string {
	return fmt.Sprintf("%s/discovery/+/+", TopicPrefix)
}

// KindStates returns a pattern matching state topics for one device kind.
//
// Pattern: laresbridge/state/light/+
func (Topics) KindStates(kind string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, kind)
}

// KindCommands returns a pattern matching command topics for one device kind.
//
// Pattern: laresbridge/command/cover/+
func (Topics) KindCommands(kind string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, kind)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: laresbridge/#
func (Topics) AllTopics() string {
	return "laresbridge/#"
}
