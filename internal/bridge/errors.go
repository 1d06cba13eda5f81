package bridge

import "errors"

// Command validation errors. The MQTT intake maps these onto ack error
// codes; the API layer maps them onto HTTP statuses.
var (
	// ErrUnknownDevice indicates the target device is not in the registry.
	ErrUnknownDevice = errors.New("bridge: unknown device")

	// ErrUnsupportedAction indicates the action does not apply to the
	// target device's kind.
	ErrUnsupportedAction = errors.New("bridge: unsupported action for device kind")

	// ErrMissingParameter indicates a required command parameter was absent.
	ErrMissingParameter = errors.New("bridge: missing command parameter")

	// ErrReadOnlyDevice indicates the device kind cannot be commanded.
	// Zones and sensors report state but accept nothing.
	ErrReadOnlyDevice = errors.New("bridge: device is read-only")
)
