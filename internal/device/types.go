package device

import "time"

// Kind is the functional class of a panel entity.
type Kind string

// Kind constants.
const (
	KindLight      Kind = "light"
	KindCover      Kind = "cover"
	KindThermostat Kind = "thermostat"
	KindSensor     Kind = "sensor"
	KindZone       Kind = "zone"
	KindScenario   Kind = "scenario"
	KindGate       Kind = "gate"
)

// AllKinds returns all valid kind values.
func AllKinds() []Kind {
	return []Kind{
		KindLight, KindCover, KindThermostat, KindSensor,
		KindZone, KindScenario, KindGate,
	}
}

// Motion is a cover's direction of travel.
type Motion string

// Motion constants.
const (
	MotionStopped Motion = "stopped"
	MotionOpening Motion = "opening"
	MotionClosing Motion = "closing"
)

// SensorType discriminates the three measurements one bus sensor module
// fans out into.
type SensorType string

// SensorType constants.
const (
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorLight       SensorType = "light"
)

// Device is one panel entity in bridge-facing form. Devices are created
// only by discovery; status deltas mutate them in place; they are never
// deleted while the registry lives.
//
// The identifier is the sole join key between discovery and later status
// deltas, formed by prefixing the panel's native numeric id with the kind
// tag: light_12, cover_3, sensor_temperature_4.
//
// Exactly one status pointer is non-nil, matching Kind.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// NativeID is the panel's id for the underlying entity. The three
	// sensor devices of one bus module share it.
	NativeID string `json:"native_id"`

	Light      *LightStatus      `json:"light,omitempty"`
	Cover      *CoverStatus      `json:"cover,omitempty"`
	Thermostat *ThermostatStatus `json:"thermostat,omitempty"`
	Sensor     *SensorStatus     `json:"sensor,omitempty"`
	Zone       *ZoneStatus       `json:"zone,omitempty"`
	Scenario   *ScenarioStatus   `json:"scenario,omitempty"`
	Gate       *GateStatus       `json:"gate,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// LightStatus is the state of a switched or dimmable output.
type LightStatus struct {
	On         bool `json:"on"`
	Brightness int  `json:"brightness"`
}

// CoverStatus is the state of a roller output. Positions are 0-100 with
// 0 fully closed. Motion is derived, not reported by the panel.
type CoverStatus struct {
	Position int    `json:"position"`
	Target   int    `json:"target"`
	Motion   Motion `json:"motion"`
}

// ThermostatStatus is the state of a climate zone. A zero Target means
// the panel has not reported one yet.
type ThermostatStatus struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Mode    string  `json:"mode"`
}

// SensorStatus is one measurement of a bus sensor module.
type SensorStatus struct {
	Type  SensorType `json:"type"`
	Value float64    `json:"value"`
	Unit  string     `json:"unit"`
}

// ZoneStatus is the state of an alarm zone.
type ZoneStatus struct {
	Open     bool `json:"open"`
	Armed    bool `json:"armed"`
	Bypassed bool `json:"bypassed"`
	Fault    bool `json:"fault"`
}

// ScenarioStatus is the state of a panel scenario. Active is a momentary
// flag raised while the panel runs it.
type ScenarioStatus struct {
	Active bool `json:"active"`
}

// GateStatus is the state of a pulse output.
type GateStatus struct {
	Open bool `json:"open"`
}

// DeriveID builds the client-local identifier for a kind and the panel's
// native id.
func DeriveID(kind Kind, nativeID string) string {
	return string(kind) + "_" + nativeID
}

// SensorID builds the identifier of one measurement device of a bus
// sensor module, e.g. sensor_temperature_4.
func SensorID(st SensorType, nativeID string) string {
	return string(KindSensor) + "_" + string(st) + "_" + nativeID
}

// Snapshot returns an independent copy of the device. Listeners and
// accessors receive snapshots, never pointers into the registry.
func (d *Device) Snapshot() Device {
	cpy := *d
	if d.Light != nil {
		v := *d.Light
		cpy.Light = &v
	}
	if d.Cover != nil {
		v := *d.Cover
		cpy.Cover = &v
	}
	if d.Thermostat != nil {
		v := *d.Thermostat
		cpy.Thermostat = &v
	}
	if d.Sensor != nil {
		v := *d.Sensor
		cpy.Sensor = &v
	}
	if d.Zone != nil {
		v := *d.Zone
		cpy.Zone = &v
	}
	if d.Scenario != nil {
		v := *d.Scenario
		cpy.Scenario = &v
	}
	if d.Gate != nil {
		v := *d.Gate
		cpy.Gate = &v
	}
	return cpy
}
