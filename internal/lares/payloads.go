package lares

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload type tags carried in the envelope's PAYLOAD_TYPE field.
const (
	PayloadTypeUser        = "USER"
	PayloadTypeMultiTypes  = "MULTI_TYPES"
	PayloadTypeRegister    = "REGISTER"
	PayloadTypeChanges     = "CHANGES"
	PayloadTypeSetOutput   = "CMD_SET_OUTPUT"
	PayloadTypeSetTherm    = "CMD_SET_THERM"
	PayloadTypeExeScenario = "CMD_EXE_SCENARIO"
)

// Resource categories named in READ and REGISTER type lists.
const (
	TypeZones            = "ZONES"
	TypeOutputs          = "OUTPUTS"
	TypeBusSensors       = "BUS_HAS"
	TypeScenarios        = "SCENARIOS"
	TypeStatusZones      = "STATUS_ZONES"
	TypeStatusOutputs    = "STATUS_OUTPUTS"
	TypeStatusBusSensors = "STATUS_BUS_HA_SENSORS"
	TypeStatusSystem     = "STATUS_SYSTEM"
	TypeStatusScenarios  = "STATUS_SCENARIOS"
)

// Output categories from discovery records. Unrecognised categories are
// treated as lights.
const (
	CategoryLight      = "LIGHT"
	CategoryRoll       = "ROLL"
	CategoryGate       = "GATE"
	CategoryThermostat = "THERM"
)

// Scenario categories. ARM and DISARM records are alarm toggles, not
// user scenarios, and are filtered out at discovery time.
const (
	CategoryScenario = "SCENARIO"
	CategoryArm      = "ARM"
	CategoryDisarm   = "DISARM"
)

// Zone status STA values.
const (
	ZoneOpen   = "OPEN"
	ZoneClosed = "CLOSED"
)

// Payload is the decoded body of an envelope. The concrete type is
// selected by the PAYLOAD_TYPE tag.
type Payload interface {
	// PayloadType returns the wire tag for this payload shape.
	PayloadType() string
}

// Scalar is a JSON value that panel firmware emits either bare or quoted:
// "75" and 75 both decode to Scalar("75"). Absent and null fields decode
// to the empty Scalar, which is how status records express "field not
// carried, leave the device value untouched".
type Scalar string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scalar(v)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	*s = Scalar(data)
	return nil
}

func (s Scalar) String() string { return string(s) }

// IsSet reports whether the field was present with a usable value.
func (s Scalar) IsSet() bool { return s != "" }

// Int converts the scalar to an int.
func (s Scalar) Int() (int, error) {
	return strconv.Atoi(string(s))
}

// Int64 converts the scalar to an int64.
func (s Scalar) Int64() (int64, error) {
	return strconv.ParseInt(string(s), 10, 64)
}

// Float converts the scalar to a float64.
func (s Scalar) Float() (float64, error) {
	return strconv.ParseFloat(string(s), 64)
}

// Flag interprets the panel's T/F flag convention.
func (s Scalar) Flag() bool { return s == "T" }

// LoginRequest is the USER payload of an outbound LOGIN frame.
type LoginRequest struct {
	PIN string `json:"PIN"`
}

func (*LoginRequest) PayloadType() string { return PayloadTypeUser }

// LoginResult is the USER payload of the panel's LOGIN response. Any
// RESULT other than "OK" is an authentication rejection.
type LoginResult struct {
	Result  string `json:"RESULT"`
	IDLogin Scalar `json:"ID_LOGIN"`
}

func (*LoginResult) PayloadType() string { return PayloadTypeUser }

// OK reports whether the panel accepted the login.
func (r *LoginResult) OK() bool { return r.Result == "OK" }

// ReadRequest is the MULTI_TYPES payload of an outbound READ frame.
type ReadRequest struct {
	IDLogin string   `json:"ID_LOGIN"`
	Types   []string `json:"TYPES"`
}

func (*ReadRequest) PayloadType() string { return PayloadTypeMultiTypes }

// ReadResult is the MULTI_TYPES payload of a READ response. The panel
// includes one array per requested category; the rest stay nil.
type ReadResult struct {
	Zones        []ZoneInfo        `json:"ZONES,omitempty"`
	Outputs      []OutputInfo      `json:"OUTPUTS,omitempty"`
	BusSensors   []BusSensorInfo   `json:"BUS_HAS,omitempty"`
	Scenarios    []ScenarioInfo    `json:"SCENARIOS,omitempty"`
	OutputStates []OutputStatus    `json:"STATUS_OUTPUTS,omitempty"`
	SensorStates []BusSensorStatus `json:"STATUS_BUS_HA_SENSORS,omitempty"`
	SystemStates []SystemStatus    `json:"STATUS_SYSTEM,omitempty"`
}

func (*ReadResult) PayloadType() string { return PayloadTypeMultiTypes }

// RegisterRequest is the REGISTER payload of an outbound REALTIME frame.
type RegisterRequest struct {
	IDLogin string   `json:"ID_LOGIN"`
	Types   []string `json:"TYPES"`
}

func (*RegisterRequest) PayloadType() string { return PayloadTypeRegister }

// StatusSet is the CHANGES payload of a realtime frame. Any subset of the
// arrays may be present. The registration response carries the full
// current status of every registered category, which is also the only
// source of initial zone status; later frames carry deltas.
type StatusSet struct {
	Zones      []ZoneStatus      `json:"STATUS_ZONES,omitempty"`
	Outputs    []OutputStatus    `json:"STATUS_OUTPUTS,omitempty"`
	BusSensors []BusSensorStatus `json:"STATUS_BUS_HA_SENSORS,omitempty"`
	Scenarios  []ScenarioStatus  `json:"STATUS_SCENARIOS,omitempty"`
	System     []SystemStatus    `json:"STATUS_SYSTEM,omitempty"`
}

func (*StatusSet) PayloadType() string { return PayloadTypeChanges }

// OutputCommand is the CMD_SET_OUTPUT payload of a CMD_USR frame.
type OutputCommand struct {
	IDLogin string       `json:"ID_LOGIN"`
	PIN     string       `json:"PIN"`
	Output  OutputTarget `json:"OUTPUT"`
}

func (*OutputCommand) PayloadType() string { return PayloadTypeSetOutput }

// OutputTarget selects the output and the requested state. Lights use
// STA (+ optional LEV); covers use POS alone.
type OutputTarget struct {
	ID  string `json:"ID"`
	Sta string `json:"STA,omitempty"`
	Lev string `json:"LEV,omitempty"`
	Pos string `json:"POS,omitempty"`
}

// ThermostatCommand is the CMD_SET_THERM payload of a CMD_USR frame.
type ThermostatCommand struct {
	IDLogin string           `json:"ID_LOGIN"`
	PIN     string           `json:"PIN"`
	Therm   ThermostatTarget `json:"THERM"`
}

func (*ThermostatCommand) PayloadType() string { return PayloadTypeSetTherm }

// ThermostatTarget selects the climate zone and either a season mode or a
// target temperature, never both in one frame.
type ThermostatTarget struct {
	ID     string `json:"ID"`
	Mode   string `json:"MODE,omitempty"`
	Target string `json:"TT,omitempty"`
}

// ScenarioCommand is the CMD_EXE_SCENARIO payload of a CMD_USR frame.
type ScenarioCommand struct {
	IDLogin  string         `json:"ID_LOGIN"`
	PIN      string         `json:"PIN"`
	Scenario ScenarioTarget `json:"SCENARIO"`
}

func (*ScenarioCommand) PayloadType() string { return PayloadTypeExeScenario }

// ScenarioTarget selects the scenario to execute.
type ScenarioTarget struct {
	ID string `json:"ID"`
}

// OpaquePayload retains a payload whose PAYLOAD_TYPE the client does not
// recognise. The frame is not an error; newer panel firmware introduces
// types older clients must survive.
type OpaquePayload struct {
	Type string
	Raw  json.RawMessage
}

func (p *OpaquePayload) PayloadType() string { return p.Type }

// ZoneInfo is a zone discovery record.
type ZoneInfo struct {
	ID  Scalar `json:"ID"`
	Des string `json:"DES"`
}

// OutputInfo is an output discovery record. Cat selects the device kind.
type OutputInfo struct {
	ID  Scalar `json:"ID"`
	Des string `json:"DES"`
	Cat string `json:"CAT"`
}

// BusSensorInfo is a bus domotic sensor discovery record. One DOMUS
// module reports temperature, humidity and light together.
type BusSensorInfo struct {
	ID  Scalar `json:"ID"`
	Des string `json:"DES"`
}

// ScenarioInfo is a scenario discovery record.
type ScenarioInfo struct {
	ID  Scalar `json:"ID"`
	Des string `json:"DES"`
	Cat string `json:"CAT"`
	Pin Scalar `json:"PIN"`
}

// ArmToggle reports whether the scenario arms or disarms the alarm
// rather than running user automation.
func (s ScenarioInfo) ArmToggle() bool {
	return s.Cat == CategoryArm || s.Cat == CategoryDisarm
}

// ZoneStatus is a zone status record. Absent fields are empty Scalars.
type ZoneStatus struct {
	ID  Scalar `json:"ID"`
	Sta Scalar `json:"STA"`
	Arm Scalar `json:"ARM"`
	Byp Scalar `json:"BYP"`
	Flt Scalar `json:"FLT"`
}

// OutputStatus is an output status record. Lights carry STA and LEV,
// covers POS and TPOS, thermostats MODE, T and TT.
type OutputStatus struct {
	ID     Scalar `json:"ID"`
	Sta    Scalar `json:"STA"`
	Lev    Scalar `json:"LEV"`
	Pos    Scalar `json:"POS"`
	TPos   Scalar `json:"TPOS"`
	Mode   Scalar `json:"MODE"`
	Temp   Scalar `json:"T"`
	Target Scalar `json:"TT"`
}

// DomusReading carries one DOMUS sensor sample.
type DomusReading struct {
	Temperature Scalar `json:"TEM"`
	Humidity    Scalar `json:"HUM"`
	Light       Scalar `json:"LHT"`
}

// BusSensorStatus is a bus sensor status record.
type BusSensorStatus struct {
	ID    Scalar        `json:"ID"`
	Domus *DomusReading `json:"DOMUS"`
}

// ScenarioStatus is a scenario status record. Exe is a momentary flag
// raised while the panel runs the scenario.
type ScenarioStatus struct {
	ID  Scalar `json:"ID"`
	Exe Scalar `json:"EXE"`
}

// SystemTemperature carries the panel-wide ambient readings.
type SystemTemperature struct {
	Inside  Scalar `json:"IN"`
	Outside Scalar `json:"OUT"`
}

// SystemStatus is the panel-wide status record.
type SystemStatus struct {
	Temperature *SystemTemperature `json:"TEMP"`
	Arm         Scalar             `json:"ARM"`
}

// InventoryRecord is one discovery record routed to the Sink. Exactly one
// variant is non-nil.
type InventoryRecord struct {
	Zone      *ZoneInfo
	Output    *OutputInfo
	BusSensor *BusSensorInfo
	Scenario  *ScenarioInfo
}

// StatusRecord is one status delta routed to the Sink. Exactly one
// variant is non-nil.
type StatusRecord struct {
	Zone      *ZoneStatus
	Output    *OutputStatus
	BusSensor *BusSensorStatus
	Scenario  *ScenarioStatus
	System    *SystemStatus
}

// Sink consumes decoded records. The device registry implements it; the
// protocol client never interprets device semantics itself. Records may
// interleave arbitrarily: a status delta can arrive before its discovery
// record and implementations must tolerate that.
type Sink interface {
	ApplyDiscovery(rec InventoryRecord)
	ApplyStatusDelta(rec StatusRecord)
}

// decodePayload selects the concrete payload type for a tag. Unknown tags
// decode to OpaquePayload; malformed bodies of known tags are parse
// errors that drop the frame.
func decodePayload(tag string, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	switch tag {
	case PayloadTypeUser:
		var p LoginResult
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %w", ErrParse, tag, err)
		}
		return &p, nil

	case PayloadTypeMultiTypes:
		var p ReadResult
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %w", ErrParse, tag, err)
		}
		return &p, nil

	case PayloadTypeChanges, PayloadTypeRegister:
		// Registration confirmations share the CHANGES shape: the panel
		// answers a REGISTER with the full status of every category.
		var p StatusSet
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %w", ErrParse, tag, err)
		}
		return &p, nil

	default:
		return &OpaquePayload{Type: tag, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
