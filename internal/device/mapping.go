package device

import (
	"strings"

	"github.com/nerrad567/lares-bridge/internal/lares"
)

// Sensor measurement units.
const (
	unitCelsius = "°C"
	unitPercent = "%"
	unitLux     = "lx"
)

// kindForCategory maps an output discovery category to a device kind.
// Unrecognised categories are treated as lights.
func kindForCategory(cat string) Kind {
	switch cat {
	case lares.CategoryRoll:
		return KindCover
	case lares.CategoryGate:
		return KindGate
	case lares.CategoryThermostat:
		return KindThermostat
	default:
		return KindLight
	}
}

func displayName(des string, kind Kind, native string) string {
	if des != "" {
		return des
	}
	return string(kind) + " " + native
}

func newZoneDevice(info *lares.ZoneInfo) *Device {
	native := info.ID.String()
	return &Device{
		ID:       DeriveID(KindZone, native),
		Name:     displayName(info.Des, KindZone, native),
		Kind:     KindZone,
		NativeID: native,
		Zone:     &ZoneStatus{},
	}
}

func newOutputDevice(info *lares.OutputInfo) *Device {
	native := info.ID.String()
	kind := kindForCategory(info.Cat)
	d := &Device{
		ID:       DeriveID(kind, native),
		Name:     displayName(info.Des, kind, native),
		Kind:     kind,
		NativeID: native,
	}
	switch kind {
	case KindCover:
		d.Cover = &CoverStatus{Motion: MotionStopped}
	case KindGate:
		d.Gate = &GateStatus{}
	case KindThermostat:
		d.Thermostat = &ThermostatStatus{}
	default:
		d.Light = &LightStatus{}
	}
	return d
}

// newSensorDevices fans one bus module out into its three measurement
// devices. They share the module's native id and name prefix but are
// independent devices with distinct identifiers.
func newSensorDevices(info *lares.BusSensorInfo) []*Device {
	native := info.ID.String()
	base := info.Des
	if base == "" {
		base = "Sensor " + native
	}

	build := func(st SensorType, suffix, unit string) *Device {
		return &Device{
			ID:       SensorID(st, native),
			Name:     base + " " + suffix,
			Kind:     KindSensor,
			NativeID: native,
			Sensor:   &SensorStatus{Type: st, Unit: unit},
		}
	}

	return []*Device{
		build(SensorTemperature, "Temperature", unitCelsius),
		build(SensorHumidity, "Humidity", unitPercent),
		build(SensorLight, "Light", unitLux),
	}
}

// newScenarioDevice returns nil for arm/disarm toggles: they are alarm
// controls, not user-facing automations.
func newScenarioDevice(info *lares.ScenarioInfo) *Device {
	if info.ArmToggle() {
		return nil
	}
	native := info.ID.String()
	return &Device{
		ID:       DeriveID(KindScenario, native),
		Name:     displayName(info.Des, KindScenario, native),
		Kind:     KindScenario,
		NativeID: native,
		Scenario: &ScenarioStatus{},
	}
}

// applyLightDelta folds STA and LEV into a light, touching only the
// fields the record carries.
func applyLightDelta(d *Device, rec *lares.OutputStatus) bool {
	st := d.Light
	changed := false
	if rec.Sta.IsSet() {
		on := strings.EqualFold(rec.Sta.String(), "ON")
		if st.On != on {
			st.On = on
			changed = true
		}
	}
	if rec.Lev.IsSet() {
		if lev, err := rec.Lev.Int(); err == nil && st.Brightness != lev {
			st.Brightness = lev
			changed = true
		}
	}
	return changed
}

// applyCoverDelta folds POS/TPOS into a cover and derives the motion
// direction. When the record carries a position, motion comes from
// comparing current against target; a record carrying only a STA keyword
// uses the fallback table.
func applyCoverDelta(d *Device, rec *lares.OutputStatus) bool {
	st := d.Cover
	changed := false
	positioned := false

	if rec.Pos.IsSet() {
		if pos, err := rec.Pos.Int(); err == nil {
			positioned = true
			if st.Position != pos {
				st.Position = pos
				changed = true
			}
		}
	}
	if rec.TPos.IsSet() {
		if target, err := rec.TPos.Int(); err == nil {
			positioned = true
			if st.Target != target {
				st.Target = target
				changed = true
			}
		}
	}

	var motion Motion
	switch {
	case positioned:
		motion = deriveMotion(st.Position, st.Target)
	case rec.Sta.IsSet():
		motion = motionKeyword(rec.Sta.String())
	}
	if motion != "" && st.Motion != motion {
		st.Motion = motion
		changed = true
	}
	return changed
}

func deriveMotion(position, target int) Motion {
	switch {
	case position == target:
		return MotionStopped
	case position < target:
		return MotionOpening
	default:
		return MotionClosing
	}
}

// motionKeyword maps the STA keywords covers report when they carry no
// positions. Unknown keywords leave the motion untouched.
func motionKeyword(sta string) Motion {
	switch strings.ToUpper(sta) {
	case "UP", "MOVING_UP":
		return MotionOpening
	case "DOWN", "MOVING_DOWN":
		return MotionClosing
	case "STOP", "STOPPED", "IDLE":
		return MotionStopped
	default:
		return ""
	}
}

// applyThermostatDelta folds T/TT/MODE into a climate device. The three
// fields update independently; a record repeating current values changes
// nothing.
func applyThermostatDelta(d *Device, rec *lares.OutputStatus) bool {
	st := d.Thermostat
	changed := false
	if rec.Temp.IsSet() {
		if v, err := rec.Temp.Float(); err == nil && st.Current != v {
			st.Current = v
			changed = true
		}
	}
	if rec.Target.IsSet() {
		if v, err := rec.Target.Float(); err == nil && st.Target != v {
			st.Target = v
			changed = true
		}
	}
	if rec.Mode.IsSet() {
		mode := strings.ToLower(rec.Mode.String())
		if st.Mode != mode {
			st.Mode = mode
			changed = true
		}
	}
	return changed
}

func applyGateDelta(d *Device, rec *lares.OutputStatus) bool {
	if !rec.Sta.IsSet() {
		return false
	}
	open := strings.EqualFold(rec.Sta.String(), "ON")
	if d.Gate.Open == open {
		return false
	}
	d.Gate.Open = open
	return true
}

func applyZoneDelta(d *Device, rec *lares.ZoneStatus) bool {
	st := d.Zone
	changed := false
	if rec.Sta.IsSet() {
		open := strings.EqualFold(rec.Sta.String(), lares.ZoneOpen)
		if st.Open != open {
			st.Open = open
			changed = true
		}
	}
	changed = applyFlag(&st.Armed, rec.Arm) || changed
	changed = applyFlag(&st.Bypassed, rec.Byp) || changed
	changed = applyFlag(&st.Fault, rec.Flt) || changed
	return changed
}

func applyFlag(field *bool, flag lares.Scalar) bool {
	if !flag.IsSet() {
		return false
	}
	v := flag.Flag()
	if *field == v {
		return false
	}
	*field = v
	return true
}

func applyScenarioDelta(d *Device, rec *lares.ScenarioStatus) bool {
	if !rec.Exe.IsSet() {
		return false
	}
	active := rec.Exe.Flag()
	if d.Scenario.Active == active {
		return false
	}
	d.Scenario.Active = active
	return true
}

// applySensorDelta folds one measurement into a sensor device.
func applySensorDelta(d *Device, reading lares.Scalar) bool {
	if !reading.IsSet() {
		return false
	}
	v, err := reading.Float()
	if err != nil {
		return false
	}
	if d.Sensor.Value == v {
		return false
	}
	d.Sensor.Value = v
	return true
}

// applyAmbient folds the panel-wide ambient temperature into one climate
// device. A device that has never seen a target is seeded one degree
// above current so consumers have a setpoint before the panel reports a
// real one.
func applyAmbient(d *Device, current float64) bool {
	st := d.Thermostat
	changed := false
	if st.Current != current {
		st.Current = current
		changed = true
	}
	if st.Target == 0 {
		st.Target = current + 1
		changed = true
	}
	return changed
}
