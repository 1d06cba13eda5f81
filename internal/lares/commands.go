package lares

import (
	"fmt"
	"strconv"
	"strings"
)

// Thermostat season modes accepted by the panel.
const (
	ThermostatModeOff  = "OFF"
	ThermostatModeHeat = "HEAT"
	ThermostatModeCool = "COOL"
	ThermostatModeAuto = "AUTO"
)

// Command is a user command built in two stages: a typed constructor
// captures the logical operation, and Client.Send finalises it against
// the live session by injecting the session token and PIN. Construction
// sites never touch credentials and never need a connected client.
type Command struct {
	err   error
	build func(idLogin, pin string) Payload
}

// SwitchOutput switches a light or gate output on or off. Gate outputs
// are pulse relays: switching one on momentarily activates it and the
// panel releases it by itself.
func SwitchOutput(id string, on bool) Command {
	if id == "" {
		return Command{err: fmt.Errorf("%w: empty output id", ErrInvalidCommand)}
	}
	sta := "OFF"
	if on {
		sta = "ON"
	}
	return Command{build: func(idLogin, pin string) Payload {
		return &OutputCommand{
			IDLogin: idLogin,
			PIN:     pin,
			Output:  OutputTarget{ID: id, Sta: sta},
		}
	}}
}

// PulseOutput momentarily activates a pulse output such as a gate relay.
func PulseOutput(id string) Command {
	return SwitchOutput(id, true)
}

// DimOutput switches a dimmable output on at the given brightness
// percentage. Values outside 0-100 are clamped.
func DimOutput(id string, level int) Command {
	if id == "" {
		return Command{err: fmt.Errorf("%w: empty output id", ErrInvalidCommand)}
	}
	level = clampPercent(level)
	return Command{build: func(idLogin, pin string) Payload {
		return &OutputCommand{
			IDLogin: idLogin,
			PIN:     pin,
			Output:  OutputTarget{ID: id, Sta: "ON", Lev: strconv.Itoa(level)},
		}
	}}
}

// PositionOutput moves a cover output to the given position percentage,
// 0 fully closed and 100 fully open. Values outside 0-100 are clamped.
func PositionOutput(id string, position int) Command {
	if id == "" {
		return Command{err: fmt.Errorf("%w: empty output id", ErrInvalidCommand)}
	}
	position = clampPercent(position)
	return Command{build: func(idLogin, pin string) Payload {
		return &OutputCommand{
			IDLogin: idLogin,
			PIN:     pin,
			Output:  OutputTarget{ID: id, Pos: strconv.Itoa(position)},
		}
	}}
}

// SetThermostatMode selects a climate zone's season mode: OFF, HEAT,
// COOL or AUTO (case-insensitive).
func SetThermostatMode(id, mode string) Command {
	if id == "" {
		return Command{err: fmt.Errorf("%w: empty thermostat id", ErrInvalidCommand)}
	}
	mode = strings.ToUpper(mode)
	switch mode {
	case ThermostatModeOff, ThermostatModeHeat, ThermostatModeCool, ThermostatModeAuto:
	default:
		return Command{err: fmt.Errorf("%w: unknown thermostat mode %q", ErrInvalidCommand, mode)}
	}
	return Command{build: func(idLogin, pin string) Payload {
		return &ThermostatCommand{
			IDLogin: idLogin,
			PIN:     pin,
			Therm:   ThermostatTarget{ID: id, Mode: mode},
		}
	}}
}

// SetThermostatTarget sets a climate zone's target temperature in
// degrees Celsius. The panel accepts one decimal place.
func SetThermostatTarget(id string, target float64) Command {
	if id == "" {
		return Command{err: fmt.Errorf("%w: empty thermostat id", ErrInvalidCommand)}
	}
	return Command{build: func(idLogin, pin string) Payload {
		return &ThermostatCommand{
			IDLogin: idLogin,
			PIN:     pin,
			Therm:   ThermostatTarget{ID: id, Target: strconv.FormatFloat(target, 'f', 1, 64)},
		}
	}}
}

// ExecuteScenario triggers a panel scenario.
func ExecuteScenario(id string) Command {
	if id == "" {
		return Command{err: fmt.Errorf("%w: empty scenario id", ErrInvalidCommand)}
	}
	return Command{build: func(idLogin, pin string) Payload {
		return &ScenarioCommand{
			IDLogin:  idLogin,
			PIN:      pin,
			Scenario: ScenarioTarget{ID: id},
		}
	}}
}

// finalize binds the command to the live session credentials.
func (c Command) finalize(idLogin, pin string) (Payload, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.build == nil {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	return c.build(idLogin, pin), nil
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
