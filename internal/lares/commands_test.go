package lares

import (
	"encoding/json"
	"errors"
	"testing"
)

// finalizePayload builds the command against fixed session credentials
// and fails the test on error.
func finalizePayload(t *testing.T, cmd Command) Payload {
	t.Helper()
	p, err := cmd.finalize("998877", "123456")
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	return p
}

func TestSwitchOutput(t *testing.T) {
	p := finalizePayload(t, SwitchOutput("12", true))
	oc, ok := p.(*OutputCommand)
	if !ok {
		t.Fatalf("payload = %T, want *OutputCommand", p)
	}
	if oc.IDLogin != "998877" || oc.PIN != "123456" {
		t.Errorf("credentials = %q/%q, want session values", oc.IDLogin, oc.PIN)
	}
	if oc.Output.ID != "12" || oc.Output.Sta != "ON" {
		t.Errorf("target = %+v, want ID 12 STA ON", oc.Output)
	}
	if oc.PayloadType() != PayloadTypeSetOutput {
		t.Errorf("PayloadType = %q, want %q", oc.PayloadType(), PayloadTypeSetOutput)
	}

	p = finalizePayload(t, SwitchOutput("12", false))
	if sta := p.(*OutputCommand).Output.Sta; sta != "OFF" {
		t.Errorf("STA = %q, want OFF", sta)
	}
}

func TestSwitchOutputWireShape(t *testing.T) {
	p := finalizePayload(t, SwitchOutput("12", true))
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"ID_LOGIN":"998877","PIN":"123456","OUTPUT":{"ID":"12","STA":"ON"}}`
	if string(raw) != want {
		t.Errorf("payload = %s, want %s", raw, want)
	}
}

func TestDimOutput(t *testing.T) {
	tests := []struct {
		name  string
		level int
		want  string
	}{
		{name: "in range", level: 75, want: "75"},
		{name: "clamped low", level: -5, want: "0"},
		{name: "clamped high", level: 140, want: "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := finalizePayload(t, DimOutput("12", tt.level))
			out := p.(*OutputCommand).Output
			if out.Sta != "ON" || out.Lev != tt.want {
				t.Errorf("target = %+v, want STA ON LEV %s", out, tt.want)
			}
		})
	}
}

func TestPositionOutputOmitsSta(t *testing.T) {
	p := finalizePayload(t, PositionOutput("3", 40))
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"ID_LOGIN":"998877","PIN":"123456","OUTPUT":{"ID":"3","POS":"40"}}`
	if string(raw) != want {
		t.Errorf("payload = %s, want %s", raw, want)
	}
}

func TestSetThermostatMode(t *testing.T) {
	p := finalizePayload(t, SetThermostatMode("2", "heat"))
	tc, ok := p.(*ThermostatCommand)
	if !ok {
		t.Fatalf("payload = %T, want *ThermostatCommand", p)
	}
	if tc.Therm.Mode != ThermostatModeHeat {
		t.Errorf("MODE = %q, want HEAT (input normalised)", tc.Therm.Mode)
	}
	if tc.Therm.Target != "" {
		t.Errorf("TT = %q, want absent for a mode command", tc.Therm.Target)
	}

	if _, err := SetThermostatMode("2", "tropical").finalize("998877", "123456"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("unknown mode error = %v, want ErrInvalidCommand", err)
	}
}

func TestSetThermostatTarget(t *testing.T) {
	p := finalizePayload(t, SetThermostatTarget("2", 21.5))
	tc := p.(*ThermostatCommand)
	if tc.Therm.Target != "21.5" {
		t.Errorf("TT = %q, want 21.5", tc.Therm.Target)
	}
	if tc.Therm.Mode != "" {
		t.Errorf("MODE = %q, want absent for a target command", tc.Therm.Mode)
	}

	// The panel accepts exactly one decimal place.
	p = finalizePayload(t, SetThermostatTarget("2", 22))
	if tt := p.(*ThermostatCommand).Therm.Target; tt != "22.0" {
		t.Errorf("TT = %q, want 22.0", tt)
	}
}

func TestExecuteScenario(t *testing.T) {
	p := finalizePayload(t, ExecuteScenario("7"))
	sc, ok := p.(*ScenarioCommand)
	if !ok {
		t.Fatalf("payload = %T, want *ScenarioCommand", p)
	}
	if sc.Scenario.ID != "7" {
		t.Errorf("ID = %q, want 7", sc.Scenario.ID)
	}
	if sc.PayloadType() != PayloadTypeExeScenario {
		t.Errorf("PayloadType = %q, want %q", sc.PayloadType(), PayloadTypeExeScenario)
	}
}

func TestCommandValidation(t *testing.T) {
	bad := []Command{
		SwitchOutput("", true),
		DimOutput("", 50),
		PositionOutput("", 50),
		SetThermostatMode("", "HEAT"),
		SetThermostatTarget("", 21),
		ExecuteScenario(""),
		{}, // zero value, never constructed
	}
	for i, cmd := range bad {
		if _, err := cmd.finalize("998877", "123456"); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("command %d: err = %v, want ErrInvalidCommand", i, err)
		}
	}
}
