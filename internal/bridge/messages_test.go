package bridge

import (
	"testing"
	"time"

	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

func TestNewStateMessage(t *testing.T) {
	tests := []struct {
		name     string
		device   device.Device
		wantNil  bool
		validate func(t *testing.T, state any)
	}{
		{
			name: "light",
			device: device.Device{
				ID:    "light_1",
				Kind:  device.KindLight,
				Light: &device.LightStatus{On: true, Brightness: 75},
			},
			validate: func(t *testing.T, state any) {
				s, ok := state.(*device.LightStatus)
				if !ok {
					t.Fatalf("state = %T", state)
				}
				if !s.On || s.Brightness != 75 {
					t.Errorf("state = %+v", s)
				}
			},
		},
		{
			name: "cover",
			device: device.Device{
				ID:    "cover_2",
				Kind:  device.KindCover,
				Cover: &device.CoverStatus{Position: 50, Target: 80},
			},
			validate: func(t *testing.T, state any) {
				s, ok := state.(*device.CoverStatus)
				if !ok {
					t.Fatalf("state = %T", state)
				}
				if s.Position != 50 || s.Target != 80 {
					t.Errorf("state = %+v", s)
				}
			},
		},
		{
			name: "zone",
			device: device.Device{
				ID:   "zone_5",
				Kind: device.KindZone,
				Zone: &device.ZoneStatus{Open: true, Armed: true},
			},
			validate: func(t *testing.T, state any) {
				s, ok := state.(*device.ZoneStatus)
				if !ok {
					t.Fatalf("state = %T", state)
				}
				if !s.Open || !s.Armed {
					t.Errorf("state = %+v", s)
				}
			},
		},
		{
			name:    "no status yet",
			device:  device.Device{ID: "light_9", Kind: device.KindLight},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewStateMessage(tt.device)

			if msg.DeviceID != tt.device.ID {
				t.Errorf("device_id = %s, want %s", msg.DeviceID, tt.device.ID)
			}
			if msg.Kind != string(tt.device.Kind) {
				t.Errorf("kind = %s, want %s", msg.Kind, tt.device.Kind)
			}
			if msg.Timestamp.IsZero() {
				t.Error("timestamp should be set")
			}

			if tt.wantNil {
				if msg.State != nil {
					t.Errorf("state = %v, want nil", msg.State)
				}
				return
			}
			tt.validate(t, msg.State)
		})
	}
}

func TestNewDiscoveryMessage(t *testing.T) {
	d := device.Device{
		ID:       "thermostat_4",
		Name:     "Lounge",
		Kind:     device.KindThermostat,
		NativeID: "4",
	}

	msg := NewDiscoveryMessage(d)
	if msg.DeviceID != "thermostat_4" || msg.Kind != "thermostat" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Name != "Lounge" || msg.NativeID != "4" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestAckConstructors(t *testing.T) {
	req := CommandRequest{ID: "cmd-42", Action: ActionDim}

	t.Run("accepted", func(t *testing.T) {
		ack := NewAckAccepted(req, "light", "light_1")
		if ack.Status != AckAccepted || ack.Error != nil {
			t.Errorf("ack = %+v", ack)
		}
		if ack.CommandID != "cmd-42" || ack.DeviceID != "light_1" || ack.Kind != "light" {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("error", func(t *testing.T) {
		ack := NewAckError(req, "light", "light_1", ErrCodeInvalidParameters, "level out of range")
		if ack.Status != AckFailed {
			t.Errorf("status = %s, want failed", ack.Status)
		}
		if ack.Error == nil || ack.Error.Code != ErrCodeInvalidParameters || ack.Error.Message == "" {
			t.Errorf("error = %+v", ack.Error)
		}
	})
}

func TestNewHealthMessage(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)
	activity := time.Now().Add(-2 * time.Second)

	stats := lares.Stats{
		State:        "ready",
		FramesRx:     120,
		FramesTx:     45,
		ParseErrors:  1,
		Reconnects:   2,
		LastActivity: activity,
	}

	msg := NewHealthMessage("1.2.3", HealthHealthy, stats, 17, start)

	if msg.Status != HealthHealthy || msg.Version != "1.2.3" {
		t.Errorf("message = %+v", msg)
	}
	if msg.UptimeSeconds < 89 || msg.UptimeSeconds > 95 {
		t.Errorf("uptime = %d, want ~90", msg.UptimeSeconds)
	}
	if msg.DevicesManaged != 17 {
		t.Errorf("devices = %d, want 17", msg.DevicesManaged)
	}

	if msg.Panel == nil {
		t.Fatal("panel health missing")
	}
	if msg.Panel.State != "ready" || msg.Panel.FramesRx != 120 || msg.Panel.Reconnects != 2 {
		t.Errorf("panel = %+v", msg.Panel)
	}
	if msg.Panel.LastActivity == nil {
		t.Error("last activity should be set")
	}

	t.Run("no activity yet", func(t *testing.T) {
		msg := NewHealthMessage("1.2.3", HealthStarting, lares.Stats{}, 0, time.Now())
		if msg.Panel.LastActivity != nil {
			t.Error("last activity should be omitted for an idle session")
		}
	})
}
