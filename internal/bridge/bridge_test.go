package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/lares-bridge/internal/audit"
	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

// mockMQTT records publishes and subscriptions.
type mockMQTT struct {
	mu         sync.Mutex
	published  []publishCall
	handlers   map[string]func(topic string, payload []byte)
	connected  bool
	publishErr error
}

type publishCall struct {
	topic    string
	payload  []byte
	retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		handlers:  make(map[string]func(string, []byte)),
		connected: true,
	}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishCall{topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// deliver invokes the registered wildcard handler as the broker would.
func (m *mockMQTT) deliver(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for _, h := range m.handlers {
		handler = h
	}
	m.mu.Unlock()

	if handler != nil {
		handler(topic, payload)
	}
}

// onTopic returns publishes whose topic contains the fragment.
func (m *mockMQTT) onTopic(fragment string) []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]publishCall, 0)
	for _, p := range m.published {
		if strings.Contains(p.topic, fragment) {
			out = append(out, p)
		}
	}
	return out
}

// mockPanel records sent commands and injects errors.
type mockPanel struct {
	mu    sync.Mutex
	sent  int
	err   error
	ready bool
	stats lares.Stats
}

func (m *mockPanel) Send(_ lares.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent++
	return nil
}

func (m *mockPanel) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *mockPanel) Stats() lares.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockPanel) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// mockDevices is a DeviceSource backed by a map.
type mockDevices struct {
	devices map[string]device.Device
}

func newMockDevices(devices ...device.Device) *mockDevices {
	m := &mockDevices{devices: make(map[string]device.Device)}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

func (m *mockDevices) Get(id string) (device.Device, bool) {
	d, ok := m.devices[id]
	return d, ok
}

func (m *mockDevices) Count() int { return len(m.devices) }

// recordingAudit captures audit entries.
type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.AuditLog
	err     error
}

func (r *recordingAudit) Create(_ context.Context, log *audit.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *log)
	return nil
}

func (r *recordingAudit) byAction(action string) []audit.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]audit.AuditLog, 0)
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func testFixture(t *testing.T, devices ...device.Device) (*Bridge, *mockMQTT, *mockPanel, *recordingAudit) {
	t.Helper()

	mq := newMockMQTT()
	panel := &mockPanel{ready: true, stats: lares.Stats{State: "ready"}}
	auditRec := &recordingAudit{}

	b, err := New(Options{
		MQTT:      mq,
		Panel:     panel,
		Devices:   newMockDevices(devices...),
		Audit:     auditRec,
		PanelHost: "panel.local",
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(b.Stop)
	return b, mq, panel, auditRec
}

func lightDevice() device.Device {
	return device.Device{
		ID:       "light_3",
		Name:     "Kitchen",
		Kind:     device.KindLight,
		NativeID: "3",
		Light:    &device.LightStatus{On: false},
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	mq := newMockMQTT()
	panel := &mockPanel{}
	devs := newMockDevices()

	tests := []struct {
		name string
		opts Options
	}{
		{"missing mqtt", Options{Panel: panel, Devices: devs}},
		{"missing panel", Options{MQTT: mq, Devices: devs}},
		{"missing devices", Options{MQTT: mq, Panel: panel}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() should fail with missing dependency")
			}
		})
	}
}

func TestStart_SubscribesAndSeedsAvailability(t *testing.T) {
	b, mq, _, _ := testFixture(t)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mq.mu.Lock()
	_, subscribed := mq.handlers["laresbridge/command/+/+"]
	mq.mu.Unlock()
	if !subscribed {
		t.Error("Start should subscribe to the command wildcard")
	}

	conns := mq.onTopic("laresbridge/connection")
	if len(conns) == 0 {
		t.Fatal("Start should reset the retained availability topic")
	}
	var msg ConnectionMessage
	if err := json.Unmarshal(conns[0].payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Status != ConnectionOffline {
		t.Errorf("status = %s, want %s", msg.Status, ConnectionOffline)
	}
}

func TestDeviceDiscovered_PublishesRetainedDiscoveryAndState(t *testing.T) {
	b, mq, _, _ := testFixture(t, lightDevice())

	b.DeviceDiscovered(lightDevice())

	disc := mq.onTopic("discovery/light/light_3")
	if len(disc) != 1 || !disc[0].retained {
		t.Fatalf("discovery publishes = %+v, want one retained", disc)
	}

	var msg DiscoveryMessage
	if err := json.Unmarshal(disc[0].payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.DeviceID != "light_3" || msg.Name != "Kitchen" || msg.NativeID != "3" {
		t.Errorf("discovery = %+v", msg)
	}

	state := mq.onTopic("state/light/light_3")
	if len(state) != 1 || !state[0].retained {
		t.Fatalf("state publishes = %+v, want one retained seed", state)
	}
}

func TestDeviceUpdated_PublishesState(t *testing.T) {
	b, mq, _, _ := testFixture(t)

	d := lightDevice()
	d.Light.On = true
	d.Light.Brightness = 60
	b.DeviceUpdated(d)

	state := mq.onTopic("state/light/light_3")
	if len(state) != 1 {
		t.Fatalf("state publishes = %d, want 1", len(state))
	}

	var msg StateMessage
	if err := json.Unmarshal(state[0].payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	stateMap, ok := msg.State.(map[string]any)
	if !ok {
		t.Fatalf("state payload = %T", msg.State)
	}
	if stateMap["on"] != true {
		t.Errorf("on = %v, want true", stateMap["on"])
	}
}

func TestConnectionTransitions(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		b, mq, _, auditRec := testFixture(t)

		b.Connected()

		conns := mq.onTopic("laresbridge/connection")
		if len(conns) != 1 {
			t.Fatalf("connection publishes = %d, want 1", len(conns))
		}
		var msg ConnectionMessage
		if err := json.Unmarshal(conns[0].payload, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Status != ConnectionOnline || msg.Host != "panel.local" {
			t.Errorf("message = %+v", msg)
		}

		if got := auditRec.byAction(audit.ActionConnect); len(got) != 1 {
			t.Errorf("connect audit entries = %d, want 1", len(got))
		}
	})

	t.Run("disconnected", func(t *testing.T) {
		b, mq, _, auditRec := testFixture(t)

		b.Disconnected(errors.New("read tcp: reset"))

		var msg ConnectionMessage
		conns := mq.onTopic("laresbridge/connection")
		if err := json.Unmarshal(conns[0].payload, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Status != ConnectionOffline || msg.Reason == "" {
			t.Errorf("message = %+v", msg)
		}

		if got := auditRec.byAction(audit.ActionDisconnect); len(got) != 1 {
			t.Errorf("disconnect audit entries = %d, want 1", len(got))
		}
	})

	t.Run("auth failure flagged distinctly and not retried as offline", func(t *testing.T) {
		b, mq, _, auditRec := testFixture(t)

		b.Disconnected(lares.ErrAuthenticationFailed)

		var msg ConnectionMessage
		conns := mq.onTopic("laresbridge/connection")
		if err := json.Unmarshal(conns[0].payload, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Status != ConnectionAuthFailed {
			t.Errorf("status = %s, want %s", msg.Status, ConnectionAuthFailed)
		}

		if got := auditRec.byAction(audit.ActionAuthFailure); len(got) != 1 {
			t.Errorf("auth failure audit entries = %d, want 1", len(got))
		}
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards valid command and records audit", func(t *testing.T) {
		b, _, panel, auditRec := testFixture(t, lightDevice())

		on := true
		err := b.Execute(ctx, "light_3", CommandRequest{Action: ActionSwitch, On: &on}, audit.SourceAPI)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if panel.sentCount() != 1 {
			t.Errorf("sent = %d, want 1", panel.sentCount())
		}

		entries := auditRec.byAction(audit.ActionCommand)
		if len(entries) != 1 {
			t.Fatalf("command audit entries = %d, want 1", len(entries))
		}
		e := entries[0]
		if e.EntityID != "light_3" || e.Source != audit.SourceAPI {
			t.Errorf("entry = %+v", e)
		}
		if e.Details["action"] != ActionSwitch || e.Details["on"] != true {
			t.Errorf("details = %+v", e.Details)
		}

		m := b.GetMetrics()
		if m.CommandsForwarded != 1 || m.CommandsFailed != 0 {
			t.Errorf("metrics = %+v", m)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		b, _, panel, _ := testFixture(t)

		err := b.Execute(ctx, "light_99", CommandRequest{Action: ActionSwitch}, audit.SourceAPI)
		if !errors.Is(err, ErrUnknownDevice) {
			t.Errorf("err = %v, want ErrUnknownDevice", err)
		}
		if panel.sentCount() != 0 {
			t.Error("nothing should reach the panel")
		}
		if b.GetMetrics().CommandsFailed != 1 {
			t.Error("failure counter should increment")
		}
	})

	t.Run("missing parameter", func(t *testing.T) {
		b, _, _, _ := testFixture(t, lightDevice())

		err := b.Execute(ctx, "light_3", CommandRequest{Action: ActionSwitch}, audit.SourceAPI)
		if !errors.Is(err, ErrMissingParameter) {
			t.Errorf("err = %v, want ErrMissingParameter", err)
		}
	})

	t.Run("panel send failure", func(t *testing.T) {
		b, _, panel, _ := testFixture(t, lightDevice())
		panel.err = lares.ErrNotConnected

		on := true
		err := b.Execute(ctx, "light_3", CommandRequest{Action: ActionSwitch, On: &on}, audit.SourceAPI)
		if !errors.Is(err, lares.ErrNotConnected) {
			t.Errorf("err = %v, want ErrNotConnected", err)
		}
	})
}

func TestBuildCommand(t *testing.T) {
	on := true
	level := 40
	pos := 80
	target := 21.5

	tests := []struct {
		name    string
		device  device.Device
		req     CommandRequest
		wantErr error
	}{
		{
			name:   "light switch",
			device: device.Device{Kind: device.KindLight, NativeID: "1"},
			req:    CommandRequest{Action: ActionSwitch, On: &on},
		},
		{
			name:   "light dim",
			device: device.Device{Kind: device.KindLight, NativeID: "1"},
			req:    CommandRequest{Action: ActionDim, Level: &level},
		},
		{
			name:   "cover open",
			device: device.Device{Kind: device.KindCover, NativeID: "2"},
			req:    CommandRequest{Action: ActionOpen},
		},
		{
			name:   "cover position",
			device: device.Device{Kind: device.KindCover, NativeID: "2"},
			req:    CommandRequest{Action: ActionPosition, Position: &pos},
		},
		{
			name:    "cover position missing parameter",
			device:  device.Device{Kind: device.KindCover, NativeID: "2"},
			req:     CommandRequest{Action: ActionPosition},
			wantErr: ErrMissingParameter,
		},
		{
			name:   "gate pulse",
			device: device.Device{Kind: device.KindGate, NativeID: "9"},
			req:    CommandRequest{Action: ActionPulse},
		},
		{
			name:   "thermostat mode",
			device: device.Device{Kind: device.KindThermostat, NativeID: "4"},
			req:    CommandRequest{Action: ActionSetMode, Mode: "HEAT"},
		},
		{
			name:   "thermostat target",
			device: device.Device{Kind: device.KindThermostat, NativeID: "4"},
			req:    CommandRequest{Action: ActionSetTarget, Target: &target},
		},
		{
			name:   "scenario execute",
			device: device.Device{Kind: device.KindScenario, NativeID: "7"},
			req:    CommandRequest{Action: ActionExecute},
		},
		{
			name:    "zone is read-only",
			device:  device.Device{Kind: device.KindZone, NativeID: "5"},
			req:     CommandRequest{Action: ActionSwitch, On: &on},
			wantErr: ErrReadOnlyDevice,
		},
		{
			name:    "sensor is read-only",
			device:  device.Device{Kind: device.KindSensor, NativeID: "5"},
			req:     CommandRequest{Action: ActionSwitch, On: &on},
			wantErr: ErrReadOnlyDevice,
		},
		{
			name:    "dim on cover unsupported",
			device:  device.Device{Kind: device.KindCover, NativeID: "2"},
			req:     CommandRequest{Action: ActionDim, Level: &level},
			wantErr: ErrUnsupportedAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildCommand(tt.device, tt.req)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("buildCommand() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("buildCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandleCommandMessage(t *testing.T) {
	t.Run("valid command acked accepted", func(t *testing.T) {
		b, mq, panel, _ := testFixture(t, lightDevice())
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		mq.deliver("laresbridge/command/light/light_3", []byte(`{"id":"c1","action":"switch","on":true}`))

		if panel.sentCount() != 1 {
			t.Errorf("sent = %d, want 1", panel.sentCount())
		}

		acks := mq.onTopic("ack/light/light_3")
		if len(acks) != 1 {
			t.Fatalf("acks = %d, want 1", len(acks))
		}
		var ack AckMessage
		if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ack.Status != AckAccepted || ack.CommandID != "c1" {
			t.Errorf("ack = %+v", ack)
		}
	})

	t.Run("malformed payload acked failed", func(t *testing.T) {
		b, mq, panel, _ := testFixture(t, lightDevice())
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		mq.deliver("laresbridge/command/light/light_3", []byte(`{not json`))

		if panel.sentCount() != 0 {
			t.Error("malformed command must not reach the panel")
		}

		acks := mq.onTopic("ack/light/light_3")
		if len(acks) != 1 {
			t.Fatalf("acks = %d, want 1", len(acks))
		}
		var ack AckMessage
		if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
			t.Errorf("ack = %+v", ack)
		}
		if got := b.GetMetrics().CommandsFailed; got != 1 {
			t.Errorf("commands_failed = %d, want 1", got)
		}
	})

	t.Run("kind mismatch rejected", func(t *testing.T) {
		b, mq, panel, _ := testFixture(t, lightDevice())
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		mq.deliver("laresbridge/command/cover/light_3", []byte(`{"action":"open"}`))

		if panel.sentCount() != 0 {
			t.Error("mismatched kind must not reach the panel")
		}
		acks := mq.onTopic("ack/cover/light_3")
		if len(acks) != 1 {
			t.Fatalf("acks = %d, want 1", len(acks))
		}
	})

	t.Run("unexpected topic ignored", func(t *testing.T) {
		b, mq, panel, _ := testFixture(t, lightDevice())
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		mq.deliver("laresbridge/state/light/light_3", []byte(`{}`))

		if panel.sentCount() != 0 {
			t.Error("non-command topic must be ignored")
		}
		if acks := mq.onTopic("ack/"); len(acks) != 0 {
			t.Errorf("acks = %d, want 0", len(acks))
		}
	})
}

func TestAckCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrUnknownDevice, ErrCodeUnknownDevice},
		{ErrMissingParameter, ErrCodeInvalidParameters},
		{lares.ErrInvalidCommand, ErrCodeInvalidParameters},
		{ErrUnsupportedAction, ErrCodeInvalidCommand},
		{ErrReadOnlyDevice, ErrCodeInvalidCommand},
		{lares.ErrNotConnected, ErrCodePanelUnavailable},
		{lares.ErrClosed, ErrCodePanelUnavailable},
		{errors.New("anything else"), ErrCodeBridgeError},
	}

	for _, tt := range tests {
		if got := ackCode(tt.err); got != tt.want {
			t.Errorf("ackCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantKind string
		wantID   string
		wantOK   bool
	}{
		{"laresbridge/command/light/light_3", "light", "light_3", true},
		{"laresbridge/command/cover/cover_12", "cover", "cover_12", true},
		{"laresbridge/state/light/light_3", "", "", false},
		{"laresbridge/command/light", "", "", false},
		{"laresbridge/command//light_3", "", "", false},
		{"laresbridge/command/light/", "", "", false},
		{"otherprefix/command/light/light_3", "", "", false},
	}

	for _, tt := range tests {
		kind, id, ok := parseCommandTopic(tt.topic)
		if kind != tt.wantKind || id != tt.wantID || ok != tt.wantOK {
			t.Errorf("parseCommandTopic(%s) = %s/%s/%v, want %s/%s/%v",
				tt.topic, kind, id, ok, tt.wantKind, tt.wantID, tt.wantOK)
		}
	}
}

func TestStop_Idempotent(t *testing.T) {
	b, _, _, _ := testFixture(t)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Stop()
	b.Stop() // must not panic
}
