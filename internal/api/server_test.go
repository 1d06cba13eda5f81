package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lares-bridge/internal/audit"
	"github.com/nerrad567/lares-bridge/internal/bridge"
	"github.com/nerrad567/lares-bridge/internal/device"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/config"
	"github.com/nerrad567/lares-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/lares-bridge/internal/lares"
)

const (
	testAPIKey    = "test-api-key-0123456789"
	testJWTSecret = "test-jwt-secret-needs-32-characters!"
)

// mockDevices is a DeviceSource backed by a plain map.
type mockDevices struct {
	mu      sync.Mutex
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
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

func (m *mockDevices) List() []device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

func (m *mockDevices) ListKind(kind device.Kind) []device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Device, 0)
	for _, d := range m.devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func (m *mockDevices) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// mockPanel is a PanelMonitor with canned values.
type mockPanel struct {
	ready bool
	stats lares.Stats
}

func (m *mockPanel) Ready() bool        { return m.ready }
func (m *mockPanel) Stats() lares.Stats { return m.stats }

// mockCommander records Execute calls and injects errors.
type mockCommander struct {
	mu       sync.Mutex
	executed []string
	err      error
}

func (m *mockCommander) Execute(_ context.Context, deviceID string, req bridge.CommandRequest, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.executed = append(m.executed, deviceID+":"+req.Action)
	return nil
}

func (m *mockCommander) GetMetrics() bridge.Metrics {
	return bridge.Metrics{PanelConnected: true, CommandsForwarded: 3}
}

func testDeps() Deps {
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read: 30, Write: 30, Idle: 60,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			APIKey: testAPIKey,
			JWT: config.JWTConfig{
				Secret:         testJWTSecret,
				AccessTokenTTL: 15,
			},
		},
		Logger: logging.Default(),
		Devices: newMockDevices(device.Device{
			ID: "light_3", Name: "Kitchen", Kind: device.KindLight,
			NativeID: "3", Light: &device.LightStatus{On: true, Brightness: 80},
		}),
		Panel: &mockPanel{
			ready: true,
			stats: lares.Stats{State: "ready", FramesRx: 10, FramesTx: 5},
		},
		Bridge:  &mockCommander{},
		Version: "test",
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

// bearerToken exchanges the test API key for a JWT via the handler.
func bearerToken(t *testing.T, router http.Handler) string {
	t.Helper()

	body := bytes.NewBufferString(fmt.Sprintf(`{"api_key":%q}`, testAPIKey))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("token exchange status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("empty access token")
	}
	return resp.AccessToken
}

func authedRequest(method, target, token string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestNew_RequiresDependencies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing devices", func(d *Deps) { d.Devices = nil }},
		{"missing panel", func(d *Deps) { d.Panel = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() should fail with missing dependency")
			}
		})
	}
}

func TestNew_OptionalDependencies(t *testing.T) {
	deps := testDeps()
	deps.Bridge = nil
	deps.Audit = nil

	if _, err := New(deps); err != nil {
		t.Errorf("New() without bridge/audit should succeed, got %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testDeps())
	router := s.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["panel"] != "ready" {
		t.Errorf("panel = %v, want ready", resp["panel"])
	}
}

func TestTokenExchange(t *testing.T) {
	s := newTestServer(t, testDeps())
	router := s.buildRouter()

	t.Run("valid key issues token", func(t *testing.T) {
		token := bearerToken(t, router)

		claims, err := s.parseToken(token)
		if err != nil {
			t.Fatalf("parseToken: %v", err)
		}
		if claims["role"] != "control" {
			t.Errorf("role claim = %v, want control", claims["role"])
		}
		if claims["jti"] == "" || claims["jti"] == nil {
			t.Error("jti claim missing")
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"api_key":"wrong-key-wrong-key"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, testDeps())
	router := s.buildRouter()

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/devices", "not-a-jwt", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token passes", func(t *testing.T) {
		token := bearerToken(t, router)
		req := authedRequest(http.MethodGet, "/api/v1/devices", token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestListDevices(t *testing.T) {
	deps := testDeps()
	deps.Devices = newMockDevices(
		device.Device{ID: "light_1", Kind: device.KindLight},
		device.Device{ID: "cover_2", Kind: device.KindCover},
	)
	s := newTestServer(t, deps)
	router := s.buildRouter()
	token := bearerToken(t, router)

	t.Run("all devices", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/devices", token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Count != 2 {
			t.Errorf("count = %d, want 2", resp.Count)
		}
	})

	t.Run("kind filter", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/devices?kind=cover", token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp struct {
			Count   int             `json:"count"`
			Devices []device.Device `json:"devices"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Count != 1 || resp.Devices[0].ID != "cover_2" {
			t.Errorf("got %+v, want one cover_2", resp)
		}
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/devices?kind=toaster", token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGetDevice(t *testing.T) {
	s := newTestServer(t, testDeps())
	router := s.buildRouter()
	token := bearerToken(t, router)

	t.Run("found", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/devices/light_3", token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var d device.Device
		if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if d.ID != "light_3" || d.Light == nil || !d.Light.On {
			t.Errorf("device = %+v, want light_3 on", d)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/devices/light_999", token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDeviceCommand(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{
			name:       "accepted",
			body:       `{"action":"switch","on":true}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing action",
			body:       `{"on":true}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown device",
			body:       `{"action":"switch","on":true}`,
			err:        bridge.ErrUnknownDevice,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing parameter",
			body:       `{"action":"switch"}`,
			err:        bridge.ErrMissingParameter,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported action",
			body:       `{"action":"dim"}`,
			err:        bridge.ErrUnsupportedAction,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "panel not connected",
			body:       `{"action":"switch","on":true}`,
			err:        lares.ErrNotConnected,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			cmdr := &mockCommander{err: tt.err}
			deps.Bridge = cmdr
			s := newTestServer(t, deps)
			router := s.buildRouter()
			token := bearerToken(t, router)

			req := authedRequest(http.MethodPost, "/api/v1/devices/light_3/command", token, []byte(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	t.Run("no bridge configured", func(t *testing.T) {
		deps := testDeps()
		deps.Bridge = nil
		s := newTestServer(t, deps)
		router := s.buildRouter()
		token := bearerToken(t, router)

		req := authedRequest(http.MethodPost, "/api/v1/devices/light_3/command", token,
			[]byte(`{"action":"switch","on":true}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestConnectionEndpoint(t *testing.T) {
	deps := testDeps()
	deps.Panel = &mockPanel{
		ready: true,
		stats: lares.Stats{
			State:        "ready",
			FramesRx:     42,
			FramesTx:     17,
			ParseErrors:  1,
			Reconnects:   2,
			LastActivity: time.Now(),
		},
	}
	s := newTestServer(t, deps)
	router := s.buildRouter()
	token := bearerToken(t, router)

	req := authedRequest(http.MethodGet, "/api/v1/connection", token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var info ConnectionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.State != "ready" || !info.Ready {
		t.Errorf("state = %s ready = %v, want ready/true", info.State, info.Ready)
	}
	if info.FramesRx != 42 || info.Reconnects != 2 {
		t.Errorf("counters = %+v", info)
	}
	if info.LastActivity == nil {
		t.Error("last_activity missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testDeps())
	router := s.buildRouter()

	// No auth required
	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Version != "test" {
		t.Errorf("version = %s", m.Version)
	}
	if m.Bridge == nil || m.Bridge.CommandsForwarded != 3 {
		t.Errorf("bridge metrics = %+v, want commands_forwarded 3", m.Bridge)
	}
	if m.Devices.Total != 1 {
		t.Errorf("devices.total = %d, want 1", m.Devices.Total)
	}
	if m.Panel.State != "ready" {
		t.Errorf("panel.state = %s", m.Panel.State)
	}
}

func TestAuditEndpoint_Unconfigured(t *testing.T) {
	s := newTestServer(t, testDeps())
	router := s.buildRouter()
	token := bearerToken(t, router)

	req := authedRequest(http.MethodGet, "/api/v1/audit", token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// recordingAudit is an in-memory audit.Repository.
type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.AuditLog
}

func (r *recordingAudit) Create(_ context.Context, log *audit.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

func (r *recordingAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]audit.AuditLog, 0)
	for _, e := range r.entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
	}
	return &audit.ListResult{Logs: out, Total: len(out)}, nil
}

func TestAuditEndpoint_ListAndLoginRecord(t *testing.T) {
	deps := testDeps()
	rec := &recordingAudit{}
	deps.Audit = rec
	s := newTestServer(t, deps)
	router := s.buildRouter()

	// Token exchange records a login entry
	token := bearerToken(t, router)

	req := authedRequest(http.MethodGet, "/api/v1/audit?action=login", token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var result audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 1 || result.Logs[0].Action != audit.ActionLogin {
		t.Errorf("result = %+v, want one login entry", result)
	}

	t.Run("bad limit rejected", func(t *testing.T) {
		req := authedRequest(http.MethodGet, "/api/v1/audit?limit=banana", token, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestServerLifecycle(t *testing.T) {
	s := newTestServer(t, testDeps())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck should fail before Start")
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
