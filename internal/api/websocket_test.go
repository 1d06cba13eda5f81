package api

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lares-bridge/internal/device"
)

// dialWS connects a websocket client through the full router using a
// freshly issued ticket.
func dialWS(t *testing.T, s *Server, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	ticket := s.tickets.issue()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?ticket=" + ticket

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()

	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one message with a deadline so a missing broadcast
// fails the test instead of hanging it.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// subscribe sends a subscribe request and waits for the confirmation.
func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readMessage(t, conn)
	if resp.Type != WSTypeResponse {
		t.Fatalf("subscribe response type = %s, want %s", resp.Type, WSTypeResponse)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	s := newTestServer(t, testDeps())
	srv := httptest.NewServer(s.buildRouter())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"

	t.Run("no ticket", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if !errors.Is(err, websocket.ErrBadHandshake) {
			t.Fatalf("dial error = %v, want bad handshake", err)
		}
		if resp.StatusCode != 401 {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("ticket is single use", func(t *testing.T) {
		ticket := s.tickets.issue()

		conn, resp, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
		if err != nil {
			t.Fatalf("first dial: %v", err)
		}
		resp.Body.Close()
		conn.Close()

		_, resp2, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
		if !errors.Is(err, websocket.ErrBadHandshake) {
			t.Fatalf("second dial error = %v, want bad handshake", err)
		}
		if resp2.StatusCode != 401 {
			t.Errorf("status = %d, want 401", resp2.StatusCode)
		}
		resp2.Body.Close()
	})
}

func TestWebSocket_DeviceEvents(t *testing.T) {
	s := newTestServer(t, testDeps())
	srv := httptest.NewServer(s.buildRouter())
	defer srv.Close()

	conn := dialWS(t, s, srv)
	subscribe(t, conn, ChannelDeviceDiscovered, ChannelDeviceUpdated)

	d := device.Device{
		ID:   "light_7",
		Name: "Hallway",
		Kind: device.KindLight,
		Light: &device.LightStatus{
			On: true,
		},
	}

	s.DeviceDiscovered(d)
	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceDiscovered {
		t.Fatalf("got %s/%s, want event/%s", msg.Type, msg.EventType, ChannelDeviceDiscovered)
	}

	s.DeviceUpdated(d)
	msg = readMessage(t, conn)
	if msg.EventType != ChannelDeviceUpdated {
		t.Fatalf("event_type = %s, want %s", msg.EventType, ChannelDeviceUpdated)
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("remarshal payload: %v", err)
	}
	var got device.Device
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.ID != "light_7" || got.Light == nil || !got.Light.On {
		t.Errorf("payload = %+v, want light_7 on", got)
	}
}

func TestWebSocket_ConnectionEvents(t *testing.T) {
	s := newTestServer(t, testDeps())
	srv := httptest.NewServer(s.buildRouter())
	defer srv.Close()

	conn := dialWS(t, s, srv)
	subscribe(t, conn, ChannelConnection)

	s.Connected()
	msg := readMessage(t, conn)
	if msg.EventType != ChannelConnection {
		t.Fatalf("event_type = %s, want %s", msg.EventType, ChannelConnection)
	}

	s.Disconnected(errors.New("socket reset"))
	msg = readMessage(t, conn)

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		t.Fatalf("remarshal payload: %v", err)
	}
	var evt ConnectionEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if evt.Status != "disconnected" || evt.Reason != "socket reset" {
		t.Errorf("event = %+v", evt)
	}
}

func TestWebSocket_UnsubscribedClientReceivesNothing(t *testing.T) {
	s := newTestServer(t, testDeps())
	srv := httptest.NewServer(s.buildRouter())
	defer srv.Close()

	conn := dialWS(t, s, srv)
	subscribe(t, conn, ChannelConnection)

	// Device events should not reach a connection-only subscriber.
	s.DeviceUpdated(device.Device{ID: "light_1", Kind: device.KindLight})
	s.Connected()

	msg := readMessage(t, conn)
	if msg.EventType != ChannelConnection {
		t.Fatalf("event_type = %s, want only the connection event", msg.EventType)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	s := newTestServer(t, testDeps())
	srv := httptest.NewServer(s.buildRouter())
	defer srv.Close()

	conn := dialWS(t, s, srv)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("got %s/%s, want pong/p1", msg.Type, msg.ID)
	}
}

func TestWebSocket_UnknownType(t *testing.T) {
	s := newTestServer(t, testDeps())
	srv := httptest.NewServer(s.buildRouter())
	defer srv.Close()

	conn := dialWS(t, s, srv)

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypeError {
		t.Errorf("type = %s, want error", msg.Type)
	}
}
