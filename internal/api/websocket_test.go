package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/openhandy-bridge/internal/bridge"
)

// dialStatus connects a WebSocket client to the test server.
func dialStatus(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readMessage reads one WSMessage with a deadline.
func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

// payloadSnapshot re-decodes an event payload as a snapshot.
func payloadSnapshot(t *testing.T, msg WSMessage) bridge.Snapshot {
	t.Helper()
	m, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload is %T, want object", msg.Payload)
	}
	snap := bridge.Snapshot{}
	if v, ok := m["session_id"].(string); ok {
		snap.SessionID = v
	}
	if v, ok := m["connected"].(bool); ok {
		snap.Connected = v
	}
	return snap
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
}

func TestWebSocket_SubscribeSendsCurrentStatus(t *testing.T) {
	status := &fakeStatus{snap: bridge.Snapshot{Status: "online", Connected: true, SessionID: "s1"}}
	srv := testServer(t, Deps{Status: status})
	ws := dialStatus(t, srv)

	subscribe(t, ws, ChannelStatus)

	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("first message = %+v, want subscribe response", resp)
	}

	event := readMessage(t, ws)
	if event.Type != WSTypeEvent || event.EventType != ChannelStatus {
		t.Fatalf("second message = %+v, want status event", event)
	}
	if snap := payloadSnapshot(t, event); snap.SessionID != "s1" || !snap.Connected {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestWebSocket_BroadcastOnChange(t *testing.T) {
	status := &fakeStatus{snap: bridge.Snapshot{Status: "online"}}
	srv := testServer(t, Deps{Status: status})
	ws := dialStatus(t, srv)

	subscribe(t, ws, ChannelStatus)
	readMessage(t, ws) // response
	readMessage(t, ws) // current status

	// First call records the baseline.
	srv.broadcastIfChanged()
	readMessage(t, ws)

	status.set(func(s *bridge.Snapshot) {}) // timestamp only
	if srv.broadcastIfChanged() {
		t.Error("timestamp-only change should not broadcast")
	}

	status.set(func(s *bridge.Snapshot) { s.SessionID = "s2" })
	if !srv.broadcastIfChanged() {
		t.Fatal("session change should broadcast")
	}

	event := readMessage(t, ws)
	if snap := payloadSnapshot(t, event); snap.SessionID != "s2" {
		t.Errorf("broadcast session = %q, want s2", snap.SessionID)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	srv := testServer(t, Deps{})
	ws := dialStatus(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError {
		t.Errorf("invalid JSON reply = %+v", msg)
	}
}

func TestWebSocket_UnsubscribedClientGetsNothing(t *testing.T) {
	status := &fakeStatus{snap: bridge.Snapshot{Status: "online"}}
	srv := testServer(t, Deps{Status: status})
	ws := dialStatus(t, srv)

	subscribe(t, ws, ChannelStatus)
	readMessage(t, ws)
	readMessage(t, ws)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "u1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStatus}},
	}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "u1" {
		t.Fatalf("unsubscribe reply = %+v", msg)
	}

	status.set(func(s *bridge.Snapshot) { s.SessionID = "s9" })
	srv.broadcastIfChanged()

	// A ping round trip proves no status event was queued ahead of the pong.
	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p2"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong {
		t.Errorf("got %+v, want pong", msg)
	}
}

func TestHub_ClientCount(t *testing.T) {
	srv := testServer(t, Deps{})
	dialStatus(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for srv.ws.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want 1", srv.ws.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
