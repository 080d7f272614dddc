package apihttp

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"torrentstream/streamfs/internal/domain"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

func waitForClients(t *testing.T, hub *wsHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.clientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := newWSHub(quietLogger())
	hub.Broadcast("swarms", []int{1})
	if len(hub.broadcast) != 0 {
		t.Fatalf("broadcast queued %d messages with no clients", len(hub.broadcast))
	}
}

func TestWebsocketReceivesSwarmSnapshot(t *testing.T) {
	lc := &fakeLifecycle{states: []domain.SwarmState{{InfoHash: testHash, Status: domain.SwarmPaused, Paused: true, Ready: true}}}
	s, _ := newTestServer(t, WithLifecycle(lc))
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	waitForClients(t, s.wsHub, 1)

	s.BroadcastSwarms()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string              `json:"type"`
		Data []domain.SwarmState `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v (%s)", err, data)
	}
	if msg.Type != "swarms" || len(msg.Data) != 1 || !msg.Data[0].Paused {
		t.Fatalf("message = %+v", msg)
	}
}

func TestWebsocketClientDisconnectUnregisters(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	waitForClients(t, s.wsHub, 1)
	conn.Close()
	waitForClients(t, s.wsHub, 0)
}
