package push

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"opsdec/internal/models"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(func(token string) error {
		if token == "good" {
			return nil
		}
		return errors.New("bad token")
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	return closeErr.Code
}

func TestServeWS_NoToken(t *testing.T) {
	_, url := newTestHub(t)
	conn := dial(t, url)
	if code := readCloseCode(t, conn); code != CloseNoToken {
		t.Errorf("close code = %d, want %d", code, CloseNoToken)
	}
}

func TestServeWS_BadToken(t *testing.T) {
	_, url := newTestHub(t)
	conn := dial(t, url+"?token=wrong")
	if code := readCloseCode(t, conn); code != CloseBadToken {
		t.Errorf("close code = %d, want %d", code, CloseBadToken)
	}
}

func TestBroadcast(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url+"?token=good")

	waitForClients(t, hub, 1)

	hub.Broadcast([]models.ActiveSession{
		{ServerName: "den", ServerKind: models.ServerKindPlex},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}

	var f struct {
		Type string                 `json:"type"`
		Data []models.ActiveSession `json:"data"`
	}
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if f.Type != "session.update" {
		t.Errorf("frame type = %q", f.Type)
	}
	if len(f.Data) != 1 || f.Data[0].ServerName != "den" {
		t.Errorf("frame data = %+v", f.Data)
	}
}

func TestBroadcast_EmptySnapshot(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url+"?token=good")

	waitForClients(t, hub, 1)
	hub.Broadcast(nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if !strings.Contains(string(msg), `"data":[]`) {
		t.Errorf("nil snapshot should serialize as empty array: %s", msg)
	}
}

func TestShutdown(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url+"?token=good")

	waitForClients(t, hub, 1)
	hub.Shutdown()

	if code := readCloseCode(t, conn); code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d after shutdown", hub.ClientCount())
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
