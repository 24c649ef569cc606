package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().WSClients != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.Stats().WSClients)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSHandlerWelcomesAndTracksClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	router := gin.New()
	router.GET("/ws", WSHandler(hub))

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome failed: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"welcome"`) {
		t.Fatalf("unexpected welcome message %q", msg)
	}
	waitForClients(t, hub, 1)
}

func TestWSHandlerDeliversBroadcasts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	router := gin.New()
	router.GET("/ws", WSHandler(hub))

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read welcome failed: %v", err)
	}
	waitForClients(t, hub, 1)

	hub.BroadcastJSON(map[string]string{"type": "sync.completed"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast failed: %v", err)
	}
	if !strings.Contains(string(msg), "sync.completed") {
		t.Fatalf("unexpected broadcast %q", msg)
	}
}

func TestWSHandlerUnregistersOnClose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	router := gin.New()
	router.GET("/ws", WSHandler(hub))

	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dialWS(t, srv)
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read welcome failed: %v", err)
	}
	waitForClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitForClients(t, hub, 0)
}
