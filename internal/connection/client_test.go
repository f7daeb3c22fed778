package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer serves one websocket per request and hands it to handler.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// drain reads until the peer goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func waitDone(t *testing.T, c Client) error {
	t.Helper()
	select {
	case <-c.Done():
		return c.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection to end")
	}
	return nil
}

func TestClient_ConnectAndClose(t *testing.T) {
	server := mockWSServer(t, drain)

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
	if err := waitDone(t, client); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClient_SendJSON(t *testing.T) {
	got := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(msg)
		drain(conn)
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	req := SubscribeRequest{Event: "subscribe", Channel: "ticker", Pair: "BTCUSD"}
	if err := client.SendJSON(req); err != nil {
		t.Fatalf("SendJSON failed: %v", err)
	}

	select {
	case msg := <-got:
		want := `{"event":"subscribe","channel":"ticker","pair":"BTCUSD"}`
		if msg != want {
			t.Errorf("server got %s, want %s", msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}
}

func TestClient_FramesInOrder(t *testing.T) {
	frames := []string{`{"event":"info","version":1.1}`, `[0,"hb"]`, `[2,"236.13","236.14"]`}
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		drain(conn)
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	before := time.Now()
	for i, want := range frames {
		select {
		case msg := <-client.Frames():
			if string(msg.Data) != want {
				t.Errorf("frame %d = %s, want %s", i, msg.Data, want)
			}
			if msg.ReceivedAt.Before(before) {
				t.Errorf("frame %d ReceivedAt %v before test start", i, msg.ReceivedAt)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	if err := client.Send([]byte("test")); err != ErrNotConnected {
		t.Errorf("Send before Connect = %v, want ErrNotConnected", err)
	}
}

func TestClient_ServerCloseEndsConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	err := waitDone(t, client)
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Err() = %v, want going-away close error", err)
	}
	if client.Send([]byte("late")) != ErrNotConnected {
		t.Error("Send after the connection ended should fail")
	}
}

func TestClient_PingAnsweredWithPong(t *testing.T) {
	pong := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(data string) error {
			pong <- data
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			return
		}
		drain(conn)
	})

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case data := <-pong:
		if data != "heartbeat" {
			t.Errorf("pong payload = %q, want heartbeat", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
	if !client.IsConnected() {
		t.Error("expected client to be connected after ping")
	}
}

func TestClient_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Never read, so keepalive pings go unanswered.
		time.Sleep(time.Second)
	})

	cfg := ClientConfig{
		URL:          wsURL(server),
		PingInterval: 20 * time.Millisecond,
		ReadTimeout:  60 * time.Millisecond,
		WriteTimeout: time.Second,
		BufferSize:   10,
	}
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := waitDone(t, client); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("Err() = %v, want ErrStaleConnection", err)
	}
}

func TestClient_HeartbeatFramesKeepAlive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		deadline := time.Now().Add(300 * time.Millisecond)
		for time.Now().Before(deadline) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`[0,"hb"]`)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		drain(conn)
	})

	cfg := ClientConfig{
		URL:          wsURL(server),
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: time.Second,
		BufferSize:   1000,
	}
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case <-client.Done():
		t.Fatalf("connection ended while heartbeats flow: %v", client.Err())
	case <-time.After(250 * time.Millisecond):
	}
}

func TestClient_FullBufferEndsConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for range 10 {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`[0,"hb"]`)); err != nil {
				return
			}
		}
		drain(conn)
	})

	cfg := testClientConfig(wsURL(server))
	cfg.BufferSize = 2
	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := waitDone(t, client); !errors.Is(err, ErrBackpressure) {
		t.Errorf("Err() = %v, want ErrBackpressure", err)
	}
	// Frames accepted before the overflow are still readable.
	if n := len(client.Frames()); n != 2 {
		t.Errorf("buffered frames = %d, want 2", n)
	}
}

func TestClient_ConnectAfterClose(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateSubscribing, "subscribing"},
		{StateReady, "ready"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.PingInterval >= clientCfg.ReadTimeout {
		t.Errorf("PingInterval %v should be below ReadTimeout %v", clientCfg.PingInterval, clientCfg.ReadTimeout)
	}

	sessCfg := DefaultSessionConfig()
	if sessCfg.ReconnectBaseWait != time.Second {
		t.Errorf("ReconnectBaseWait = %v, want 1s", sessCfg.ReconnectBaseWait)
	}
	if sessCfg.ReconnectMaxWait != 60*time.Second {
		t.Errorf("ReconnectMaxWait = %v, want 60s", sessCfg.ReconnectMaxWait)
	}
}
