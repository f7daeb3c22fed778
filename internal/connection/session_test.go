package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/bitfinex-sync/internal/auth"
)

type staticMarkets []string

func (m staticMarkets) GetActiveMarkets() []string { return m }

type fakeSigner struct{}

func (fakeSigner) SignAuth() auth.AuthMessage {
	return auth.AuthMessage{Event: "auth", APIKey: "key", AuthSig: "sig", AuthPayload: "AUTH1"}
}

// streamServer records the handshake of every connection and then sends one
// frame naming the connection index.
type streamServer struct {
	mu         sync.Mutex
	handshakes [][]map[string]any
	conns      atomic.Int32
	dropFirst  bool
}

func (s *streamServer) handler(expect int) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		idx := s.conns.Add(1)

		var msgs []map[string]any
		for len(msgs) < expect {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			msgs = append(msgs, m)
		}
		s.mu.Lock()
		s.handshakes = append(s.handshakes, msgs)
		s.mu.Unlock()

		frame := fmt.Sprintf(`[0,"conn",%d]`, idx)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}

		if s.dropFirst && idx == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func (s *streamServer) handshake(i int) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.handshakes) {
		return nil
	}
	return s.handshakes[i]
}

func testSessionConfig(url string) SessionConfig {
	return SessionConfig{
		Client: ClientConfig{
			URL:          url,
			PingInterval: time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: time.Second,
			BufferSize:   100,
		},
		ReconnectBaseWait: 10 * time.Millisecond,
		ReconnectMaxWait:  50 * time.Millisecond,
		MessageBufferSize: 100,
	}
}

func nextMessage(t *testing.T, s Session) RawMessage {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		if !ok {
			t.Fatal("messages channel closed")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return RawMessage{}
}

func stopSession(t *testing.T, s Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestSession_SubscribesAndAuthenticates(t *testing.T) {
	srv := &streamServer{}
	server := mockWSServer(t, srv.handler(3))
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server)), staticMarkets{"BTC_USD", "DASH_USD"}, fakeSigner{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopSession(t, s)

	msg := nextMessage(t, s)
	if string(msg.Data) != `[0,"conn",1]` {
		t.Errorf("Data = %s, want first connection frame", msg.Data)
	}
	if msg.Gen != 1 {
		t.Errorf("Gen = %d, want 1", msg.Gen)
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should not be zero")
	}
	if s.State() != StateReady {
		t.Errorf("State = %v, want ready", s.State())
	}

	hs := srv.handshake(0)
	if len(hs) != 3 {
		t.Fatalf("handshake messages = %d, want 3", len(hs))
	}
	wantPairs := []string{"btcusd", "drkusd"}
	for i, pair := range wantPairs {
		if hs[i]["event"] != "subscribe" || hs[i]["channel"] != "ticker" || hs[i]["pair"] != pair {
			t.Errorf("handshake[%d] = %v, want ticker subscribe for %s", i, hs[i], pair)
		}
	}
	if hs[2]["event"] != "auth" || hs[2]["authPayload"] != "AUTH1" {
		t.Errorf("handshake[2] = %v, want auth message", hs[2])
	}
}

func TestSession_RestartStartsNewGeneration(t *testing.T) {
	srv := &streamServer{}
	server := mockWSServer(t, srv.handler(2))
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server)), staticMarkets{"BTC_USD"}, fakeSigner{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopSession(t, s)

	if msg := nextMessage(t, s); msg.Gen != 1 {
		t.Fatalf("Gen = %d, want 1", msg.Gen)
	}

	s.Restart("auth failed")

	msg := nextMessage(t, s)
	if msg.Gen != 2 {
		t.Errorf("Gen = %d, want 2", msg.Gen)
	}
	if string(msg.Data) != `[0,"conn",2]` {
		t.Errorf("Data = %s, want second connection frame", msg.Data)
	}
	if len(srv.handshake(1)) != 2 {
		t.Errorf("second connection handshake = %v, want subscribe and auth", srv.handshake(1))
	}
	if s.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", s.Generation())
	}
}

func TestSession_ReconnectsAfterDrop(t *testing.T) {
	srv := &streamServer{dropFirst: true}
	server := mockWSServer(t, srv.handler(1))
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server)), staticMarkets{"BTC_USD"}, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopSession(t, s)

	first := nextMessage(t, s)
	second := nextMessage(t, s)
	if first.Gen != 1 || second.Gen != 2 {
		t.Errorf("generations = %d, %d; want 1, 2", first.Gen, second.Gen)
	}
	if hs := srv.handshake(0); len(hs) != 1 || hs[0]["event"] != "subscribe" {
		t.Errorf("handshake = %v, want only a subscribe without signer", hs)
	}
}

func TestSession_StopClosesMessages(t *testing.T) {
	srv := &streamServer{}
	server := mockWSServer(t, srv.handler(1))
	defer server.Close()

	s := NewSession(testSessionConfig(wsURL(server)), staticMarkets{"BTC_USD"}, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	nextMessage(t, s)

	stopSession(t, s)

	select {
	case _, ok := <-s.Messages():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("messages channel not closed after Stop")
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want disconnected", s.State())
	}
}

func TestSession_DialFailureRetries(t *testing.T) {
	var dials atomic.Int32
	factory := func(cfg ClientConfig, _ *slog.Logger) Client {
		dials.Add(1)
		return NewClient(cfg, nil)
	}

	cfg := testSessionConfig("ws://127.0.0.1:1")
	s := NewSession(cfg, staticMarkets{"BTC_USD"}, nil, nil, WithClientFactory(factory))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for dials.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("dials = %d, want >= 3", dials.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopSession(t, s)
	if s.Generation() != 0 {
		t.Errorf("Generation() = %d, want 0 without a successful dial", s.Generation())
	}
}
