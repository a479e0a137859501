// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

package subscriber

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jwhitfield/studypulse/internal/logging"
	"github.com/jwhitfield/studypulse/internal/realtime"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// mockServer plays the server side of the realtime protocol. The script
// runs once per accepted connection with the 1-based dial number.
type mockServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	dials int
}

func newMockServer(t *testing.T, script func(n int, conn *websocket.Conn)) *mockServer {
	t.Helper()

	ms := &mockServer{t: t}
	ms.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms.mu.Lock()
		ms.dials++
		n := ms.dials
		ms.mu.Unlock()

		conn, err := ms.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(n, conn)
	}))
	t.Cleanup(ms.server.Close)
	return ms
}

func (ms *mockServer) url() string {
	return "ws" + strings.TrimPrefix(ms.server.URL, "http")
}

func (ms *mockServer) dialCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.dials
}

func sendReady(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	frame := `{"type":"connection.ready","payload":{"userId":"u1","organizationId":"org-1","role":"student","heartbeatIntervalMs":30000}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Errorf("write ready: %v", err)
	}
}

func closeWith(conn *websocket.Conn, code int) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), deadline)
	_ = conn.Close()
}

// readFrames forwards inbound frames until the connection drops.
func readFrames(conn *websocket.Conn, frames chan<- []byte) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames <- data
	}
}

func fastOptions(url string) Options {
	return Options{
		URL:          url,
		DialTimeout:  time.Second,
		InitialRetry: 10 * time.Millisecond,
		MaxRetry:     50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func expectFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()

	select {
	case data := <-frames:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func TestSubscriber_ConnectEmptyToken(t *testing.T) {
	s := New(fastOptions("ws://127.0.0.1:0"))
	if err := s.Connect(""); err == nil {
		t.Error("Connect(\"\") = nil, want error")
	}
}

func TestSubscriber_ConnectReceivesReady(t *testing.T) {
	ms := newMockServer(t, func(_ int, conn *websocket.Conn) {
		sendReady(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	readyCh := make(chan Ready, 1)
	opts := fastOptions(ms.url())
	opts.OnConnect = func(r Ready) { readyCh <- r }

	s := New(opts)
	t.Cleanup(s.Disconnect)
	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case r := <-readyCh:
		if r.UserID != "u1" || r.OrgID != "org-1" || r.Role != "student" {
			t.Errorf("ready = %+v, want u1/org-1/student", r)
		}
		if r.HeartbeatInterval != 30*time.Second {
			t.Errorf("heartbeat interval = %v, want 30s", r.HeartbeatInterval)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect never fired")
	}
	waitFor(t, s.IsConnected, "IsConnected() stayed false")
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	ms := newMockServer(t, func(n int, conn *websocket.Conn) {
		sendReady(t, conn)
		if n == 1 {
			closeWith(conn, websocket.CloseNormalClosure)
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var connects, disconnects sync.WaitGroup
	connects.Add(2)
	disconnects.Add(1)
	opts := fastOptions(ms.url())
	var connectCount int32
	var mu sync.Mutex
	opts.OnConnect = func(Ready) {
		mu.Lock()
		if connectCount < 2 {
			connects.Done()
		}
		connectCount++
		mu.Unlock()
	}
	gotCode := make(chan int, 1)
	opts.OnDisconnect = func(code int) {
		select {
		case gotCode <- code:
			disconnects.Done()
		default:
		}
	}

	s := New(opts)
	t.Cleanup(s.Disconnect)
	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		connects.Wait()
		disconnects.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not reconnect after drop")
	}

	if code := <-gotCode; code != websocket.CloseNormalClosure {
		t.Errorf("OnDisconnect code = %d, want %d", code, websocket.CloseNormalClosure)
	}
	if ms.dialCount() < 2 {
		t.Errorf("dial count = %d, want >= 2", ms.dialCount())
	}
}

func TestSubscriber_TerminalCloseStopsRetry(t *testing.T) {
	ms := newMockServer(t, func(_ int, conn *websocket.Conn) {
		closeWith(conn, realtime.CloseUnauthenticated)
	})

	gotCode := make(chan int, 1)
	opts := fastOptions(ms.url())
	opts.OnDisconnect = func(code int) {
		select {
		case gotCode <- code:
		default:
		}
	}

	s := New(opts)
	t.Cleanup(s.Disconnect)
	if err := s.Connect("tok-bad"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case code := <-gotCode:
		if code != realtime.CloseUnauthenticated {
			t.Fatalf("OnDisconnect code = %d, want %d", code, realtime.CloseUnauthenticated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect never fired")
	}

	// Several retry intervals pass with no further dial attempts.
	time.Sleep(200 * time.Millisecond)
	if ms.dialCount() != 1 {
		t.Errorf("dial count = %d after terminal close, want 1", ms.dialCount())
	}
}

func TestSubscriber_ConnectClearsTerminalLatch(t *testing.T) {
	ms := newMockServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			closeWith(conn, realtime.CloseUnauthenticated)
			return
		}
		sendReady(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rejected := make(chan struct{}, 1)
	readyCh := make(chan Ready, 1)
	opts := fastOptions(ms.url())
	opts.OnDisconnect = func(int) {
		select {
		case rejected <- struct{}{}:
		default:
		}
	}
	opts.OnConnect = func(r Ready) {
		select {
		case readyCh <- r:
		default:
		}
	}

	s := New(opts)
	t.Cleanup(s.Disconnect)
	if err := s.Connect("tok-stale"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal rejection never surfaced")
	}

	if err := s.Connect("tok-fresh"); err != nil {
		t.Fatalf("Connect with fresh credential: %v", err)
	}
	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("fresh credential did not re-establish the connection")
	}
}

func TestSubscriber_ConnectIdempotentSameToken(t *testing.T) {
	ms := newMockServer(t, func(_ int, conn *websocket.Conn) {
		sendReady(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := New(fastOptions(ms.url()))
	t.Cleanup(s.Disconnect)
	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, s.IsConnected, "never connected")

	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if ms.dialCount() != 1 {
		t.Errorf("dial count = %d after repeated Connect, want 1", ms.dialCount())
	}
}

func TestSubscriber_NewTokenReplacesConnection(t *testing.T) {
	ms := newMockServer(t, func(_ int, conn *websocket.Conn) {
		sendReady(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := New(fastOptions(ms.url()))
	t.Cleanup(s.Disconnect)
	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, s.IsConnected, "never connected")

	if err := s.Connect("tok-2"); err != nil {
		t.Fatalf("Connect with new credential: %v", err)
	}
	waitFor(t, func() bool { return ms.dialCount() == 2 },
		"new credential did not trigger a fresh dial")
}

func TestSubscriber_DisconnectSuppressesReconnect(t *testing.T) {
	ms := newMockServer(t, func(_ int, conn *websocket.Conn) {
		sendReady(t, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := New(fastOptions(ms.url()))
	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, s.IsConnected, "never connected")

	s.Disconnect()
	if s.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	time.Sleep(100 * time.Millisecond)
	if ms.dialCount() != 1 {
		t.Errorf("dial count = %d after Disconnect, want 1", ms.dialCount())
	}
}

func TestSubscriber_DispatchAndUnregister(t *testing.T) {
	frames := make(chan []byte, 16)
	conns := make(chan *websocket.Conn, 1)
	ms := newMockServer(t, func(_ int, conn *websocket.Conn) {
		sendReady(t, conn)
		conns <- conn
		readFrames(conn, frames)
	})

	s := New(fastOptions(ms.url()))
	t.Cleanup(s.Disconnect)

	events := make(chan Event, 16)
	off := s.On(realtime.EventCoursesChanged, func(evt Event) { events <- evt })

	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Ready triggers subscription replay for the registered handler.
	var sub subscribeFrame
	if err := json.Unmarshal(expectFrame(t, frames), &sub); err != nil {
		t.Fatalf("decode subscribe: %v", err)
	}
	if sub.Type != realtime.MessageTypeSubscribe {
		t.Fatalf("frame type = %q, want subscribe", sub.Type)
	}
	if len(sub.Channels) != 1 || sub.Channels[0] != realtime.EventCoursesChanged {
		t.Fatalf("channels = %v, want [%s]", sub.Channels, realtime.EventCoursesChanged)
	}

	conn := <-conns
	eventFrame := `{"type":"courses.changed","payload":{"courseId":"c-7"},"scope":{"userId":"u1"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(eventFrame)); err != nil {
		t.Fatalf("write event: %v", err)
	}

	select {
	case evt := <-events:
		var payload map[string]string
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["courseId"] != "c-7" {
			t.Errorf("payload courseId = %q, want c-7", payload["courseId"])
		}
		if evt.Scope == nil || evt.Scope.UserID != "u1" {
			t.Errorf("scope = %+v, want userId u1", evt.Scope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	// Unregistering resends an empty channel list and stops dispatch.
	off()
	if err := json.Unmarshal(expectFrame(t, frames), &sub); err != nil {
		t.Fatalf("decode resubscribe: %v", err)
	}
	if len(sub.Channels) != 0 {
		t.Errorf("channels after unregister = %v, want empty", sub.Channels)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(eventFrame)); err != nil {
		t.Fatalf("write event: %v", err)
	}
	select {
	case evt := <-events:
		t.Fatalf("handler invoked after unregister with %+v", evt)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSubscriber_ResubscribesAfterReconnect(t *testing.T) {
	frames := make(chan []byte, 16)
	ms := newMockServer(t, func(n int, conn *websocket.Conn) {
		sendReady(t, conn)
		if n == 1 {
			// Capture the initial subscribe, then drop the connection.
			_, data, err := conn.ReadMessage()
			if err == nil {
				frames <- data
			}
			conn.Close()
			return
		}
		readFrames(conn, frames)
	})

	s := New(fastOptions(ms.url()))
	t.Cleanup(s.Disconnect)
	s.On(realtime.EventModulesChanged, func(Event) {})

	if err := s.Connect("tok-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 1; i <= 2; i++ {
		var sub subscribeFrame
		if err := json.Unmarshal(expectFrame(t, frames), &sub); err != nil {
			t.Fatalf("decode subscribe #%d: %v", i, err)
		}
		if len(sub.Channels) != 1 || sub.Channels[0] != realtime.EventModulesChanged {
			t.Fatalf("subscribe #%d channels = %v, want [%s]", i, sub.Channels, realtime.EventModulesChanged)
		}
	}

	if ms.dialCount() < 2 {
		t.Errorf("dial count = %d, want >= 2", ms.dialCount())
	}
}
