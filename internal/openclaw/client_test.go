package openclaw_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/openclaw"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startAgentServer launches a fake agent gateway. The handler receives each
// accepted conn. The server is closed when the test finishes.
func startAgentServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFrame reads one text frame into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("readFrame unmarshal: %v", err)
	}
	return raw
}

// writeFrame marshals v and sends it as a text frame.
func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

// acceptConnect consumes the connect request, validates its shape, and
// replies hello-ok. Returns the connect frame for further assertions.
func acceptConnect(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	frame := readFrame(t, conn)
	if frame["type"] != "req" || frame["method"] != "connect" {
		t.Fatalf("first frame = %v; want a connect request", frame)
	}
	writeFrame(t, conn, map[string]any{
		"type":    "res",
		"id":      frame["id"],
		"ok":      true,
		"payload": map[string]any{"type": "hello-ok", "protocol": 3},
	})
	return frame
}

// acceptChatSend consumes one chat.send request, acks it, and returns the
// runId from its params.
func acceptChatSend(t *testing.T, conn *websocket.Conn) (runID string, frame map[string]any) {
	t.Helper()
	frame = readFrame(t, conn)
	if frame["type"] != "req" || frame["method"] != "chat.send" {
		t.Fatalf("frame = %v; want a chat.send request", frame)
	}
	params, _ := frame["params"].(map[string]any)
	runID, _ = params["idempotencyKey"].(string)
	writeFrame(t, conn, map[string]any{
		"type":    "res",
		"id":      frame["id"],
		"ok":      true,
		"payload": map[string]any{"status": "started"},
	})
	return runID, frame
}

// chatEvent builds one chat event frame.
func chatEvent(runID, state string, message any) map[string]any {
	payload := map[string]any{"runId": runID, "state": state}
	if message != nil {
		payload["message"] = message
	}
	return map[string]any{"type": "event", "event": "chat", "payload": payload}
}

func newTestClient(srv *httptest.Server, opts ...openclaw.Option) *openclaw.Client {
	base := []openclaw.Option{
		openclaw.WithMaxDialAttempts(1),
		openclaw.WithConnectTimeout(5 * time.Second),
	}
	return openclaw.NewClient(wsURL(srv), "test-token", append(base, opts...)...)
}

// ── Handshake ─────────────────────────────────────────────────────────────────

func TestConnect_HandshakeFrameShape(t *testing.T) {
	t.Parallel()

	connectCh := make(chan map[string]any, 1)
	srv := startAgentServer(t, func(conn *websocket.Conn) {
		connectCh <- acceptConnect(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Healthy() {
		t.Error("Healthy() = false after successful handshake")
	}

	frame := <-connectCh
	params, ok := frame["params"].(map[string]any)
	if !ok {
		t.Fatalf("connect frame has no params object: %v", frame)
	}
	if params["minProtocol"] != float64(3) || params["maxProtocol"] != float64(3) {
		t.Errorf("protocol window = %v..%v; want 3..3", params["minProtocol"], params["maxProtocol"])
	}
	client, _ := params["client"].(map[string]any)
	if client["mode"] != "backend" {
		t.Errorf("client.mode = %v; want backend", client["mode"])
	}
	auth, _ := params["auth"].(map[string]any)
	if auth["token"] != "test-token" {
		t.Errorf("auth.token = %v; want test-token", auth["token"])
	}
	if _, present := params["nonce"]; present {
		t.Error("connect params carry a top-level nonce; the server rejects that key")
	}
	if _, present := params["device"]; present {
		t.Error("connect params carry a device object; backend-auth flow must not")
	}
}

func TestConnect_ChallengeBeforeConnect(t *testing.T) {
	t.Parallel()

	connectCh := make(chan map[string]any, 1)
	srv := startAgentServer(t, func(conn *websocket.Conn) {
		// Push the optional challenge right after open, then expect the
		// connect request as usual.
		writeFrame(t, conn, map[string]any{
			"type":    "event",
			"event":   "connect.challenge",
			"payload": map[string]any{"nonce": "abc123"},
		})
		connectCh <- acceptConnect(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frame := <-connectCh
	params, _ := frame["params"].(map[string]any)
	if _, present := params["nonce"]; present {
		t.Error("challenge nonce leaked into connect params")
	}
}

func TestConnect_AuthRejectionIsTerminal(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	srv := startAgentServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		frame := readFrame(t, conn)
		writeFrame(t, conn, map[string]any{
			"type":  "res",
			"id":    frame["id"],
			"ok":    false,
			"error": map[string]any{"code": "unauthorized", "message": "bad token"},
		})
	})

	c := openclaw.NewClient(wsURL(srv), "bad-token",
		openclaw.WithMaxDialAttempts(4),
		openclaw.WithBackoff(openclaw.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}),
	)
	_, err := c.SendTranscript(context.Background(), "default", "t1", "hello")
	if err == nil {
		t.Fatal("SendTranscript succeeded against an auth-rejecting server")
	}
	var opErr *types.OperatorError
	if !errors.As(err, &opErr) || opErr.Code != types.CodeOpenClawUnavailable {
		t.Errorf("err = %v; want OperatorError OPENCLAW_UNAVAILABLE", err)
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("dial count = %d; want 1 (auth failures must not be retried)", got)
	}
}

// ── Turns ─────────────────────────────────────────────────────────────────────

func TestSendTranscript_DeltaThenFinal(t *testing.T) {
	t.Parallel()

	chatCh := make(chan map[string]any, 1)
	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		runID, frame := acceptChatSend(t, conn)
		chatCh <- frame
		writeFrame(t, conn, chatEvent(runID, "delta", map[string]any{"content": "Hello, "}))
		writeFrame(t, conn, chatEvent(runID, "delta", map[string]any{"content": "world."}))
		writeFrame(t, conn, chatEvent(runID, "final", map[string]any{"content": "Hello, world."}))
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	resp, err := c.SendTranscript(context.Background(), "sess-1", "turn-1", "hi there")
	if err != nil {
		t.Fatalf("SendTranscript: %v", err)
	}
	if resp.Text != "Hello, world." {
		t.Errorf("Text = %q; want %q", resp.Text, "Hello, world.")
	}
	if resp.TurnId != "turn-1" || resp.SessionKey != "sess-1" {
		t.Errorf("correlation = (%s, %s); want (turn-1, sess-1)", resp.TurnId, resp.SessionKey)
	}

	frame := <-chatCh
	params, _ := frame["params"].(map[string]any)
	if params["sessionKey"] != "sess-1" {
		t.Errorf("params.sessionKey = %v; want sess-1", params["sessionKey"])
	}
	if params["message"] != "hi there" {
		t.Errorf("params.message = %v; want the transcript", params["message"])
	}
	if _, present := frame["sessionKey"]; present {
		t.Error("sessionKey present at the frame top level; it belongs inside params")
	}
	for key := range frame {
		switch key {
		case "type", "id", "method", "params":
		default:
			t.Errorf("unexpected top-level key %q in chat.send frame", key)
		}
	}
}

func TestSendTranscript_ContentBlocks(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		runID, _ := acceptChatSend(t, conn)
		writeFrame(t, conn, chatEvent(runID, "final", map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "part one "},
				map[string]any{"type": "image", "url": "ignored"},
				map[string]any{"type": "text", "text": "part two"},
			},
		}))
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	resp, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
	if err != nil {
		t.Fatalf("SendTranscript: %v", err)
	}
	if resp.Text != "part one part two" {
		t.Errorf("Text = %q; want text blocks only, concatenated", resp.Text)
	}
}

func TestSendTranscript_ErrorState(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		runID, _ := acceptChatSend(t, conn)
		writeFrame(t, conn, map[string]any{
			"type":  "event",
			"event": "chat",
			"payload": map[string]any{
				"runId":        runID,
				"state":        "error",
				"errorMessage": "model overloaded",
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	_, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
	var userErr *types.UserError
	if !errors.As(err, &userErr) || userErr.Code != types.CodeOpenClawSession {
		t.Fatalf("err = %v; want UserError OPENCLAW_SESSION_ERROR", err)
	}
	if !strings.Contains(userErr.Message, "model overloaded") {
		t.Errorf("Message = %q; want the agent's error message", userErr.Message)
	}
}

func TestSendTranscript_AbortedKeepsPartial(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		runID, _ := acceptChatSend(t, conn)
		writeFrame(t, conn, chatEvent(runID, "delta", map[string]any{"content": "partial answer"}))
		writeFrame(t, conn, chatEvent(runID, "aborted", nil))
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	resp, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
	if err != nil {
		t.Fatalf("SendTranscript: %v", err)
	}
	if resp.Text != "partial answer" {
		t.Errorf("Text = %q; want the accumulated partial", resp.Text)
	}
}

func TestSendTranscript_AbortedEmptyRejects(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		runID, _ := acceptChatSend(t, conn)
		writeFrame(t, conn, chatEvent(runID, "aborted", nil))
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	_, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
	var userErr *types.UserError
	if !errors.As(err, &userErr) || userErr.Code != types.CodeOpenClawSession {
		t.Fatalf("err = %v; want UserError OPENCLAW_SESSION_ERROR for an empty abort", err)
	}
}

func TestSendTranscript_AckRejected(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		frame := readFrame(t, conn)
		writeFrame(t, conn, map[string]any{
			"type":  "res",
			"id":    frame["id"],
			"ok":    false,
			"error": map[string]any{"code": "session_not_found", "message": "unknown session"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	defer c.Disconnect()
	_, err := c.SendTranscript(context.Background(), "nope", "t1", "hi")
	var userErr *types.UserError
	if !errors.As(err, &userErr) || userErr.Code != types.CodeOpenClawSession {
		t.Fatalf("err = %v; want UserError OPENCLAW_SESSION_ERROR", err)
	}
}

func TestSendTranscript_TurnDeadlineKeepsConnection(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		acceptChatSend(t, conn)
		// Never send a final event; the client's turn deadline must fire.
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv, openclaw.WithResponseTimeout(150*time.Millisecond))
	defer c.Disconnect()
	_, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
	var userErr *types.UserError
	if !errors.As(err, &userErr) || userErr.Code != types.CodeOpenClawTimeout {
		t.Fatalf("err = %v; want UserError OPENCLAW_TIMEOUT", err)
	}
	if !c.Healthy() {
		t.Error("turn deadline tore down the connection; it must stay up")
	}
}

// ── Disconnect ────────────────────────────────────────────────────────────────

func TestDisconnect_RejectsPendingTurns(t *testing.T) {
	t.Parallel()

	acked := make(chan struct{})
	srv := startAgentServer(t, func(conn *websocket.Conn) {
		acceptConnect(t, conn)
		acceptChatSend(t, conn)
		close(acked)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newTestClient(srv)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
		errCh <- err
	}()

	select {
	case <-acked:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the chat.send")
	}
	if err := c.Disconnect(); err != nil {
		t.Logf("Disconnect: %v", err)
	}

	select {
	case err := <-errCh:
		var userErr *types.UserError
		if !errors.As(err, &userErr) {
			t.Fatalf("pending turn rejected with %v; want a user-class error", err)
		}
		if strings.Contains(strings.ToLower(userErr.Message), "websocket") {
			t.Errorf("rejection message %q leaks transport detail", userErr.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending turn was not rejected on disconnect")
	}
	if c.Healthy() {
		t.Error("Healthy() = true after Disconnect")
	}
}

func TestSendTranscript_ReconnectsAfterServerDrop(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32
	srv := startAgentServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		acceptConnect(t, conn)
		if n == 1 {
			// Drop the first connection right after the handshake.
			conn.Close(websocket.StatusGoingAway, "restarting")
			return
		}
		runID, _ := acceptChatSend(t, conn)
		writeFrame(t, conn, chatEvent(runID, "final", map[string]any{"content": "back online"}))
		<-conn.CloseRead(context.Background()).Done()
	})

	c := openclaw.NewClient(wsURL(srv), "tok",
		openclaw.WithMaxDialAttempts(3),
		openclaw.WithBackoff(openclaw.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}),
	)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Wait for the server-side drop to land.
	deadline := time.Now().Add(5 * time.Second)
	for c.Healthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Healthy() {
		t.Fatal("client never observed the server drop")
	}

	resp, err := c.SendTranscript(context.Background(), "default", "t2", "are you there")
	if err != nil {
		t.Fatalf("SendTranscript after drop: %v", err)
	}
	if resp.Text != "back online" {
		t.Errorf("Text = %q; want %q", resp.Text, "back online")
	}
	if conns.Load() < 2 {
		t.Errorf("connection count = %d; want a fresh dial after the drop", conns.Load())
	}
}

func TestSendTranscript_UnreachableGateway(t *testing.T) {
	t.Parallel()

	c := openclaw.NewClient("ws://127.0.0.1:1", "tok",
		openclaw.WithMaxDialAttempts(2),
		openclaw.WithConnectTimeout(500*time.Millisecond),
		openclaw.WithBackoff(openclaw.Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond}),
	)
	_, err := c.SendTranscript(context.Background(), "default", "t1", "hi")
	var opErr *types.OperatorError
	if !errors.As(err, &opErr) || opErr.Code != types.CodeOpenClawUnavailable {
		t.Fatalf("err = %v; want OperatorError OPENCLAW_UNAVAILABLE", err)
	}
}

func TestSendTranscript_CountsRedials(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c := openclaw.NewClient("ws://127.0.0.1:1", "tok",
		openclaw.WithMaxDialAttempts(3),
		openclaw.WithConnectTimeout(500*time.Millisecond),
		openclaw.WithBackoff(openclaw.Backoff{Base: 5 * time.Millisecond, Max: 10 * time.Millisecond}),
		openclaw.WithMetrics(metrics),
	)
	if _, err := c.SendTranscript(context.Background(), "default", "t1", "hi"); err == nil {
		t.Fatal("SendTranscript succeeded against an unreachable gateway")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var redials int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voicegw.session.reconnects" {
				continue
			}
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				redials = sum.DataPoints[0].Value
			}
		}
	}
	if redials != 2 {
		t.Errorf("redial count = %d, want 2 (three attempts, first dial excluded)", redials)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state openclaw.State
		want  string
	}{
		{openclaw.StateDisconnected, "disconnected"},
		{openclaw.StateDialing, "dialing"},
		{openclaw.StateAwaitingHello, "awaiting-hello"},
		{openclaw.StateReady, "ready"},
		{openclaw.StateDraining, "draining"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q; want %q", tt.state, got, tt.want)
		}
	}
}
