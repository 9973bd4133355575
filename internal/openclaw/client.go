// Package openclaw maintains the persistent duplex connection to the
// OpenClaw agent gateway and translates SendTranscript calls into the framed
// request/response + event protocol.
//
// One Client owns at most one WebSocket connection. Establishing it is a
// three-step handshake: open the socket, honour a short grace window in
// which the server may push a connect.challenge event, then send a single
// connect request and wait for its hello-ok response. After that the client
// is READY and chat turns flow as chat.send requests acknowledged by
// response frames, with the actual assistant text arriving later as chat
// events correlated by runId.
//
// Connections are dialled lazily: a send on a disconnected client triggers a
// dial under the retry policy in retry.go. On any disconnect every pending
// request and turn is rejected with a user-safe error and the next send
// dials again.
package openclaw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

const (
	// challengeGrace is how long after socket open the client waits for an
	// optional connect.challenge push before proceeding without one.
	challengeGrace = 750 * time.Millisecond

	defaultConnectTimeout  = 10 * time.Second
	defaultResponseTimeout = 60 * time.Second

	// maxFrameBytes bounds inbound frames. Agent replies are text; 1 MiB is
	// generous.
	maxFrameBytes = 1 << 20

	writeTimeout = 10 * time.Second

	// Protocol window offered in the connect handshake.
	protocolMin = 3
	protocolMax = 3

	clientID      = "even-g2-voice-gateway"
	clientVersion = "1.0.0"
	clientMode    = "backend"
	clientRole    = "operator"
)

// State is the connection lifecycle position of a [Client].
type State int

const (
	StateDisconnected State = iota
	StateDialing
	StateAwaitingHello
	StateReady
	StateDraining
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDialing:
		return "dialing"
	case StateAwaitingHello:
		return "awaiting-hello"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Session is the behaviour the orchestrator and the rebuilders need from an
// agent connection. *Client implements it; tests substitute fakes.
type Session interface {
	// SendTranscript delivers one transcript and blocks until the agent's
	// reply is complete, the turn times out, or ctx is cancelled.
	SendTranscript(ctx context.Context, sessionKey types.SessionKey, turnID types.TurnId, text string) (types.AgentResponse, error)

	// Connect eagerly establishes the connection. Sends connect lazily, so
	// calling this is only needed for boot pre-checks.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down, rejecting all pending work.
	Disconnect() error

	// Healthy reports whether the connection is established and ready.
	Healthy() bool
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithConnectTimeout bounds the dial-plus-handshake sequence.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithResponseTimeout bounds one turn: from chat.send until the final chat
// event.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.responseTimeout = d
		}
	}
}

// WithBackoff overrides the dial retry schedule.
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithMaxDialAttempts bounds how many dials one send will try before giving
// up.
func WithMaxDialAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDialTries = n
		}
	}
}

// WithLogger sets the client logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records redial attempts on the given instrument set.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is the OpenClaw gateway session client. Safe for concurrent use;
// writes to the wire are serialised internally.
type Client struct {
	url             string
	token           string
	connectTimeout  time.Duration
	responseTimeout time.Duration
	backoff         Backoff
	maxDialTries    int
	logger          *slog.Logger
	metrics         *observe.Metrics

	// dialMu single-flights connection establishment.
	dialMu sync.Mutex

	// writeMu serialises frame writes; the wire is a shared resource.
	writeMu sync.Mutex

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	connCancel   context.CancelFunc
	gen          uint64
	challengeCh  chan string
	pendingReqs  map[string]*pendingRequest
	pendingTurns map[string]*pendingTurn
}

// Compile-time assertion that Client satisfies the Session interface.
var _ Session = (*Client)(nil)

// NewClient creates a disconnected Client for the given gateway URL and
// backend token. The first SendTranscript dials.
func NewClient(url, token string, opts ...Option) *Client {
	c := &Client{
		url:             url,
		token:           token,
		connectTimeout:  defaultConnectTimeout,
		responseTimeout: defaultResponseTimeout,
		backoff:         Backoff{Base: defaultBaseDelay, Max: defaultMaxDelay},
		maxDialTries:    defaultMaxDialTries,
		logger:          slog.Default(),
		pendingReqs:     make(map[string]*pendingRequest),
		pendingTurns:    make(map[string]*pendingTurn),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "openclaw")
	return c
}

// ── pending trackers ─────────────────────────────────────────────────────────

type responseResult struct {
	ok      bool
	payload json.RawMessage
	errCode string
	errMsg  string
	err     error
}

type pendingRequest struct {
	ch    chan responseResult
	timer *time.Timer
}

type turnResult struct {
	text string
	err  error
}

type pendingTurn struct {
	turnID  types.TurnId
	session types.SessionKey
	runID   string
	ch      chan turnResult
	timer   *time.Timer
	acc     strings.Builder
}

// registerRequest tracks an outbound request id. The deadline timer removes
// the entry before completing the future, so there is exactly one resolver.
func (c *Client) registerRequest(id string, deadline time.Duration) chan responseResult {
	pr := &pendingRequest{ch: make(chan responseResult, 1)}
	pr.timer = time.AfterFunc(deadline, func() {
		if got := c.takeRequest(id); got != nil {
			got.ch <- responseResult{err: types.NewUserError(types.CodeOpenClawTimeout, "The assistant did not answer in time.")}
		}
	})
	c.mu.Lock()
	c.pendingReqs[id] = pr
	c.mu.Unlock()
	return pr.ch
}

// takeRequest removes and returns the tracker for id, stopping its timer.
// Returns nil when another path already claimed it.
func (c *Client) takeRequest(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pendingReqs[id]
	if !ok {
		return nil
	}
	delete(c.pendingReqs, id)
	pr.timer.Stop()
	return pr
}

// registerTurn tracks a turn by its runId with the turn deadline running.
func (c *Client) registerTurn(turnID types.TurnId, session types.SessionKey, runID string) chan turnResult {
	pt := &pendingTurn{
		turnID:  turnID,
		session: session,
		runID:   runID,
		ch:      make(chan turnResult, 1),
	}
	pt.timer = time.AfterFunc(c.responseTimeout, func() {
		// Deadline: reject the turn but leave the connection intact.
		if got := c.takeTurn(runID); got != nil {
			got.ch <- turnResult{err: types.NewUserError(types.CodeOpenClawTimeout, "The assistant did not answer in time.")}
		}
	})
	c.mu.Lock()
	c.pendingTurns[runID] = pt
	c.mu.Unlock()
	return pt.ch
}

// takeTurn removes and returns the tracker for runID, stopping its timer.
func (c *Client) takeTurn(runID string) *pendingTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt, ok := c.pendingTurns[runID]
	if !ok {
		return nil
	}
	delete(c.pendingTurns, runID)
	pt.timer.Stop()
	return pt
}

// ── connection lifecycle ─────────────────────────────────────────────────────

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Healthy implements Session.
func (c *Client) Healthy() bool { return c.State() == StateReady }

// Connect implements Session: dial and handshake if not already READY.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

// connect performs one dial + handshake attempt. Single-flighted: a second
// caller blocks until the first attempt settles, then returns immediately
// when it succeeded.
func (c *Client) connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.Healthy() {
		return nil
	}
	if c.url == "" {
		return errInvalidGatewayURL
	}

	c.setState(StateDialing)

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("openclaw: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	connCtx, connCancel := context.WithCancel(context.Background())
	challengeCh := make(chan string, 1)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.connCancel = connCancel
	c.challengeCh = challengeCh
	c.state = StateAwaitingHello
	c.mu.Unlock()

	go c.readLoop(connCtx, conn, gen)

	// Grace window: the server may push a challenge nonce right after open.
	// The backend-auth flow caches it but never sends it; device.nonce is
	// for device-paired flows only.
	select {
	case nonce := <-challengeCh:
		c.logger.Debug("received connect challenge", "nonce_len", len(nonce))
	case <-time.After(challengeGrace):
	case <-ctx.Done():
		c.failConnection(gen, conn, ctx.Err())
		return ctx.Err()
	}

	reqID := uuid.NewString()
	params := connectParams{
		MinProtocol: protocolMin,
		MaxProtocol: protocolMax,
		Client: connectClientInfo{
			ID:          clientID,
			DisplayName: "Even G2 Voice Gateway",
			Version:     clientVersion,
			Platform:    runtime.GOOS,
			Mode:        clientMode,
		},
		Caps:   []string{},
		Role:   clientRole,
		Scopes: []string{"chat"},
	}
	if c.token != "" {
		params.Auth = &connectAuth{Token: c.token}
	}

	respCh := c.registerRequest(reqID, c.connectTimeout)
	frame := requestFrame{Type: frameTypeRequest, ID: reqID, Method: methodConnect, Params: params}
	if err := c.writeFrame(ctx, frame); err != nil {
		c.takeRequest(reqID)
		c.failConnection(gen, conn, err)
		return fmt.Errorf("openclaw: send connect: %w", err)
	}

	select {
	case res := <-respCh:
		if res.err != nil {
			c.failConnection(gen, conn, res.err)
			return fmt.Errorf("openclaw: handshake: %w", res.err)
		}
		if !res.ok {
			he := &HandshakeError{Code: res.errCode, Message: res.errMsg}
			c.failConnection(gen, conn, he)
			return he
		}
		if gjson.GetBytes(res.payload, "type").String() != "hello-ok" {
			he := &HandshakeError{Code: "protocol_error", Message: "connect response is not hello-ok"}
			c.failConnection(gen, conn, he)
			return he
		}
	case <-ctx.Done():
		c.takeRequest(reqID)
		c.failConnection(gen, conn, ctx.Err())
		return ctx.Err()
	}

	c.mu.Lock()
	if c.gen == gen && c.state == StateAwaitingHello {
		c.state = StateReady
	}
	ready := c.state == StateReady
	c.mu.Unlock()

	if !ready {
		return fmt.Errorf("openclaw: connection lost during handshake")
	}
	c.logger.Info("session ready", "url", c.url)
	return nil
}

// ensureReady dials under the retry policy until READY, a terminal error,
// or the attempt budget is spent. Cancellation wakes any backoff sleep.
func (c *Client) ensureReady(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.maxDialTries; attempt++ {
		if c.Healthy() {
			return nil
		}
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.SessionReconnects.Add(ctx, 1)
			}
			delay := c.backoff.Delay(attempt - 1)
			c.logger.Debug("retrying connect", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = c.connect(ctx)
		if lastErr == nil {
			return nil
		}
		if isTerminalConnectErr(lastErr) {
			return lastErr
		}
		c.logger.Warn("connect attempt failed", "attempt", attempt+1, "err", lastErr)
	}
	return lastErr
}

// Disconnect implements Session. Every pending request and turn is rejected
// with a user-safe message; a later send dials fresh.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	gen := c.gen
	if conn != nil {
		c.state = StateDraining
	}
	c.mu.Unlock()

	if conn == nil {
		c.setState(StateDisconnected)
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "draining")
	c.handleDisconnect(gen, nil)
	return err
}

// failConnection aborts a handshake in progress.
func (c *Client) failConnection(gen uint64, conn *websocket.Conn, cause error) {
	_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
	c.handleDisconnect(gen, cause)
}

// handleDisconnect resets to DISCONNECTED and rejects all pending work.
// gen guards against a stale readLoop racing a newer connection.
func (c *Client) handleDisconnect(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	cancel := c.connCancel
	c.connCancel = nil
	reqs := c.pendingReqs
	turns := c.pendingTurns
	c.pendingReqs = make(map[string]*pendingRequest)
	c.pendingTurns = make(map[string]*pendingTurn)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, pr := range reqs {
		pr.timer.Stop()
		pr.ch <- responseResult{err: types.NewOperatorError(types.CodeOpenClawUnavailable, "connection to agent gateway lost")}
	}
	for _, pt := range turns {
		pt.timer.Stop()
		pt.ch <- turnResult{err: types.NewUserError(types.CodeOpenClawUnavailable, "Connection to the assistant was lost. Please retry.")}
	}

	if cause != nil {
		c.logger.Warn("session disconnected",
			"err", cause,
			"rejected_requests", len(reqs),
			"rejected_turns", len(turns),
		)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ── wire I/O ─────────────────────────────────────────────────────────────────

// writeFrame marshals and writes one frame. Writes are serialised; the
// outbound wire is shared by handshake and all concurrent turns.
func (c *Client) writeFrame(ctx context.Context, frame requestFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop owns conn reads until the connection dies.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		if fatal := c.handleFrame(gen, data); fatal {
			_ = conn.Close(websocket.StatusProtocolError, "unexpected frame")
			c.handleDisconnect(gen, fmt.Errorf("openclaw: protocol violation"))
			return
		}
	}
}

// handleFrame dispatches one inbound frame. Returns true when the frame is
// a protocol violation that must terminate the connection.
func (c *Client) handleFrame(gen uint64, data []byte) bool {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("dropping unparseable frame", "err", err)
		return c.State() != StateReady
	}

	switch f.Type {
	case frameTypeResponse:
		pr := c.takeRequest(f.ID)
		if pr == nil {
			// Before READY the only legitimate response is the connect ack,
			// which is always pending. Afterwards a late response for an
			// expired request is dropped.
			return c.State() != StateReady
		}
		res := responseResult{ok: f.OK, payload: f.Payload}
		if f.Error != nil {
			res.errCode = f.Error.Code
			res.errMsg = f.Error.Message
		}
		pr.ch <- res
		return false

	case frameTypeEvent:
		switch f.Event {
		case eventChallenge:
			c.deliverChallenge(f.Payload)
			return false
		case eventChat:
			if c.State() != StateReady {
				return true
			}
			c.handleChatEvent(f.Payload)
			return false
		default:
			// Other server events are noise for this client.
			return c.State() != StateReady
		}

	default:
		return c.State() != StateReady
	}
}

// deliverChallenge hands the nonce to a handshake in progress, if any.
func (c *Client) deliverChallenge(payload json.RawMessage) {
	nonce := gjson.GetBytes(payload, "nonce").String()
	c.mu.Lock()
	ch := c.challengeCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- nonce:
	default:
	}
}

// handleChatEvent routes one chat event to its pending turn by runId.
// Events for unknown runIds (cancelled or expired turns) are dropped
// silently.
func (c *Client) handleChatEvent(payload json.RawMessage) {
	doc := gjson.ParseBytes(payload)
	runID := doc.Get("runId").String()
	state := doc.Get("state").String()

	switch state {
	case chatStateDelta:
		c.mu.Lock()
		if pt, ok := c.pendingTurns[runID]; ok {
			pt.acc.WriteString(messageText(doc.Get("message")))
		}
		c.mu.Unlock()

	case chatStateFinal:
		pt := c.takeTurn(runID)
		if pt == nil {
			return
		}
		text := messageText(doc.Get("message"))
		if text == "" {
			text = pt.acc.String()
		}
		pt.ch <- turnResult{text: text}

	case chatStateError:
		pt := c.takeTurn(runID)
		if pt == nil {
			return
		}
		msg := doc.Get("errorMessage").String()
		if msg == "" {
			msg = doc.Get("error.message").String()
		}
		if msg == "" {
			msg = "The assistant reported an error."
		}
		pt.ch <- turnResult{err: types.NewUserError(types.CodeOpenClawSession, msg)}

	case chatStateAborted:
		pt := c.takeTurn(runID)
		if pt == nil {
			return
		}
		if acc := pt.acc.String(); acc != "" {
			pt.ch <- turnResult{text: acc}
		} else {
			pt.ch <- turnResult{err: types.NewUserError(types.CodeOpenClawSession, "The assistant aborted the reply before any content.")}
		}

	default:
		// Unknown chat states are ignored; a final or terminal event will
		// settle the turn, or its deadline will.
	}
}

// messageText extracts the text of a chat message payload. content is
// either a plain string or an array of typed blocks, of which only
// type=="text" blocks contribute.
func messageText(msg gjson.Result) string {
	content := msg.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var b strings.Builder
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			b.WriteString(block.Get("text").String())
		}
		return true
	})
	return b.String()
}

// ── send path ────────────────────────────────────────────────────────────────

// SendTranscript implements Session. One call is one turn: emit chat.send,
// require its ack, then wait for the chat events to settle the turn.
func (c *Client) SendTranscript(ctx context.Context, sessionKey types.SessionKey, turnID types.TurnId, text string) (types.AgentResponse, error) {
	if err := c.ensureReady(ctx); err != nil {
		if ctx.Err() != nil {
			return types.AgentResponse{}, types.NewUserError(types.CodeOpenClawTimeout, "The request was cancelled.")
		}
		return types.AgentResponse{}, &types.OperatorError{
			Code:    types.CodeOpenClawUnavailable,
			Message: "agent gateway is unreachable",
			Cause:   err,
		}
	}

	log := c.logger.With("turn_id", turnID, "session_key", sessionKey)

	runID := uuid.NewString()
	reqID := uuid.NewString()

	turnCh := c.registerTurn(turnID, sessionKey, runID)
	respCh := c.registerRequest(reqID, c.responseTimeout)

	frame := requestFrame{
		Type:   frameTypeRequest,
		ID:     reqID,
		Method: methodChatSend,
		Params: chatSendParams{
			SessionKey:     sessionKey.String(),
			Message:        text,
			IdempotencyKey: runID,
			TimeoutMs:      c.responseTimeout.Milliseconds(),
		},
	}
	if err := c.writeFrame(ctx, frame); err != nil {
		c.takeRequest(reqID)
		c.takeTurn(runID)
		return types.AgentResponse{}, &types.OperatorError{
			Code:    types.CodeOpenClawUnavailable,
			Message: "failed to send transcript",
			Cause:   err,
		}
	}

	// First the chat.send ack. A started/accepted status does not settle
	// the turn; only the later chat events do.
	select {
	case res := <-respCh:
		if res.err != nil {
			c.takeTurn(runID)
			return types.AgentResponse{}, res.err
		}
		if !res.ok {
			c.takeTurn(runID)
			msg := res.errMsg
			if msg == "" {
				msg = "The assistant rejected the request."
			}
			return types.AgentResponse{}, types.NewUserError(types.CodeOpenClawSession, msg)
		}
		log.Debug("chat.send accepted", "status", gjson.GetBytes(res.payload, "status").String(), "run_id", runID)
	case <-ctx.Done():
		c.takeRequest(reqID)
		c.takeTurn(runID)
		return types.AgentResponse{}, types.NewUserError(types.CodeOpenClawTimeout, "The request was cancelled.")
	}

	// Then the turn itself.
	select {
	case tr := <-turnCh:
		if tr.err != nil {
			return types.AgentResponse{}, tr.err
		}
		return types.AgentResponse{
			SessionKey: sessionKey,
			TurnId:     turnID,
			Text:       tr.text,
			Timestamp:  time.Now(),
		}, nil
	case <-ctx.Done():
		// Cancellation: drop the tracker so later events for this runId are
		// discarded silently.
		c.takeTurn(runID)
		return types.AgentResponse{}, types.NewUserError(types.CodeOpenClawTimeout, "The request was cancelled.")
	}
}
