package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage is the envelope exchanged on the daemon's /ws endpoint. Fields
// are populated per message type; unused ones stay empty.
type wsMessage struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	ServerID  string          `json:"server_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type wsResult struct {
	msg wsMessage
	err error
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// BaseURL is the daemon's HTTP root; the websocket URL is derived
	// from it.
	BaseURL string

	// AuthToken, when non-empty, is sent as a bearer token on the
	// handshake.
	AuthToken string

	Logger *Logger
}

// Channel is a live bidirectional connection to the daemon's /ws endpoint.
// It serves low-latency probes next to the REST transport: ping, status
// snapshots, and tool calls correlated by request ID. One reader goroutine
// owns the connection; requests from any goroutine are matched to their
// responses through a pending-call table.
type Channel struct {
	wsURL  string
	header http.Header
	logger *Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string][]chan wsResult

	writeMu sync.Mutex
}

// NewChannel creates a disconnected Channel; call Connect before use.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q in base URL", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	header.Set("User-Agent", defaultUserAgent)

	return &Channel{
		wsURL:   u.String(),
		header:  header,
		logger:  cfg.Logger,
		pending: map[string][]chan wsResult{},
	}, nil
}

// Connect dials the daemon. Connecting while connected is a no-op.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, res, err := dialer.DialContext(ctx, ch.wsURL, ch.header)
	if err != nil {
		if res != nil {
			return &ConnectionError{Op: "ws dial", Err: fmt.Errorf("status %d: %w", res.StatusCode, err)}
		}
		return &ConnectionError{Op: "ws dial", Err: err}
	}

	ch.conn = conn
	ch.connected = true
	go ch.readLoop(conn)
	ch.logger.InfoVerbose("ws channel connected")
	return nil
}

// Connected reports whether the channel currently holds a live connection.
func (ch *Channel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

// Close tears the connection down. Pending calls fail with a connection
// error. Close is idempotent.
func (ch *Channel) Close() {
	ch.mu.Lock()
	conn := ch.conn
	ch.conn = nil
	ch.connected = false
	pending := ch.pending
	ch.pending = map[string][]chan wsResult{}
	ch.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, waiters := range pending {
		for _, w := range waiters {
			w <- wsResult{err: &ConnectionError{Op: "ws channel", Err: fmt.Errorf("channel closed")}}
		}
	}
}

// Ping measures the round-trip time to the daemon.
func (ch *Channel) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := ch.roundTrip(ctx, "pong", wsMessage{Type: "ping"})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Status fetches a status snapshot over the channel, keyed by server ID.
func (ch *Channel) Status(ctx context.Context) (map[string]ServerStatus, error) {
	res, err := ch.roundTrip(ctx, "status_update", wsMessage{Type: "get_status"})
	if err != nil {
		return nil, err
	}
	statuses := map[string]ServerStatus{}
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &statuses); err != nil {
			return nil, fmt.Errorf("decoding status_update: %w", err)
		}
	}
	for id, st := range statuses {
		if st.ServerID == "" {
			st.ServerID = id
			statuses[id] = st
		}
	}
	return statuses, nil
}

// CallTool executes a tool over the channel. The request carries a fresh
// request ID; the matching tool_result is returned regardless of what else
// arrives in between.
func (ch *Channel) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	requestID := uuid.NewString()
	res, err := ch.roundTrip(ctx, "tool_result:"+requestID, wsMessage{
		Type:      "call_tool",
		RequestID: requestID,
		ServerID:  serverID,
		ToolName:  toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &APIError{StatusCode: http.StatusInternalServerError, Message: res.Error}
	}
	return res.Result, nil
}

// roundTrip sends one message and waits for the response selected by key.
func (ch *Channel) roundTrip(ctx context.Context, key string, msg wsMessage) (wsMessage, error) {
	ch.mu.Lock()
	if !ch.connected || ch.conn == nil {
		ch.mu.Unlock()
		return wsMessage{}, &ConnectionError{Op: "ws " + msg.Type, Err: fmt.Errorf("not connected")}
	}
	conn := ch.conn
	waiter := make(chan wsResult, 1)
	ch.pending[key] = append(ch.pending[key], waiter)
	ch.mu.Unlock()

	ch.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := conn.WriteJSON(msg)
	ch.writeMu.Unlock()
	if err != nil {
		ch.dropWaiter(key, waiter)
		return wsMessage{}, &ConnectionError{Op: "ws " + msg.Type, Err: err}
	}

	select {
	case res := <-waiter:
		return res.msg, res.err
	case <-ctx.Done():
		ch.dropWaiter(key, waiter)
		return wsMessage{}, ctx.Err()
	}
}

func (ch *Channel) dropWaiter(key string, waiter chan wsResult) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	waiters := ch.pending[key]
	for i, w := range waiters {
		if w == waiter {
			ch.pending[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(ch.pending[key]) == 0 {
		delete(ch.pending, key)
	}
}

func (ch *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.logger.WarningVerbose("ws channel read: %v", err)
			}
			ch.fail(conn, err)
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.logger.Warning("dropping malformed ws message: %v", err)
			continue
		}
		ch.deliver(msg)
	}
}

// deliver hands a response to the oldest waiter for its correlation key.
// The daemon answers a connection's requests in order, so FIFO matching is
// exact for the unkeyed message types.
func (ch *Channel) deliver(msg wsMessage) {
	key := msg.Type
	if msg.Type == "tool_result" {
		key = "tool_result:" + msg.RequestID
	}

	ch.mu.Lock()
	waiters := ch.pending[key]
	if len(waiters) == 0 {
		ch.mu.Unlock()
		ch.logger.Debug("ws channel: unexpected %s message", msg.Type)
		return
	}
	waiter := waiters[0]
	if len(waiters) == 1 {
		delete(ch.pending, key)
	} else {
		ch.pending[key] = waiters[1:]
	}
	ch.mu.Unlock()

	waiter <- wsResult{msg: msg}
}

// fail marks the channel disconnected and fails every pending call. A
// reader whose connection was already replaced leaves the new one alone.
func (ch *Channel) fail(conn *websocket.Conn, err error) {
	ch.mu.Lock()
	if ch.conn != conn {
		ch.mu.Unlock()
		return
	}
	ch.conn = nil
	ch.connected = false
	pending := ch.pending
	ch.pending = map[string][]chan wsResult{}
	ch.mu.Unlock()

	conn.Close()
	for _, waiters := range pending {
		for _, w := range waiters {
			w <- wsResult{err: &ConnectionError{Op: "ws channel", Err: err}}
		}
	}
}
