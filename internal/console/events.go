package console

import (
	"encoding/json"
	"sync"
)

// Notification is a decoded daemon event. It is a closed union: the concrete
// types below are the only implementations, so consumers can type-switch
// exhaustively. Events with an unrecognized type or an undecodable payload
// surface as UnknownNotification.
type Notification interface {
	isNotification()
}

// StreamConnected signals that the event stream subscription is live.
type StreamConnected struct{}

// StreamDisconnected signals that the event stream was shut down locally.
type StreamDisconnected struct{}

// StreamError signals that the event stream failed.
type StreamError struct {
	Message string `json:"error"`
}

// ConfigLoaded signals that the daemon (re)loaded its server configuration.
type ConfigLoaded struct {
	Servers []string `json:"servers"`
}

// ConfigError signals that the daemon failed to load its configuration.
type ConfigError struct {
	Message string `json:"error"`
}

// ServerStarting signals that a managed server is being launched.
type ServerStarting struct {
	ServerID string `json:"server_id"`
}

// ServerStarted signals that a managed server process is up.
type ServerStarted struct {
	ServerID string `json:"server_id"`
	PID      int    `json:"pid"`
}

// ServerStopped signals that a managed server process exited.
type ServerStopped struct {
	ServerID string `json:"server_id"`
}

// ServerFailed signals that a managed server hit a runtime error.
type ServerFailed struct {
	ServerID string `json:"server_id"`
	Message  string `json:"error"`
}

// ServerInitialized signals that a managed server completed its handshake.
type ServerInitialized struct {
	ServerID string `json:"server_id"`
}

// ServerInitFailed signals that a managed server failed its handshake.
type ServerInitFailed struct {
	ServerID string `json:"server_id"`
	Message  string `json:"error"`
}

// CapabilitiesLoaded signals that the daemon finished discovering a server's
// tools, resources, and prompts. The counts are totals, not deltas.
type CapabilitiesLoaded struct {
	ServerID  string `json:"server_id"`
	Tools     int    `json:"tools"`
	Resources int    `json:"resources"`
	Prompts   int    `json:"prompts"`
}

// ServerLog carries a line a managed server wrote to stderr.
type ServerLog struct {
	ServerID string `json:"server_id"`
	Message  string `json:"message"`
}

// ToolExecuted signals a successful tool call on a managed server.
type ToolExecuted struct {
	ServerID string `json:"server_id"`
	Tool     string `json:"tool_name"`
}

// ToolFailed signals a failed tool call on a managed server.
type ToolFailed struct {
	ServerID string `json:"server_id"`
	Tool     string `json:"tool_name"`
	Message  string `json:"error"`
}

// ResourceRead signals a successful resource read on a managed server.
type ResourceRead struct {
	ServerID string `json:"server_id"`
	URI      string `json:"uri"`
	Length   int    `json:"length"`
}

// ResourceFailed signals a failed resource read on a managed server.
type ResourceFailed struct {
	ServerID string `json:"server_id"`
	URI      string `json:"uri"`
	Message  string `json:"error"`
}

// PromptRetrieved signals a successful prompt retrieval on a managed server.
type PromptRetrieved struct {
	ServerID string `json:"server_id"`
	Prompt   string `json:"prompt_name"`
}

// PromptFailed signals a failed prompt retrieval on a managed server.
type PromptFailed struct {
	ServerID string `json:"server_id"`
	Prompt   string `json:"prompt_name"`
	Message  string `json:"error"`
}

// Heartbeat is the daemon's periodic keepalive.
type Heartbeat struct{}

// DaemonError carries a daemon-level error not tied to one server.
type DaemonError struct {
	Message string `json:"error"`
}

// UnknownNotification preserves events this client does not understand.
type UnknownNotification struct {
	Type string
	Data json.RawMessage
}

func (StreamConnected) isNotification()     {}
func (StreamDisconnected) isNotification()  {}
func (StreamError) isNotification()         {}
func (ConfigLoaded) isNotification()        {}
func (ConfigError) isNotification()         {}
func (ServerStarting) isNotification()      {}
func (ServerStarted) isNotification()       {}
func (ServerStopped) isNotification()       {}
func (ServerFailed) isNotification()        {}
func (ServerInitialized) isNotification()   {}
func (ServerInitFailed) isNotification()    {}
func (CapabilitiesLoaded) isNotification()  {}
func (ServerLog) isNotification()           {}
func (ToolExecuted) isNotification()        {}
func (ToolFailed) isNotification()          {}
func (ResourceRead) isNotification()        {}
func (ResourceFailed) isNotification()      {}
func (PromptRetrieved) isNotification()     {}
func (PromptFailed) isNotification()        {}
func (Heartbeat) isNotification()           {}
func (DaemonError) isNotification()         {}
func (UnknownNotification) isNotification() {}

func decodePayload[T Notification](evt Event) Notification {
	var n T
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &n); err != nil {
			return UnknownNotification{Type: evt.Type, Data: evt.Data}
		}
	}
	return n
}

// decodeNotification maps an event envelope to its typed form. Payloads
// that fail to decode degrade to UnknownNotification rather than being
// dropped, so listeners still observe them.
func decodeNotification(evt Event) Notification {
	switch evt.Type {
	case EventStreamConnected:
		return StreamConnected{}
	case EventStreamDisconnected:
		return StreamDisconnected{}
	case EventStreamError:
		return decodePayload[StreamError](evt)
	case EventConfigLoaded:
		return decodePayload[ConfigLoaded](evt)
	case EventConfigError:
		return decodePayload[ConfigError](evt)
	case EventServerStarting:
		return decodePayload[ServerStarting](evt)
	case EventServerStarted:
		return decodePayload[ServerStarted](evt)
	case EventServerStopped:
		return decodePayload[ServerStopped](evt)
	case EventServerError:
		return decodePayload[ServerFailed](evt)
	case EventServerInitialized:
		return decodePayload[ServerInitialized](evt)
	case EventServerInitError:
		return decodePayload[ServerInitFailed](evt)
	case EventCapabilitiesLoaded:
		return decodePayload[CapabilitiesLoaded](evt)
	case EventServerStderr:
		return decodePayload[ServerLog](evt)
	case EventToolExecuted:
		return decodePayload[ToolExecuted](evt)
	case EventToolError:
		return decodePayload[ToolFailed](evt)
	case EventResourceRead:
		return decodePayload[ResourceRead](evt)
	case EventResourceError:
		return decodePayload[ResourceFailed](evt)
	case EventPromptRetrieved:
		return decodePayload[PromptRetrieved](evt)
	case EventPromptError:
		return decodePayload[PromptFailed](evt)
	case EventHeartbeat:
		return Heartbeat{}
	case EventError:
		return decodePayload[DaemonError](evt)
	default:
		return UnknownNotification{Type: evt.Type, Data: evt.Data}
	}
}

type eventListener struct {
	id uint64
	fn func(Event)
}

type notificationListener struct {
	id uint64
	fn func(Notification)
}

// dispatcher fans events out to registered listeners. Every event is
// delivered twice: once as the raw envelope to OnEvent listeners, then as a
// typed Notification to OnNotification listeners. Listeners run in
// registration order on the delivering goroutine; a panicking listener is
// logged and does not stop delivery to the rest.
type dispatcher struct {
	mu     sync.Mutex
	nextID uint64
	events []eventListener
	notifs []notificationListener
	logger *Logger
}

func newDispatcher(logger *Logger) *dispatcher {
	return &dispatcher{logger: logger}
}

// OnEvent registers a listener for raw event envelopes. The returned
// function removes the listener and is safe to call more than once.
func (d *dispatcher) OnEvent(fn func(Event)) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.events = append(d.events, eventListener{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, l := range d.events {
			if l.id == id {
				d.events = append(d.events[:i], d.events[i+1:]...)
				return
			}
		}
	}
}

// OnNotification registers a listener for typed notifications. The returned
// function removes the listener and is safe to call more than once.
func (d *dispatcher) OnNotification(fn func(Notification)) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.notifs = append(d.notifs, notificationListener{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, l := range d.notifs {
			if l.id == id {
				d.notifs = append(d.notifs[:i], d.notifs[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) dispatch(evt Event) {
	d.mu.Lock()
	events := make([]eventListener, len(d.events))
	copy(events, d.events)
	notifs := make([]notificationListener, len(d.notifs))
	copy(notifs, d.notifs)
	d.mu.Unlock()

	for _, l := range events {
		d.invoke(func() { l.fn(evt) })
	}
	if len(notifs) == 0 {
		return
	}
	n := decodeNotification(evt)
	for _, l := range notifs {
		d.invoke(func() { l.fn(n) })
	}
}

func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked: %v", r)
		}
	}()
	fn()
}
