package console

import "time"

// Event types published by the daemon on /events.
const (
	EventConfigLoaded        = "config_loaded"
	EventConfigError         = "config_error"
	EventServerStarting      = "server_starting"
	EventServerStarted       = "server_started"
	EventServerStopped       = "server_stopped"
	EventServerError         = "server_error"
	EventServerInitialized   = "server_initialized"
	EventServerInitError     = "server_init_error"
	EventCapabilitiesLoaded  = "server_capabilities_loaded"
	EventServerStderr        = "server_stderr"
	EventToolExecuted        = "tool_executed"
	EventToolError           = "tool_error"
	EventResourceRead        = "resource_read"
	EventResourceError       = "resource_error"
	EventPromptRetrieved     = "prompt_retrieved"
	EventPromptError         = "prompt_error"
	EventHeartbeat           = "heartbeat"
	EventError               = "error"
)

// Event types synthesized on the client for stream lifecycle changes.
const (
	EventStreamConnected    = "stream_connected"
	EventStreamError        = "stream_error"
	EventStreamDisconnected = "stream_disconnected"
)

// Actions accepted by POST /servers/control.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// Run states reported in ServerStatus.Status.
const (
	StatusStopped  = "stopped"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusError    = "error"
)

// Defaults applied by NewClient.
const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second

	defaultUserAgent = "mcp-console"

	// maxEventSize bounds a single SSE frame read from /events.
	maxEventSize = 1 << 20
)

// Defaults applied by NewManager.
const (
	DefaultEventLogSize         = 500
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultInitAttempts         = 3
	DefaultInitRetryDelay       = 2 * time.Second
)

// Delays before the capability refresh that follows a control operation or
// a capability-changing event. Started processes need a moment to finish
// their own initialization before their tool lists are worth fetching.
const (
	startRefreshDelay   = 2 * time.Second
	stopRefreshDelay    = 1 * time.Second
	restartRefreshDelay = 3 * time.Second
	eventRefreshDelay   = 750 * time.Millisecond
)
