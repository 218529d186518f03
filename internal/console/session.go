package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-console/internal/backoff"
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ManagerConfig configures a Manager. Client is required; everything else
// has defaults.
type ManagerConfig struct {
	Client *Client
	Store  *Store
	Logger *Logger

	// Channel is an optional live side-channel to the daemon, closed on
	// Destroy.
	Channel *Channel

	// EventLogSize bounds the in-memory event log.
	EventLogSize int

	// ReconnectInterval is the base of the stream reconnect ladder: the
	// n-th reconnect waits ReconnectInterval*n.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts is the number of consecutive reconnect
	// failures tolerated before the manager gives up and fails.
	MaxReconnectAttempts int

	// InitAttempts is the total number of initialization attempts.
	InitAttempts int

	// InitRetryDelay is the base of the initialization retry ladder.
	InitRetryDelay time.Duration
}

// Manager drives a session against the daemon: it owns the capability
// snapshot, keeps it fresh from the event stream, and exposes the fleet
// operations. Create one per scope with NewManager and release it with
// Destroy.
type Manager struct {
	client  *Client
	store   *Store
	logger  *Logger
	channel *Channel

	eventLogSize         int
	reconnectInterval    time.Duration
	maxReconnectAttempts int
	initAttempts         int
	initRetryDelay       time.Duration

	// ctx spans the manager's lifetime: the event stream and background
	// refreshes run under it, so Destroy cuts them all off.
	ctx    context.Context
	cancel context.CancelFunc

	unsubEvents func()
	unsubNotifs func()

	mu                sync.Mutex
	state             State
	initDone          chan struct{}
	lastErr           error
	events            []Event
	timers            map[*time.Timer]struct{}
	refreshTimer      *time.Timer
	reconnectTimer    *time.Timer
	reconnectAttempts int
	refreshInFlight   bool
	refreshDirty      bool
}

// NewManager creates a Manager in the Uninitialized state. It subscribes
// to the client's events immediately, so notifications arriving before
// Initialize are already logged.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("manager requires a client")
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = DefaultEventLogSize
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = DefaultInitAttempts
	}
	if cfg.InitRetryDelay <= 0 {
		cfg.InitRetryDelay = DefaultInitRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		client:               cfg.Client,
		store:                cfg.Store,
		logger:               cfg.Logger,
		channel:              cfg.Channel,
		eventLogSize:         cfg.EventLogSize,
		reconnectInterval:    cfg.ReconnectInterval,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		initAttempts:         cfg.InitAttempts,
		initRetryDelay:       cfg.InitRetryDelay,
		ctx:                  ctx,
		cancel:               cancel,
		timers:               map[*time.Timer]struct{}{},
	}
	m.unsubEvents = cfg.Client.OnEvent(m.recordEvent)
	m.unsubNotifs = cfg.Client.OnNotification(m.handleNotification)
	return m, nil
}

// Store exposes the capability snapshot for read access.
func (m *Manager) Store() *Store {
	return m.store
}

// Client exposes the underlying transport, mainly so presentation layers
// can subscribe to its events.
func (m *Manager) Client() *Client {
	return m.client
}

// State returns the manager's lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent session-level error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ClearError discards the recorded session-level error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = nil
}

// Initialize brings the manager to Ready: it pulls the server
// configuration and statuses, loads capabilities, and opens the event
// stream. Failures are retried with a growing delay; the final attempt's
// error is recorded and returned, with the state left at Failed. Calling
// Initialize while one is already running waits for that run and returns
// its result; calling while Ready is a no-op; calling after Failed starts
// over.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateDestroyed:
		m.mu.Unlock()
		return ErrDestroyed
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		done := m.initDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateDestroyed {
			return ErrDestroyed
		}
		return m.lastErr
	}
	m.state = StateInitializing
	m.initDone = make(chan struct{})
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.InfoVerbose("initializing session")
	strategy := backoff.Linear(m.initRetryDelay, m.initAttempts)
	err := backoff.RetryWithCallback(ctx, strategy,
		func() error {
			return m.initOnce(ctx)
		},
		func(attempt int, err error, delay time.Duration) {
			m.logger.Warning("initialization failed (attempt %d/%d), retrying in %s: %v",
				attempt, strategy.Attempts(), delay, err)
		})

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(m.initDone)
	if m.state == StateDestroyed {
		return ErrDestroyed
	}
	if err != nil {
		m.state = StateFailed
		m.lastErr = err
		m.logger.Error("initialization failed: %v", err)
		return err
	}
	m.state = StateReady
	m.logger.Success("session ready: %d servers configured", len(m.store.ServerIDs()))
	return nil
}

func (m *Manager) initOnce(ctx context.Context) error {
	var (
		servers  map[string]ServerConfig
		statuses map[string]ServerStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg, err := m.client.Config(gctx)
		if err != nil {
			return fmt.Errorf("fetching config: %w", err)
		}
		servers = cfg
		return nil
	})
	g.Go(func() error {
		st, err := m.client.Status(gctx)
		if err != nil {
			return fmt.Errorf("fetching status: %w", err)
		}
		statuses = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	m.store.SetServers(servers)
	m.store.SetStatuses(statuses)

	m.RefreshCapabilities(ctx)

	// The stream outlives this call, so it runs under the manager's
	// lifetime context rather than the initialization one.
	if err := m.client.StartEventStream(m.ctx); err != nil {
		return fmt.Errorf("starting event stream: %w", err)
	}
	return nil
}

// RefreshCapabilities reloads tools, resources, and prompts. The three
// categories are fetched concurrently and resolve independently: a failed
// category is logged and replaced by an empty set, without failing the
// others. At most one refresh runs at a time; requests arriving while one
// is in flight are coalesced into a single trailing re-run, so snapshot
// replacements never interleave.
func (m *Manager) RefreshCapabilities(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	if m.refreshInFlight {
		m.refreshDirty = true
		m.mu.Unlock()
		return
	}
	m.refreshInFlight = true
	m.mu.Unlock()

	for {
		m.loadCapabilities(ctx)
		m.mu.Lock()
		if !m.refreshDirty || m.state == StateDestroyed {
			m.refreshInFlight = false
			m.mu.Unlock()
			return
		}
		m.refreshDirty = false
		m.mu.Unlock()
	}
}

func (m *Manager) loadCapabilities(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		tools, err := m.client.Tools(ctx)
		if err != nil {
			m.logger.Warning("loading tools: %v", err)
			tools = map[string][]Tool{}
		}
		m.store.SetTools(tools)
	}()
	go func() {
		defer wg.Done()
		resources, err := m.client.Resources(ctx)
		if err != nil {
			m.logger.Warning("loading resources: %v", err)
			resources = map[string][]Resource{}
		}
		m.store.SetResources(resources)
	}()
	go func() {
		defer wg.Done()
		prompts, err := m.client.Prompts(ctx)
		if err != nil {
			m.logger.Warning("loading prompts: %v", err)
			prompts = map[string][]Prompt{}
		}
		m.store.SetPrompts(prompts)
	}()
	wg.Wait()
}

// RefreshStatus re-pulls the runtime status of all servers.
func (m *Manager) RefreshStatus(ctx context.Context) error {
	statuses, err := m.client.Status(ctx)
	if err != nil {
		return err
	}
	m.store.SetStatuses(statuses)
	return nil
}

// StartServer asks the daemon to start a server. On success a capability
// and status refresh is scheduled once the server has had time to come up.
// Failures are recorded against the server and reported as false.
func (m *Manager) StartServer(ctx context.Context, serverID string) bool {
	return m.controlServer(ctx, serverID, ActionStart, startRefreshDelay)
}

// StopServer asks the daemon to stop a server.
func (m *Manager) StopServer(ctx context.Context, serverID string) bool {
	return m.controlServer(ctx, serverID, ActionStop, stopRefreshDelay)
}

// RestartServer asks the daemon to restart a server.
func (m *Manager) RestartServer(ctx context.Context, serverID string) bool {
	return m.controlServer(ctx, serverID, ActionRestart, restartRefreshDelay)
}

func (m *Manager) controlServer(ctx context.Context, serverID, action string, refreshAfter time.Duration) bool {
	if m.State() == StateDestroyed {
		return false
	}
	res, err := m.client.ControlServer(ctx, serverID, action)
	if err != nil {
		m.recordServerError(serverID, fmt.Errorf("failed to %s server %s: %w", action, serverID, err))
		return false
	}
	if !res.Success {
		m.recordServerError(serverID, fmt.Errorf("failed to %s server %s", action, serverID))
		return false
	}
	m.logger.Success("server %s: %s requested", serverID, action)
	m.schedule(refreshAfter, func() {
		m.refreshAll(m.ctx)
	})
	return true
}

// recordServerError logs a control failure and records it on the server's
// status entry, mirroring the daemon's last_error field.
func (m *Manager) recordServerError(serverID string, err error) {
	m.logger.Error("%v", err)
	st, ok := m.store.StatusFor(serverID)
	if !ok {
		st = ServerStatus{ServerID: serverID, Status: StatusError}
	}
	st.LastError = err.Error()
	m.store.SetStatus(serverID, st)
}

func (m *Manager) refreshAll(ctx context.Context) {
	if err := m.RefreshStatus(ctx); err != nil {
		m.logger.Warning("refreshing status: %v", err)
	}
	m.RefreshCapabilities(ctx)
}

// ExecuteToolOn executes a tool on a specific server. The tool must be
// present in the snapshot; its required schema properties are validated
// before any request is sent.
func (m *Manager) ExecuteToolOn(ctx context.Context, serverID, toolName string, args map[string]any) (json.RawMessage, error) {
	if m.State() == StateDestroyed {
		return nil, ErrDestroyed
	}
	tool, ok := m.store.ToolOn(serverID, toolName)
	if !ok {
		return nil, &NotFoundError{Kind: "tool", Name: toolName}
	}
	var missing []string
	for _, name := range tool.InputSchema.Required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Subject: "tool " + toolName, Missing: missing}
	}
	return m.client.CallTool(ctx, serverID, toolName, args)
}

// ExecuteToolByName executes a tool identified only by name. The name must
// resolve to exactly one server: unknown names yield a NotFoundError,
// names exposed by several servers an AmbiguousToolError.
func (m *Manager) ExecuteToolByName(ctx context.Context, toolName string, args map[string]any) (json.RawMessage, error) {
	if m.State() == StateDestroyed {
		return nil, ErrDestroyed
	}
	serverID, err := m.store.ToolOwner(toolName)
	if err != nil {
		return nil, err
	}
	return m.ExecuteToolOn(ctx, serverID, toolName, args)
}

// ReadResource reads a resource's content, memoized per (server, URI): a
// repeat read returns the cached content without a network call. The memo
// is invalidated by the next capability refresh.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (string, error) {
	if m.State() == StateDestroyed {
		return "", ErrDestroyed
	}
	if content, ok := m.store.ResourceContent(serverID, uri); ok {
		m.logger.Debug("resource %s on %s served from cache", uri, serverID)
		return content, nil
	}
	content, err := m.client.ReadResource(ctx, serverID, uri)
	if err != nil {
		return "", err
	}
	m.store.SetResourceContent(serverID, uri, content)
	return content, nil
}

// ExecutePrompt retrieves a rendered prompt. Argument values are
// stringified before sending; required arguments are validated against the
// snapshot. Argument-less prompts are memoized until the next capability
// refresh.
func (m *Manager) ExecutePrompt(ctx context.Context, serverID, promptName string, args map[string]any) (json.RawMessage, error) {
	if m.State() == StateDestroyed {
		return nil, ErrDestroyed
	}
	prompt, ok := m.store.PromptOn(serverID, promptName)
	if !ok {
		return nil, &NotFoundError{Kind: "prompt", Name: promptName}
	}

	strArgs := make(map[string]string, len(args))
	for k, v := range args {
		strArgs[k] = stringifyArg(v)
	}
	var missing []string
	for _, a := range prompt.Arguments {
		if !a.Required {
			continue
		}
		if _, ok := strArgs[a.Name]; !ok {
			missing = append(missing, a.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Subject: "prompt " + promptName, Missing: missing}
	}

	if len(strArgs) == 0 {
		if res, ok := m.store.PromptResult(serverID, promptName); ok {
			m.logger.Debug("prompt %s on %s served from cache", promptName, serverID)
			return res, nil
		}
	}
	res, err := m.client.GetPrompt(ctx, serverID, promptName, strArgs)
	if err != nil {
		return nil, err
	}
	if len(strArgs) == 0 {
		m.store.SetPromptResult(serverID, promptName, res)
	}
	return res, nil
}

func stringifyArg(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// SearchTools finds tools matching the query across all servers.
func (m *Manager) SearchTools(query string) []Tool {
	return m.store.SearchTools(query)
}

// SearchResources finds resources matching the query across all servers.
func (m *Manager) SearchResources(query string) []Resource {
	return m.store.SearchResources(query)
}

// Events returns a snapshot of the bounded event log, oldest first.
// Heartbeats are not logged.
func (m *Manager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// AutoStart asks the daemon to launch every auto-start server and returns
// the IDs it launched. The follow-up refreshes ride on the server_started
// events.
func (m *Manager) AutoStart(ctx context.Context) ([]string, error) {
	if m.State() == StateDestroyed {
		return nil, ErrDestroyed
	}
	res, err := m.client.AutoStart(ctx)
	if err != nil {
		return nil, err
	}
	return res.Servers, nil
}

// ReloadConfig asks the daemon to re-read its configuration file and
// re-pulls the configuration and status snapshots.
func (m *Manager) ReloadConfig(ctx context.Context) (string, error) {
	if m.State() == StateDestroyed {
		return "", ErrDestroyed
	}
	msg, err := m.client.ReloadConfig(ctx)
	if err != nil {
		return "", err
	}
	if servers, err := m.client.Config(ctx); err == nil {
		m.store.SetServers(servers)
	} else {
		m.logger.Warning("refreshing config: %v", err)
	}
	if err := m.RefreshStatus(ctx); err != nil {
		m.logger.Warning("refreshing status: %v", err)
	}
	return msg, nil
}

// Health fetches the daemon's health summary.
func (m *Manager) Health(ctx context.Context) (Health, error) {
	return m.client.Health(ctx)
}

// Reconnect retries the connection by hand: it resets the reconnect
// counter, cancels any pending automatic attempt, and either re-opens the
// event stream or, if the session never initialized, runs Initialize
// again.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.reconnectAttempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		delete(m.timers, m.reconnectTimer)
		m.reconnectTimer = nil
	}
	state := m.state
	m.mu.Unlock()

	if state == StateUninitialized || state == StateFailed {
		m.mu.Lock()
		if m.state == StateFailed {
			m.state = StateUninitialized
		}
		m.mu.Unlock()
		return m.Initialize(ctx)
	}

	m.logger.Info("reconnecting event stream")
	if err := m.client.StartEventStream(m.ctx); err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	return nil
}

// Destroy tears the manager down: pending timers are cancelled, the event
// stream is stopped, listeners are unsubscribed, the side-channel is
// closed, and the snapshot is cleared. Destroy is idempotent and the state
// is terminal.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	m.state = StateDestroyed
	timers := m.timers
	m.timers = map[*time.Timer]struct{}{}
	m.refreshTimer = nil
	m.reconnectTimer = nil
	m.mu.Unlock()

	for t := range timers {
		t.Stop()
	}
	m.cancel()
	m.client.StopEventStream()
	m.unsubNotifs()
	m.unsubEvents()
	if m.channel != nil {
		m.channel.Close()
	}
	m.store.Clear()
	m.logger.InfoVerbose("session destroyed")
}

// schedule runs fn after d unless the manager is destroyed first. The
// timer is tracked so Destroy can cancel it.
func (m *Manager) schedule(d time.Duration, fn func()) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, t)
		destroyed := m.state == StateDestroyed
		m.mu.Unlock()
		if destroyed {
			return
		}
		fn()
	})
	m.timers[t] = struct{}{}
	return t
}

// recordEvent appends a delivered event to the bounded log.
func (m *Manager) recordEvent(evt Event) {
	if evt.Type == EventHeartbeat {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	if excess := len(m.events) - m.eventLogSize; excess > 0 {
		m.events = append(m.events[:0], m.events[excess:]...)
	}
}

// handleNotification reacts to daemon pushes: capability-changing events
// schedule a refresh, stream health drives the reconnect ladder.
func (m *Manager) handleNotification(n Notification) {
	switch n := n.(type) {
	case StreamConnected:
		m.mu.Lock()
		m.reconnectAttempts = 0
		m.mu.Unlock()
	case StreamError:
		m.scheduleReconnect()
	case ServerStarted:
		m.logger.InfoVerbose("server %s started (pid %d)", n.ServerID, n.PID)
		m.scheduleEventRefresh()
	case ServerStopped:
		m.logger.InfoVerbose("server %s stopped", n.ServerID)
		m.scheduleEventRefresh()
	case CapabilitiesLoaded:
		m.logger.InfoVerbose("server %s capabilities: %d tools, %d resources, %d prompts",
			n.ServerID, n.Tools, n.Resources, n.Prompts)
		m.scheduleEventRefresh()
	}
}

// scheduleEventRefresh schedules one combined refresh shortly after a
// capability-changing event. Bursts collapse onto the pending timer.
func (m *Manager) scheduleEventRefresh() {
	m.mu.Lock()
	pending := m.refreshTimer != nil
	m.mu.Unlock()
	if pending {
		return
	}
	t := m.schedule(eventRefreshDelay, func() {
		m.mu.Lock()
		m.refreshTimer = nil
		m.mu.Unlock()
		m.refreshAll(m.ctx)
	})
	if t == nil {
		return
	}
	m.mu.Lock()
	m.refreshTimer = t
	m.mu.Unlock()
}

// scheduleReconnect arms the next automatic reconnect attempt. The wait
// grows linearly with the attempt number; once the ladder is exhausted the
// manager records a persistent error and fails.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.state != StateReady || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	if attempt > m.maxReconnectAttempts {
		err := fmt.Errorf("event stream lost after %d reconnect attempts", m.maxReconnectAttempts)
		m.lastErr = err
		m.state = StateFailed
		m.mu.Unlock()
		m.logger.Error("%v; use reconnect to retry", err)
		return
	}
	delay := m.reconnectInterval * time.Duration(attempt)
	m.mu.Unlock()

	m.logger.Warning("event stream lost, reconnecting in %s (attempt %d/%d)",
		delay, attempt, m.maxReconnectAttempts)
	t := m.schedule(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		if err := m.client.StartEventStream(m.ctx); err != nil {
			m.logger.Error("reconnect failed: %v", err)
			m.scheduleReconnect()
		}
	})
	if t == nil {
		return
	}
	m.mu.Lock()
	m.reconnectTimer = t
	m.mu.Unlock()
}
