package console

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Test timeout constants
const (
	testTimeoutNormal = 1 * time.Second
	testTimeoutLong   = 5 * time.Second
	testPollInterval  = 5 * time.Millisecond
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(testPollInterval)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// MockDaemon provides a mock manager daemon for testing: the full REST
// surface plus an SSE /events publisher, with failure injection and
// per-route call counters.
type MockDaemon struct {
	*httptest.Server
	t *testing.T

	mu             sync.Mutex
	configs        map[string]ServerConfig
	statuses       map[string]ServerStatus
	tools          map[string][]Tool
	resources      map[string][]Resource
	prompts        map[string][]Prompt
	resourceBodies map[string]string
	promptBodies   map[string]string
	controlSuccess bool
	eventsStatus   int

	failures map[string]int
	delays   map[string]time.Duration
	calls    map[string]int
	requests []*http.Request

	lastToolCall    toolCallRequest
	lastPromptGet   promptGetRequest
	lastControl     controlRequest
	lastResourceReq resourceReadRequest

	subscribers map[chan string]struct{}
}

// NewMockDaemon creates a mock daemon with no servers configured.
func NewMockDaemon(t *testing.T) *MockDaemon {
	t.Helper()

	md := &MockDaemon{
		t:              t,
		configs:        map[string]ServerConfig{},
		statuses:       map[string]ServerStatus{},
		tools:          map[string][]Tool{},
		resources:      map[string][]Resource{},
		prompts:        map[string][]Prompt{},
		resourceBodies: map[string]string{},
		promptBodies:   map[string]string{},
		controlSuccess: true,
		eventsStatus:   http.StatusOK,
		failures:       map[string]int{},
		delays:         map[string]time.Duration{},
		calls:          map[string]int{},
		subscribers:    map[chan string]struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", md.handleHealth)
	mux.HandleFunc("/config", md.handleConfig)
	mux.HandleFunc("/config/reload", md.handleReload)
	mux.HandleFunc("/status", md.handleStatus)
	mux.HandleFunc("/status/", md.handleServerStatus)
	mux.HandleFunc("/servers/control", md.handleControl)
	mux.HandleFunc("/auto-start", md.handleAutoStart)
	mux.HandleFunc("/tools", md.handleTools)
	mux.HandleFunc("/tools/call", md.handleToolCall)
	mux.HandleFunc("/tools/", md.handleServerTools)
	mux.HandleFunc("/resources", md.handleResources)
	mux.HandleFunc("/resources/read", md.handleResourceRead)
	mux.HandleFunc("/resources/", md.handleServerResources)
	mux.HandleFunc("/prompts", md.handlePrompts)
	mux.HandleFunc("/prompts/get", md.handlePromptGet)
	mux.HandleFunc("/prompts/", md.handleServerPrompts)
	mux.HandleFunc("/events", md.handleEvents)

	md.Server = httptest.NewServer(mux)
	t.Cleanup(md.Close)
	return md
}

// AddServer registers a server with the given config and status.
func (md *MockDaemon) AddServer(id string, cfg ServerConfig, st ServerStatus) {
	md.mu.Lock()
	defer md.mu.Unlock()
	st.ServerID = id
	md.configs[id] = cfg
	md.statuses[id] = st
}

// SetTools installs the tool list reported for a server.
func (md *MockDaemon) SetTools(id string, tools []Tool) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.tools[id] = tools
}

// SetResources installs the resource list reported for a server.
func (md *MockDaemon) SetResources(id string, resources []Resource) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.resources[id] = resources
}

// SetPrompts installs the prompt list reported for a server.
func (md *MockDaemon) SetPrompts(id string, prompts []Prompt) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.prompts[id] = prompts
}

// SetResourceBody installs the content returned for a resource read.
func (md *MockDaemon) SetResourceBody(id, uri, content string) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.resourceBodies[memoKey(id, uri)] = content
}

// SetPromptBody installs the result returned for a prompt retrieval. body
// must be valid JSON.
func (md *MockDaemon) SetPromptBody(id, name, body string) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.promptBodies[memoKey(id, name)] = body
}

// SetControlSuccess picks the success flag reported by /servers/control.
func (md *MockDaemon) SetControlSuccess(success bool) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.controlSuccess = success
}

// SetEventsStatus makes /events answer with the given status instead of
// opening a stream. http.StatusOK restores normal behavior.
func (md *MockDaemon) SetEventsStatus(code int) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.eventsStatus = code
}

// SetDelay makes every request to path sleep for d before answering.
func (md *MockDaemon) SetDelay(path string, d time.Duration) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.delays[path] = d
}

// FailNext makes the next n requests to path fail with a 500 carrying a
// detail message.
func (md *MockDaemon) FailNext(path string, n int) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.failures[path] = n
}

// Count returns how many requests path has received, failures included.
func (md *MockDaemon) Count(path string) int {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.calls[path]
}

// LastRequest returns the most recent request seen on any route.
func (md *MockDaemon) LastRequest() *http.Request {
	md.mu.Lock()
	defer md.mu.Unlock()
	if len(md.requests) == 0 {
		return nil
	}
	return md.requests[len(md.requests)-1]
}

// LastToolCall returns the body of the most recent /tools/call request.
func (md *MockDaemon) LastToolCall() toolCallRequest {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.lastToolCall
}

// LastPromptGet returns the body of the most recent /prompts/get request.
func (md *MockDaemon) LastPromptGet() promptGetRequest {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.lastPromptGet
}

// LastControl returns the body of the most recent /servers/control request.
func (md *MockDaemon) LastControl() controlRequest {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.lastControl
}

// Publish delivers an event to every /events subscriber.
func (md *MockDaemon) Publish(eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		md.t.Fatalf("marshaling event payload: %v", err)
	}
	evt := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      eventType,
		Data:      payload,
	}
	frame, err := json.Marshal(evt)
	if err != nil {
		md.t.Fatalf("marshaling event: %v", err)
	}
	md.PublishRaw(string(frame))
}

// PublishRaw delivers an arbitrary SSE data payload, malformed ones
// included.
func (md *MockDaemon) PublishRaw(data string) {
	md.mu.Lock()
	defer md.mu.Unlock()
	for sub := range md.subscribers {
		select {
		case sub <- data:
		default:
		}
	}
}

// SubscriberCount reports how many /events streams are currently open.
func (md *MockDaemon) SubscriberCount() int {
	md.mu.Lock()
	defer md.mu.Unlock()
	return len(md.subscribers)
}

// track records the request and applies any injected failure. It reports
// whether the handler should proceed.
func (md *MockDaemon) track(w http.ResponseWriter, r *http.Request) bool {
	md.mu.Lock()
	md.calls[r.URL.Path]++
	md.requests = append(md.requests, r)
	delay := md.delays[r.URL.Path]
	remaining := md.failures[r.URL.Path]
	if remaining > 0 {
		md.failures[r.URL.Path] = remaining - 1
	}
	md.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if remaining > 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": "injected failure on " + r.URL.Path,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (md *MockDaemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, Health{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "test",
	})
}

func (md *MockDaemon) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	servers := make(map[string]ServerConfig, len(md.configs))
	for id, cfg := range md.configs {
		servers[id] = cfg
	}
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, serversEnvelope[ServerConfig]{Servers: servers})
}

func (md *MockDaemon) handleReload(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "configuration reloaded"})
}

func (md *MockDaemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	servers := make(map[string]ServerStatus, len(md.statuses))
	for id, st := range md.statuses {
		servers[id] = st
	}
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, serversEnvelope[ServerStatus]{Servers: servers})
}

func (md *MockDaemon) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/status/")
	md.mu.Lock()
	st, ok := md.statuses[id]
	md.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": fmt.Sprintf("server not found: %s", id)})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (md *MockDaemon) handleControl(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request"})
		return
	}
	md.mu.Lock()
	md.lastControl = req
	success := md.controlSuccess
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, ControlResult{Success: success, Action: req.Action})
}

func (md *MockDaemon) handleAutoStart(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	var started []string
	for id, cfg := range md.configs {
		if cfg.AutoStart {
			started = append(started, id)
		}
	}
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, AutoStartResult{Message: "auto-start complete", Servers: started})
}

func (md *MockDaemon) handleTools(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	out := make(map[string][]Tool, len(md.tools))
	for id, list := range md.tools {
		out[id] = list
	}
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (md *MockDaemon) handleServerTools(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/tools/")
	md.mu.Lock()
	list := md.tools[id]
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (md *MockDaemon) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request"})
		return
	}
	md.mu.Lock()
	md.lastToolCall = req
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  map[string]string{"tool": req.ToolName, "server": req.ServerID},
	})
}

func (md *MockDaemon) handleResources(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	out := make(map[string][]Resource, len(md.resources))
	for id, list := range md.resources {
		out[id] = list
	}
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (md *MockDaemon) handleServerResources(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/resources/")
	md.mu.Lock()
	list := md.resources[id]
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (md *MockDaemon) handleResourceRead(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	var req resourceReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request"})
		return
	}
	md.mu.Lock()
	md.lastResourceReq = req
	content, ok := md.resourceBodies[memoKey(req.ServerID, req.URI)]
	md.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": fmt.Sprintf("resource not found: %s", req.URI)})
		return
	}
	writeJSON(w, http.StatusOK, resourceReadResponse{Success: true, Content: content, URI: req.URI})
}

func (md *MockDaemon) handlePrompts(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	out := make(map[string][]Prompt, len(md.prompts))
	for id, list := range md.prompts {
		out[id] = list
	}
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (md *MockDaemon) handleServerPrompts(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/prompts/")
	md.mu.Lock()
	list := md.prompts[id]
	md.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (md *MockDaemon) handlePromptGet(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	var req promptGetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request"})
		return
	}
	md.mu.Lock()
	md.lastPromptGet = req
	body, ok := md.promptBodies[memoKey(req.ServerID, req.PromptName)]
	md.mu.Unlock()
	if !ok {
		body = `{"messages":[]}`
	}
	writeJSON(w, http.StatusOK, promptGetResponse{Success: true, Result: json.RawMessage(body)})
}

func (md *MockDaemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !md.track(w, r) {
		return
	}
	md.mu.Lock()
	status := md.eventsStatus
	md.mu.Unlock()
	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"detail": "events unavailable"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		md.t.Error("response writer does not support flushing")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := make(chan string, 16)
	md.mu.Lock()
	md.subscribers[sub] = struct{}{}
	md.mu.Unlock()
	defer func() {
		md.mu.Lock()
		delete(md.subscribers, sub)
		md.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-sub:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// newTestClient creates a Client against the mock daemon with fast retries.
func newTestClient(t *testing.T, md *MockDaemon) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		BaseURL:        md.URL,
		RequestTimeout: testTimeoutNormal,
		RetryAttempts:  DefaultRetryAttempts,
		RetryDelay:     time.Millisecond,
	})
}

// newTestManager creates an initialized manager against the mock daemon.
// The returned manager has fast retry and reconnect ladders and is torn
// down with the test.
func newTestManager(t *testing.T, md *MockDaemon) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Client:            newTestClient(t, md),
		ReconnectInterval: 5 * time.Millisecond,
		InitRetryDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Destroy)
	return m
}
