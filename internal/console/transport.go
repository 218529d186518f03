package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/giantswarm/mcp-console/internal/backoff"
)

// ClientConfig configures a Client. Zero fields fall back to the package
// defaults.
type ClientConfig struct {
	// BaseURL is the daemon's HTTP root, e.g. http://localhost:8000.
	BaseURL string

	// RequestTimeout bounds each individual HTTP attempt, not the whole
	// retried request.
	RequestTimeout time.Duration

	// RetryAttempts is the total number of attempts per request, the
	// first one included.
	RetryAttempts int

	// RetryDelay is the base of the linear retry ladder: the wait after
	// the n-th failed attempt is RetryDelay*n.
	RetryDelay time.Duration

	// AuthToken, when non-empty, is sent as a bearer token on every
	// request, the event stream included.
	AuthToken string

	// UserAgent overrides the User-Agent header.
	UserAgent string

	// Logger receives request/response traces. A nil logger is silent.
	Logger *Logger

	// HTTPClient overrides the underlying client, mainly for tests. Its
	// transport is wrapped to inject headers; the client itself is not
	// mutated.
	HTTPClient *http.Client
}

// Client talks to the manager daemon over its HTTP API and event stream.
// All request methods retry transient failures; use the context to bound
// the total time spent.
type Client struct {
	baseURL        string
	requestTimeout time.Duration
	retryAttempts  int
	retryDelay     time.Duration
	httpClient     *http.Client
	logger         *Logger
	dispatch       *dispatcher

	streamMu     sync.Mutex
	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

// NewClient creates a Client for the daemon at cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	hc := *base
	hc.Transport = &headerTransport{
		token:     cfg.AuthToken,
		userAgent: cfg.UserAgent,
		next:      base.Transport,
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		requestTimeout: cfg.RequestTimeout,
		retryAttempts:  cfg.RetryAttempts,
		retryDelay:     cfg.RetryDelay,
		httpClient:     &hc,
		logger:         cfg.Logger,
		dispatch:       newDispatcher(cfg.Logger),
	}
}

// BaseURL returns the normalized daemon root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OnEvent registers a listener for raw event envelopes, including the
// synthesized stream lifecycle events. The returned function removes it.
func (c *Client) OnEvent(fn func(Event)) func() {
	return c.dispatch.OnEvent(fn)
}

// OnNotification registers a listener for typed notifications. The
// returned function removes it.
func (c *Client) OnNotification(fn func(Notification)) func() {
	return c.dispatch.OnNotification(fn)
}

// headerTransport injects auth and identification headers on every
// outgoing request.
type headerTransport struct {
	token     string
	userAgent string
	next      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

// request performs one API call with retries. Every failure mode is
// retried uniformly: connection errors, per-attempt timeouts, and non-2xx
// statuses. The error returned is the final attempt's.
func (c *Client) request(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		payload = b
	}

	op := method + " " + path
	c.logger.Request(op, body)

	strategy := backoff.Linear(c.retryDelay, c.retryAttempts)
	err := backoff.RetryWithCallback(ctx, strategy,
		func() error {
			return c.attempt(ctx, method, path, payload, out)
		},
		func(attempt int, err error, delay time.Duration) {
			c.logger.WarningVerbose("%s failed (attempt %d/%d), retrying in %s: %v",
				op, attempt, strategy.Attempts(), delay, err)
		})
	if err != nil {
		return err
	}
	c.logger.Response(op, out)
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	op := method + " " + path
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &TimeoutError{Op: op, After: c.requestTimeout}
		}
		return &ConnectionError{Op: op, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return &ConnectionError{Op: op, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &APIError{StatusCode: res.StatusCode, Message: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// errorDetail extracts the daemon's error message from a failure body.
func errorDetail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Detail
	}
	return ""
}

// Health fetches the daemon's health summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.request(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// Config fetches the configured servers, keyed by server ID.
func (c *Client) Config(ctx context.Context) (map[string]ServerConfig, error) {
	var env serversEnvelope[ServerConfig]
	if err := c.request(ctx, http.MethodGet, "/config", nil, &env); err != nil {
		return nil, err
	}
	if env.Servers == nil {
		env.Servers = map[string]ServerConfig{}
	}
	return env.Servers, nil
}

// ReloadConfig asks the daemon to re-read its configuration file.
func (c *Client) ReloadConfig(ctx context.Context) (string, error) {
	var res messageResponse
	if err := c.request(ctx, http.MethodPost, "/config/reload", nil, &res); err != nil {
		return "", err
	}
	return res.Message, nil
}

// Status fetches the runtime status of all servers, keyed by server ID.
func (c *Client) Status(ctx context.Context) (map[string]ServerStatus, error) {
	var env serversEnvelope[ServerStatus]
	if err := c.request(ctx, http.MethodGet, "/status", nil, &env); err != nil {
		return nil, err
	}
	if env.Servers == nil {
		env.Servers = map[string]ServerStatus{}
	}
	for id, st := range env.Servers {
		if st.ServerID == "" {
			st.ServerID = id
			env.Servers[id] = st
		}
	}
	return env.Servers, nil
}

// ServerStatus fetches the runtime status of a single server.
func (c *Client) ServerStatus(ctx context.Context, serverID string) (ServerStatus, error) {
	var st ServerStatus
	if err := c.request(ctx, http.MethodGet, "/status/"+serverID, nil, &st); err != nil {
		return ServerStatus{}, err
	}
	if st.ServerID == "" {
		st.ServerID = serverID
	}
	return st, nil
}

// ControlServer starts, stops, or restarts a server. action is one of the
// Action* constants.
func (c *Client) ControlServer(ctx context.Context, serverID, action string) (ControlResult, error) {
	var res ControlResult
	req := controlRequest{ServerID: serverID, Action: action}
	if err := c.request(ctx, http.MethodPost, "/servers/control", req, &res); err != nil {
		return ControlResult{}, err
	}
	return res, nil
}

// AutoStart launches every server configured with auto_start.
func (c *Client) AutoStart(ctx context.Context) (AutoStartResult, error) {
	var res AutoStartResult
	if err := c.request(ctx, http.MethodPost, "/auto-start", nil, &res); err != nil {
		return AutoStartResult{}, err
	}
	return res, nil
}

// Tools fetches the tools of all running servers, keyed by server ID.
func (c *Client) Tools(ctx context.Context) (map[string][]Tool, error) {
	var byServer map[string][]Tool
	if err := c.request(ctx, http.MethodGet, "/tools", nil, &byServer); err != nil {
		return nil, err
	}
	if byServer == nil {
		byServer = map[string][]Tool{}
	}
	for id, tools := range byServer {
		annotateTools(id, tools)
	}
	return byServer, nil
}

// ServerTools fetches the tools of one server.
func (c *Client) ServerTools(ctx context.Context, serverID string) ([]Tool, error) {
	var tools []Tool
	if err := c.request(ctx, http.MethodGet, "/tools/"+serverID, nil, &tools); err != nil {
		return nil, err
	}
	annotateTools(serverID, tools)
	return tools, nil
}

// CallTool executes a tool on a server and returns the raw result.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	var res toolCallResponse
	req := toolCallRequest{ServerID: serverID, ToolName: toolName, Arguments: args}
	if err := c.request(ctx, http.MethodPost, "/tools/call", req, &res); err != nil {
		return nil, err
	}
	return res.Result, nil
}

// Resources fetches the resources of all running servers, keyed by server ID.
func (c *Client) Resources(ctx context.Context) (map[string][]Resource, error) {
	var byServer map[string][]Resource
	if err := c.request(ctx, http.MethodGet, "/resources", nil, &byServer); err != nil {
		return nil, err
	}
	if byServer == nil {
		byServer = map[string][]Resource{}
	}
	for id, resources := range byServer {
		annotateResources(id, resources)
	}
	return byServer, nil
}

// ServerResources fetches the resources of one server.
func (c *Client) ServerResources(ctx context.Context, serverID string) ([]Resource, error) {
	var resources []Resource
	if err := c.request(ctx, http.MethodGet, "/resources/"+serverID, nil, &resources); err != nil {
		return nil, err
	}
	annotateResources(serverID, resources)
	return resources, nil
}

// ReadResource reads a resource's content from a server.
func (c *Client) ReadResource(ctx context.Context, serverID, uri string) (string, error) {
	var res resourceReadResponse
	req := resourceReadRequest{ServerID: serverID, URI: uri}
	if err := c.request(ctx, http.MethodPost, "/resources/read", req, &res); err != nil {
		return "", err
	}
	return res.Content, nil
}

// Prompts fetches the prompts of all running servers, keyed by server ID.
func (c *Client) Prompts(ctx context.Context) (map[string][]Prompt, error) {
	var byServer map[string][]Prompt
	if err := c.request(ctx, http.MethodGet, "/prompts", nil, &byServer); err != nil {
		return nil, err
	}
	if byServer == nil {
		byServer = map[string][]Prompt{}
	}
	for id, prompts := range byServer {
		annotatePrompts(id, prompts)
	}
	return byServer, nil
}

// ServerPrompts fetches the prompts of one server.
func (c *Client) ServerPrompts(ctx context.Context, serverID string) ([]Prompt, error) {
	var prompts []Prompt
	if err := c.request(ctx, http.MethodGet, "/prompts/"+serverID, nil, &prompts); err != nil {
		return nil, err
	}
	annotatePrompts(serverID, prompts)
	return prompts, nil
}

// GetPrompt retrieves a rendered prompt from a server. args values must
// already be strings; use Manager.ExecutePrompt for conversion.
func (c *Client) GetPrompt(ctx context.Context, serverID, promptName string, args map[string]string) (json.RawMessage, error) {
	if args == nil {
		args = map[string]string{}
	}
	var res promptGetResponse
	req := promptGetRequest{ServerID: serverID, PromptName: promptName, Arguments: args}
	if err := c.request(ctx, http.MethodPost, "/prompts/get", req, &res); err != nil {
		return nil, err
	}
	return res.Result, nil
}

func annotateTools(serverID string, tools []Tool) {
	for i := range tools {
		if tools[i].ServerID == "" {
			tools[i].ServerID = serverID
		}
	}
}

func annotateResources(serverID string, resources []Resource) {
	for i := range resources {
		if resources[i].ServerID == "" {
			resources[i].ServerID = serverID
		}
	}
}

func annotatePrompts(serverID string, prompts []Prompt) {
	for i := range prompts {
		if prompts[i].ServerID == "" {
			prompts[i].ServerID = serverID
		}
	}
}
