package console

import (
	"encoding/json"
	"strings"
)

// StringList unmarshals daemon fields that may arrive either as a single
// string or as a list of strings (the config loader upstream accepts both
// spellings for command and args).
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*s = nil
		return nil
	}
	*s = StringList{single}
	return nil
}

func (s StringList) String() string {
	return strings.Join(s, " ")
}

// ServerConfig describes one managed server as loaded by the daemon.
// Configs are replaced wholesale on reload; the server id is the key of the
// map they arrive in.
type ServerConfig struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Command     StringList        `json:"command"`
	Args        StringList        `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoStart   bool              `json:"auto_start"`
}

// ServerStatus is the daemon's authoritative view of one server's run
// state. It is overwritten on every refresh, never merged.
type ServerStatus struct {
	ServerID       string `json:"server_id"`
	Status         string `json:"status"`
	PID            int    `json:"pid,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	ToolsCount     int    `json:"tools_count"`
	ResourcesCount int    `json:"resources_count"`
	PromptsCount   int    `json:"prompts_count"`
}

// Running reports whether the server is currently usable for calls.
func (s ServerStatus) Running() bool {
	return s.Status == StatusRunning
}

// SchemaProperty is one named property of a tool's input schema.
type SchemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// InputSchema is the JSON-schema-like contract of a tool's arguments.
type InputSchema struct {
	Type       string                    `json:"type,omitempty"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// Tool is an invocable capability exposed by a managed server.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
	ServerID    string      `json:"server_id"`
}

// Resource is a URI-addressed readable artifact on a managed server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mimeType"`
	ServerID    string `json:"server_id"`
}

// PromptArgument is one declared parameter of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a named, parameterized template on a managed server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments"`
	ServerID    string           `json:"server_id"`
}

// Health is the daemon's /health response.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// Event is the raw envelope of one /events message.
type Event struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// ServerID extracts the server_id field from the payload, if any.
func (e Event) ServerID() string {
	var payload struct {
		ServerID string `json:"server_id"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ""
	}
	return payload.ServerID
}

// ControlResult is the daemon's answer to a server control request.
type ControlResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
}

// AutoStartResult lists the servers launched by POST /auto-start.
type AutoStartResult struct {
	Message string   `json:"message"`
	Servers []string `json:"servers"`
}

// Request and response bodies of the daemon's POST endpoints.

type controlRequest struct {
	ServerID string `json:"server_id"`
	Action   string `json:"action"`
}

type toolCallRequest struct {
	ServerID  string         `json:"server_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

type toolCallResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

type resourceReadRequest struct {
	ServerID string `json:"server_id"`
	URI      string `json:"uri"`
}

type resourceReadResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	URI     string `json:"uri"`
}

type promptGetRequest struct {
	ServerID   string            `json:"server_id"`
	PromptName string            `json:"prompt_name"`
	Arguments  map[string]string `json:"arguments"`
}

type promptGetResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

type serversEnvelope[T any] struct {
	Servers map[string]T `json:"servers"`
}

type messageResponse struct {
	Message string `json:"message"`
}
