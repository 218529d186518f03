package console

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// newTestMCPConsole creates an MCP-mode server over an initialized manager
// with two servers: alpha (tools echo+dup, one resource, one prompt) and
// beta (tool dup).
func newTestMCPConsole(t *testing.T, md *MockDaemon) *MCPServer {
	t.Helper()
	addAlphaServer(md)
	md.AddServer("beta", ServerConfig{Name: "Beta"}, ServerStatus{Status: StatusRunning})
	md.SetTools("alpha", []Tool{{Name: "echo"}, {Name: "dup"}})
	md.SetTools("beta", []Tool{{Name: "dup"}})
	md.SetResources("alpha", []Resource{{URI: "file:///notes.txt", Name: "notes"}})
	md.SetResourceBody("alpha", "file:///notes.txt", "remember the milk")
	md.SetPrompts("alpha", []Prompt{{
		Name:      "greet",
		Arguments: []PromptArgument{{Name: "name", Required: true}},
	}})
	md.SetPromptBody("alpha", "greet", `{"messages":[{"role":"user"}]}`)

	m := newTestManager(t, md)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ms, err := NewMCPServer(m, "stdio", nil)
	if err != nil {
		t.Fatalf("NewMCPServer: %v", err)
	}
	return ms
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

// resultText extracts the single text payload of a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("expected one content item, got %d", len(result.Content))
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestMCPListServersRoundTrip(t *testing.T) {
	md := NewMockDaemon(t)
	ms := newTestMCPConsole(t, md)

	result, err := ms.handleListServers(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handleListServers: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}

	var servers []struct {
		ServerID string `json:"server_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &servers); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if len(servers) != 2 || servers[0].ServerID != "alpha" || servers[1].ServerID != "beta" {
		t.Fatalf("expected alpha and beta in order, got %+v", servers)
	}
	if servers[1].Status != StatusRunning {
		t.Errorf("expected beta running, got %q", servers[1].Status)
	}
}

func TestMCPCallToolScoped(t *testing.T) {
	md := NewMockDaemon(t)
	ms := newTestMCPConsole(t, md)

	result, err := ms.handleCallTool(context.Background(), toolRequest(map[string]interface{}{
		"name":      "echo",
		"server_id": "alpha",
		"arguments": map[string]interface{}{"x": 1},
	}))
	if err != nil {
		t.Fatalf("handleCallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}
	sent := md.LastToolCall()
	if sent.ServerID != "alpha" || sent.ToolName != "echo" {
		t.Fatalf("expected call routed to alpha/echo, got %s/%s", sent.ServerID, sent.ToolName)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if payload["tool"] != "echo" {
		t.Errorf("expected daemon result passed through, got %v", payload)
	}
}

func TestMCPCallToolUnscopedResolvesOwner(t *testing.T) {
	md := NewMockDaemon(t)
	ms := newTestMCPConsole(t, md)

	result, err := ms.handleCallTool(context.Background(), toolRequest(map[string]interface{}{
		"name": "echo",
	}))
	if err != nil {
		t.Fatalf("handleCallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}
	if sent := md.LastToolCall(); sent.ServerID != "alpha" {
		t.Errorf("expected name resolution to alpha, got %q", sent.ServerID)
	}
}

func TestMCPCallToolErrorBranches(t *testing.T) {
	md := NewMockDaemon(t)
	ms := newTestMCPConsole(t, md)

	tests := []struct {
		name      string
		args      map[string]interface{}
		wantInMsg string
	}{
		{
			name:      "missing name",
			args:      map[string]interface{}{"server_id": "alpha"},
			wantInMsg: "'name'",
		},
		{
			name:      "ambiguous unscoped name",
			args:      map[string]interface{}{"name": "dup"},
			wantInMsg: "alpha",
		},
		{
			name:      "unknown tool",
			args:      map[string]interface{}{"name": "missing"},
			wantInMsg: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ms.handleCallTool(context.Background(), toolRequest(tt.args))
			if err != nil {
				t.Fatalf("handleCallTool: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected error result, got %s", resultText(t, result))
			}
			if msg := resultText(t, result); !strings.Contains(msg, tt.wantInMsg) {
				t.Errorf("expected message containing %q, got %q", tt.wantInMsg, msg)
			}
		})
	}
	if md.Count("/tools/call") != 0 {
		t.Errorf("expected no request sent for failed validations, got %d", md.Count("/tools/call"))
	}

	// The ambiguity message names both owners.
	result, err := ms.handleCallTool(context.Background(), toolRequest(map[string]interface{}{"name": "dup"}))
	if err != nil {
		t.Fatalf("handleCallTool: %v", err)
	}
	msg := resultText(t, result)
	if !strings.Contains(msg, "alpha") || !strings.Contains(msg, "beta") {
		t.Errorf("expected both owners in message, got %q", msg)
	}
}

func TestMCPReadResourceRoundTrip(t *testing.T) {
	md := NewMockDaemon(t)
	ms := newTestMCPConsole(t, md)

	result, err := ms.handleReadResource(context.Background(), toolRequest(map[string]interface{}{
		"server_id": "alpha",
		"uri":       "file:///notes.txt",
	}))
	if err != nil {
		t.Fatalf("handleReadResource: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}
	if text := resultText(t, result); text != "remember the milk" {
		t.Errorf("expected resource content, got %q", text)
	}

	// Missing uri argument never reaches the daemon.
	before := md.Count("/resources/read")
	result, err = ms.handleReadResource(context.Background(), toolRequest(map[string]interface{}{
		"server_id": "alpha",
	}))
	if err != nil {
		t.Fatalf("handleReadResource: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "'uri'") {
		t.Errorf("expected missing-uri error, got %q", resultText(t, result))
	}
	if md.Count("/resources/read") != before {
		t.Errorf("expected no request for missing uri")
	}

	result, err = ms.handleReadResource(context.Background(), toolRequest(map[string]interface{}{
		"server_id": "alpha",
		"uri":       "file:///absent.txt",
	}))
	if err != nil {
		t.Fatalf("handleReadResource: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "resource read failed") {
		t.Errorf("expected read failure surfaced, got %q", resultText(t, result))
	}
}

func TestMCPGetPromptRoundTrip(t *testing.T) {
	md := NewMockDaemon(t)
	ms := newTestMCPConsole(t, md)

	result, err := ms.handleGetPrompt(context.Background(), toolRequest(map[string]interface{}{
		"server_id": "alpha",
		"name":      "greet",
		"arguments": map[string]interface{}{"name": "Ada"},
	}))
	if err != nil {
		t.Fatalf("handleGetPrompt: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}
	var payload struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if len(payload.Messages) != 1 {
		t.Errorf("expected daemon prompt body passed through, got %s", resultText(t, result))
	}
	if sent := md.LastPromptGet(); sent.Arguments["name"] != "Ada" {
		t.Errorf("expected stringified arguments sent, got %v", sent.Arguments)
	}

	// Required prompt argument enforced before dispatch.
	before := md.Count("/prompts/get")
	result, err = ms.handleGetPrompt(context.Background(), toolRequest(map[string]interface{}{
		"server_id": "alpha",
		"name":      "greet",
	}))
	if err != nil {
		t.Fatalf("handleGetPrompt: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "prompt retrieval failed") {
		t.Errorf("expected validation failure surfaced, got %q", resultText(t, result))
	}
	if md.Count("/prompts/get") != before {
		t.Errorf("expected no request for missing required argument")
	}

	result, err = ms.handleGetPrompt(context.Background(), toolRequest(map[string]interface{}{
		"name": "greet",
	}))
	if err != nil {
		t.Fatalf("handleGetPrompt: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "'server_id'") {
		t.Errorf("expected missing-server_id error, got %q", resultText(t, result))
	}
}
