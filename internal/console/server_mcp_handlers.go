package console

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// requestArgs extracts the argument map from a tool call request.
func requestArgs(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// stringArg pulls a required string argument out of the map.
func stringArg(args map[string]interface{}, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok && v != ""
}

func resultJSON(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleListServers handles the list_servers tool request
func (m *MCPServer) handleListServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store := m.manager.Store()
	statuses := store.Statuses()

	type serverEntry struct {
		ServerID    string `json:"server_id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		AutoStart   bool   `json:"auto_start"`
		Status      string `json:"status"`
	}
	var servers []serverEntry
	for _, id := range store.ServerIDs() {
		cfg, _ := store.Server(id)
		entry := serverEntry{
			ServerID:    id,
			Name:        cfg.Name,
			Description: cfg.Description,
			AutoStart:   cfg.AutoStart,
			Status:      StatusStopped,
		}
		if st, ok := statuses[id]; ok {
			entry.Status = st.Status
		}
		servers = append(servers, entry)
	}
	return resultJSON(servers)
}

// handleServerStatus handles the server_status tool request
func (m *MCPServer) handleServerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := requestArgs(request)

	if serverID, ok := stringArg(args, "server_id"); ok {
		st, err := m.manager.Client().ServerStatus(ctx, serverID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status fetch failed: %v", err)), nil
		}
		return resultJSON(st)
	}

	if err := m.manager.RefreshStatus(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status fetch failed: %v", err)), nil
	}
	return resultJSON(m.manager.Store().Statuses())
}

func (m *MCPServer) handleControl(ctx context.Context, request mcp.CallToolRequest, action string) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	serverID, ok := stringArg(args, "server_id")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'server_id' argument"), nil
	}

	var success bool
	switch action {
	case ActionStart:
		success = m.manager.StartServer(ctx, serverID)
	case ActionStop:
		success = m.manager.StopServer(ctx, serverID)
	case ActionRestart:
		success = m.manager.RestartServer(ctx, serverID)
	}
	if !success {
		msg := fmt.Sprintf("failed to %s server %s", action, serverID)
		if st, ok := m.manager.Store().StatusFor(serverID); ok && st.LastError != "" {
			msg = st.LastError
		}
		return mcp.NewToolResultError(msg), nil
	}
	return resultJSON(map[string]interface{}{
		"success":   true,
		"action":    action,
		"server_id": serverID,
	})
}

// handleStartServer handles the start_server tool request
func (m *MCPServer) handleStartServer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return m.handleControl(ctx, request, ActionStart)
}

// handleStopServer handles the stop_server tool request
func (m *MCPServer) handleStopServer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return m.handleControl(ctx, request, ActionStop)
}

// handleRestartServer handles the restart_server tool request
func (m *MCPServer) handleRestartServer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return m.handleControl(ctx, request, ActionRestart)
}

// handleListTools handles the list_tools tool request
func (m *MCPServer) handleListTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := requestArgs(request)
	if serverID, ok := stringArg(args, "server_id"); ok {
		return resultJSON(m.manager.Store().ToolsFor(serverID))
	}
	return resultJSON(m.manager.Store().AllTools())
}

// handleDescribeTool handles the describe_tool tool request
func (m *MCPServer) handleDescribeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	name, ok := stringArg(args, "name")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'name' argument"), nil
	}

	for _, t := range m.manager.Store().AllTools() {
		if t.Name == name {
			return resultJSON(t)
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("tool not found: %s", name)), nil
}

// handleCallTool handles the call_tool tool request
func (m *MCPServer) handleCallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	name, ok := stringArg(args, "name")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'name' argument"), nil
	}
	var toolArgs map[string]interface{}
	if argValue, exists := args["arguments"]; exists {
		toolArgs, _ = argValue.(map[string]interface{})
	}

	var (
		result json.RawMessage
		err    error
	)
	if serverID, scoped := stringArg(args, "server_id"); scoped {
		result, err = m.manager.ExecuteToolOn(ctx, serverID, name, toolArgs)
	} else {
		result, err = m.manager.ExecuteToolByName(ctx, name, toolArgs)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool call failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

// handleListResources handles the list_resources tool request
func (m *MCPServer) handleListResources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := requestArgs(request)
	if serverID, ok := stringArg(args, "server_id"); ok {
		return resultJSON(m.manager.Store().ResourcesFor(serverID))
	}
	return resultJSON(m.manager.Store().AllResources())
}

// handleReadResource handles the read_resource tool request
func (m *MCPServer) handleReadResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	serverID, ok := stringArg(args, "server_id")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'server_id' argument"), nil
	}
	uri, ok := stringArg(args, "uri")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'uri' argument"), nil
	}

	content, err := m.manager.ReadResource(ctx, serverID, uri)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resource read failed: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

// handleListPrompts handles the list_prompts tool request
func (m *MCPServer) handleListPrompts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := requestArgs(request)
	if serverID, ok := stringArg(args, "server_id"); ok {
		return resultJSON(m.manager.Store().PromptsFor(serverID))
	}
	return resultJSON(m.manager.Store().AllPrompts())
}

// handleGetPrompt handles the get_prompt tool request
func (m *MCPServer) handleGetPrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	serverID, ok := stringArg(args, "server_id")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'server_id' argument"), nil
	}
	name, ok := stringArg(args, "name")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'name' argument"), nil
	}
	var promptArgs map[string]interface{}
	if argValue, exists := args["arguments"]; exists {
		promptArgs, _ = argValue.(map[string]interface{})
	}

	result, err := m.manager.ExecutePrompt(ctx, serverID, name, promptArgs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("prompt retrieval failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

// handleSearchTools handles the search_tools tool request
func (m *MCPServer) handleSearchTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	query, ok := stringArg(args, "query")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'query' argument"), nil
	}
	return resultJSON(m.manager.SearchTools(query))
}

// handleSearchResources handles the search_resources tool request
func (m *MCPServer) handleSearchResources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := requestArgs(request)
	if !ok {
		return mcp.NewToolResultError("invalid arguments type"), nil
	}
	query, ok := stringArg(args, "query")
	if !ok {
		return mcp.NewToolResultError("missing or invalid 'query' argument"), nil
	}
	return resultJSON(m.manager.SearchResources(query))
}

// handleRecentEvents handles the recent_events tool request
func (m *MCPServer) handleRecentEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count := 20
	if args, ok := requestArgs(request); ok {
		if n, ok := args["count"].(float64); ok && n > 0 {
			count = int(n)
		}
	}

	events := m.manager.Events()
	if len(events) > count {
		events = events[len(events)-count:]
	}
	return resultJSON(events)
}

// handleReloadConfig handles the reload_config tool request
func (m *MCPServer) handleReloadConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := m.manager.ReloadConfig(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("config reload failed: %v", err)), nil
	}
	return resultJSON(map[string]string{"message": msg})
}

// handleAutoStart handles the auto_start tool request
func (m *MCPServer) handleAutoStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servers, err := m.manager.AutoStart(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("auto-start failed: %v", err)), nil
	}
	return resultJSON(map[string]interface{}{"servers": servers})
}

// handleHealth handles the daemon_health tool request
func (m *MCPServer) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health, err := m.manager.Health(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("health check failed: %v", err)), nil
	}
	return resultJSON(health)
}
