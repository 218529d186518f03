package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// handleServers lists the configured servers with their run state.
func (r *REPL) handleServers() error {
	store := r.manager.Store()
	ids := store.ServerIDs()
	if len(ids) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}

	fmt.Printf("Configured servers (%d):\n", len(ids))
	for i, id := range ids {
		cfg, _ := store.Server(id)
		state := "unknown"
		if st, ok := store.StatusFor(id); ok {
			state = st.Status
		}
		line := fmt.Sprintf("  %d. %-24s [%s]", i+1, id, state)
		if cmd := cfg.Command.String(); cmd != "" {
			line += "  " + cmd
			if args := cfg.Args.String(); args != "" {
				line += " " + args
			}
		}
		if cfg.AutoStart {
			line += "  (auto-start)"
		}
		fmt.Println(line)
	}
	return nil
}

// handleStatus refreshes and displays the status of all servers.
func (r *REPL) handleStatus(ctx context.Context) error {
	if err := r.manager.RefreshStatus(ctx); err != nil {
		return fmt.Errorf("status refresh failed: %w", err)
	}
	statuses := r.manager.Store().Statuses()
	if len(statuses) == 0 {
		fmt.Println("No status information available.")
		return nil
	}
	fmt.Printf("Server status (%d):\n", len(statuses))
	for _, id := range sortedKeys(statuses) {
		printStatus(statuses[id])
	}
	return nil
}

// handleServerStatus fetches and displays one server's status.
func (r *REPL) handleServerStatus(ctx context.Context, serverID string) error {
	st, err := r.manager.Client().ServerStatus(ctx, serverID)
	if err != nil {
		return fmt.Errorf("status fetch failed: %w", err)
	}
	r.manager.Store().SetStatus(serverID, st)
	printStatus(st)
	return nil
}

func printStatus(st ServerStatus) {
	line := fmt.Sprintf("  %-24s %-10s", st.ServerID, st.Status)
	if st.PID != 0 {
		line += fmt.Sprintf("  pid=%d", st.PID)
	}
	if st.StartedAt != "" {
		line += "  since " + st.StartedAt
	}
	if st.Running() {
		line += fmt.Sprintf("  tools=%d resources=%d prompts=%d",
			st.ToolsCount, st.ResourcesCount, st.PromptsCount)
	}
	fmt.Println(line)
	if st.LastError != "" {
		fmt.Printf("    last error: %s\n", st.LastError)
	}
}

// handleControl starts, stops, or restarts a server.
func (r *REPL) handleControl(ctx context.Context, action, serverID string) error {
	var ok bool
	switch action {
	case ActionStart:
		ok = r.manager.StartServer(ctx, serverID)
	case ActionStop:
		ok = r.manager.StopServer(ctx, serverID)
	case ActionRestart:
		ok = r.manager.RestartServer(ctx, serverID)
	}
	if !ok {
		if st, found := r.manager.Store().StatusFor(serverID); found && st.LastError != "" {
			return errors.New(st.LastError)
		}
		return fmt.Errorf("failed to %s server %s", action, serverID)
	}
	fmt.Printf("Server %s: %s requested. Capabilities will refresh shortly.\n", serverID, action)
	return nil
}

// handleTools lists tools, all servers or one.
func (r *REPL) handleTools(serverID string) error {
	store := r.manager.Store()
	var tools []Tool
	if serverID != "" {
		tools = store.ToolsFor(serverID)
	} else {
		tools = store.AllTools()
	}
	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}
	fmt.Printf("Available tools (%d):\n", len(tools))
	for i, tool := range tools {
		fmt.Printf("  %d. %-30s [%s] - %s\n", i+1, tool.Name, tool.ServerID, tool.Description)
	}
	return nil
}

// handleResources lists resources, all servers or one.
func (r *REPL) handleResources(serverID string) error {
	store := r.manager.Store()
	var resources []Resource
	if serverID != "" {
		resources = store.ResourcesFor(serverID)
	} else {
		resources = store.AllResources()
	}
	if len(resources) == 0 {
		fmt.Println("No resources available.")
		return nil
	}
	fmt.Printf("Available resources (%d):\n", len(resources))
	for i, resource := range resources {
		desc := resource.Description
		if desc == "" {
			desc = resource.Name
		}
		fmt.Printf("  %d. %-40s [%s] - %s\n", i+1, resource.URI, resource.ServerID, desc)
	}
	return nil
}

// handlePrompts lists prompts, all servers or one.
func (r *REPL) handlePrompts(serverID string) error {
	store := r.manager.Store()
	var prompts []Prompt
	if serverID != "" {
		prompts = store.PromptsFor(serverID)
	} else {
		prompts = store.AllPrompts()
	}
	if len(prompts) == 0 {
		fmt.Println("No prompts available.")
		return nil
	}
	fmt.Printf("Available prompts (%d):\n", len(prompts))
	for i, prompt := range prompts {
		fmt.Printf("  %d. %-30s [%s] - %s\n", i+1, prompt.Name, prompt.ServerID, prompt.Description)
	}
	return nil
}

// handleDescribe shows the details of one capability.
func (r *REPL) handleDescribe(targetType, name string) error {
	switch strings.ToLower(targetType) {
	case "tool":
		return r.describeTool(name)
	case "resource":
		return r.describeResource(name)
	case "prompt":
		return r.describePrompt(name)
	default:
		return fmt.Errorf("unknown describe target: %s. Use 'tool', 'resource', or 'prompt'", targetType)
	}
}

// describeTool shows detailed information about a tool. A name served by
// several servers is described once per server.
func (r *REPL) describeTool(name string) error {
	var found bool
	for _, tool := range r.manager.Store().AllTools() {
		if tool.Name != name {
			continue
		}
		found = true
		fmt.Printf("Tool: %s\n", tool.Name)
		fmt.Printf("Server: %s\n", tool.ServerID)
		fmt.Printf("Description: %s\n", tool.Description)
		fmt.Println("Input Schema:")
		fmt.Printf("%s\n", PrettyJSON(tool.InputSchema))
		fmt.Println()
	}
	if !found {
		return fmt.Errorf("tool not found: %s", name)
	}
	return nil
}

// describeResource shows detailed information about a resource.
func (r *REPL) describeResource(uri string) error {
	for _, resource := range r.manager.Store().AllResources() {
		if resource.URI != uri {
			continue
		}
		fmt.Printf("Resource: %s\n", resource.URI)
		fmt.Printf("Server: %s\n", resource.ServerID)
		fmt.Printf("Name: %s\n", resource.Name)
		if resource.Description != "" {
			fmt.Printf("Description: %s\n", resource.Description)
		}
		if resource.MIMEType != "" {
			fmt.Printf("MIME Type: %s\n", resource.MIMEType)
		}
		return nil
	}
	return fmt.Errorf("resource not found: %s", uri)
}

// describePrompt shows detailed information about a prompt.
func (r *REPL) describePrompt(name string) error {
	for _, prompt := range r.manager.Store().AllPrompts() {
		if prompt.Name != name {
			continue
		}
		fmt.Printf("Prompt: %s\n", prompt.Name)
		fmt.Printf("Server: %s\n", prompt.ServerID)
		fmt.Printf("Description: %s\n", prompt.Description)
		if len(prompt.Arguments) > 0 {
			fmt.Println("Arguments:")
			for _, arg := range prompt.Arguments {
				required := ""
				if arg.Required {
					required = " (required)"
				}
				fmt.Printf("  - %s%s: %s\n", arg.Name, required, arg.Description)
			}
		}
		return nil
	}
	return fmt.Errorf("prompt not found: %s", name)
}

// parseToolArgs parses JSON arguments for a tool call
func parseToolArgs(argsStr string, toolName string) (map[string]interface{}, error) {
	if argsStr == "" {
		return nil, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		fmt.Println("Error: Arguments must be valid JSON")
		fmt.Printf("Example: call %s {\"param1\": \"value1\", \"param2\": 123}\n", toolName)
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// handleCallTool executes a tool. The first argument is a server ID when a
// second non-JSON argument follows; otherwise the tool is resolved by name
// across all servers.
func (r *REPL) handleCallTool(ctx context.Context, args []string) error {
	var serverID, toolName, argsStr string
	if len(args) >= 2 && !strings.HasPrefix(args[1], "{") {
		serverID, toolName = args[0], args[1]
		argsStr = strings.Join(args[2:], " ")
	} else {
		toolName = args[0]
		argsStr = strings.Join(args[1:], " ")
	}

	toolArgs, err := parseToolArgs(argsStr, toolName)
	if err != nil {
		return err
	}

	fmt.Printf("Executing tool: %s...\n", toolName)
	var result json.RawMessage
	if serverID != "" {
		result, err = r.manager.ExecuteToolOn(ctx, serverID, toolName, toolArgs)
	} else {
		result, err = r.manager.ExecuteToolByName(ctx, toolName, toolArgs)
	}
	if err != nil {
		var ambig *AmbiguousToolError
		if errors.As(err, &ambig) {
			fmt.Printf("Tool %q is served by: %s\n", ambig.Name, strings.Join(ambig.ServerIDs, ", "))
			fmt.Printf("Rerun scoped: call <server-id> %s ...\n", ambig.Name)
		}
		return fmt.Errorf("tool execution failed: %w", err)
	}

	fmt.Println("Result:")
	displayRawJSON(result)
	return nil
}

// handleReadResource reads and displays a resource.
func (r *REPL) handleReadResource(ctx context.Context, serverID, uri string) error {
	fmt.Printf("Reading resource: %s...\n", uri)
	content, err := r.manager.ReadResource(ctx, serverID, uri)
	if err != nil {
		return fmt.Errorf("resource read failed: %w", err)
	}
	fmt.Println("Contents:")
	displayText(content)
	return nil
}

// handleGetPrompt retrieves and displays a prompt with arguments.
func (r *REPL) handleGetPrompt(ctx context.Context, serverID, promptName, argsStr string) error {
	var promptArgs map[string]interface{}
	if argsStr != "" {
		if err := json.Unmarshal([]byte(argsStr), &promptArgs); err != nil {
			fmt.Println("Error: Arguments must be valid JSON")
			fmt.Printf("Example: prompt %s %s {\"arg1\": \"value1\"}\n", serverID, promptName)
			return fmt.Errorf("invalid JSON arguments: %w", err)
		}
	}

	fmt.Printf("Getting prompt: %s...\n", promptName)
	result, err := r.manager.ExecutePrompt(ctx, serverID, promptName, promptArgs)
	if err != nil {
		return fmt.Errorf("prompt retrieval failed: %w", err)
	}
	displayRawJSON(result)
	return nil
}

// handleSearch searches tools or resources across all servers.
func (r *REPL) handleSearch(targetType, query string) error {
	switch strings.ToLower(targetType) {
	case "tools", "tool":
		tools := r.manager.SearchTools(query)
		if len(tools) == 0 {
			fmt.Printf("No tools matching %q.\n", query)
			return nil
		}
		fmt.Printf("Tools matching %q (%d):\n", query, len(tools))
		for i, tool := range tools {
			fmt.Printf("  %d. %-30s [%s] - %s\n", i+1, tool.Name, tool.ServerID, tool.Description)
		}
	case "resources", "resource":
		resources := r.manager.SearchResources(query)
		if len(resources) == 0 {
			fmt.Printf("No resources matching %q.\n", query)
			return nil
		}
		fmt.Printf("Resources matching %q (%d):\n", query, len(resources))
		for i, resource := range resources {
			fmt.Printf("  %d. %-40s [%s] - %s\n", i+1, resource.URI, resource.ServerID, resource.Description)
		}
	default:
		return fmt.Errorf("unknown search target: %s. Use 'tools' or 'resources'", targetType)
	}
	return nil
}

// handleEvents displays the tail of the event log.
func (r *REPL) handleEvents(countStr string) error {
	count := 20
	if countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count: %s", countStr)
		}
		count = n
	}

	events := r.manager.Events()
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}
	if len(events) > count {
		events = events[len(events)-count:]
	}
	fmt.Printf("Last %d events:\n", len(events))
	for _, evt := range events {
		line := fmt.Sprintf("  %-27s %-28s", evt.Timestamp, evt.Type)
		if id := evt.ServerID(); id != "" {
			line += " " + id
		}
		fmt.Println(line)
	}
	return nil
}

// handleHealth displays the daemon's health summary.
func (r *REPL) handleHealth(ctx context.Context) error {
	h, err := r.manager.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Printf("Status: %s\n", h.Status)
	fmt.Printf("Version: %s\n", h.Version)
	fmt.Printf("Timestamp: %s\n", h.Timestamp)
	return nil
}

// handleReload asks the daemon to reload its configuration.
func (r *REPL) handleReload(ctx context.Context) error {
	msg, err := r.manager.ReloadConfig(ctx)
	if err != nil {
		return fmt.Errorf("config reload failed: %w", err)
	}
	fmt.Println(msg)
	return nil
}

// handleAutoStart launches all auto-start servers.
func (r *REPL) handleAutoStart(ctx context.Context) error {
	servers, err := r.manager.AutoStart(ctx)
	if err != nil {
		return fmt.Errorf("auto-start failed: %w", err)
	}
	if len(servers) == 0 {
		fmt.Println("No auto-start servers configured.")
		return nil
	}
	fmt.Printf("Starting: %s\n", strings.Join(servers, ", "))
	return nil
}

// handleReconnect re-establishes the event stream by hand.
func (r *REPL) handleReconnect(ctx context.Context) error {
	if err := r.manager.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	fmt.Println("Reconnected.")
	return nil
}

// handlePing measures round-trip time on the websocket side-channel.
func (r *REPL) handlePing(ctx context.Context) error {
	if r.channel == nil {
		fmt.Println("WebSocket channel not available.")
		return nil
	}
	if err := r.channel.Connect(ctx); err != nil {
		return fmt.Errorf("channel connect failed: %w", err)
	}
	rtt, err := r.channel.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	fmt.Printf("Round-trip time: %s\n", rtt)
	return nil
}

// displayRawJSON pretty-prints a raw JSON value, falling back to plain
// output for non-JSON payloads.
func displayRawJSON(raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Println("(empty)")
		return
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		if s, ok := v.(string); ok {
			displayText(s)
			return
		}
		fmt.Println(PrettyJSON(v))
		return
	}
	fmt.Println(string(raw))
}

// displayText prints text content, pretty-printing embedded JSON.
func displayText(text string) {
	var jsonData interface{}
	if err := json.Unmarshal([]byte(text), &jsonData); err == nil {
		fmt.Println(PrettyJSON(jsonData))
	} else {
		fmt.Println(text)
	}
}

// printNotification renders a pushed event as a log line. Noisy per-call
// events only show in verbose mode.
func (r *REPL) printNotification(n Notification) {
	switch n := n.(type) {
	case StreamConnected:
		r.logger.Success("Event stream connected")
	case StreamDisconnected:
		r.logger.Info("Event stream disconnected")
	case StreamError:
		r.logger.Warning("Event stream error: %s", n.Message)
	case ConfigLoaded:
		r.logger.Info("Configuration loaded: %d servers", len(n.Servers))
	case ConfigError:
		r.logger.Error("Configuration error: %s", n.Message)
	case ServerStarting:
		r.logger.Info("Server %s starting...", n.ServerID)
	case ServerStarted:
		r.logger.Success("Server %s started (pid %d)", n.ServerID, n.PID)
	case ServerStopped:
		r.logger.Info("Server %s stopped", n.ServerID)
	case ServerFailed:
		r.logger.Error("Server %s error: %s", n.ServerID, n.Message)
	case ServerInitialized:
		r.logger.Success("Server %s initialized", n.ServerID)
	case ServerInitFailed:
		r.logger.Error("Server %s failed to initialize: %s", n.ServerID, n.Message)
	case CapabilitiesLoaded:
		r.logger.Info("Server %s: %d tools, %d resources, %d prompts",
			n.ServerID, n.Tools, n.Resources, n.Prompts)
	case ServerLog:
		r.logger.Debug("%s stderr: %s", n.ServerID, n.Message)
	case ToolExecuted:
		r.logger.InfoVerbose("Tool %s executed on %s", n.Tool, n.ServerID)
	case ToolFailed:
		r.logger.Warning("Tool %s failed on %s: %s", n.Tool, n.ServerID, n.Message)
	case ResourceRead:
		r.logger.InfoVerbose("Resource %s read on %s (%d bytes)", n.URI, n.ServerID, n.Length)
	case ResourceFailed:
		r.logger.Warning("Resource %s failed on %s: %s", n.URI, n.ServerID, n.Message)
	case PromptRetrieved:
		r.logger.InfoVerbose("Prompt %s retrieved on %s", n.Prompt, n.ServerID)
	case PromptFailed:
		r.logger.Warning("Prompt %s failed on %s: %s", n.Prompt, n.ServerID, n.Message)
	case Heartbeat:
		r.logger.Debug("Heartbeat")
	case DaemonError:
		r.logger.Error("Daemon error: %s", n.Message)
	case UnknownNotification:
		r.logger.Debug("Event: %s", n.Type)
	}
}
