package console

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the session manager's fleet operations as MCP tools,
// so AI assistants can inspect and drive the managed servers.
type MCPServer struct {
	manager         *Manager
	logger          *Logger
	mcpServer       *server.MCPServer
	serverTransport string
}

// NewMCPServer creates an MCP server wrapping the given manager.
func NewMCPServer(manager *Manager, serverTransport string, logger *Logger) (*MCPServer, error) {
	mcpServer := server.NewMCPServer(
		"mcp-console",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	ms := &MCPServer{
		manager:         manager,
		logger:          logger,
		mcpServer:       mcpServer,
		serverTransport: serverTransport,
	}

	ms.registerTools()

	return ms, nil
}

// Start starts the MCP server using stdio or streamable-http transport
func (m *MCPServer) Start(ctx context.Context, listenAddr string) error {
	switch m.serverTransport {
	case "stdio":
		return server.ServeStdio(m.mcpServer)
	case "streamable-http":
		httpServer := server.NewStreamableHTTPServer(
			m.mcpServer,
			server.WithEndpointPath("/mcp"),
		)
		return httpServer.Start(listenAddr)
	default:
		return fmt.Errorf("unsupported server transport: %s", m.serverTransport)
	}
}

// registerTools registers all MCP tools
func (m *MCPServer) registerTools() {
	listServersTool := mcp.NewTool("list_servers",
		mcp.WithDescription("List all configured servers with their run state"),
	)
	m.mcpServer.AddTool(listServersTool, m.handleListServers)

	serverStatusTool := mcp.NewTool("server_status",
		mcp.WithDescription("Get the runtime status of servers"),
		mcp.WithString("server_id",
			mcp.Description("Server to query; omit for all servers"),
		),
	)
	m.mcpServer.AddTool(serverStatusTool, m.handleServerStatus)

	startServerTool := mcp.NewTool("start_server",
		mcp.WithDescription("Start a managed server"),
		mcp.WithString("server_id",
			mcp.Required(),
			mcp.Description("ID of the server to start"),
		),
	)
	m.mcpServer.AddTool(startServerTool, m.handleStartServer)

	stopServerTool := mcp.NewTool("stop_server",
		mcp.WithDescription("Stop a managed server"),
		mcp.WithString("server_id",
			mcp.Required(),
			mcp.Description("ID of the server to stop"),
		),
	)
	m.mcpServer.AddTool(stopServerTool, m.handleStopServer)

	restartServerTool := mcp.NewTool("restart_server",
		mcp.WithDescription("Restart a managed server"),
		mcp.WithString("server_id",
			mcp.Required(),
			mcp.Description("ID of the server to restart"),
		),
	)
	m.mcpServer.AddTool(restartServerTool, m.handleRestartServer)

	listToolsTool := mcp.NewTool("list_tools",
		mcp.WithDescription("List tools discovered on the managed servers"),
		mcp.WithString("server_id",
			mcp.Description("Limit to one server; omit for all"),
		),
	)
	m.mcpServer.AddTool(listToolsTool, m.handleListTools)

	describeToolTool := mcp.NewTool("describe_tool",
		mcp.WithDescription("Get detailed information about a specific tool"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the tool to describe"),
		),
	)
	m.mcpServer.AddTool(describeToolTool, m.handleDescribeTool)

	callToolTool := mcp.NewTool("call_tool",
		mcp.WithDescription("Execute a tool on a managed server"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the tool to call"),
		),
		mcp.WithString("server_id",
			mcp.Description("Server owning the tool; omit to resolve by name (fails if ambiguous)"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments to pass to the tool (as JSON object)"),
		),
	)
	m.mcpServer.AddTool(callToolTool, m.handleCallTool)

	listResourcesTool := mcp.NewTool("list_resources",
		mcp.WithDescription("List resources discovered on the managed servers"),
		mcp.WithString("server_id",
			mcp.Description("Limit to one server; omit for all"),
		),
	)
	m.mcpServer.AddTool(listResourcesTool, m.handleListResources)

	readResourceTool := mcp.NewTool("read_resource",
		mcp.WithDescription("Read the contents of a resource"),
		mcp.WithString("server_id",
			mcp.Required(),
			mcp.Description("Server owning the resource"),
		),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("URI of the resource to read"),
		),
	)
	m.mcpServer.AddTool(readResourceTool, m.handleReadResource)

	listPromptsTool := mcp.NewTool("list_prompts",
		mcp.WithDescription("List prompts discovered on the managed servers"),
		mcp.WithString("server_id",
			mcp.Description("Limit to one server; omit for all"),
		),
	)
	m.mcpServer.AddTool(listPromptsTool, m.handleListPrompts)

	getPromptTool := mcp.NewTool("get_prompt",
		mcp.WithDescription("Retrieve a prompt with the given arguments"),
		mcp.WithString("server_id",
			mcp.Required(),
			mcp.Description("Server owning the prompt"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the prompt to get"),
		),
		mcp.WithObject("arguments",
			mcp.Description("Arguments to pass to the prompt (as JSON object with string values)"),
		),
	)
	m.mcpServer.AddTool(getPromptTool, m.handleGetPrompt)

	searchToolsTool := mcp.NewTool("search_tools",
		mcp.WithDescription("Search tools by name or description"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Case-insensitive substring to match"),
		),
	)
	m.mcpServer.AddTool(searchToolsTool, m.handleSearchTools)

	searchResourcesTool := mcp.NewTool("search_resources",
		mcp.WithDescription("Search resources by URI, name, or description"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Case-insensitive substring to match"),
		),
	)
	m.mcpServer.AddTool(searchResourcesTool, m.handleSearchResources)

	recentEventsTool := mcp.NewTool("recent_events",
		mcp.WithDescription("Show the most recent daemon events"),
		mcp.WithNumber("count",
			mcp.Description("Number of events to return (default 20)"),
		),
	)
	m.mcpServer.AddTool(recentEventsTool, m.handleRecentEvents)

	reloadConfigTool := mcp.NewTool("reload_config",
		mcp.WithDescription("Reload the daemon's server configuration file"),
	)
	m.mcpServer.AddTool(reloadConfigTool, m.handleReloadConfig)

	autoStartTool := mcp.NewTool("auto_start",
		mcp.WithDescription("Start every server configured for auto-start"),
	)
	m.mcpServer.AddTool(autoStartTool, m.handleAutoStart)

	healthTool := mcp.NewTool("daemon_health",
		mcp.WithDescription("Check the daemon's health endpoint"),
	)
	m.mcpServer.AddTool(healthTool, m.handleHealth)
}
