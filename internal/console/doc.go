// Package console provides the client-side session layer for an MCP manager
// daemon: a REST transport with retry and timeout handling, a live event
// stream over SSE, a WebSocket side-channel, per-server capability caches,
// and a session manager that reconciles push notifications with pull-based
// refreshes.
//
// # Key Components
//
//   - Client: REST + SSE transport against the daemon's HTTP boundary
//   - Channel: WebSocket side-channel (ping, status snapshot, tool calls)
//   - Store: per-server cache of config, status, tools, resources, prompts
//   - Manager: session lifecycle, control operations, bounded event log,
//     scheduled refreshes, and the stream reconnect policy
//   - REPL: interactive exploration and operation of the managed fleet
//   - MCPServer: exposes the console's operations as MCP tools
//   - Logger: formatted logging with color support and API traffic tracing
package console
