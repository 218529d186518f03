package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-console/internal/console"
)

const transportStreamableHTTP = "streamable-http"

var (
	version         string
	endpoint        string
	authToken       string
	requestTimeout  time.Duration
	retryAttempts   int
	monitorTimeout  time.Duration
	eventLogSize    int
	verbose         bool
	noColor         bool
	jsonLog         bool
	repl            bool
	mcpServer       bool
	serverTransport string
	listenAddr      string
	autoStart       bool
	useChannel      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-console",
	Short: "Console for an MCP manager daemon",
	Long: `mcp-console is a client for an MCP (Model Context Protocol) manager daemon.

It connects to the daemon's REST API and event stream to browse and operate
the managed servers: starting and stopping them, listing their tools,
resources, and prompts, invoking them, and following the live event feed.

The tool supports multiple modes:
- Monitor mode (default): Connect and print daemon events as they arrive
- REPL mode (--repl): Interactive exploration and operation of the fleet
- MCP Server mode (--mcp-server): Expose the console's operations as MCP
  tools for integration with AI assistants

In REPL mode, you can:
- List configured servers and their run state
- Start, stop, and restart managed servers
- List and search tools, resources, and prompts
- Execute tools interactively with JSON arguments
- Read resources and retrieve prompts
- Review the recent daemon events

In MCP Server mode:
- The console acts as an MCP server using stdio transport
- It exposes all REPL functionality as MCP tools
- It's designed for integration with AI assistants like Claude or Cursor

By default, it connects to http://localhost:8000. You can override this with
the --endpoint flag.`,
	RunE: runConsole,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.Flags().StringVar(&endpoint, "endpoint", console.DefaultBaseURL, "Manager daemon base URL")
	rootCmd.Flags().StringVar(&authToken, "token", "", "Bearer token sent on every request (optional)")
	rootCmd.Flags().DurationVar(&requestTimeout, "timeout", console.DefaultRequestTimeout, "Timeout per HTTP request attempt")
	rootCmd.Flags().IntVar(&retryAttempts, "retries", console.DefaultRetryAttempts, "Total attempts per HTTP request")
	rootCmd.Flags().DurationVar(&monitorTimeout, "monitor-timeout", 0, "Stop monitor mode after this duration (0 = run until interrupted)")
	rootCmd.Flags().IntVar(&eventLogSize, "event-log-size", console.DefaultEventLogSize, "Number of daemon events kept in memory")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (show heartbeat messages)")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&jsonLog, "json-log", false, "Enable full request/response body logging")
	rootCmd.Flags().BoolVar(&repl, "repl", false, "Start interactive REPL mode")
	rootCmd.Flags().BoolVar(&mcpServer, "mcp-server", false, "Run as MCP server")
	rootCmd.Flags().StringVar(&serverTransport, "server-transport", "stdio", "Transport protocol for the MCP server itself (stdio, streamable-http)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", ":8899", "Listen address for streamable-http server (path is fixed to /mcp)")
	rootCmd.Flags().BoolVar(&autoStart, "auto-start", false, "Ask the daemon to launch its auto-start servers after connecting")
	rootCmd.Flags().BoolVar(&useChannel, "ws", false, "Open the WebSocket side-channel next to the REST transport")

	// Add subcommands
	rootCmd.AddCommand(newSelfUpdateCmd())

	// Mark flags as mutually exclusive
	rootCmd.MarkFlagsMutuallyExclusive("repl", "mcp-server")
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if !mcpServer {
			fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
		}
		cancel()
	}()
}

// runMCPServer runs the console in MCP server mode
func runMCPServer(ctx context.Context, manager *console.Manager, logger *console.Logger) error {
	server, err := console.NewMCPServer(manager, serverTransport, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("Starting mcp-console MCP server (transport: %s)...", serverTransport)
	if serverTransport == transportStreamableHTTP {
		addr := listenAddr
		if !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		logger.Info("Listening on %s%s", addr, "/mcp")
	}

	if err := server.Start(ctx, listenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// runMonitorMode follows the daemon's event feed until the timeout elapses
// or the context is cancelled.
func runMonitorMode(ctx context.Context, manager *console.Manager, channel *console.Channel, logger *console.Logger) error {
	if monitorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorTimeout)
		defer cancel()
	}

	unsub := manager.Client().OnEvent(func(evt console.Event) {
		if evt.Type == console.EventHeartbeat && !verbose {
			return
		}
		logger.Notification(evt.Type, evt.Data)
	})
	defer unsub()

	// Keep the side-channel warm so the daemon does not reap it.
	if channel != nil {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					rtt, err := channel.Ping(ctx)
					if err != nil {
						logger.Warning("ws ping failed: %v", err)
						continue
					}
					logger.InfoVerbose("ws ping rtt=%s", rtt)
				}
			}
		}()
	}

	logger.Info("Monitoring daemon events (press Ctrl+C to stop)...")
	<-ctx.Done()
	if ctx.Err() == context.DeadlineExceeded {
		logger.Info("Timeout reached after %v", monitorTimeout)
	}
	return nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	// Flags win over environment.
	if !cmd.Flags().Changed("endpoint") {
		if v := os.Getenv("MCP_CONSOLE_ENDPOINT"); v != "" {
			endpoint = v
		}
	}
	if !cmd.Flags().Changed("token") {
		if v := os.Getenv("MCP_CONSOLE_AUTH_TOKEN"); v != "" {
			authToken = v
		}
	}

	logger := console.NewLogger(verbose, !noColor, jsonLog)

	client := console.NewClient(console.ClientConfig{
		BaseURL:        endpoint,
		RequestTimeout: requestTimeout,
		RetryAttempts:  retryAttempts,
		AuthToken:      authToken,
		UserAgent:      "mcp-console/" + version,
		Logger:         logger,
	})

	var channel *console.Channel
	if useChannel {
		ch, err := console.NewChannel(console.ChannelConfig{
			BaseURL:   endpoint,
			AuthToken: authToken,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create ws channel: %w", err)
		}
		if err := ch.Connect(ctx); err != nil {
			logger.Warning("ws channel unavailable: %v", err)
		} else {
			channel = ch
		}
	}

	manager, err := console.NewManager(console.ManagerConfig{
		Client:       client,
		Logger:       logger,
		Channel:      channel,
		EventLogSize: eventLogSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	defer manager.Destroy()

	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to connect to daemon at %s: %w", endpoint, err)
	}

	if autoStart {
		servers, err := manager.AutoStart(ctx)
		if err != nil {
			logger.Warning("auto-start failed: %v", err)
		} else if len(servers) > 0 {
			logger.Success("auto-started servers: %s", strings.Join(servers, ", "))
		}
	}

	if mcpServer {
		return runMCPServer(ctx, manager, logger)
	}

	if repl {
		replHandler := console.NewREPL(manager, channel, logger)
		if err := replHandler.Run(ctx); err != nil {
			return fmt.Errorf("REPL error: %w", err)
		}
		return nil
	}

	return runMonitorMode(ctx, manager, channel, logger)
}
