package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// REPL is the interactive console for a session: fleet inspection, server
// control, and capability invocation with tab completion.
type REPL struct {
	manager *Manager
	channel *Channel
	logger  *Logger

	rl              *readline.Instance
	stopChan        chan struct{}
	wg              sync.WaitGroup
	commandHandlers map[string]commandHandler

	mu            sync.Mutex
	notifications bool
}

// NewREPL creates a REPL driving the given manager. channel may be nil;
// the ping command then reports the side-channel as unavailable.
func NewREPL(manager *Manager, channel *Channel, logger *Logger) *REPL {
	r := &REPL{
		manager:       manager,
		channel:       channel,
		logger:        logger,
		stopChan:      make(chan struct{}),
		notifications: true,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts the REPL loop and blocks until exit or context cancellation.
func (r *REPL) Run(ctx context.Context) error {
	completer := r.createCompleter()
	historyFile := filepath.Join(os.TempDir(), ".mcp_console_history")

	config := &readline.Config{
		Prompt:          "console> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl

	// Notifications arrive on the client's dispatcher; bridge them into a
	// channel so the display loop can pace itself.
	notifCh := make(chan Notification, 64)
	cancel := r.manager.Client().OnNotification(func(n Notification) {
		select {
		case notifCh <- n:
		default:
		}
	})
	defer cancel()

	r.wg.Add(1)
	go r.notificationListener(ctx, notifCh)

	r.logger.Info("Console started. Type 'help' for available commands. Use TAB for completion.")
	fmt.Println()

	for {
		select {
		case <-ctx.Done():
			close(r.stopChan)
			r.wg.Wait()
			r.logger.Info("Console shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			close(r.stopChan)
			r.wg.Wait()
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				close(r.stopChan)
				r.wg.Wait()
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		fmt.Println()
	}
}

// notificationsEnabled reports whether pushed events should be displayed.
func (r *REPL) notificationsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifications
}

func (r *REPL) setNotifications(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = on
}

// notificationListener displays pushed events above the prompt and keeps
// the completer in sync with capability changes.
func (r *REPL) notificationListener(ctx context.Context, notifCh <-chan Notification) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case n := <-notifCh:
			if r.notificationsEnabled() {
				if r.rl != nil {
					_, _ = r.rl.Stdout().Write([]byte("\r\033[K"))
				}
				r.printNotification(n)
			}

			switch n.(type) {
			case ConfigLoaded, ServerStarted, ServerStopped, CapabilitiesLoaded:
				if r.rl != nil {
					r.rl.Config.AutoComplete = r.createCompleter()
				}
			}

			if r.notificationsEnabled() && r.rl != nil {
				r.rl.Refresh()
			}
		}
	}
}

// buildPcItems converts a slice of strings to readline completer items
func buildPcItems(names []string) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, len(names))
	for i, name := range names {
		items[i] = readline.PcItem(name)
	}
	return items
}

// createCompleter creates the tab completion configuration from the
// current snapshot.
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	store := r.manager.Store()

	serverItems := buildPcItems(store.ServerIDs())

	var toolNames, resourceURIs, promptNames []string
	for _, t := range store.AllTools() {
		toolNames = append(toolNames, t.Name)
	}
	for _, res := range store.AllResources() {
		resourceURIs = append(resourceURIs, res.URI)
	}
	for _, p := range store.AllPrompts() {
		promptNames = append(promptNames, p.Name)
	}
	toolItems := buildPcItems(toolNames)
	resourceItems := buildPcItems(resourceURIs)
	promptItems := buildPcItems(promptNames)

	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("servers"),
		readline.PcItem("status", serverItems...),
		readline.PcItem("start", serverItems...),
		readline.PcItem("stop", serverItems...),
		readline.PcItem("restart", serverItems...),
		readline.PcItem("tools", serverItems...),
		readline.PcItem("resources", serverItems...),
		readline.PcItem("prompts", serverItems...),
		readline.PcItem("describe",
			readline.PcItem("tool", toolItems...),
			readline.PcItem("resource", resourceItems...),
			readline.PcItem("prompt", promptItems...),
		),
		readline.PcItem("call", append(buildPcItems(toolNames), serverItems...)...),
		readline.PcItem("read", serverItems...),
		readline.PcItem("prompt", serverItems...),
		readline.PcItem("search",
			readline.PcItem("tools"),
			readline.PcItem("resources"),
		),
		readline.PcItem("events"),
		readline.PcItem("health"),
		readline.PcItem("reload"),
		readline.PcItem("autostart"),
		readline.PcItem("reconnect"),
		readline.PcItem("ping"),
		readline.PcItem("notifications",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	}

	return readline.NewPrefixCompleter(items...)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"servers": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleServers()
		}},
		"status": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			if len(parts) > 1 {
				return r.handleServerStatus(ctx, parts[1])
			}
			return r.handleStatus(ctx)
		}},
		"start": {
			minArgs: 2,
			usage:   "usage: start <server-id>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleControl(ctx, ActionStart, parts[1])
			},
		},
		"stop": {
			minArgs: 2,
			usage:   "usage: stop <server-id>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleControl(ctx, ActionStop, parts[1])
			},
		},
		"restart": {
			minArgs: 2,
			usage:   "usage: restart <server-id>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleControl(ctx, ActionRestart, parts[1])
			},
		},
		"tools": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleTools(optionalArg(parts))
		}},
		"resources": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleResources(optionalArg(parts))
		}},
		"prompts": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handlePrompts(optionalArg(parts))
		}},
		"describe": {
			minArgs: 3,
			usage:   "usage: describe <tool|resource|prompt> <name>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleDescribe(parts[1], strings.Join(parts[2:], " "))
			},
		},
		"call": {
			minArgs: 2,
			usage:   "usage: call [<server-id>] <tool> [json-args]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleCallTool(ctx, parts[1:])
			},
		},
		"read": {
			minArgs: 3,
			usage:   "usage: read <server-id> <uri>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleReadResource(ctx, parts[1], parts[2])
			},
		},
		"prompt": {
			minArgs: 3,
			usage:   "usage: prompt <server-id> <prompt-name> [json-args]",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleGetPrompt(ctx, parts[1], parts[2], strings.Join(parts[3:], " "))
			},
		},
		"search": {
			minArgs: 3,
			usage:   "usage: search <tools|resources> <query>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleSearch(parts[1], strings.Join(parts[2:], " "))
			},
		},
		"events": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleEvents(optionalArg(parts))
		}},
		"health": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleHealth(ctx)
		}},
		"reload": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleReload(ctx)
		}},
		"autostart": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleAutoStart(ctx)
		}},
		"reconnect": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleReconnect(ctx)
		}},
		"ping": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handlePing(ctx)
		}},
		"notifications": {
			minArgs: 2,
			usage:   "usage: notifications <on|off>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleNotifications(parts[1])
			},
		},
	}
}

func optionalArg(parts []string) string {
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	fmt.Println("Available commands:")
	fmt.Println("  help, ?                        - Show this help message")
	fmt.Println("  servers                        - List configured servers")
	fmt.Println("  status [server]                - Show runtime status (all or one server)")
	fmt.Println("  start <server>                 - Start a server")
	fmt.Println("  stop <server>                  - Stop a server")
	fmt.Println("  restart <server>               - Restart a server")
	fmt.Println("  tools [server]                 - List tools (all or one server)")
	fmt.Println("  resources [server]             - List resources")
	fmt.Println("  prompts [server]               - List prompts")
	fmt.Println("  describe tool <name>           - Show a tool's schema")
	fmt.Println("  describe resource <uri>        - Show a resource's details")
	fmt.Println("  describe prompt <name>         - Show a prompt's arguments")
	fmt.Println("  call [server] <tool> {json}    - Execute a tool (server optional if unambiguous)")
	fmt.Println("  read <server> <uri>            - Read a resource")
	fmt.Println("  prompt <server> <name> {json}  - Retrieve a prompt")
	fmt.Println("  search tools <query>           - Search tools by name/description")
	fmt.Println("  search resources <query>       - Search resources by uri/name/description")
	fmt.Println("  events [n]                     - Show the last n events (default 20)")
	fmt.Println("  health                         - Show daemon health")
	fmt.Println("  reload                         - Reload the daemon's configuration")
	fmt.Println("  autostart                      - Start all auto-start servers")
	fmt.Println("  reconnect                      - Reconnect the event stream")
	fmt.Println("  ping                           - Measure round-trip time on the ws channel")
	fmt.Println("  notifications <on|off>         - Enable/disable event display")
	fmt.Println("  exit, quit                     - Exit the console")
	fmt.Println()
	fmt.Println("Keyboard shortcuts:")
	fmt.Println("  TAB                            - Auto-complete commands and arguments")
	fmt.Println("  ↑/↓ (arrow keys)               - Navigate command history")
	fmt.Println("  Ctrl+R                         - Search command history")
	fmt.Println("  Ctrl+C                         - Cancel current line")
	fmt.Println("  Ctrl+D                         - Exit console")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  call weather get_forecast {\"city\": \"Berlin\"}")
	fmt.Println("  read filesystem file:///etc/hosts")
	fmt.Println("  prompt assistant greeting {\"name\": \"Alice\"}")
	return nil
}

// handleNotifications enables or disables notification display
func (r *REPL) handleNotifications(setting string) error {
	switch strings.ToLower(setting) {
	case "on":
		r.setNotifications(true)
		fmt.Println("Notifications enabled")
	case "off":
		r.setNotifications(false)
		fmt.Println("Notifications disabled")
	default:
		return fmt.Errorf("invalid setting: %s. Use 'on' or 'off'", setting)
	}
	return nil
}
