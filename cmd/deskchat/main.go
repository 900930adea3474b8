// ABOUTME: Interactive terminal client for the deskchat synchronization engine.
// ABOUTME: Readline-style input with slash commands for trades, watchlist, and session control.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/deskchat/internal/chat"
	"github.com/2389/deskchat/internal/config"
	"github.com/2389/deskchat/internal/engine"
)

// getConfigPath returns the path to the deskchat config file.
// Priority: DESKCHAT_CONFIG env var > XDG_CONFIG_HOME/deskchat/deskchat.yaml
// > ~/.config/deskchat/deskchat.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DESKCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "deskchat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "deskchat", "deskchat.yaml")
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: auto-detect)")
	wsURL := flag.String("ws", "", "Override streaming endpoint URL")
	httpURL := flag.String("server", "", "Override HTTP endpoint URL")
	userName := flag.String("name", "", "Override display name for messages")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = getConfigPath()
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *wsURL != "" {
		cfg.Gateway.WSURL = *wsURL
	}
	if *httpURL != "" {
		cfg.Gateway.HTTPURL = *httpURL
	}
	if *userName != "" {
		cfg.User.Name = *userName
	}

	logger := setupLogger(cfg.Logging)

	fmt.Printf("deskchat connected to %s\n", cfg.Gateway.HTTPURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng := engine.New(cfg, logger)

	printer := newPrinter()
	eng.OnMessagesChanged(func() { printer.render(eng.Messages()) })
	eng.OnState(func(st engine.ConnectionState) { printer.renderState(st) })

	eng.Start(ctx)
	defer eng.Shutdown()

	if err := run(ctx, eng); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, eng *engine.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(ctx, eng, line); quit {
				return nil
			}
			continue
		}

		// Mentions (@agent) and tickers ($SYM) ride along with the text.
		mentions, symbols := parseMarkup(line)
		go func(text string) {
			if _, err := eng.SendMessage(ctx, text, mentions, symbols); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}(line)
	}
}

// handleCommand dispatches a slash command. Returns true to quit.
func handleCommand(ctx context.Context, eng *engine.Engine, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /watch SYM     add a symbol to the watch set")
		fmt.Println("  /unwatch SYM   remove a symbol from the watch set")
		fmt.Println("  /symbols       list watched symbols")
		fmt.Println("  /confirm ID    confirm a pending trade proposal")
		fmt.Println("  /reject ID     reject a pending trade proposal")
		fmt.Println("  /status        show connection state")
		fmt.Println("  /context       push the current watch context to the agents")
		fmt.Println("  /clear         clear the conversation (local and remote)")
		fmt.Println("  /reset         re-arm a disabled stream and reconnect")
		fmt.Println("  /quit          exit")

	case "/watch":
		if eng.WatchSymbol(arg) {
			fmt.Printf("watching %s\n", strings.ToUpper(arg))
		} else {
			fmt.Println("no change")
		}

	case "/unwatch":
		if eng.UnwatchSymbol(arg) {
			fmt.Printf("stopped watching %s\n", strings.ToUpper(arg))
		} else {
			fmt.Println("no change")
		}

	case "/symbols":
		fmt.Printf("watched: %s\n", strings.Join(eng.WatchedSymbols(), ", "))

	case "/confirm":
		if err := eng.ConfirmTrade(ctx, arg); err != nil {
			fmt.Fprintf(os.Stderr, "confirm failed (proposal still pending): %v\n", err)
		}

	case "/reject":
		if err := eng.RejectTrade(ctx, arg); err != nil {
			fmt.Fprintf(os.Stderr, "reject failed (proposal still pending): %v\n", err)
		}

	case "/context":
		eng.PushContext(nil)
		fmt.Println("context pushed")

	case "/status":
		st := eng.State()
		fmt.Printf("stream connected=%v attempt=%d disabled=%v fallback=%v session=%s\n",
			st.Connected, st.Attempt, st.Disabled, st.FallbackAvailable, eng.SessionID())

	case "/clear":
		deleted, err := eng.ClearConversation(ctx)
		if err == nil {
			fmt.Printf("cleared (%d remote entries deleted)\n", deleted)
		}

	case "/reset":
		eng.ResetStream(ctx)

	default:
		fmt.Printf("unknown command %s (try /help)\n", cmd)
	}

	return false
}

// parseMarkup extracts @agent mentions and $TICKER references from a line.
func parseMarkup(line string) (mentions, symbols []string) {
	for _, tok := range strings.Fields(line) {
		tok = strings.TrimRight(tok, ".,!?:;")
		switch {
		case strings.HasPrefix(tok, "@") && len(tok) > 1:
			mentions = append(mentions, strings.TrimPrefix(tok, "@"))
		case strings.HasPrefix(tok, "$") && len(tok) > 1:
			symbols = append(symbols, strings.ToUpper(strings.TrimPrefix(tok, "$")))
		}
	}
	return mentions, symbols
}

// printer renders newly arrived or updated messages without repainting the
// whole transcript.
type printer struct {
	mu      sync.Mutex
	printed map[string]string // message id -> last rendered content+status
}

func newPrinter() *printer {
	return &printer{printed: make(map[string]string)}
}

func (p *printer) render(messages []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, msg := range messages {
		if msg.Streaming {
			// Repainted once the stream completes.
			continue
		}
		key := msg.Content
		if msg.Proposal != nil {
			key += "|" + string(msg.Proposal.Status)
		}
		if p.printed[msg.ID] == key {
			continue
		}
		p.printed[msg.ID] = key
		p.print(msg)
	}
}

func (p *printer) print(msg chat.Message) {
	ts := color.HiBlackString(msg.CreatedAt.Format("15:04:05"))

	switch msg.Kind {
	case chat.KindUser:
		fmt.Printf("\n%s %s %s\n", ts, color.GreenString("you:"), msg.Content)
	case chat.KindAgent:
		fmt.Printf("\n%s %s %s\n", ts, color.CyanString(msg.Speaker+":"), msg.Content)
	case chat.KindSystem:
		fmt.Printf("\n%s %s\n", ts, color.YellowString(msg.Content))
	case chat.KindTradeProposal:
		p.printProposal(ts, msg)
	}
}

func (p *printer) printProposal(ts string, msg chat.Message) {
	prop := msg.Proposal
	header := color.MagentaString("trade proposal")
	if prop == nil {
		fmt.Printf("\n%s %s %s\n", ts, header, msg.Content)
		return
	}

	statusColor := color.YellowString
	switch prop.Status {
	case chat.StatusExecuted:
		statusColor = color.GreenString
	case chat.StatusRejected, chat.StatusFailed:
		statusColor = color.RedString
	}

	fmt.Printf("\n%s %s [%s] %s %s x%s (%s)\n", ts, header,
		statusColor(string(prop.Status)),
		strings.ToUpper(string(prop.Side)), prop.Symbol,
		prop.Quantity.String(), prop.ProposalID)
	if msg.Content != "" {
		fmt.Printf("  %s\n", msg.Content)
	}
	if prop.Status == chat.StatusPending {
		fmt.Printf("  %s\n", color.HiBlackString("/confirm "+prop.ProposalID+"  or  /reject "+prop.ProposalID))
	}
}

func (p *printer) renderState(st engine.ConnectionState) {
	switch {
	case st.Disabled:
		fmt.Printf("\n%s\n", color.RedString("[stream disabled after repeated failures; using fallback, /reset to retry]"))
	case !st.Connected && st.Attempt > 0:
		fmt.Printf("\n%s\n", color.YellowString(fmt.Sprintf("[stream disconnected, reconnect attempt %d]", st.Attempt)))
	case st.Connected:
		fmt.Printf("\n%s\n", color.GreenString("[stream connected]"))
	}
}
