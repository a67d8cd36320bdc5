package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/calyptra/tether/internal/cache"
	"github.com/calyptra/tether/internal/chat"
	"github.com/calyptra/tether/internal/config"
	"github.com/calyptra/tether/internal/logging"
	"github.com/calyptra/tether/internal/realtime"
	"github.com/calyptra/tether/internal/retry"
	"github.com/calyptra/tether/internal/session"
)

// saveInterval is how often the active conversation is written to the cache.
const saveInterval = 30 * time.Second

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [session-id]",
	Short: "Bind a session and stream live updates to the terminal",
	Long: `Connect to the backend, bind a session, and print workflow status,
agent execution, typing and recommendation updates as they arrive.

Lines typed at the prompt are sent as chat messages; sends that fail with a
transient error are retried automatically with exponential backoff. Slash
commands act on the live channel:

  /typing on|off   send a typing indicator
  /cancel          cancel the running workflow
  /status          request a one-shot workflow status report
  /retries         show the state of pending message retries
  /quit            disconnect and exit

Without a session-id argument a new session id is generated. Passing the id
of a cached conversation resumes it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger := logging.CLI()

	sessionID := ""
	if len(args) > 0 {
		sessionID = args[0]
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	store, err := cache.NewStore(cache.Config{
		MaxRecords: cfg.Cache.MaxRecords,
		MaxAge:     cfg.Cache.MaxAge.Std(),
	})
	if err != nil {
		return fmt.Errorf("failed to open conversation cache: %w", err)
	}

	conv := newConversation(sessionID, store)
	if rec, ok := store.Load(sessionID); ok {
		conv.restore(rec)
		fmt.Printf("Resumed conversation %s (%d messages, last activity %s)\n",
			sessionID, rec.Metadata.MessageCount,
			rec.Metadata.LastActivity.Format(time.RFC3339))
	} else {
		fmt.Printf("Session %s\n", sessionID)
	}

	queue := retry.New(retry.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay.Std(),
		Multiplier: cfg.Retry.Multiplier,
	})
	defer queue.Stop()

	mgr := realtime.NewManager(realtime.Config{
		URL:                  cfg.Server.URL,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout.Std(),
		HeartbeatInterval:    cfg.Realtime.HeartbeatInterval.Std(),
		BaseDelay:            cfg.Realtime.ReconnectBaseDelay.Std(),
		MaxDelay:             cfg.Realtime.ReconnectMaxDelay.Std(),
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	})
	router := session.NewRouter(mgr, nil)
	defer router.Disconnect()

	registerPrinters(router, conv)

	if err := router.Connect(sessionID); err != nil {
		// Reconnection is already scheduled; keep the terminal usable.
		fmt.Printf("! connection failed (%v), retrying in background\n", err)
	}

	// Hot-reload the log level when the config file changes.
	if watcher, werr := config.Watch(effectiveConfigPath(), func(c *config.Config) {
		logging.SetLevel(c.Log.Level)
	}, logger); werr == nil {
		defer watcher.Close()
	} else {
		logger.Debug("config watcher unavailable", "error", werr)
	}

	var sender *chat.Client
	if cfg.Server.MessageURL != "" {
		sender = chat.NewClient(cfg.Server.MessageURL, chat.DefaultTimeout)
	} else {
		fmt.Println("! no message_url configured; chat sending disabled")
	}

	// Periodically persist the conversation so a crash loses little.
	stopSaver := make(chan struct{})
	go func() {
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conv.save()
			case <-stopSaver:
				return
			}
		}
	}()
	defer func() {
		close(stopSaver)
		conv.save()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case line == "/cancel":
			router.SendWorkflowCancellation()
			fmt.Println("cancellation requested")
		case line == "/status":
			router.RequestWorkflowStatus()
		case line == "/retries":
			printRetries(queue)
		case strings.HasPrefix(line, "/typing"):
			router.SendTypingIndicator(strings.TrimSpace(strings.TrimPrefix(line, "/typing")) != "off")
		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %s\n", line)
		default:
			sendChatMessage(sender, queue, conv, sessionID, line)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// registerPrinters wires the typed update streams to terminal output.
func registerPrinters(router *session.Router, conv *conversation) {
	router.OnStatus(func(s realtime.State) {
		switch s.Status {
		case realtime.StatusConnecting:
			if s.ReconnectAttempts > 0 {
				fmt.Printf("… reconnecting (attempt %d)\n", s.ReconnectAttempts)
			}
		case realtime.StatusConnected:
			fmt.Println("✓ connected")
		case realtime.StatusError:
			fmt.Printf("✗ connection lost: %s\n", s.LastError)
		case realtime.StatusDisconnected:
			fmt.Println("- disconnected")
		}
	})
	router.OnWorkflowStatus(func(u session.WorkflowStatusUpdate) {
		fmt.Printf("[workflow] %s %s (%.0f%%) %s\n", u.Status, u.CurrentStep, u.Progress, u.Message)
		conv.add("system", fmt.Sprintf("workflow %s: %s", u.Status, u.Message))
	})
	router.OnAgentExecution(func(u session.AgentExecutionUpdate) {
		fmt.Printf("[agent] %s: %s %s\n", u.Agent, u.Phase, u.Detail)
	})
	router.OnTyping(func(u session.TypingIndicatorUpdate) {
		if u.IsTyping {
			fmt.Println("[typing] assistant is typing…")
		}
	})
	router.OnRecommendation(func(u session.RecommendationUpdate) {
		fmt.Printf("[packages] %d recommendation(s)\n", len(u.Packages))
		for _, p := range u.Packages {
			fmt.Printf("  - %s (%s)\n", p.Name, p.ID)
		}
		conv.setPackages(len(u.Packages) > 0)
	})
	router.OnError(func(u session.ErrorUpdate) {
		fmt.Printf("[error] %s\n", u.Message)
	})
}

// sendChatMessage posts a message and hands transient failures to the queue.
func sendChatMessage(sender *chat.Client, queue *retry.Queue, conv *conversation, sessionID, text string) {
	if sender == nil {
		fmt.Println("! chat sending disabled")
		return
	}

	conv.add("user", text)
	msg := chat.Message{
		SessionID:       sessionID,
		Text:            text,
		ClientMessageID: uuid.NewString(),
	}

	err := sender.Send(context.Background(), msg)
	if err == nil {
		return
	}

	callback := func(payload any) error {
		m := payload.(chat.Message)
		return sender.Send(context.Background(), m)
	}
	if queue.Register(msg.ClientMessageID, msg, err, callback) {
		fmt.Printf("! send failed (%v); will retry automatically\n", err)
		return
	}
	fmt.Printf("! send failed (%v)\n  %s\n", err,
		retry.RecoverySuggestion(retry.Classify(err)))
}

// printRetries shows the pending retry state for the UI-equivalent surface.
func printRetries(queue *retry.Queue) {
	items := queue.ActiveRetries()
	if len(items) == 0 {
		fmt.Println("no pending retries")
		return
	}
	for _, it := range items {
		state := "waiting"
		if it.IsRetrying {
			state = "retrying"
		} else if !it.CanRetry {
			state = "failed"
		}
		line := fmt.Sprintf("%s: %s, %d attempt(s)", it.ID, state, len(it.Attempts))
		if it.NextRetryAt != nil {
			line += fmt.Sprintf(", next in %s", time.Until(*it.NextRetryAt).Round(time.Second))
		}
		if !it.CanRetry {
			line += " — " + retry.RecoverySuggestion(it.Category)
		}
		fmt.Println(line)
	}
}

// chatRecord is one message in the cached conversation payload.
type chatRecord struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// conversation accumulates the visible transcript and persists it.
type conversation struct {
	sessionID string
	store     *cache.Store

	mu          sync.Mutex
	messages    []chatRecord
	mode        string
	hasPackages bool
}

func newConversation(sessionID string, store *cache.Store) *conversation {
	return &conversation{sessionID: sessionID, store: store}
}

// restore loads the message list from a cached record.
func (c *conversation) restore(rec cache.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []chatRecord
	if err := json.Unmarshal(rec.Messages, &msgs); err == nil {
		c.messages = msgs
	}
	c.mode = rec.Metadata.Mode
	c.hasPackages = rec.Metadata.HasPackages
}

func (c *conversation) add(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, chatRecord{Role: role, Text: text, Timestamp: time.Now()})
}

func (c *conversation) setPackages(has bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPackages = has
}

// save writes the transcript and its summary metadata to the cache.
func (c *conversation) save() {
	c.mu.Lock()
	msgs := append([]chatRecord(nil), c.messages...)
	mode := c.mode
	hasPackages := c.hasPackages
	c.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	payload, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	c.store.Save(cache.Record{
		SessionID: c.sessionID,
		Messages:  payload,
		Metadata: cache.Metadata{
			MessageCount: len(msgs),
			LastActivity: msgs[len(msgs)-1].Timestamp,
			Mode:         mode,
			HasPackages:  hasPackages,
		},
	})
}
