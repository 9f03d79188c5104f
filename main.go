// ember - conversation orchestration core for LLM chat bots.
//
// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emberbot/ember/internal/audit"
	"github.com/emberbot/ember/internal/backend"
	"github.com/emberbot/ember/internal/config"
	"github.com/emberbot/ember/internal/conversation"
	"github.com/emberbot/ember/internal/guard"
	"github.com/emberbot/ember/internal/orchestrator"
	"github.com/emberbot/ember/internal/prompt"
	"github.com/emberbot/ember/internal/quota"
	"github.com/emberbot/ember/internal/registry"
	"github.com/emberbot/ember/internal/settings"
	"github.com/emberbot/ember/internal/spam"
	"github.com/emberbot/ember/internal/websearch"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const usageText = `ember - conversation orchestration core for LLM chat bots

The binary runs the core standalone: a local console stands in for the
hosting chat platform so the pipeline can be exercised end to end.

Usage:
  ember [flags]             Interactive console (default)
  ember check               Probe backend reachability
  ember version             Print version

Flags:
  -config PATH              Config file (default: $EMBER_DATA_DIR/config.toml)
  -user ID                  Sender identity for the console session
  -guild ID                 Guild identity for the console session

Console commands:
  /models                   List available models
  /model NAME               Switch model for this user
  /status                   Show today's quota for the active model
  /clear                    Clear conversation history
  /regen                    Regenerate the last response
  /quit                     Exit
`

func main() {
	var (
		configPath = flag.String("config", "", "config file path")
		userID     = flag.String("user", "console", "sender identity")
		guildID    = flag.String("guild", "console", "guild identity")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("ember %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	case "check":
		runCheck(*configPath)
		return
	case "":
		runConsole(*configPath, *guildID, *userID)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// =============================================================================
// CHECK
// =============================================================================

func runCheck(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	client := backend.NewClient(clientConfig(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, probe := range []struct {
		name  string
		cloud bool
		url   string
	}{
		{"cloud", true, cfg.Backend.CloudURL},
		{"local", false, cfg.Backend.LocalURL},
	} {
		if err := client.CheckRunning(ctx, probe.cloud); err != nil {
			fmt.Printf("%-5s %s: unreachable (%v)\n", probe.name, probe.url, err)
		} else {
			fmt.Printf("%-5s %s: ok\n", probe.name, probe.url)
		}
	}
}

// =============================================================================
// CONSOLE
// =============================================================================

func runConsole(configPath, guildID, userID string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	o, cleanup, err := build(cfg)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	fmt.Printf("ember %s console (guild=%s user=%s). /quit to exit.\n",
		Version, guildID, userID)

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, o, guildID, userID, line); quit {
				return
			}
			continue
		}

		req := orchestrator.Request{
			GuildID:     guildID,
			ChannelID:   "console",
			UserID:      userID,
			MessageID:   fmt.Sprintf("console-%d", time.Now().UnixNano()),
			UserName:    userID,
			ChannelName: "console",
			Text:        line,
		}
		lastMessageID = req.MessageID
		printResult(o.Chat(ctx, req))
	}
}

// lastMessageID lets /regen target the most recent console message.
var lastMessageID string

func command(ctx context.Context, o *orchestrator.Orchestrator, guildID, userID, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	switch cmd {
	case "quit", "exit":
		return true
	case "models":
		for _, m := range o.ListModels() {
			marker := " "
			if cur, err := o.GetUserModel(ctx, guildID, userID); err == nil && cur.ID == m.ID {
				marker = "*"
			}
			fmt.Printf("%s %-10s %s\n", marker, m.ID, m.Description)
		}
	case "model":
		if arg == "" {
			fmt.Println("usage: /model NAME")
			return false
		}
		if err := o.SetUserModel(ctx, guildID, userID, arg); err != nil {
			fmt.Printf("cannot switch: %v\n", err)
			return false
		}
		fmt.Printf("model set to %s\n", arg)
	case "status":
		m, err := o.GetUserModel(ctx, guildID, userID)
		if err != nil {
			fmt.Printf("status: %v\n", err)
			return false
		}
		st, err := o.QuotaStatus(userID, m.ID)
		if err != nil {
			fmt.Printf("status: %v\n", err)
			return false
		}
		if st.Limit == 0 {
			fmt.Printf("%s: unlimited\n", m.ID)
		} else {
			fmt.Printf("%s: %d/%d used today, %d remaining\n",
				m.ID, st.Used, st.Limit, st.Remaining)
		}
	case "clear":
		n, err := o.ClearConversation(ctx, guildID, userID, "")
		if err != nil {
			fmt.Printf("clear: %v\n", err)
			return false
		}
		fmt.Printf("cleared %d stored messages\n", n)
	case "regen":
		if lastMessageID == "" {
			fmt.Println("nothing to regenerate yet")
			return false
		}
		fmt.Println("regenerate is per message; resend the message text:")
		fmt.Println("usage: /regen TEXT")
		if arg != "" {
			printResult(o.Regenerate(ctx, orchestrator.Request{
				GuildID:     guildID,
				ChannelID:   "console",
				UserID:      userID,
				MessageID:   lastMessageID,
				UserName:    userID,
				ChannelName: "console",
				Text:        arg,
			}))
		}
	default:
		fmt.Printf("unknown command: /%s\n", cmd)
	}
	return false
}

func printResult(res *orchestrator.Result, err error) {
	if err != nil {
		fmt.Printf("refused: %v\n", err)
		return
	}
	if res.Suppressed {
		fmt.Println("(suppressed)")
		return
	}
	if res.ThinkingDuration > 0 {
		fmt.Printf("(thought for %s)\n", res.ThinkingDuration.Round(time.Second))
	}
	for _, chunk := range res.Chunks {
		fmt.Println(chunk)
	}
}

// =============================================================================
// WIRING
// =============================================================================

func clientConfig(cfg *config.Config) *backend.ClientConfig {
	return &backend.ClientConfig{
		CloudURL:        cfg.Backend.CloudURL,
		LocalURL:        cfg.Backend.LocalURL,
		ChatTimeout:     time.Duration(cfg.Backend.ChatTimeoutSecs) * time.Second,
		ThinkingTimeout: time.Duration(cfg.Backend.ThinkingTimeoutSecs) * time.Second,
		StreamTimeout:   time.Duration(cfg.Backend.StreamTimeoutSecs) * time.Second,
	}
}

// modelRegistry builds the model table with the configured daily
// budgets applied over the built-in defaults.
func modelRegistry(cfg *config.Config) (*registry.Registry, error) {
	models := registry.NewRegistry().All()
	for i := range models {
		switch models[i].ID {
		case "sage":
			if cfg.Limits.SageDailyChars > 0 {
				limit := cfg.Limits.SageDailyChars
				models[i].DailyLimit = &limit
			}
		case "lens":
			if cfg.Limits.LensDailyImages > 0 {
				limit := cfg.Limits.LensDailyImages
				models[i].DailyLimit = &limit
			}
		}
	}
	return registry.NewRegistryWithModels(models, registry.DefaultModelID)
}

// build constructs the orchestrator and its stores from config. The
// returned cleanup closes every store.
func build(cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("data dir: %w", err)
	}

	reg, err := modelRegistry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("model registry: %w", err)
	}

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*orchestrator.Orchestrator, func(), error) {
		cleanup()
		return nil, nil, err
	}

	conv, err := conversation.Open(filepath.Join(dataDir, "conversations.db"), cfg.Prompt.MaxConversationLen)
	if err != nil {
		return fail(fmt.Errorf("conversation store: %w", err))
	}
	closers = append(closers, conv.Close)

	qt, err := quota.Open(filepath.Join(dataDir, "quota.db"), reg, cfg.OwnerID)
	if err != nil {
		return fail(fmt.Errorf("quota tracker: %w", err))
	}
	closers = append(closers, qt.Close)

	st, err := settings.Open(filepath.Join(dataDir, "settings.db"), cfg.DefaultModel)
	if err != nil {
		return fail(fmt.Errorf("settings store: %w", err))
	}
	closers = append(closers, st.Close)

	al, err := audit.NewLogger(filepath.Join(dataDir, "audit.log"))
	if err != nil {
		return fail(fmt.Errorf("audit log: %w", err))
	}
	al.SetEnabled(cfg.Audit.Enabled)
	if cfg.Audit.MaxSizeMB > 0 {
		al.SetMaxSize(int64(cfg.Audit.MaxSizeMB) * 1024 * 1024)
	}
	closers = append(closers, al.Close)

	var searcher *websearch.Searcher
	if cfg.Search.Enabled {
		searcher = websearch.NewSearcher(websearch.Config{
			MaxResults:   cfg.Search.MaxResults,
			MaxPages:     cfg.Search.MaxPages,
			FetchTimeout: time.Duration(cfg.Search.FetchTimeoutSecs) * time.Second,
		})
	}

	o := orchestrator.New(orchestrator.Deps{
		OwnerID:  cfg.OwnerID,
		Registry: reg,
		Conv:     conv,
		Quota:    qt,
		Guard:    guard.New(cfg.OwnerID),
		Spam:     spam.NewDetector(cfg.Spam.StreakThreshold),
		Composer: prompt.NewComposer(cfg.Prompt.ReminderInterval, cfg.Prompt.HistoryWindow),
		Client:   backend.NewClient(clientConfig(cfg)),
		Searcher: searcher,
		Settings: st,
		Audit:    al,
	})
	return o, cleanup, nil
}
