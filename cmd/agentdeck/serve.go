package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	agentdeck "github.com/jxucoder/agentdeck"
	channelSlack "github.com/jxucoder/agentdeck/channel/slack"
	"github.com/jxucoder/agentdeck/share"
	sshSupervisor "github.com/jxucoder/agentdeck/supervisor/ssh"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentdeck server",
	Long:  "Start the agentdeck API server that manages agent sessions and group chats.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load config file into environment (non-destructive).
	loadConfigFileIntoEnv()

	setupLogging()

	cfg := agentdeck.Config{
		ServerAddr:   envOrDefault("AGENTDECK_ADDR", ":7080"),
		DataDir:      envOrDefault("AGENTDECK_DATA_DIR", ""),
		AgentsPath:   envOrDefault("AGENTDECK_AGENTS_FILE", ""),
		DefaultAgent: envOrDefault("AGENTDECK_DEFAULT_AGENT", "claude-code"),
		WatchAgents:  true,
	}

	builder := agentdeck.NewBuilder().WithConfig(cfg)

	// Run session processes on a remote host if configured.
	if host := os.Getenv("AGENTDECK_SSH_HOST"); host != "" {
		sup, err := sshSupervisor.New(sshSupervisor.Config{
			Host:    host,
			User:    os.Getenv("AGENTDECK_SSH_USER"),
			KeyPath: os.Getenv("AGENTDECK_SSH_KEY"),
		})
		if err != nil {
			return fmt.Errorf("configuring ssh supervisor: %w", err)
		}
		builder.WithSupervisor(sup)
		fmt.Printf("SSH supervisor enabled (%s)\n", host)
	}

	app, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Add gist sharing if configured.
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		builder.WithSharer(share.New(token, app.ChatStore()))
		fmt.Println("Gist sharing enabled")
	}

	// Add Slack notifier if configured.
	slackToken := os.Getenv("SLACK_BOT_TOKEN")
	slackChannel := os.Getenv("SLACK_CHANNEL_ID")
	if slackToken != "" && slackChannel != "" {
		var opts []channelSlack.Option
		if os.Getenv("SLACK_NOTIFY_ERRORS") != "" {
			opts = append(opts, channelSlack.WithErrorNotifications())
		}
		builder.WithChannel(channelSlack.New(slackToken, slackChannel, app.ChatStore(), app.Bus(), opts...))
		fmt.Println("Slack notifier enabled")
	}

	// Rebuild with the optional components added.
	app, err = builder.Build()
	if err != nil {
		return fmt.Errorf("rebuilding app: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

// setupLogging configures the global zerolog logger from AGENTDECK_LOG_LEVEL
// and AGENTDECK_LOG_FORMAT ("json" for machine output, console otherwise).
func setupLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv("AGENTDECK_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("AGENTDECK_LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// loadConfigFileIntoEnv reads ~/.agentdeck/config.env and sets any values not
// already present in the environment.
func loadConfigFileIntoEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".agentdeck", "config.env")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
