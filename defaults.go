package agentdeck

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jxucoder/agentdeck/agent"
	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/store"
	sqliteStore "github.com/jxucoder/agentdeck/store/sqlite"
	localSupervisor "github.com/jxucoder/agentdeck/supervisor/local"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "agentdeck.db")
	}
	if b.config.AgentsPath == "" {
		b.config.AgentsPath = filepath.Join(b.config.DataDir, "agents.yaml")
	}
	if b.config.ChatsDir == "" {
		b.config.ChatsDir = filepath.Join(b.config.DataDir, "chats")
	}
	if b.config.DefaultAgent == "" {
		b.config.DefaultAgent = "claude-code"
	}

	// Ensure data dirs exist.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(b.config.ChatsDir, 0o755); err != nil {
		return fmt.Errorf("creating chats directory: %w", err)
	}

	// Stores. The SQLite store serves both interfaces unless overridden.
	if b.sessions == nil || b.chats == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		if b.sessions == nil {
			b.sessions = st
		}
		if b.chats == nil {
			b.chats = st
		}
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Process supervisor.
	if b.sup == nil {
		b.sup = localSupervisor.New()
	}

	// Agent registry.
	if b.agents == nil {
		reg, err := agent.Load(b.config.AgentsPath)
		if err != nil {
			return fmt.Errorf("loading agent registry: %w", err)
		}
		b.agents = reg
	}

	return nil
}

// Interface checks for the default store.
var (
	_ store.SessionStore   = (*sqliteStore.Store)(nil)
	_ store.GroupChatStore = (*sqliteStore.Store)(nil)
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentdeck"
	}
	return filepath.Join(home, ".agentdeck")
}
