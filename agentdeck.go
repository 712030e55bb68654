// Package agentdeck is the top-level entry point for the agentdeck daemon.
//
// Use the Builder to compose an application:
//
//	app, err := agentdeck.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := agentdeck.NewBuilder().
//	    WithSupervisor(mySupervisor).
//	    WithSessionStore(myStore).
//	    Build()
package agentdeck

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jxucoder/agentdeck/agent"
	"github.com/jxucoder/agentdeck/channel"
	"github.com/jxucoder/agentdeck/eventbus"
	"github.com/jxucoder/agentdeck/groupchat"
	"github.com/jxucoder/agentdeck/httpapi"
	"github.com/jxucoder/agentdeck/runtime"
	"github.com/jxucoder/agentdeck/store"
	"github.com/jxucoder/agentdeck/supervisor"
)

// Config holds top-level configuration for an agentdeck application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.agentdeck").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// AgentsPath is the path to the agents.yaml registry file.
	AgentsPath string

	// ChatsDir is the directory where chat transcript files are created.
	ChatsDir string

	// DefaultAgent substitutes for a corrupted AI agent during session
	// restore (default "claude-code").
	DefaultAgent string

	// WatchAgents enables hot reload of the agent registry file.
	WatchAgents bool
}

// Builder constructs an agentdeck App.
type Builder struct {
	config   Config
	sessions store.SessionStore
	chats    store.GroupChatStore
	bus      eventbus.Bus
	sup      supervisor.Runtime
	agents   *agent.Registry
	sharer   httpapi.Sharer
	channels []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithSessionStore sets the session store implementation.
func (b *Builder) WithSessionStore(s store.SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithGroupChatStore sets the group-chat store implementation.
func (b *Builder) WithGroupChatStore(s store.GroupChatStore) *Builder {
	b.chats = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithSupervisor sets the process supervisor the sessions and chats run on.
func (b *Builder) WithSupervisor(s supervisor.Runtime) *Builder {
	b.sup = s
	return b
}

// WithAgents sets the agent registry.
func (b *Builder) WithAgents(r *agent.Registry) *Builder {
	b.agents = r
	return b
}

// WithSharer sets the transcript sharer exposed on the chat share endpoint.
func (b *Builder) WithSharer(s httpapi.Sharer) *Builder {
	b.sharer = s
	return b
}

// WithChannel adds a notification channel to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	rt := runtime.NewRuntime(
		runtime.Config{DefaultAgentID: b.config.DefaultAgent},
		b.sessions, b.agents, b.sup, b.bus,
	)

	chats := groupchat.NewRouter(
		groupchat.Config{ChatsDir: b.config.ChatsDir},
		b.chats, b.agents, b.sup, b.bus, rt,
	)

	handler := httpapi.New(rt, chats, b.sessions, b.chats, b.agents, b.bus, b.sharer)

	return &App{
		config:   b.config,
		sessions: rt,
		chats:    chats,
		sstore:   b.sessions,
		cstore:   b.chats,
		bus:      b.bus,
		agents:   b.agents,
		handler:  handler,
		channels: b.channels,
	}, nil
}

// App is a running agentdeck application.
type App struct {
	config   Config
	sessions *runtime.Runtime
	chats    *groupchat.Router
	sstore   store.SessionStore
	cstore   store.GroupChatStore
	bus      eventbus.Bus
	agents   *agent.Registry
	handler  *httpapi.Handler
	channels []channel.Channel
}

// Runtime returns the session runtime for direct access.
func (a *App) Runtime() *runtime.Runtime { return a.sessions }

// Chats returns the group-chat router for direct access.
func (a *App) Chats() *groupchat.Router { return a.chats }

// Handler returns the HTTP handler.
func (a *App) Handler() *httpapi.Handler { return a.handler }

// Bus returns the event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// ChatStore returns the group-chat store.
func (a *App) ChatStore() store.GroupChatStore { return a.cstore }

// Start restores persisted sessions, starts the HTTP server and all
// channels, and blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.sessions.Start(ctx)
	a.chats.Start(ctx)

	// Persisted sessions never have live processes after a restart.
	a.sessions.RestoreAll()

	if a.config.WatchAgents {
		if err := a.agents.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Agent registry watch failed, hot reload disabled")
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, ch := range a.channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Run(ctx); err != nil {
				log.Error().Err(err).Str("channel", ch.Name()).Msg("Channel stopped")
			}
			return nil
		})
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		log.Info().Str("addr", a.config.ServerAddr).Msg("agentdeck server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := g.Wait()

	a.chats.Stop()
	a.sessions.Stop()

	if cerr := a.sstore.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
