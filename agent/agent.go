// Package agent manages the registry of coding agent CLIs that sessions and
// chats can run, loaded from YAML with built-in defaults.
package agent

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"gopkg.in/yaml.v3"
)

// Agent launch modes.
const (
	// ModeInteractive agents are spawned once at session creation and fed
	// messages over stdin.
	ModeInteractive = "interactive"
	// ModeBatch agents are spawned per message with the prompt on stdin,
	// resuming prior context via ResumeFlag.
	ModeBatch = "batch"
)

// TerminalID is the fixed registry id of the terminal shell agent.
const TerminalID = "terminal"

// Agent describes one runnable agent CLI.
type Agent struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Mode is "interactive" or "batch" (default "batch").
	Mode string `yaml:"mode"`
	// ResumeFlag, when set, is appended along with the stored resume token
	// on repeat batch spawns (e.g. "--resume").
	ResumeFlag string   `yaml:"resume_flag"`
	Env        []string `yaml:"env"`
	// Available reports whether Command resolves on PATH.
	Available bool `yaml:"-"`
}

// config is the top-level YAML structure of agents.yaml.
type config struct {
	Agents []*Agent `yaml:"agents"`
}

// Registry holds the known agents, keyed by id. File entries override
// built-ins with the same id; reloads are safe while in use.
type Registry struct {
	mu    sync.RWMutex
	path  string
	byID  map[string]*Agent
	order []string
}

// builtins returns the default agent set. The terminal agent always exists
// and runs the user's shell.
func builtins() []*Agent {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "bash"
	}
	return []*Agent{
		{
			ID:         "claude-code",
			Name:       "Claude Code",
			Command:    "claude",
			Args:       []string{"-p"},
			Mode:       ModeBatch,
			ResumeFlag: "--resume",
		},
		{
			ID:      "codex",
			Name:    "Codex",
			Command: "codex",
			Args:    []string{"exec"},
			Mode:    ModeBatch,
		},
		{
			ID:      "opencode",
			Name:    "OpenCode",
			Command: "opencode",
			Mode:    ModeInteractive,
		},
		{
			ID:      TerminalID,
			Name:    "Terminal",
			Command: shell,
			Mode:    ModeInteractive,
		},
	}
}

// Load reads the YAML file at path and returns a Registry seeded with the
// built-in agents. A missing file is not an error.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStatic builds a registry from a fixed agent list. Availability is
// taken as given, which makes it the registry of choice in tests.
func NewStatic(agents []*Agent) *Registry {
	r := &Registry{byID: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		if a.Mode == "" {
			a.Mode = ModeBatch
		}
		r.byID[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	return r
}

// Reload re-reads the registry file, replacing the current agent set.
func (r *Registry) Reload() error {
	agents := builtins()

	if r.path != "" {
		data, err := os.ReadFile(r.path)
		switch {
		case os.IsNotExist(err):
			// Built-ins only.
		case err != nil:
			return fmt.Errorf("reading agent registry: %w", err)
		default:
			var cfg config
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parsing agent registry: %w", err)
			}
			agents = merge(agents, cfg.Agents)
		}
	}

	byID := make(map[string]*Agent, len(agents))
	var order []string
	for _, a := range agents {
		if a.ID == "" || a.Command == "" {
			return fmt.Errorf("agent entry missing id or command: %+v", a)
		}
		if a.Mode == "" {
			a.Mode = ModeBatch
		}
		if a.Mode != ModeInteractive && a.Mode != ModeBatch {
			return fmt.Errorf("agent %s: unknown mode %q", a.ID, a.Mode)
		}
		_, err := exec.LookPath(a.Command)
		a.Available = err == nil
		byID[a.ID] = a
		order = append(order, a.ID)
	}

	r.mu.Lock()
	r.byID = byID
	r.order = order
	r.mu.Unlock()
	return nil
}

// merge overlays file entries onto the built-ins, preserving built-in order
// and appending new ids.
func merge(base, overrides []*Agent) []*Agent {
	byID := make(map[string]int, len(base))
	for i, a := range base {
		byID[a.ID] = i
	}
	for _, o := range overrides {
		if i, ok := byID[o.ID]; ok {
			base[i] = o
			continue
		}
		byID[o.ID] = len(base)
		base = append(base, o)
	}
	return base
}

// Get returns an agent by id.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// List returns all agents in definition order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

// Terminal returns the terminal shell agent.
func (r *Registry) Terminal() *Agent {
	a, _ := r.Get(TerminalID)
	return a
}
