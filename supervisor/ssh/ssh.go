// Package ssh implements supervisor.Runtime by running agent processes on a
// remote host via SSH. This lets agentdeck keep heavyweight coding agents on
// a beefier box while the daemon runs locally.
//
// Usage:
//
//	runtime, err := ssh.New(ssh.Config{
//	    Host:    "dev.example.com:22",
//	    User:    "deploy",
//	    KeyPath: "/home/user/.ssh/id_ed25519",
//	})
//	builder.WithSupervisor(runtime)
package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/jxucoder/agentdeck/supervisor"
)

// Config holds SSH connection settings.
type Config struct {
	// Host is the remote host in "host:port" format (e.g. "dev.example.com:22").
	Host string
	// User is the SSH user.
	User string
	// KeyPath is the path to the SSH private key file.
	KeyPath string
	// Shell is the remote shell used to launch commands (default "sh").
	Shell string
}

// Runtime implements supervisor.Runtime over SSH. Each spawned process is
// one ssh client; killing the client tears down the remote command.
type Runtime struct {
	config Config

	mu    sync.Mutex
	procs map[string]*process
}

// New creates a new SSH-based runtime.
func New(cfg Config) (*Runtime, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh: Host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh: User is required")
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh: KeyPath is required")
	}
	if _, err := os.Stat(cfg.KeyPath); err != nil {
		return nil, fmt.Errorf("ssh: key file not found: %w", err)
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	return &Runtime{config: cfg, procs: make(map[string]*process)}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output io.Reader

	waitOnce sync.Once
	done     chan struct{}
	exitCode int
	waitErr  error
}

func (p *process) reap() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.waitErr = err
			}
		}
		close(p.done)
	})
}

// sshCmd builds an exec.Cmd that runs a command on the remote host via SSH.
func (r *Runtime) sshCmd(ctx context.Context, remoteCmd string) *exec.Cmd {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "BatchMode=yes",
		"-i", r.config.KeyPath,
		fmt.Sprintf("%s@%s", r.config.User, r.config.Host),
		remoteCmd,
	}
	return exec.CommandContext(ctx, "ssh", args...)
}

// remoteCommand assembles "cd dir && K=V ... exec cmd args" for the remote shell.
func (r *Runtime) remoteCommand(spec supervisor.Spec) string {
	var b strings.Builder
	if spec.Cwd != "" {
		fmt.Fprintf(&b, "cd %q && ", spec.Cwd)
	}
	for _, e := range spec.Env {
		fmt.Fprintf(&b, "export %q && ", e)
	}
	b.WriteString("exec ")
	b.WriteString(quoteArgs(append([]string{spec.Command}, spec.Args...)))
	return fmt.Sprintf("%s -c %q", r.config.Shell, b.String())
}

// Spawn starts a process on the remote host. The returned pid is the local
// ssh client's; it is valid as a liveness handle, not as a remote pid.
func (r *Runtime) Spawn(ctx context.Context, spec supervisor.Spec) (int, error) {
	r.mu.Lock()
	if _, exists := r.procs[spec.ID]; exists {
		r.mu.Unlock()
		return 0, fmt.Errorf("process %s already spawned", spec.ID)
	}
	r.mu.Unlock()

	cmd := r.sshCmd(ctx, r.remoteCommand(spec))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting ssh to %s: %w", r.config.Host, err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		output: io.MultiReader(stdout, stderr),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.procs[spec.ID] = p
	r.mu.Unlock()

	if spec.Prompt != "" {
		if _, err := io.WriteString(stdin, spec.Prompt); err != nil {
			_ = cmd.Process.Kill()
			return 0, fmt.Errorf("writing prompt: %w", err)
		}
		_ = stdin.Close()
	}

	return cmd.Process.Pid, nil
}

// Write sends data to the remote process's stdin.
func (r *Runtime) Write(id string, data []byte) error {
	p, ok := r.get(id)
	if !ok {
		return fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("writing to %s: %w", id, err)
	}
	return nil
}

// Kill terminates the ssh client; the remote side receives a hangup.
func (r *Runtime) Kill(id string) error {
	p, ok := r.get(id)
	if !ok {
		return fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// Stream returns the remote process's merged output. Call at most once per
// spawned process.
func (r *Runtime) Stream(_ context.Context, id string) (supervisor.LineScanner, error) {
	p, ok := r.get(id)
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	scanner := bufio.NewScanner(p.output)
	scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)
	return &lineScanner{scanner: scanner, proc: p}, nil
}

// Wait blocks until the ssh client exits. SSH propagates the remote exit code.
func (r *Runtime) Wait(ctx context.Context, id string) (int, error) {
	p, ok := r.get(id)
	if !ok {
		return 0, fmt.Errorf("process %s: %w", id, supervisor.ErrNotFound)
	}
	go p.reap()
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
		r.forget(id)
		return p.exitCode, p.waitErr
	}
}

// IsRunning reports whether the ssh client is tracked and alive.
func (r *Runtime) IsRunning(id string) bool {
	p, ok := r.get(id)
	if !ok {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (r *Runtime) get(id string) (*process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[id]
	return p, ok
}

func (r *Runtime) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, id)
}

// quoteArgs quotes command arguments for safe SSH transmission.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return strings.Join(quoted, " ")
}

// lineScanner wraps a bufio.Scanner for reading remote process output.
type lineScanner struct {
	scanner *bufio.Scanner
	proc    *process
}

func (ls *lineScanner) Scan() bool   { return ls.scanner.Scan() }
func (ls *lineScanner) Text() string { return ls.scanner.Text() }
func (ls *lineScanner) Err() error   { return ls.scanner.Err() }

func (ls *lineScanner) Close() error {
	if ls.proc.cmd.Process != nil {
		_ = ls.proc.cmd.Process.Kill()
	}
	ls.proc.reap()
	return ls.proc.waitErr
}
