package acp

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/common/errors"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// maxTerminalBuffer bounds how much grandchild output is retained between
// drains. Older output is dropped and the result flagged truncated.
const maxTerminalBuffer = 1 << 20 // 1 MiB

// terminal is one grandchild process spawned on behalf of the agent.
type terminal struct {
	id  string
	cmd *exec.Cmd

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool

	done     chan struct{}
	exitCode *int
	signal   *string
}

// Write accumulates grandchild output, dropping the oldest bytes once the
// buffer cap is reached.
func (t *terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > maxTerminalBuffer {
		excess := t.buf.Len() - maxTerminalBuffer
		t.buf.Next(excess)
		t.truncated = true
	}
	return len(p), nil
}

// drain returns the accumulated output and clears the buffer.
func (t *terminal) drain() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.buf.String()
	t.buf.Reset()
	truncated := t.truncated
	t.truncated = false
	return out, truncated
}

func (t *terminal) exitStatus() *protocol.TerminalExitStatus {
	select {
	case <-t.done:
		return &protocol.TerminalExitStatus{ExitCode: t.exitCode, Signal: t.signal}
	default:
		return nil
	}
}

// terminalManager tracks the grandchild shells created via terminal/create.
type terminalManager struct {
	projectPath string
	logger      *logger.Logger

	mu        sync.Mutex
	terminals map[string]*terminal
}

func newTerminalManager(projectPath string, log *logger.Logger) *terminalManager {
	return &terminalManager{
		projectPath: projectPath,
		logger:      log.WithFields(zap.String("component", "terminal-manager")),
		terminals:   make(map[string]*terminal),
	}
}

// Create spawns the requested command with stdout and stderr merged into the
// terminal's buffer. A relative cwd is resolved against the project root.
func (m *terminalManager) Create(params *protocol.CreateTerminalParams) (string, error) {
	cwd := params.Cwd
	switch {
	case cwd == "":
		cwd = m.projectPath
	case !filepath.IsAbs(cwd):
		cwd = filepath.Join(m.projectPath, cwd)
	}

	cmd := exec.Command(params.Command, params.Args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	for _, e := range params.Env {
		cmd.Env = append(cmd.Env, e.Name+"="+e.Value)
	}

	term := &terminal{
		id:   uuid.New().String(),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stdout = term
	cmd.Stderr = term

	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(err, "failed to start terminal command")
	}

	m.logger.Info("terminal created",
		zap.String("terminal_id", term.id),
		zap.String("command", params.Command),
		zap.Int("pid", cmd.Process.Pid))

	go func() {
		err := cmd.Wait()
		if err == nil {
			code := 0
			term.exitCode = &code
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				sig := ws.Signal().String()
				term.signal = &sig
			} else {
				code := exitErr.ExitCode()
				term.exitCode = &code
			}
		}
		close(term.done)
	}()

	m.mu.Lock()
	m.terminals[term.id] = term
	m.mu.Unlock()

	return term.id, nil
}

// Output drains the terminal's buffer and reports exit status if the process
// has already ended.
func (m *terminalManager) Output(terminalID string) (*protocol.TerminalOutputResult, error) {
	term, err := m.get(terminalID)
	if err != nil {
		return nil, err
	}
	out, truncated := term.drain()
	return &protocol.TerminalOutputResult{
		Output:     out,
		Truncated:  truncated,
		ExitStatus: term.exitStatus(),
	}, nil
}

// WaitForExit blocks until the terminal's process ends.
func (m *terminalManager) WaitForExit(terminalID string) (*protocol.WaitForTerminalExitResult, error) {
	term, err := m.get(terminalID)
	if err != nil {
		return nil, err
	}
	<-term.done
	return &protocol.WaitForTerminalExitResult{ExitCode: term.exitCode, Signal: term.signal}, nil
}

// Release terminates the terminal if still running and forgets it.
func (m *terminalManager) Release(terminalID string) error {
	return m.terminate(terminalID)
}

// Kill terminates the terminal if still running and forgets it.
func (m *terminalManager) Kill(terminalID string) error {
	return m.terminate(terminalID)
}

func (m *terminalManager) terminate(terminalID string) error {
	term, err := m.get(terminalID)
	if err != nil {
		return err
	}

	select {
	case <-term.done:
	default:
		if term.cmd.Process != nil {
			_ = term.cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	m.mu.Lock()
	delete(m.terminals, terminalID)
	m.mu.Unlock()
	return nil
}

// Shutdown terminates every live terminal. Called when the client stops.
func (m *terminalManager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.terminals))
	for id := range m.terminals {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.terminate(id)
	}
}

func (m *terminalManager) get(terminalID string) (*terminal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term, ok := m.terminals[terminalID]
	if !ok {
		return nil, errors.NotFound("terminal", terminalID)
	}
	return term, nil
}
