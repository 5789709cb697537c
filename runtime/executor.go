package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pithecene-io/scriptcover/types"
)

// ExecutorConfig configures an external execution harness.
type ExecutorConfig struct {
	// ExecutorPath is the path to the harness binary (e.g. a headless
	// browser driver).
	ExecutorPath string
	// Args are passed to the harness after its path.
	Args []string
	// ContextID identifies the execution context in every request frame.
	ContextID string
	// PageURL is the address the harness reports in its snapshots.
	PageURL string
	// PagePath is the instrumented page written for the harness.
	PagePath string
	// Env holds extra KEY=VALUE entries; they win over the inherited
	// environment.
	Env []string
}

// ExecutorResult represents the result of executor execution.
type ExecutorResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// StderrBytes is the captured stderr output.
	StderrBytes []byte
}

// ExecutorManager manages harness process lifecycle.
//
// The harness reads one JSON line from stdin describing its page, then
// length-prefixed frames: responses to its requests and collect triggers.
// It writes request frames to stdout and must keep draining stdin while it
// runs. Closing stdin tells it to submit a final snapshot and exit.
type ExecutorManager struct {
	config *ExecutorConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// NewExecutorManager creates a new executor manager.
func NewExecutorManager(config *ExecutorConfig) *ExecutorManager {
	return &ExecutorManager{
		config: config,
	}
}

// executorInput is the JSON line written to executor stdin.
type executorInput struct {
	ContextID       string `json:"context_id"`
	PageURL         string `json:"page_url"`
	PagePath        string `json:"page_path"`
	ContractVersion string `json:"contract_version"`
}

// Start starts the executor process and writes its input line.
func (m *ExecutorManager) Start(ctx context.Context) error {
	m.cmd = exec.CommandContext(ctx, m.config.ExecutorPath, m.config.Args...)

	env := append(os.Environ(), "SCRIPTCOVER_CONTEXT_ID="+m.config.ContextID)
	m.cmd.Env = deduplicateEnv(append(env, m.config.Env...))

	stdin, err := m.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	m.stdin = stdin

	stdout, err := m.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	m.stdout = stdout

	stderr, err := m.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	m.stderr = stderr

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start executor: %w", err)
	}

	if err := json.NewEncoder(stdin).Encode(newExecutorInput(m.config)); err != nil {
		_ = m.Kill()
		return fmt.Errorf("failed to write input: %w", err)
	}

	return nil
}

func newExecutorInput(cfg *ExecutorConfig) executorInput {
	return executorInput{
		ContextID:       cfg.ContextID,
		PageURL:         cfg.PageURL,
		PagePath:        cfg.PagePath,
		ContractVersion: types.ContractVersion,
	}
}

// Stdin returns the writer for response and trigger frames.
func (m *ExecutorManager) Stdin() io.WriteCloser {
	return m.stdin
}

// Stdout returns the stdout reader for IPC frame reading.
func (m *ExecutorManager) Stdout() io.Reader {
	return m.stdout
}

// Wait waits for the executor to exit and returns the result.
// Must be called after Start.
func (m *ExecutorManager) Wait() (*ExecutorResult, error) {
	if m.cmd == nil {
		return nil, errors.New("executor not started")
	}

	stderrBytes, _ := io.ReadAll(m.stderr)

	err := m.cmd.Wait()

	result := &ExecutorResult{
		StderrBytes: stderrBytes,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitCode = status.ExitStatus()
			} else {
				result.ExitCode = -1
			}
		} else {
			return nil, fmt.Errorf("executor wait failed: %w", err)
		}
	}

	return result, nil
}

// Kill terminates the executor process.
func (m *ExecutorManager) Kill() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key.
// This ensures our appended values win over inherited duplicates from
// os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
