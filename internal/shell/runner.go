// Package shell provides command execution for the external tools the
// daemon drives (arecord, ffmpeg, systemctl, mount, reboot).
package shell

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Runner abstracts external command execution for testability.
// Use ExecRunner in production; MockRunner in tests.
type Runner interface {
	// Run executes the named command, waits for it to finish and returns
	// its combined stdout and stderr.
	Run(name string, args ...string) (string, error)

	// Stream starts the named command and returns its stdout for
	// continuous reads plus a stop function that kills the process and
	// reaps it. Stderr is discarded.
	Stream(name string, args ...string) (io.ReadCloser, func() error, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes the command and returns combined output.
func (ExecRunner) Run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("shell: %s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Stream starts the command and hands back its stdout pipe.
func (ExecRunner) Stream(name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("shell: stdout pipe for %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("shell: start %s: %w", name, err)
	}
	stop := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		// Wait reaps the process; a kill-induced exit error is expected.
		_ = cmd.Wait()
		return nil
	}
	return stdout, stop, nil
}

// MockRunner records commands and returns canned results for tests.
type MockRunner struct {
	mu sync.Mutex

	// Commands holds every invocation as [name, args...].
	Commands [][]string

	// Outputs maps a command name to its canned Run output.
	Outputs map[string]string

	// Errors maps a command name to an error Run should return.
	Errors map[string]error

	// RunFunc, if set, overrides the canned lookup entirely.
	RunFunc func(name string, args ...string) (string, error)

	// StreamData is returned by Stream as the process stdout.
	StreamData []byte

	// StreamErr, if set, makes Stream fail.
	StreamErr error

	// Stopped counts stop-function invocations from Stream callers.
	Stopped int
}

// NewMockRunner creates an empty mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Outputs: make(map[string]string),
		Errors:  make(map[string]error),
	}
}

// Run records the invocation and returns the canned result for name.
func (m *MockRunner) Run(name string, args ...string) (string, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, append([]string{name}, args...))
	runFunc := m.RunFunc
	out := m.Outputs[name]
	err := m.Errors[name]
	m.mu.Unlock()

	if runFunc != nil {
		return runFunc(name, args...)
	}
	return out, err
}

// Stream records the invocation and returns StreamData as a reader.
func (m *MockRunner) Stream(name string, args ...string) (io.ReadCloser, func() error, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, append([]string{name}, args...))
	data := m.StreamData
	err := m.StreamErr
	m.mu.Unlock()

	if err != nil {
		return nil, nil, err
	}
	stop := func() error {
		m.mu.Lock()
		m.Stopped++
		m.mu.Unlock()
		return nil
	}
	return io.NopCloser(strings.NewReader(string(data))), stop, nil
}

// Ran reports whether any recorded invocation starts with the given tokens.
func (m *MockRunner) Ran(tokens ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cmd := range m.Commands {
		if len(cmd) < len(tokens) {
			continue
		}
		match := true
		for i, tok := range tokens {
			if cmd[i] != tok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
