// Package testutil builds the ucsfw binary once per test run and executes
// it for end-to-end tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	binaryPath string
	buildOnce  sync.Once
	buildErr   error
)

// CommandResult holds the outcome of one ucsfw invocation.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Combined string
	Duration time.Duration
	Args     []string
}

// Success reports whether the command exited with code 0.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Lines returns stdout split into trimmed, non-empty lines.
func (r *CommandResult) Lines() []string {
	var result []string
	for _, line := range strings.Split(strings.TrimSpace(r.Stdout), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// BuildBinary builds the ucsfw binary for testing. The binary is built
// once and reused by every test in the package.
func BuildBinary(t *testing.T) string {
	t.Helper()

	buildOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			buildErr = fmt.Errorf("failed to get caller info")
			return
		}

		// Project root is 3 levels up from test/e2e/testutil/binary.go.
		projectRoot, err := filepath.Abs(filepath.Join(filepath.Dir(filename), "..", "..", ".."))
		if err != nil {
			buildErr = fmt.Errorf("failed to get project root: %w", err)
			return
		}

		binDir := filepath.Join(projectRoot, "test", "bin")
		if err := os.MkdirAll(binDir, 0755); err != nil {
			buildErr = fmt.Errorf("failed to create bin directory: %w", err)
			return
		}
		binaryPath = filepath.Join(binDir, "ucsfw")

		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/ucsfw")
		cmd.Dir = projectRoot
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			buildErr = fmt.Errorf("failed to build binary: %w\nOutput:\n%s", err, out.String())
			return
		}
	})

	if buildErr != nil {
		t.Fatalf("Failed to build ucsfw binary: %v", buildErr)
	}
	return binaryPath
}

// RunCommand executes ucsfw with the given arguments.
func RunCommand(t *testing.T, args ...string) *CommandResult {
	t.Helper()
	return run(t, nil, "", args...)
}

// RunCommandWithEnv executes ucsfw with extra environment variables.
func RunCommandWithEnv(t *testing.T, env map[string]string, args ...string) *CommandResult {
	t.Helper()
	return run(t, env, "", args...)
}

// RunCommandWithInput executes ucsfw with the given stdin input, for
// commands that prompt for confirmation.
func RunCommandWithInput(t *testing.T, input string, args ...string) *CommandResult {
	t.Helper()
	return run(t, nil, input, args...)
}

func run(t *testing.T, env map[string]string, input string, args ...string) *CommandResult {
	t.Helper()

	binary := BuildBinary(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stdout, stderr, combined bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, &combined)
	cmd.Stderr = io.MultiWriter(&stderr, &combined)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("Failed to run command: %v\nArgs: %v\nStdout: %s\nStderr: %s",
				err, args, stdout.String(), stderr.String())
		}
		exitCode = exitErr.ExitCode()
	}

	return &CommandResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: combined.String(),
		Duration: duration,
		Args:     args,
	}
}

// AssertSuccess fails the test if the command did not exit with code 0.
func AssertSuccess(t *testing.T, result *CommandResult) {
	t.Helper()
	if !result.Success() {
		t.Fatalf("Command failed with exit code %d\nArgs: %v\nStdout:\n%s\nStderr:\n%s",
			result.ExitCode, result.Args, result.Stdout, result.Stderr)
	}
}

// AssertFailure fails the test if the command exited with code 0.
func AssertFailure(t *testing.T, result *CommandResult) {
	t.Helper()
	if result.Success() {
		t.Fatalf("Command succeeded unexpectedly\nArgs: %v\nStdout:\n%s\nStderr:\n%s",
			result.Args, result.Stdout, result.Stderr)
	}
}

// AssertContains fails the test if stdout does not contain the expected
// string.
func AssertContains(t *testing.T, result *CommandResult, expected string) {
	t.Helper()
	if !strings.Contains(result.Stdout, expected) {
		t.Fatalf("Stdout does not contain %q\nArgs: %v\nStdout:\n%s",
			expected, result.Args, result.Stdout)
	}
}

// AssertNotContains fails the test if stdout contains the unexpected
// string.
func AssertNotContains(t *testing.T, result *CommandResult, unexpected string) {
	t.Helper()
	if strings.Contains(result.Stdout, unexpected) {
		t.Fatalf("Stdout unexpectedly contains %q\nArgs: %v\nStdout:\n%s",
			unexpected, result.Args, result.Stdout)
	}
}

// AssertStderrContains fails the test if stderr does not contain the
// expected string.
func AssertStderrContains(t *testing.T, result *CommandResult, expected string) {
	t.Helper()
	if !strings.Contains(result.Stderr, expected) {
		t.Fatalf("Stderr does not contain %q\nArgs: %v\nStderr:\n%s",
			expected, result.Args, result.Stderr)
	}
}
