// Package script provides sandboxed execution of generated remediation
// scripts.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Common errors.
var (
	ErrEmptyScript     = errors.New("script is empty")
	ErrScriptRejected  = errors.New("script rejected by sanitizer")
	ErrShellNotFound   = errors.New("shell interpreter not found")
	ErrExecutionFailed = errors.New("script execution failed")
)

// Options control a single script execution.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Sanitize   bool
}

// Result is the outcome of a script execution.
type Result struct {
	Success  bool          `json:"success"`
	Changes  []string      `json:"changes"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor runs remediation scripts.
type Executor interface {
	Execute(ctx context.Context, scriptText string, opts Options) (*Result, error)
}

// deniedPatterns are shell constructs the sanitizer refuses to run. The list
// targets broad destructive operations, not every possible footgun.
var deniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+/(\s|$)`),
	regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`(?i):\s*\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`(?i)\bshutdown\b|\breboot\b|\bhalt\b`),
	regexp.MustCompile(`(?i)curl[^\n|]*\|\s*(ba)?sh`),
}

// LocalExecutor runs scripts through a local shell interpreter with a
// timeout, optional retries, and a destructive-pattern sanitizer.
type LocalExecutor struct {
	shellPath string
	workDir   string
	logger    *zap.Logger
}

// NewLocalExecutor creates an executor using the given shell. The shell must
// resolve on PATH or be an absolute path to an existing interpreter.
func NewLocalExecutor(shell, workDir string, logger *zap.Logger) (*LocalExecutor, error) {
	if shell == "" {
		shell = "/bin/bash"
	}
	shellPath, err := exec.LookPath(shell)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShellNotFound, shell)
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalExecutor{
		shellPath: shellPath,
		workDir:   workDir,
		logger:    logger,
	}, nil
}

// Execute runs the script, retrying transient failures up to MaxRetries.
// A sanitizer rejection is permanent and never retried.
func (e *LocalExecutor) Execute(ctx context.Context, scriptText string, opts Options) (*Result, error) {
	if strings.TrimSpace(scriptText) == "" {
		return nil, ErrEmptyScript
	}

	if opts.Sanitize {
		if err := sanitize(scriptText); err != nil {
			return &Result{Success: false, Error: err.Error()}, err
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	attempts := opts.MaxRetries + 1
	var lastResult *Result
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastResult, err
		}

		lastResult, lastErr = e.runOnce(ctx, scriptText, timeout)
		if lastErr == nil {
			return lastResult, nil
		}

		e.logger.Warn("script attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return lastResult, lastErr
}

func (e *LocalExecutor) runOnce(ctx context.Context, scriptText string, timeout time.Duration) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scriptFile, err := e.writeScript(scriptText)
	if err != nil {
		return nil, fmt.Errorf("staging script: %w", err)
	}
	defer os.Remove(scriptFile)

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.shellPath, scriptFile)
	cmd.Dir = e.workDir

	output, err := cmd.CombinedOutput()
	result := &Result{
		Output:   strings.TrimSpace(string(output)),
		Duration: time.Since(start),
	}

	if err != nil {
		result.Error = fmt.Sprintf("%v: %s", err, result.Output)
		return result, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	result.Success = true
	result.Changes = parseChanges(result.Output)
	return result, nil
}

// writeScript stages the script to a private temp file so the interpreter
// sees exactly the sanitized text.
func (e *LocalExecutor) writeScript(scriptText string) (string, error) {
	f, err := os.CreateTemp(e.workDir, "remediation-*.sh")
	if err != nil {
		return "", err
	}
	path := f.Name()

	if _, err := f.WriteString(scriptText); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.Remove(path)
		return "", err
	}
	return filepath.Clean(path), nil
}

func sanitize(scriptText string) error {
	for _, pattern := range deniedPatterns {
		if pattern.MatchString(scriptText) {
			return fmt.Errorf("%w: matched %q", ErrScriptRejected, pattern.String())
		}
	}
	return nil
}

// parseChanges extracts change descriptions from script output. Scripts that
// follow the "CHANGED: <description>" convention get structured change
// records; all other output is summarized as a single change.
func parseChanges(output string) []string {
	var changes []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "CHANGED:"); ok {
			changes = append(changes, strings.TrimSpace(rest))
		}
	}
	if len(changes) == 0 && output != "" {
		changes = append(changes, "script applied changes (unstructured output)")
	}
	return changes
}
