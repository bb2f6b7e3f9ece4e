package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/cooldown"
)

// SubprocessRunner executes the agent CLI as a subprocess and parses its
// NDJSON output. Adapted from the teacher's claude.SubprocessRunner,
// generalized from a hardcoded `claude` binary to a configurable command and
// wrapped with a circuit breaker plus the cooldown gate.
type SubprocessRunner struct {
	command string
	logsDir string
	log     *zap.Logger

	cooldown *cooldown.Manager
	breaker  *gobreaker.CircuitBreaker

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc
}

// NewSubprocessRunner builds a runner invoking command (e.g. "claude" or
// "opencode"), writing NDJSON logs under logsDir, gated by cd (may be nil to
// disable cooldown gating, e.g. in tests).
func NewSubprocessRunner(command, logsDir string, cd *cooldown.Manager, log *zap.Logger) *SubprocessRunner {
	if log == nil {
		log = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-runner",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("agent_breaker_state_change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &SubprocessRunner{
		command:   command,
		logsDir:   logsDir,
		log:       log,
		cooldown:  cd,
		breaker:   breaker,
		cancelFns: make(map[string]context.CancelFunc),
	}
}

// Run executes the agent CLI once and returns any failure unclassified.
// It does not retry; classification and retry policy live in Invoke.
func (r *SubprocessRunner) Run(ctx context.Context, req Request) (*Response, error) {
	if r.cooldown != nil && r.cooldown.IsActive() {
		return nil, fmt.Errorf("agent: cooldown active, refusing invocation")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if req.InvocationID != "" {
		r.mu.Lock()
		r.cancelFns[req.InvocationID] = cancel
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.cancelFns, req.InvocationID)
			r.mu.Unlock()
		}()
	}
	defer cancel()

	resp, err := r.breaker.Execute(func() (interface{}, error) {
		return r.runOnce(runCtx, req)
	})
	if err != nil {
		if resp != nil {
			return resp.(*Response), err
		}
		return nil, err
	}
	return resp.(*Response), nil
}

// Cancel aborts the in-flight invocation with the given id, if any.
func (r *SubprocessRunner) Cancel(invocationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancelFns[invocationID]; ok {
		cancel()
	}
}

// RunStructured invokes the agent with a JSON schema written to a temp file,
// requesting the CLI validate its own output against it. Used by the
// breakdown and verification callers, which still apply their own tolerant
// fallback parsing since not every agent CLI enforces the schema.
func (r *SubprocessRunner) RunStructured(ctx context.Context, req Request, schema []byte) (*Response, error) {
	f, err := os.CreateTemp("", "agent-schema-*.json")
	if err != nil {
		return nil, fmt.Errorf("agent: write schema: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err := f.Write(schema); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("agent: write schema: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("agent: write schema: %w", err)
	}

	req.JSONSchemaPath = f.Name()
	return r.Run(ctx, req)
}

func (r *SubprocessRunner) runOnce(ctx context.Context, req Request) (*Response, error) {
	args := buildArgs(req)
	cmd := exec.CommandContext(ctx, r.command, args...)

	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if len(req.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range req.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	logPath := filepath.Join(r.logsDir, generateLogFilename(req.InvocationID))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("agent: create log file %s: %w", logPath, err)
	}
	defer func() { _ = logFile.Close() }()

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent: start %s: %w", r.command, err)
	}

	var stdoutBuf bytes.Buffer
	tee := io.TeeReader(stdoutPipe, &stdoutBuf)
	_, copyErr := io.Copy(logFile, tee)

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("agent: cancelled: %w", ctx.Err())
	}
	if copyErr != nil {
		return nil, fmt.Errorf("agent: read stdout: %w", copyErr)
	}

	if waitErr != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		if stderr != "" {
			return nil, fmt.Errorf("agent: command failed: %w, stderr: %s", waitErr, stderr)
		}
		return nil, fmt.Errorf("agent: command failed: %w", waitErr)
	}

	parsed, err := parseNDJSON(&stdoutBuf)
	if err != nil {
		return nil, fmt.Errorf("agent: parse ndjson: %w", err)
	}

	resp := &Response{
		SessionID:         parsed.SessionID,
		Model:             parsed.Model,
		Version:           parsed.Version,
		FinalText:         parsed.FinalText,
		StreamText:        parsed.StreamText,
		Usage:             parsed.Usage,
		TotalCostUSD:      parsed.TotalCostUSD,
		PermissionDenials: parsed.PermissionDenials,
		RateLimited:       parsed.RateLimited,
		RawEventsPath:     logPath,
		DurationMS:        parsed.DurationMS,
	}

	if parsed.RateLimited && r.cooldown != nil {
		r.cooldown.RecordRateLimitFailure()
	}
	if parsed.IsError {
		return resp, fmt.Errorf("agent: result reported error")
	}

	return resp, nil
}

// Invoke runs req with exponential backoff retry, matching spec.md's
// base_delay x 2^(n-1) sequence (base 5s). Permanent failures are not
// retried. Rate-limited failures feed the cooldown manager and stop
// retrying immediately, since further attempts would just fail again.
func (r *SubprocessRunner) Invoke(ctx context.Context, req Request, maxAttempts int) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := r.Run(ctx, req)
		if err == nil {
			return resp, nil
		}

		rateLimited := resp != nil && resp.RateLimited
		category := ClassifyError(err, rateLimited)
		lastErr = err

		r.log.Warn("agent_invoke_failed",
			zap.Int("attempt", attempt),
			zap.String("category", string(category)),
			zap.Error(err),
		)

		if category == CategoryRateLimited && !rateLimited && r.cooldown != nil {
			r.cooldown.RecordRateLimitFailure()
		}
		if !category.IsRetryable() || category == CategoryRateLimited {
			return resp, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("agent: exhausted %d attempts: %w", maxAttempts, lastErr)
}

func buildArgs(req Request) []string {
	var args []string

	args = append(args, "--output-format=stream-json", "--verbose")

	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.JSONSchemaPath != "" {
		args = append(args, "--json-schema", req.JSONSchemaPath)
	}
	if req.Continue {
		args = append(args, "--continue")
	}
	args = append(args, req.ExtraArgs...)
	args = append(args, "-p", req.Prompt)

	return args
}

var invalidFilenameChars = regexp.MustCompile(`[/\\:*?"<>|\s]`)

func generateLogFilename(invocationID string) string {
	timestamp := time.Now().Format("20060102-150405")
	if invocationID == "" {
		invocationID = "agent"
	}
	safe := invalidFilenameChars.ReplaceAllString(invocationID, "-")
	return fmt.Sprintf("%s-%s.ndjson", timestamp, safe)
}

var _ Runner = (*SubprocessRunner)(nil)
