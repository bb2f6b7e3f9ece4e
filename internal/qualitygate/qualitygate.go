// Package qualitygate runs a project's test/typecheck/lint toolchain against
// a task's working tree and scans changed files for dangerous patterns.
// Grounded on the teacher's verifier.CommandRunner for subprocess execution
// idiom, and on nightwire/autonomous/quality_gates.py for toolchain
// detection, timeouts, and the security-scan pattern list.
package qualitygate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ralph-labs/orchestrator/internal/store"
)

const (
	// DefaultTestTimeout mirrors quality_gates.py's 5-minute test budget.
	DefaultTestTimeout = 300 * time.Second
	// DefaultTypecheckTimeout mirrors its 2-minute typecheck budget.
	DefaultTypecheckTimeout = 120 * time.Second
	// DefaultLintTimeout mirrors its 1-minute lint budget.
	DefaultLintTimeout = 60 * time.Second
)

// Options configures which gates Run executes.
type Options struct {
	RunTests     bool
	RunTypecheck bool
	RunLint      bool
	Baseline     *store.QualityGateResult
	TestTimeout  time.Duration
	TypecheckTO  time.Duration
	LintTimeout  time.Duration
}

// Runner detects a project's toolchain and runs its quality gates.
type Runner struct {
	projectPath string
}

// New builds a Runner rooted at projectPath.
func New(projectPath string) *Runner {
	return &Runner{projectPath: projectPath}
}

// Run executes the enabled gates and aggregates the result, applying
// baseline regression comparison when opts.Baseline is set: a task is only
// failed for NEW test failures beyond what was already broken before it ran.
func (r *Runner) Run(ctx context.Context, opts Options) (store.QualityGateResult, error) {
	if opts.TestTimeout == 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	if opts.TypecheckTO == 0 {
		opts.TypecheckTO = DefaultTypecheckTimeout
	}
	if opts.LintTimeout == 0 {
		opts.LintTimeout = DefaultLintTimeout
	}

	start := time.Now()
	result := store.QualityGateResult{TypecheckPassed: true, LintPassed: true}

	var testsPassed = true
	var testOutput string

	if opts.RunTests {
		cmd := r.detectTestCommand()
		if cmd != nil {
			passed, total, passedCount, failedCount, output := r.runTests(ctx, cmd, opts.TestTimeout)
			testsPassed = passed
			result.TestsRun = total
			result.TestsPassed = passedCount
			result.TestsFailed = failedCount
			testOutput = output
		}
	}

	if opts.RunTypecheck {
		cmd := r.detectTypecheckCommand()
		if cmd != nil {
			passed, output := r.runTimed(ctx, cmd, opts.TypecheckTO, 1500)
			result.TypecheckPassed = passed
			if !passed {
				testOutput = joinOutput(testOutput, output)
			}
		}
	}

	if opts.RunLint {
		cmd := r.detectLintCommand()
		if cmd != nil {
			passed, output := r.runTimed(ctx, cmd, opts.LintTimeout, 1000)
			result.LintPassed = passed
			if !passed {
				testOutput = joinOutput(testOutput, output)
			}
		}
	}

	if opts.Baseline != nil && result.TestsFailed > 0 && !testsPassed {
		newFailures := result.TestsFailed - opts.Baseline.TestsFailed
		if newFailures <= 0 {
			testsPassed = true
		} else {
			result.RegressionFound = true
		}
	}

	result.OutputExcerpt = testOutput
	result.ExecutionSeconds = time.Since(start).Seconds()

	return result, nil
}

// SnapshotBaseline runs tests only, producing the pre-task baseline used for
// regression comparison, matching quality_gates.py's snapshot_baseline.
func (r *Runner) SnapshotBaseline(ctx context.Context) (store.QualityGateResult, error) {
	return r.Run(ctx, Options{RunTests: true})
}

func (r *Runner) runTests(ctx context.Context, cmd []string, timeout time.Duration) (passed bool, total, passedCount, failedCount int, output string) {
	ok, out, err := r.exec(ctx, cmd, timeout)
	if err != nil {
		return false, 0, 0, 0, out
	}
	total, passedCount, failedCount = parseTestCounts(out, cmd[0])
	return ok, total, passedCount, failedCount, tail(out, 2000)
}

func (r *Runner) runTimed(ctx context.Context, cmd []string, timeout time.Duration, tailLen int) (bool, string) {
	ok, out, _ := r.exec(ctx, cmd, timeout)
	return ok, tail(out, tailLen)
}

func (r *Runner) exec(ctx context.Context, cmdArgs []string, timeout time.Duration) (bool, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = r.projectPath

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if runCtx.Err() != nil {
		return false, fmt.Sprintf("timeout exceeded (%s)", timeout), runCtx.Err()
	}
	return err == nil, out.String(), err
}

func joinOutput(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (r *Runner) exists(name string) bool {
	_, err := os.Stat(filepath.Join(r.projectPath, name))
	return err == nil
}

func (r *Runner) readFile(name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(r.projectPath, name))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (r *Runner) detectTestCommand() []string {
	if r.exists("pytest.ini") || r.exists("setup.py") || r.exists("tests") {
		return []string{"python", "-m", "pytest", "-v", "--tb=short"}
	}
	if r.exists("pyproject.toml") {
		return []string{"python", "-m", "pytest", "-v", "--tb=short"}
	}
	if content, ok := r.readFile("package.json"); ok && strings.Contains(content, `"test"`) {
		return []string{"npm", "test"}
	}
	if r.exists("Cargo.toml") {
		return []string{"cargo", "test"}
	}
	if r.exists("go.mod") {
		return []string{"go", "test", "./..."}
	}
	return nil
}

func (r *Runner) detectTypecheckCommand() []string {
	if r.exists("mypy.ini") {
		return []string{"python", "-m", "mypy", "."}
	}
	if content, ok := r.readFile("pyproject.toml"); ok && strings.Contains(content, "mypy") {
		return []string{"python", "-m", "mypy", "."}
	}
	if r.exists("tsconfig.json") {
		return []string{"npx", "tsc", "--noEmit"}
	}
	if r.exists("Cargo.toml") {
		return []string{"cargo", "check"}
	}
	return nil
}

func (r *Runner) detectLintCommand() []string {
	if r.exists("ruff.toml") {
		return []string{"python", "-m", "ruff", "check", "."}
	}
	if content, ok := r.readFile("pyproject.toml"); ok && strings.Contains(content, "ruff") {
		return []string{"python", "-m", "ruff", "check", "."}
	}
	if r.exists(".eslintrc.js") || r.exists(".eslintrc.json") {
		return []string{"npx", "eslint", "."}
	}
	if r.exists("Cargo.toml") {
		return []string{"cargo", "clippy"}
	}
	return nil
}

var (
	rePassed  = regexp.MustCompile(`(\d+) passed`)
	reFailed  = regexp.MustCompile(`(\d+) failed`)
	reError   = regexp.MustCompile(`(\d+) error`)
	reNpmPass = regexp.MustCompile(`Tests:.*?(\d+) passed`)
	reNpmFail = regexp.MustCompile(`Tests:.*?(\d+) failed`)
)

// parseTestCounts extracts (total, passed, failed) from a test runner's
// output, matching quality_gates.py's per-runner regex rules.
func parseTestCounts(output, runner string) (total, passed, failed int) {
	switch {
	case strings.Contains(runner, "pytest") || strings.Contains(runner, "python"):
		passed = matchInt(rePassed, output)
		failed = matchInt(reFailed, output) + matchInt(reError, output)
		total = passed + failed

	case strings.Contains(runner, "npm"):
		passed = matchInt(reNpmPass, output)
		failed = matchInt(reNpmFail, output)
		total = passed + failed

	case strings.Contains(runner, "cargo"):
		passed = matchInt(rePassed, output)
		failed = matchInt(reFailed, output)
		total = passed + failed

	case strings.Contains(runner, "go"):
		passed = strings.Count("\n"+output, "\n--- PASS:")
		failed = strings.Count("\n"+output, "\n--- FAIL:")
		total = passed + failed
	}
	return total, passed, failed
}

func matchInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(m[1], "%d", &n)
	return n
}
