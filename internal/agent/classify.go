package agent

import "strings"

// ErrorCategory classifies an agent invocation failure so the caller can
// decide whether to retry, trip the cooldown, or give up immediately.
// Recovered from nightwire/claude_runner.py's classification rules (spec.md §7).
type ErrorCategory string

const (
	// CategoryTransient is a failure expected to resolve on retry: process
	// killed, connection reset, or a timeout.
	CategoryTransient ErrorCategory = "transient"

	// CategoryRateLimited indicates the account hit its usage cap.
	CategoryRateLimited ErrorCategory = "rate_limited"

	// CategoryPermanent indicates the request itself is invalid and retrying
	// will not help (bad prompt, unsupported input).
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInfrastructure indicates the environment is broken (missing
	// binary, bad PATH) rather than the request.
	CategoryInfrastructure ErrorCategory = "infrastructure"
)

// ClassifyError inspects an error's text (and, when available, the parsed
// NDJSON result) to assign an ErrorCategory. Unmatched errors default to
// CategoryTransient, since a cautious retry is safer than a silent drop.
func ClassifyError(err error, rateLimited bool) ErrorCategory {
	if rateLimited {
		return CategoryRateLimited
	}
	if err == nil {
		return CategoryTransient
	}

	msg := strings.ToLower(err.Error())

	for _, s := range rateLimitSubstrings {
		if strings.Contains(msg, s) {
			return CategoryRateLimited
		}
	}
	for _, s := range infrastructureSubstrings {
		if strings.Contains(msg, s) {
			return CategoryInfrastructure
		}
	}
	for _, s := range permanentSubstrings {
		if strings.Contains(msg, s) {
			return CategoryPermanent
		}
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return CategoryTransient
		}
	}

	return CategoryTransient
}

var rateLimitSubstrings = []string{
	"usage limit",
	"rate limit",
	"rate_limit_event",
	"429",
}

var permanentSubstrings = []string{
	"invalid request",
	"prompt too long",
	"context length exceeded",
	"unsupported model",
}

var infrastructureSubstrings = []string{
	"executable file not found",
	"no such file or directory",
	"permission denied",
	"command not found",
}

var transientSubstrings = []string{
	"killed",
	"econnreset",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"broken pipe",
	"eof",
}

// IsRetryable reports whether a category should be retried at all.
// Permanent failures are never retried; everything else may be, subject to
// the caller's retry budget.
func (c ErrorCategory) IsRetryable() bool {
	return c != CategoryPermanent
}
