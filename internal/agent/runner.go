// Package agent drives an external coding-agent CLI (a Claude Code-like
// tool) as a subprocess, parsing its NDJSON stream output and classifying
// failures for retry/cooldown decisions.
package agent

import "context"

// Request contains the parameters for invoking the agent CLI.
type Request struct {
	// Cwd is the working directory for the subprocess (typically repo root).
	Cwd string

	// SystemPrompt is passed via --system-prompt.
	SystemPrompt string

	// Prompt is the user message, passed via -p.
	Prompt string

	// AllowedTools lists the tools the agent may use, passed via --allowedTools.
	AllowedTools []string

	// Continue requests session continuation (--continue), used by the
	// auto-fix retry loop to keep prior context.
	Continue bool

	// JSONSchemaPath, when set, requests structured output validated against
	// the schema at this path (--json-schema), used by RunStructured callers.
	JSONSchemaPath string

	// ExtraArgs are additional CLI arguments appended verbatim.
	ExtraArgs []string

	// Env contains additional environment variables for the subprocess.
	Env map[string]string

	// InvocationID identifies this call for cancellation bookkeeping and log
	// filenames. Callers should pass a stable id (e.g. "task-42-attempt-1").
	InvocationID string
}

// Usage reports token accounting for one invocation.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// Response contains the results of one agent invocation.
type Response struct {
	SessionID         string
	Model             string
	Version           string
	FinalText         string
	StreamText        string
	Usage             Usage
	TotalCostUSD      float64
	PermissionDenials []string
	RateLimited       bool
	RawEventsPath     string
	DurationMS        int
}

// Runner executes the agent CLI and returns its parsed response.
type Runner interface {
	// Run performs one invocation. The context governs cancellation/timeout.
	Run(ctx context.Context, req Request) (*Response, error)

	// Cancel aborts an in-flight invocation identified by InvocationID, if
	// one is running. It is a no-op if the id is unknown.
	Cancel(invocationID string)
}
