package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// parseResult is the internal accumulator for one NDJSON stream.
type parseResult struct {
	SessionID         string
	Model             string
	Version           string
	FinalText         string
	StreamText        string
	Usage             Usage
	TotalCostUSD      float64
	DurationMS        int
	NumTurns          int
	IsError           bool
	RateLimited       bool
	PermissionDenials []string
	ParseErrors       []string
}

type baseEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

type initEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Version   string `json:"claude_code_version"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type assistantEvent struct {
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type usageBlock struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

type resultEvent struct {
	Result            string     `json:"result"`
	IsError           bool       `json:"is_error"`
	TotalCostUSD      float64    `json:"total_cost_usd"`
	Usage             usageBlock `json:"usage"`
	DurationMS        int        `json:"duration_ms"`
	NumTurns          int        `json:"num_turns"`
	PermissionDenials []string   `json:"permission_denials"`
}

const (
	bufferSize  = 64 * 1024
	maxLineSize = 10 * 1024 * 1024
)

// parseNDJSON parses the agent CLI's NDJSON stream, extracting session info,
// streamed text, the terminal result, and a rate_limit_event marker if the
// CLI emitted one (recovered from nightwire/claude_runner.py's rate-limit
// detection, which watched for this event type directly).
func parseNDJSON(r io.Reader) (*parseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, bufferSize), maxLineSize)

	result := &parseResult{}
	var streamText strings.Builder
	lineNum := 0
	hasTerminal := false

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var base baseEvent
		if err := json.Unmarshal([]byte(line), &base); err != nil {
			result.ParseErrors = append(result.ParseErrors,
				fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}

		switch {
		case base.Type == "system" && base.Subtype == "init":
			var init initEvent
			if err := json.Unmarshal([]byte(line), &init); err == nil {
				result.SessionID = init.SessionID
				result.Model = init.Model
				result.Version = init.Version
			}

		case base.Type == "assistant":
			var ev assistantEvent
			if err := json.Unmarshal([]byte(line), &ev); err == nil {
				for _, block := range ev.Message.Content {
					if block.Type == "text" {
						streamText.WriteString(block.Text)
					}
				}
			}

		case base.Type == "rate_limit_event" || base.Subtype == "rate_limit_event":
			result.RateLimited = true

		case base.Type == "result":
			var res resultEvent
			if err := json.Unmarshal([]byte(line), &res); err == nil {
				result.FinalText = res.Result
				result.IsError = res.IsError
				result.TotalCostUSD = res.TotalCostUSD
				result.DurationMS = res.DurationMS
				result.NumTurns = res.NumTurns
				result.PermissionDenials = res.PermissionDenials
				result.Usage = Usage{
					InputTokens:         res.Usage.InputTokens,
					OutputTokens:        res.Usage.OutputTokens,
					CacheCreationTokens: res.Usage.CacheCreationTokens,
					CacheReadTokens:     res.Usage.CacheReadTokens,
				}
				hasTerminal = true
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("agent: scan ndjson: %w", err)
	}
	if !hasTerminal {
		return nil, fmt.Errorf("agent: no terminal result event in stream")
	}

	result.StreamText = streamText.String()
	return result, nil
}
