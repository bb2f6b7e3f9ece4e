package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"time"
)

// BatchSink receives accumulated text as it crosses the batching thresholds.
type BatchSink func(text string)

// Batcher accumulates streamed assistant text and flushes to sink once
// either threshold is crossed, adapted from the teacher's
// stream.Processor (which flushed per object) to the char/time batching
// spec.md §4.3 names: ~50 characters or ~2 seconds since the last flush,
// whichever comes first.
type Batcher struct {
	CharThreshold int
	TimeThreshold time.Duration
	Sink          BatchSink

	buf      []byte
	lastFlush time.Time
}

// NewBatcher builds a Batcher with spec.md's default thresholds.
func NewBatcher(sink BatchSink) *Batcher {
	return &Batcher{
		CharThreshold: 50,
		TimeThreshold: 2 * time.Second,
		Sink:          sink,
		lastFlush:     time.Now(),
	}
}

// Feed appends text and flushes if a threshold is crossed.
func (b *Batcher) Feed(text string) {
	b.buf = append(b.buf, text...)
	if len(b.buf) >= b.CharThreshold || time.Since(b.lastFlush) >= b.TimeThreshold {
		b.flush()
	}
}

// Flush force-flushes any buffered text, used at stream end.
func (b *Batcher) Flush() { b.flush() }

func (b *Batcher) flush() {
	if len(b.buf) == 0 {
		return
	}
	b.Sink(string(b.buf))
	b.buf = b.buf[:0]
	b.lastFlush = time.Now()
}

// ProcessStream reads NDJSON events from r, feeding assistant text deltas to
// batcher as they arrive. Used for live progress reporting while an
// invocation is still running, independent of the final parse done after
// the process exits.
func ProcessStream(r io.Reader, batcher *Batcher) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, bufferSize), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base baseEvent
		if err := json.Unmarshal(line, &base); err != nil {
			continue
		}
		if base.Type != "assistant" {
			continue
		}

		var ev assistantEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		for _, block := range ev.Message.Content {
			if block.Type == "text" {
				batcher.Feed(block.Text)
			}
		}
	}

	batcher.Flush()
	return scanner.Err()
}
