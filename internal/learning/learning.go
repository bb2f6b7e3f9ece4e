// Package learning inspects a task's outcome and distills durable learnings
// from it. Grounded on nightwire/autonomous/learnings.py.
package learning

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// Outcome is the minimal per-task execution summary the extractor needs —
// a trimmed view over what the executor already tracks in store.Task plus
// the gate/verification results of the run just completed.
type Outcome struct {
	Task              *store.Task
	UserID            string
	Project           string
	Success           bool
	ErrorMessage      string
	AgentOutput       string
	FilesChanged      []string
	QualityGate       *store.QualityGateResult
	QualityGateFailed bool
}

// Extractor produces zero or more learnings from a completed task.
type Extractor struct{}

// New builds an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract applies the three extraction rules from spec.md §4.9: failure →
// PITFALL, success marker-scan → categorized learnings (or one generic
// PATTERN learning if no markers matched but files changed), quality-gate
// failure → TESTING learning.
func (e *Extractor) Extract(o Outcome) []*store.Learning {
	var out []*store.Learning

	if !o.Success && o.ErrorMessage != "" {
		if l := extractPitfall(o); l != nil {
			out = append(out, l)
		}
	}

	if o.Success && o.AgentOutput != "" {
		out = append(out, extractPatterns(o)...)
	}

	if o.QualityGateFailed && o.QualityGate != nil {
		if l := extractQualityGateLearning(o); l != nil {
			out = append(out, l)
		}
	}

	for _, l := range out {
		l.UserID = o.UserID
		l.Project = o.Project
	}

	return out
}

func extractPitfall(o Outcome) *store.Learning {
	title := "Issue: " + truncate(o.Task.Title, 50)
	content := fmt.Sprintf(
		"When working on '%s', encountered:\n\n%s\n\nTask context: %s",
		o.Task.Title, truncate(o.ErrorMessage, 500), truncate(o.Task.Description, 300),
	)

	return &store.Learning{
		SourceTaskID:      &o.Task.ID,
		Category:          store.LearningPitfall,
		Title:             title,
		Content:           content,
		RelevanceKeywords: store.StringSlice(extractKeywords(o.ErrorMessage + " " + o.Task.Description, 10)),
		Confidence:        0.8,
	}
}

type markerRule struct {
	re       *regexp.Regexp
	category store.LearningCategory
}

// learningMarkers recovers learnings.py's LEARNING_MARKERS regex set exactly.
var learningMarkers = []markerRule{
	{regexp.MustCompile(`(?is)(?:Note|Important|Remember|Tip|Insight):\s*(.+?)(?:\n\n|\z)`), store.LearningBestPractice},
	{regexp.MustCompile(`(?is)(?:Pattern|Approach|Solution):\s*(.+?)(?:\n\n|\z)`), store.LearningPattern},
	{regexp.MustCompile(`(?is)(?:Warning|Caution|Pitfall):\s*(.+?)(?:\n\n|\z)`), store.LearningPitfall},
	{regexp.MustCompile(`(?is)(?:Learned|Discovery|Found):\s*(.+?)(?:\n\n|\z)`), store.LearningProjectContext},
}

const maxMatchesPerMarker = 3
const minMatchLength = 50

func extractPatterns(o Outcome) []*store.Learning {
	var out []*store.Learning

	for _, rule := range learningMarkers {
		matches := rule.re.FindAllStringSubmatch(o.AgentOutput, -1)
		count := 0
		for _, m := range matches {
			if count >= maxMatchesPerMarker {
				break
			}
			text := strings.TrimSpace(m[1])
			if len(text) <= minMatchLength {
				continue
			}
			out = append(out, &store.Learning{
				SourceTaskID:      &o.Task.ID,
				Category:          rule.category,
				Title:             truncateTitle(text, 80),
				Content:           text,
				RelevanceKeywords: store.StringSlice(extractKeywords(text, 10)),
				Confidence:        0.7,
			})
			count++
		}
	}

	if len(out) == 0 && len(o.AgentOutput) > 500 && len(o.FilesChanged) > 0 {
		filesPreview := o.FilesChanged
		if len(filesPreview) > 5 {
			filesPreview = filesPreview[:5]
		}
		content := fmt.Sprintf(
			"Successfully completed '%s'.\n\nFiles changed: %s\n\nApproach: %s",
			o.Task.Title, strings.Join(filesPreview, ", "), truncate(o.Task.Description, 300),
		)
		out = append(out, &store.Learning{
			SourceTaskID:      &o.Task.ID,
			Category:          store.LearningPattern,
			Title:             "Completed: " + truncate(o.Task.Title, 50),
			Content:           content,
			RelevanceKeywords: store.StringSlice(extractKeywords(o.Task.Description, 10)),
			Confidence:        0.5,
		})
	}

	return out
}

func extractQualityGateLearning(o Outcome) *store.Learning {
	qg := o.QualityGate
	var parts []string
	parts = append(parts, fmt.Sprintf("Quality gates failed for '%s'", o.Task.Title))

	if qg.TestsFailed > 0 {
		parts = append(parts, fmt.Sprintf("\nTests failed: %d/%d", qg.TestsFailed, qg.TestsRun))
		if qg.OutputExcerpt != "" {
			parts = append(parts, "\nTest output:\n"+truncate(qg.OutputExcerpt, 500))
		}
	}
	if !qg.TypecheckPassed {
		parts = append(parts, "\nType checking failed")
	}
	if !qg.LintPassed {
		parts = append(parts, "\nLinting failed")
	}

	return &store.Learning{
		SourceTaskID:      &o.Task.ID,
		Category:          store.LearningTesting,
		Title:             "QG failure: " + truncate(o.Task.Title, 40),
		Content:           strings.Join(parts, "\n"),
		RelevanceKeywords: store.StringSlice(extractKeywords(o.Task.Description, 10)),
		Confidence:        0.9,
	}
}

var identifierRe = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

var stopWords = buildStopWordSet()

func buildStopWordSet() map[string]bool {
	words := strings.Fields(`the a an is are was were be been being have has had do does did will
		would could should may might must shall can need dare ought used to of in
		for on with at by from as into through during before after above below
		between under again further then once and but if or because until while
		this that these those it its they them their there here when where which
		who whom what how all each every both few more most other some such
		no not only own same so than too very just also now new first last`)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// extractKeywords tokenizes text, filters stop words and short tokens, and
// returns the top max by frequency, matching learnings.py's
// _extract_keywords exactly (including the len > 2 filter).
func extractKeywords(text string, max int) []string {
	words := identifierRe.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if stopWords[w] || len(w) <= 2 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > max {
		order = order[:max]
	}
	return order
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// truncateTitle prefers the first line, then first sentence of it, matching
// learnings.py's _truncate_title.
func truncateTitle(text string, maxLen int) string {
	firstLine := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	firstSentence := strings.TrimSpace(strings.SplitN(firstLine, ".", 2)[0])

	title := firstLine
	if len(firstSentence) < len(firstLine) {
		title = firstSentence
	}

	if len(title) > maxLen {
		title = title[:maxLen-3] + "..."
	}
	return title
}
