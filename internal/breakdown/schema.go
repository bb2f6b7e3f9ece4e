package breakdown

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DefaultTaskPriority is used when a task document omits priority.
const DefaultTaskPriority = 1

// document mirrors the structured-output shape from spec.md §4.10:
// {prd_title, prd_description, stories:[{title, description, tasks:[{title, description, priority}]}]}
type document struct {
	PRDTitle       string     `json:"prd_title"`
	PRDDescription string     `json:"prd_description"`
	Stories        []storyDoc `json:"stories"`
}

type storyDoc struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tasks       []taskDoc `json:"tasks"`
}

type taskDoc struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// storyPriority derives a story's priority from the highest priority among
// its tasks, defaulting to DefaultTaskPriority for an empty task list.
func storyPriority(tasks []taskDoc) int {
	best := 0
	for _, t := range tasks {
		if t.Priority > best {
			best = t.Priority
		}
	}
	if best == 0 {
		return DefaultTaskPriority
	}
	return best
}

// documentSchema is the JSON schema passed to agent.RunStructured for the
// primary breakdown attempt.
var documentSchema = []byte(`{
  "type": "object",
  "required": ["prd_title", "prd_description", "stories"],
  "properties": {
    "prd_title": {"type": "string"},
    "prd_description": {"type": "string"},
    "stories": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "description", "tasks"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "tasks": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "description"],
              "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "priority": {"type": "integer"}
              }
            }
          }
        }
      }
    }
  }
}`)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseDocument extracts and validates a document from free text, trying in
// order: direct parse, fenced-code-block extraction, balanced-brace
// extraction, then a jsonrepair pass on each candidate. Matches spec.md
// §9's tolerant-parsing contract, reusing the same fallback chain the
// verification agent applies to its own JSON verdicts.
func parseDocument(text string) (*document, error) {
	candidates := []string{strings.TrimSpace(text)}

	if m := fencedBlockRe.FindStringSubmatch(text); len(m) == 2 {
		candidates = append(candidates, m[1])
	}
	if b := extractBalancedBraces(text); b != "" {
		candidates = append(candidates, b)
	}

	var lastErr error
	for _, c := range candidates {
		if doc, err := tryParse(c); err == nil {
			return doc, nil
		} else {
			lastErr = err
		}

		repaired, err := jsonrepair.JSONRepair(c)
		if err != nil {
			continue
		}
		if doc, err := tryParse(repaired); err == nil {
			return doc, nil
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON object found")
	}
	return nil, fmt.Errorf("breakdown: could not parse document: %w", lastErr)
}

func tryParse(candidate string) (*document, error) {
	var doc document
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, err
	}
	if doc.PRDTitle == "" {
		return nil, fmt.Errorf("missing prd_title")
	}
	if len(doc.Stories) == 0 {
		return nil, fmt.Errorf("stories must not be empty")
	}
	for _, s := range doc.Stories {
		if s.Title == "" {
			return nil, fmt.Errorf("story missing title")
		}
		for _, t := range s.Tasks {
			if t.Title == "" {
				return nil, fmt.Errorf("task missing title in story %q", s.Title)
			}
		}
	}
	return &doc, nil
}

// extractBalancedBraces returns the first balanced {...} span in s, honoring
// string quoting so braces inside string literals don't unbalance the scan.
func extractBalancedBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			if esc {
				esc = false
			} else if c == '\\' {
				esc = true
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
