package breakdown

import "fmt"

// systemPrompt instructs the agent how to turn a free-text request into the
// PRD/Story/Task document, adapted from the teacher's Task Decomposer
// prompt: dropping the epic/parentId layer (this hierarchy is only two
// levels deep) and YAML output in favor of the structured JSON schema.
const systemPrompt = `You are a PRD decomposer. Convert a free-text feature request into a single JSON object describing a Product Requirements Document broken into stories and tasks.

EXECUTION MODEL
- Each task will be executed independently by an autonomous coding session with no ability to ask questions.
- Tasks must be fully self-contained with all context needed for implementation.
- If the request is ambiguous, make the decision yourself and say so in the task description. Never create a task whose purpose is to ask a question or make a decision.

OUTPUT SHAPE
Return ONLY a JSON object (no prose, no markdown fences) matching:
{
  "prd_title": string,
  "prd_description": string,
  "stories": [
    {
      "title": string,
      "description": string,
      "tasks": [
        {"title": string, "description": string, "priority": integer}
      ]
    }
  ]
}

TASK RULES
- Each task should be small enough for one session: one logical unit of work, touching a handful of files.
- Task descriptions must name concrete files or components to change where the request makes that clear.
- Tests are part of implementation tasks, not separate tasks. Never emit a task whose only job is "write tests" or "run the linter".
- priority is an integer; higher runs first. Use 2 for foundational/scaffolding work the rest of the story depends on, 1 for normal feature work.
- Order tasks within a story in the sequence they should run.

STORY RULES
- Group related tasks under one story per coherent area of the request (e.g. one story per user journey or subsystem).
- Prefer fewer, focused stories over one story per task.

Do not invent scope beyond what the request implies.`

// userPrompt wraps the free-text request for the primary structured call.
func userPrompt(text string) string {
	return fmt.Sprintf("Decompose the following request into the PRD JSON document:\n\n%s", text)
}

// jsonFormatReminder is appended to the prompt for the free-text fallback,
// when the structured-schema call didn't produce parseable output.
const jsonFormatReminder = `Output ONLY the JSON object described above. No markdown fences, no explanation, no leading or trailing text.`

// fixPromptTemplate asks the agent to repair its own malformed JSON, mirroring
// the teacher's decomposer.askClaudeToFix.
const fixPromptTemplate = `The following output was supposed to be a JSON object but failed to parse.

## Output:
%s

## Parse error:
%s

Output ONLY the corrected JSON object, matching the schema described earlier. No explanations.`

func fixPrompt(badOutput, parseError string) string {
	return fmt.Sprintf(fixPromptTemplate, badOutput, parseError)
}
