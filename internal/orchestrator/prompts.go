package orchestrator

import (
	"fmt"
	"strings"
)

func understandingPrompt(task string) string {
	var sb strings.Builder
	sb.WriteString("You are a coding assistant exploring a codebase before making changes.\n\n")
	fmt.Fprintf(&sb, "Task: %s\n\n", task)
	sb.WriteString("Instructions:\n")
	sb.WriteString("1. Use the available tools to explore the project structure\n")
	sb.WriteString("2. Read the files most relevant to the task\n")
	sb.WriteString("3. Do NOT modify anything in this phase\n")
	sb.WriteString("4. Finish with a concise summary of the codebase and the parts the task touches\n")
	return sb.String()
}

func planningPrompt(task, summary string) string {
	var sb strings.Builder
	sb.WriteString("You are a coding assistant planning a change.\n\n")
	fmt.Fprintf(&sb, "Task: %s\n\n", task)
	if summary != "" {
		fmt.Fprintf(&sb, "Codebase summary:\n%s\n\n", summary)
	}
	sb.WriteString("Return ONLY a JSON array of steps, nothing else. Each step is an object\n")
	sb.WriteString(`{"description": "<what to do>", "tool": "<main tool to use, or null>"}`)
	sb.WriteString("\nAvailable tools: read_file, write_file, delete_file, list_directory, search_code, run_command, index_symbols, find_symbol.\n")
	sb.WriteString("Keep it to 3-5 steps maximum.\n")
	return sb.String()
}

// stepPrompt keeps the instruction to one paragraph: the step plus a
// condensed log of what earlier steps produced.
func stepPrompt(task string, step PlanStep, index, total int, history []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall task: %s. Execute step %d of %d: %s.", task, index+1, total, step.Description)
	if step.Tool != nil {
		fmt.Fprintf(&sb, " Suggested tool: %s.", *step.Tool)
	}
	if len(history) > 0 {
		sb.WriteString(" Results of previous steps: ")
		sb.WriteString(strings.Join(history, " | "))
		sb.WriteString(".")
	}
	sb.WriteString(" File writes and deletes are staged for review, not applied immediately. Reply with a short description of what you did when the step is complete.")
	return sb.String()
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// condense flattens a result to one line for the step history.
func condense(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
