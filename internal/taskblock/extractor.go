// Package taskblock parses @@@-fenced task blocks out of coordinator output.
// Extraction is a pure function over the input text.
package taskblock

import (
	"fmt"
	"regexp"
	"strings"
)

// Sections are the named second-level headings recognised inside a task body.
type Sections struct {
	Objective        string `json:"objective,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Inputs           string `json:"inputs,omitempty"`
	DefinitionOfDone string `json:"definitionOfDone,omitempty"`
	Verification     string `json:"verification,omitempty"`
	OutputRequired   string `json:"outputRequired,omitempty"`
}

// Task is one parsed task block. Title keeps the raw heading text, inline
// Markdown included.
type Task struct {
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Sections Sections `json:"sections"`
}

// Result of one extraction pass.
type Result struct {
	Tasks        []Task `json:"tasks"`
	CleanedText  string `json:"cleanedText"`
	BlockCount   int    `json:"blockCount"`
	ValidCount   int    `json:"validTaskCount"`
	InvalidCount int    `json:"invalidBlockCount"`
}

// invalidPlaceholder replaces a fenced block with no first-level heading.
const invalidPlaceholder = "<!-- invalid-task-block-removed -->"

/// fenceRe matches a fence token alone on its line: @@@, @@@task or @@@tasks,
// case-insensitive, trailing whitespace allowed, leading whitespace not.
var fenceRe = regexp.MustCompile(`(?i)^@@@(?:tasks?)?[ \t]*$`)

// titleRe captures the text of a first-level heading.
var titleRe = regexp.MustCompile(`^#[ \t]+(.+?)[ \t]*$`)

// sectionRe captures the name of a second-level heading.
var sectionRe = regexp.MustCompile(`^##[ \t]+(.+?)[ \t]*$`)

// Extract parses every fenced block out of text. Valid blocks become tasks
// and are replaced by ordered placeholders in the cleaned text; invalid
// blocks are removed. An unterminated fence is left in place as plain text.
func Extract(text string) *Result {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	res := &Result{}
	var cleaned []string
	var body []string
	inBlock := false
	fenceIdx := -1

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !fenceRe.MatchString(line) {
			if inBlock {
				body = append(body, line)
			} else {
				cleaned = append(cleaned, line)
			}
			continue
		}

		if !inBlock {
			inBlock = true
			fenceIdx = i
			body = body[:0]
			continue
		}

		// Closing fence: the accumulated body is one block.
		inBlock = false
		res.BlockCount++
		if task, ok := parseBlock(body); ok {
			cleaned = append(cleaned, fmt.Sprintf("<!-- task-placeholder-%d -->", res.ValidCount))
			res.Tasks = append(res.Tasks, task)
			res.ValidCount++
		} else {
			cleaned = append(cleaned, invalidPlaceholder)
			res.InvalidCount++
		}
	}

	if inBlock {
		// Unterminated fence: restore the opening token and body verbatim.
		cleaned = append(cleaned, lines[fenceIdx])
		cleaned = append(cleaned, body...)
	}

	res.CleanedText = strings.Join(cleaned, "\n")
	return res
}

// parseBlock builds a task from a fenced body. A block with no first-level
// heading is invalid.
func parseBlock(body []string) (Task, bool) {
	title := ""
	for _, line := range body {
		if m := titleRe.FindStringSubmatch(line); m != nil {
			title = m[1]
			break
		}
	}
	if title == "" {
		return Task{}, false
	}

	task := Task{
		Title: title,
		Text:  strings.TrimSpace(strings.Join(body, "\n")),
	}

	var current *string
	var buf []string
	flush := func() {
		if current != nil {
			*current = strings.TrimSpace(strings.Join(buf, "\n"))
		}
		buf = buf[:0]
	}
	for _, line := range body {
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			flush()
			current = sectionField(&task.Sections, m[1])
			continue
		}
		if current != nil {
			buf = append(buf, line)
		}
	}
	flush()
	return task, true
}

// sectionField maps a heading name onto its Sections field, nil for unknown
// headings.
func sectionField(s *Sections, name string) *string {
	switch normalizeHeading(name) {
	case "objective", "goal":
		return &s.Objective
	case "scope":
		return &s.Scope
	case "inputs", "input":
		return &s.Inputs
	case "definition of done", "definition-of-done", "dod":
		return &s.DefinitionOfDone
	case "verification":
		return &s.Verification
	case "output required", "output-required", "output":
		return &s.OutputRequired
	default:
		return nil
	}
}

func normalizeHeading(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
