package taskblock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractThreeValidOneInvalid(t *testing.T) {
	input := strings.Join([]string{
		"Here is the plan.",
		"@@@task",
		"# Task 1",
		"## Objective",
		"Implement the parser.",
		"@@@",
		"Some prose in between.",
		"@@@",
		"# Task 2",
		"## Scope",
		"Only the lexer.",
		"@@@",
		"@@@tasks",
		"# Task 3",
		"@@@",
		"@@@",
		"no heading in this one",
		"@@@",
		"Done.",
	}, "\n")

	res := Extract(input)
	assert.Equal(t, 4, res.BlockCount)
	assert.Equal(t, 3, res.ValidCount)
	assert.Equal(t, 1, res.InvalidCount)
	require.Len(t, res.Tasks, 3)
	assert.Equal(t, "Task 1", res.Tasks[0].Title)
	assert.Equal(t, "Implement the parser.", res.Tasks[0].Sections.Objective)
	assert.Equal(t, "Task 2", res.Tasks[1].Title)
	assert.Equal(t, "Only the lexer.", res.Tasks[1].Sections.Scope)
	assert.Equal(t, "Task 3", res.Tasks[2].Title)

	cleaned := res.CleanedText
	for _, want := range []string{
		"<!-- task-placeholder-0 -->",
		"<!-- task-placeholder-1 -->",
		"<!-- task-placeholder-2 -->",
		"<!-- invalid-task-block-removed -->",
	} {
		assert.Contains(t, cleaned, want)
	}
	assert.NotContains(t, cleaned, "@@@")

	// Placeholders preserve block order.
	assert.Less(t, strings.Index(cleaned, "task-placeholder-0"), strings.Index(cleaned, "task-placeholder-1"))
	assert.Less(t, strings.Index(cleaned, "task-placeholder-2"), strings.Index(cleaned, "invalid-task-block-removed"))
}

func TestExtractIdempotent(t *testing.T) {
	input := "@@@task\n# Do it\n## Objective\nGo.\n@@@\n"
	first := Extract(input)
	require.Equal(t, 1, first.ValidCount)

	second := Extract(first.CleanedText)
	assert.Equal(t, 0, second.BlockCount)
	assert.Equal(t, 0, second.ValidCount)
	assert.Equal(t, first.CleanedText, second.CleanedText)
}

func TestExtractCRLF(t *testing.T) {
	input := "@@@task\r\n# Windows Task\r\n## Verification\r\nRun CI.\r\n@@@\r\n"
	res := Extract(input)
	require.Equal(t, 1, res.ValidCount)
	assert.Equal(t, "Windows Task", res.Tasks[0].Title)
	assert.Equal(t, "Run CI.", res.Tasks[0].Sections.Verification)
}

func TestFenceTokenRules(t *testing.T) {
	// Indented fences are not fences.
	res := Extract("  @@@\n# Not a task\n  @@@\n")
	assert.Equal(t, 0, res.BlockCount)

	// Trailing whitespace after the token is fine; case-insensitive.
	res = Extract("@@@TASK  \n# Upper\n@@@\t\n")
	require.Equal(t, 1, res.ValidCount)
	assert.Equal(t, "Upper", res.Tasks[0].Title)

	// Fence with extra words on the line is not a fence.
	res = Extract("@@@ task list\nplain text\n")
	assert.Equal(t, 0, res.BlockCount)
	assert.Contains(t, res.CleanedText, "@@@ task list")
}

func TestUnterminatedFencePreserved(t *testing.T) {
	input := "intro\n@@@task\n# Dangling\nno closing fence"
	res := Extract(input)
	assert.Equal(t, 0, res.BlockCount)
	assert.Equal(t, input, res.CleanedText)
}

func TestAllSections(t *testing.T) {
	input := strings.Join([]string{
		"@@@task",
		"# Full Task",
		"## Objective",
		"Build it.",
		"## Scope",
		"Module A.",
		"## Inputs",
		"The design doc.",
		"## Definition of Done",
		"Tests green.",
		"## Verification",
		"Run the suite.",
		"## Output Required",
		"A summary.",
		"@@@",
	}, "\n")

	res := Extract(input)
	require.Len(t, res.Tasks, 1)
	s := res.Tasks[0].Sections
	assert.Equal(t, "Build it.", s.Objective)
	assert.Equal(t, "Module A.", s.Scope)
	assert.Equal(t, "The design doc.", s.Inputs)
	assert.Equal(t, "Tests green.", s.DefinitionOfDone)
	assert.Equal(t, "Run the suite.", s.Verification)
	assert.Equal(t, "A summary.", s.OutputRequired)
}

func TestTitleKeepsInlineMarkdown(t *testing.T) {
	res := Extract("@@@task\n# Fix `parser.go` **now**\n@@@\n")
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "Fix `parser.go` **now**", res.Tasks[0].Title)
}

func TestGoalSynonymForObjective(t *testing.T) {
	res := Extract("@@@task\n# T\n## Goal\nShip.\n@@@\n")
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "Ship.", res.Tasks[0].Sections.Objective)
}
