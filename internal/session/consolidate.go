package session

import (
	"strings"

	"github.com/cohort-dev/cohort/internal/types/streams"
)

// Consolidate merges every maximal run of streamed agent-message chunks into
// one agent_message carrying the concatenation. Non-chunk entries keep their
// order; the history itself is never modified.
func Consolidate(history []*streams.Update) []*streams.Update {
	var out []*streams.Update
	var run []*streams.Update

	flush := func() {
		if len(run) == 0 {
			return
		}
		var sb strings.Builder
		for _, u := range run {
			sb.WriteString(u.Message.Text)
		}
		merged := *run[0]
		merged.Message = &streams.MessagePayload{Text: sb.String()}
		merged.Raw = nil
		out = append(out, &merged)
		run = nil
	}

	for _, u := range history {
		if u.Kind == streams.UpdateAgentMessage && u.Message != nil && u.Message.IsChunk {
			run = append(run, u)
			continue
		}
		flush()
		out = append(out, u)
	}
	flush()
	return out
}
