package adapter

import (
	"strings"

	"github.com/cohort-dev/cohort/internal/types/streams"
)

// GetString extracts a string field from a generic map.
func GetString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// GetMap extracts a nested map field from a generic map.
func GetMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

// parseEnvelope unpacks the session/update params shape
// { sessionId, update: { sessionUpdate: <kind>, ... } }.
// It returns ok=false for anything malformed.
func parseEnvelope(sessionID string, raw any) (string, map[string]any, bool) {
	params, ok := raw.(map[string]any)
	if !ok {
		return "", nil, false
	}
	if sid := GetString(params, "sessionId"); sid != "" {
		sessionID = sid
	}
	update := GetMap(params, "update")
	if update == nil {
		// Accept a bare update object as well; some providers skip the
		// params wrapper when replaying history.
		if GetString(params, "sessionUpdate") != "" {
			update = params
		} else {
			return "", nil, false
		}
	}
	if GetString(update, "sessionUpdate") == "" {
		return "", nil, false
	}
	return sessionID, update, true
}

// CoerceStatus maps an upstream status string onto the canonical set.
// An output value or a terminal status string implies completion.
func CoerceStatus(raw string, hasOutput bool) streams.ToolStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued":
		return streams.ToolStatusPending
	case "completed", "complete", "done", "success", "succeeded":
		return streams.ToolStatusCompleted
	case "failed", "error", "errored", "cancelled", "canceled":
		return streams.ToolStatusFailed
	case "in_progress", "running", "started", "":
		if hasOutput {
			return streams.ToolStatusCompleted
		}
		return streams.ToolStatusRunning
	default:
		if hasOutput {
			return streams.ToolStatusCompleted
		}
		return streams.ToolStatusRunning
	}
}

// coercePlanStatus maps an upstream plan-item status onto the canonical set.
func coercePlanStatus(raw string) streams.PlanStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "done":
		return streams.PlanStatusDone
	case "failed", "error":
		return streams.PlanStatusFailed
	case "in_progress":
		return streams.PlanStatusInProgress
	case "canceled", "cancelled":
		return streams.PlanStatusCanceled
	default:
		return streams.PlanStatusPending
	}
}

// extractText pulls prose out of an update that may carry either a flat text
// field or an ACP-style content block { content: { type: "text", text } }.
func extractText(update map[string]any) string {
	if text := GetString(update, "text"); text != "" {
		return text
	}
	content := GetMap(update, "content")
	if content == nil {
		return ""
	}
	if text := GetString(content, "text"); text != "" {
		return text
	}
	return ""
}

// extractPlan converts the wire plan entries into canonical plan items.
func extractPlan(update map[string]any) []streams.PlanItem {
	entries, ok := update["entries"].([]any)
	if !ok {
		return nil
	}
	items := make([]streams.PlanItem, 0, len(entries))
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		desc := GetString(entry, "content")
		if desc == "" {
			desc = GetString(entry, "description")
		}
		items = append(items, streams.PlanItem{
			Description: desc,
			Status:      coercePlanStatus(GetString(entry, "status")),
			Priority:    GetString(entry, "priority"),
		})
	}
	return items
}

// extractUsage pulls token counts from a turn-complete update.
func extractUsage(update map[string]any) *streams.Usage {
	usage := GetMap(update, "usage")
	if usage == nil {
		return nil
	}
	in := toInt64(usage["inputTokens"])
	out := toInt64(usage["outputTokens"])
	if in == 0 && out == 0 {
		in = toInt64(usage["input_tokens"])
		out = toInt64(usage["output_tokens"])
	}
	if in == 0 && out == 0 {
		return nil
	}
	return &streams.Usage{InputTokens: in, OutputTokens: out}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
