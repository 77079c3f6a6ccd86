// Package filter applies a session's filter profile to a request body
// before it is forwarded upstream. Three transforms are applied, each
// idempotent and safe to re-run against an already-filtered body:
// system-text filtering, tool-name filtering, and tool-call-pair
// retention.
package filter

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Profile is a named, ordered set of filter rules.
type Profile struct {
	Name          string
	SystemFilters []string // Regex patterns matched against system text.
	ToolFilters   []string // Glob patterns matched against tool names.
	KeepToolPairs int      // Number of most-recent tool_use/tool_result pairs to retain; 0 disables the message filter.
}

// Apply runs all three filters against body in place, returning the
// filtered JSON. body must be a JSON object; non-object bodies are
// returned unchanged.
func Apply(body []byte, profile Profile) ([]byte, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body, err
	}

	applySystemFilters(data, profile.SystemFilters)
	applyToolFilters(data, profile.ToolFilters)
	if profile.KeepToolPairs > 0 {
		applyMessageFilters(data, profile.KeepToolPairs)
	}

	return json.Marshal(data)
}

// patternMatches reports whether pattern matches text. pattern is compiled
// as a regex; an invalid regex falls back to a plain substring check, so a
// profile author typing a literal string (not intending regex metacharacters)
// still gets useful behavior.
func patternMatches(text, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(text, pattern)
	}
	return re.MatchString(text)
}

// applySystemFilters removes system blocks whose text matches any pattern.
// The "system" field may be a plain string or an array of content blocks;
// both Anthropic request shapes are supported. The key is deleted entirely
// if every block (or the whole string) is removed.
func applySystemFilters(data map[string]any, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	system, ok := data["system"]
	if !ok {
		return
	}

	switch v := system.(type) {
	case string:
		for _, p := range patterns {
			if patternMatches(v, p) {
				delete(data, "system")
				return
			}
		}
	case []any:
		var retained []any
		for _, block := range v {
			blockMap, ok := block.(map[string]any)
			if !ok {
				retained = append(retained, block)
				continue
			}
			text, _ := blockMap["text"].(string)
			matched := false
			for _, p := range patterns {
				if patternMatches(text, p) {
					matched = true
					break
				}
			}
			if !matched {
				retained = append(retained, block)
			}
		}
		if len(retained) == 0 {
			delete(data, "system")
		} else {
			data["system"] = retained
		}
	}
}

// applyToolFilters removes tools whose name matches any glob pattern.
// The "tools" key is deleted entirely if every tool is removed.
func applyToolFilters(data map[string]any, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	toolsVal, ok := data["tools"].([]any)
	if !ok {
		return
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if g, err := glob.Compile(p); err == nil {
			globs = append(globs, g)
		}
	}

	var retained []any
	for _, t := range toolsVal {
		toolMap, ok := t.(map[string]any)
		if !ok {
			retained = append(retained, t)
			continue
		}
		name, _ := toolMap["name"].(string)
		excluded := false
		for _, g := range globs {
			if g.Match(name) {
				excluded = true
				break
			}
		}
		if !excluded {
			retained = append(retained, t)
		}
	}

	if len(retained) == 0 {
		delete(data, "tools")
	} else {
		data["tools"] = retained
	}
}

// applyMessageFilters retains only the most recent `keep` tool_use/
// tool_result pairs, identified by tool_use id, chronologically across all
// messages. If fewer than `keep` distinct tool_use ids exist, this is a
// no-op. Messages whose content becomes empty after pruning are dropped
// entirely.
func applyMessageFilters(data map[string]any, keep int) {
	messages, ok := data["messages"].([]any)
	if !ok {
		return
	}

	var ids []string
	for _, m := range messages {
		msgMap, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msgMap["content"].([]any)
		if !ok {
			continue
		}
		for _, c := range content {
			blockMap, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if blockMap["type"] == "tool_use" {
				if id, ok := blockMap["id"].(string); ok {
					ids = append(ids, id)
				}
			}
		}
	}

	if len(ids) <= keep {
		return
	}

	remove := make(map[string]bool, len(ids)-keep)
	for _, id := range ids[:len(ids)-keep] {
		remove[id] = true
	}

	var keptMessages []any
	for _, m := range messages {
		msgMap, ok := m.(map[string]any)
		if !ok {
			keptMessages = append(keptMessages, m)
			continue
		}
		content, ok := msgMap["content"].([]any)
		if !ok {
			keptMessages = append(keptMessages, m)
			continue
		}

		var keptContent []any
		for _, c := range content {
			blockMap, ok := c.(map[string]any)
			if !ok {
				keptContent = append(keptContent, c)
				continue
			}
			switch blockMap["type"] {
			case "tool_use":
				if id, _ := blockMap["id"].(string); remove[id] {
					continue
				}
			case "tool_result":
				if id, _ := blockMap["tool_use_id"].(string); remove[id] {
					continue
				}
			}
			keptContent = append(keptContent, c)
		}

		if len(keptContent) == 0 {
			continue
		}
		msgMap["content"] = keptContent
		keptMessages = append(keptMessages, msgMap)
	}

	data["messages"] = keptMessages
}
