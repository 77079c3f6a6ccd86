package webfetch

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ctrlproxy/ctrlproxy/internal/sse"
)

// ToolUse is one tool_use content block eligible for interception.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Intercepted holds the outcome of scanning a response's reconstructed
// content blocks for eligible WebFetch tool calls.
type Intercepted struct {
	ContentBlocks []sse.ContentBlock
	ToolUses      []ToolUse
}

// ExtractFromEvents inspects a decoded SSE event sequence and returns the
// intercepted WebFetch tool calls, or nil if the response didn't stop for
// a tool_use, or stopped for one but none of the tool_use blocks match
// webfetchNames.
func ExtractFromEvents(events []sse.Event, webfetchNames []string) *Intercepted {
	stopReason, blocks := sse.Reconstruct(events)
	if stopReason != "tool_use" {
		return nil
	}

	var toolUses []ToolUse
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		if !nameMatches(b.Name, webfetchNames) {
			continue
		}
		toolUses = append(toolUses, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
	}
	if len(toolUses) == 0 {
		return nil
	}

	return &Intercepted{ContentBlocks: blocks, ToolUses: toolUses}
}

func nameMatches(name string, names []string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// RetainMatchedToolBlocks filters contentBlocks down to every non-tool_use
// block plus any tool_use block whose id appears in toolUses — pruning
// tool_use blocks the response emitted that weren't eligible for
// interception (e.g. a different tool invoked in the same turn).
func RetainMatchedToolBlocks(contentBlocks []sse.ContentBlock, toolUses []ToolUse) []sse.ContentBlock {
	ids := make(map[string]bool, len(toolUses))
	for _, tu := range toolUses {
		ids[tu.ID] = true
	}

	var retained []sse.ContentBlock
	for _, b := range contentBlocks {
		if b.Type == "tool_use" && !ids[b.ID] {
			continue
		}
		retained = append(retained, b)
	}
	return retained
}

// BuildInputSummary renders a short, operator-facing description of a
// tool call's input for display in an approval prompt.
func BuildInputSummary(tu ToolUse) string {
	u := extractURL(tu.Input)
	if u == "" {
		return "URL: <unknown>"
	}
	return "URL: " + u
}

func extractURL(input json.RawMessage) string {
	var v struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return ""
	}
	return v.URL
}

// MatchesWhitelistHost reports whether host is exactly one of the
// whitelist domains, or a subdomain of one (host ends with "."+domain).
func MatchesWhitelistHost(host string, whitelist []string) bool {
	for _, domain := range whitelist {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// IsAllWhitelisted reports whether every tool use is an eligible WebFetch
// call whose URL host matches the whitelist. An empty whitelist or an
// empty tool-use set is never considered all-whitelisted.
func IsAllWhitelisted(toolUses []ToolUse, whitelist []string, webfetchNames []string) bool {
	if len(whitelist) == 0 || len(toolUses) == 0 {
		return false
	}
	for _, tu := range toolUses {
		if !nameMatches(tu.Name, webfetchNames) {
			return false
		}
		rawURL := extractURL(tu.Input)
		if rawURL == "" {
			return false
		}
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Hostname() == "" {
			return false
		}
		if !MatchesWhitelistHost(parsed.Hostname(), whitelist) {
			return false
		}
	}
	return true
}

// BuildFollowupBody clones originalBody, appends an assistant message
// carrying assistantContent and a user message carrying toolResults, and
// forces stream:true for the follow-up request.
func BuildFollowupBody(originalBody map[string]any, assistantContent []map[string]any, toolResults []map[string]any) map[string]any {
	out := make(map[string]any, len(originalBody))
	for k, v := range originalBody {
		out[k] = v
	}

	messages, _ := out["messages"].([]any)
	messages = append(messages, map[string]any{
		"role":    "assistant",
		"content": assistantContent,
	})

	userContent := make([]any, len(toolResults))
	for i, r := range toolResults {
		userContent[i] = r
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": userContent,
	})

	out["messages"] = messages
	out["stream"] = true
	return out
}
