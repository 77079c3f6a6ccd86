package webfetch

const failToolResultMessage = "The user doesn't want to proceed with this tool use. The tool use was rejected. Web fetch tools are not available through this proxy."

// BuildMockResult renders the mock prompt template for a WebFetch tool use
// and wraps it as a tool_result content block.
func BuildMockResult(tu ToolUse, mockPrompt string) map[string]any {
	rendered := renderTemplate(mockPrompt, map[string]string{"url": extractURL(tu.Input)}, nil)
	return map[string]any{
		"type":        "tool_result",
		"tool_use_id": tu.ID,
		"content":     rendered,
	}
}

// BuildFailResult returns the fixed rejection tool_result used when an
// operator declines a WebFetch call.
func BuildFailResult(tu ToolUse) map[string]any {
	return map[string]any{
		"type":        "tool_result",
		"tool_use_id": tu.ID,
		"content":     failToolResultMessage,
		"is_error":    true,
	}
}
