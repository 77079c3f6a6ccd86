package webfetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ctrlproxy/ctrlproxy/internal/sse"
)

func TestExtractFromEventsEndTurn(t *testing.T) {
	events := []sse.Event{
		{Event: "message_delta", Data: `{"delta":{"stop_reason":"end_turn"}}`},
	}
	if got := ExtractFromEvents(events, []string{"WebFetch"}); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestExtractFromEventsIgnoresNonWebfetchTool(t *testing.T) {
	events := []sse.Event{
		{Event: "content_block_start", Data: `{"index":0,"content_block":{"type":"tool_use","id":"t1","name":"Bash"}}`},
		{Event: "content_block_stop", Data: `{"index":0}`},
		{Event: "message_delta", Data: `{"delta":{"stop_reason":"tool_use"}}`},
	}
	if got := ExtractFromEvents(events, []string{"WebFetch"}); got != nil {
		t.Fatalf("expected nil for non-matching tool, got %+v", got)
	}
}

func TestExtractFromEventsMatchesWebFetch(t *testing.T) {
	events := []sse.Event{
		{Event: "content_block_start", Data: `{"index":0,"content_block":{"type":"text"}}`},
		{Event: "content_block_delta", Data: `{"index":0,"delta":{"type":"text_delta","text":"looking"}}`},
		{Event: "content_block_stop", Data: `{"index":0}`},
		{Event: "content_block_start", Data: `{"index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"WebFetch","input":{}}}`},
		{Event: "content_block_delta", Data: `{"index":1,"delta":{"type":"input_json_delta","partial_json":"{\"url\":\"https://example.com\"}"}}`},
		{Event: "content_block_stop", Data: `{"index":1}`},
		{Event: "message_delta", Data: `{"delta":{"stop_reason":"tool_use"}}`},
	}
	got := ExtractFromEvents(events, []string{"WebFetch"})
	if got == nil || len(got.ToolUses) != 1 {
		t.Fatalf("expected 1 tool use, got %+v", got)
	}
	if BuildInputSummary(got.ToolUses[0]) != "URL: https://example.com" {
		t.Fatalf("unexpected summary: %s", BuildInputSummary(got.ToolUses[0]))
	}
}

func TestRetainMatchedToolBlocks(t *testing.T) {
	blocks := []sse.ContentBlock{
		{Type: "text", Text: "hi"},
		{Type: "tool_use", ID: "keep"},
		{Type: "tool_use", ID: "drop"},
	}
	retained := RetainMatchedToolBlocks(blocks, []ToolUse{{ID: "keep"}})
	if len(retained) != 2 {
		t.Fatalf("expected 2 retained blocks, got %d", len(retained))
	}
}

func TestIsAllWhitelisted(t *testing.T) {
	tools := []ToolUse{{Name: "WebFetch", Input: json.RawMessage(`{"url":"https://docs.example.com/page"}`)}}
	if !IsAllWhitelisted(tools, []string{"example.com"}, []string{"WebFetch"}) {
		t.Fatalf("expected whitelist match for subdomain")
	}
	if IsAllWhitelisted(tools, []string{"other.com"}, []string{"WebFetch"}) {
		t.Fatalf("expected no match against unrelated whitelist")
	}
	if IsAllWhitelisted(nil, []string{"example.com"}, []string{"WebFetch"}) {
		t.Fatalf("empty tool uses must never be all-whitelisted")
	}
}

func TestBuildFollowupBody(t *testing.T) {
	original := map[string]any{
		"model":    "claude",
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
	}
	assistantContent := []map[string]any{{"type": "tool_use", "id": "t1"}}
	toolResults := []map[string]any{{"type": "tool_result", "tool_use_id": "t1"}}

	body := BuildFollowupBody(original, assistantContent, toolResults)
	messages := body["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if body["stream"] != true {
		t.Fatalf("expected stream:true to be set")
	}
}

func TestBuildMockResult(t *testing.T) {
	tu := ToolUse{ID: "t1", Input: json.RawMessage(`{"url":"https://example.com"}`)}
	result := BuildMockResult(tu, "[mock] {{url}}")
	if result["content"] != "[mock] https://example.com" {
		t.Fatalf("unexpected rendered mock content: %v", result["content"])
	}
}

func TestBuildFailResult(t *testing.T) {
	tu := ToolUse{ID: "t1"}
	result := BuildFailResult(tu)
	if result["is_error"] != true {
		t.Fatalf("expected is_error true")
	}
	if result["content"] != failToolResultMessage {
		t.Fatalf("unexpected fail message: %v", result["content"])
	}
}

func TestRenderTemplateConditional(t *testing.T) {
	tmpl := "{{#if concise}}short{{else}}long{{/if}}"
	if got := renderTemplate(tmpl, nil, map[string]bool{"concise": true}); got != "short" {
		t.Fatalf("expected 'short', got %q", got)
	}
	if got := renderTemplate(tmpl, nil, map[string]bool{"concise": false}); got != "long" {
		t.Fatalf("expected 'long', got %q", got)
	}
}

func TestRenderTemplateMissingVar(t *testing.T) {
	got := renderTemplate("hello {{name}}", nil, nil)
	if got != "hello " {
		t.Fatalf("expected missing var to render empty, got %q", got)
	}
}

func TestBuildAcceptResultMissingURL(t *testing.T) {
	tu := ToolUse{ID: "t1", Name: "WebFetch", Input: json.RawMessage(`{}`)}
	fctx := FetchContext{WebfetchNames: []string{"WebFetch"}}
	result := BuildAcceptResult(context.Background(), tu, "summarize", false, fctx)
	if result.ToolResult["content"] != "WebFetch tool call is missing the 'url' input field." {
		t.Fatalf("unexpected result: %+v", result.ToolResult)
	}
}

func TestBuildAcceptResultNonWebfetchTool(t *testing.T) {
	tu := ToolUse{ID: "t1", Name: "Bash", Input: json.RawMessage(`{}`)}
	fctx := FetchContext{WebfetchNames: []string{"WebFetch"}}
	result := BuildAcceptResult(context.Background(), tu, "summarize", false, fctx)
	if result.ToolResult["is_error"] != true {
		t.Fatalf("expected error result for non-webfetch tool")
	}
}

func TestBuildAcceptResultCrossHostRedirect(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://other.example.com/page")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	tu := ToolUse{ID: "t1", Name: "WebFetch", Input: json.RawMessage(`{"url":"` + upstream.URL + `"}`)}
	fctx := FetchContext{
		Client:         client,
		WebfetchNames:  []string{"WebFetch"},
		RedirectPrompt: "redirected from {{original_url}} to {{redirect_url}} ({{status}}): {{prompt}}",
	}
	result := BuildAcceptResult(context.Background(), tu, "summarize this", false, fctx)
	content, _ := result.ToolResult["content"].(string)
	if content == "" {
		t.Fatalf("expected rendered redirect content")
	}
}
