package webfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ctrlproxy/ctrlproxy/internal/sse"
)

const maxAcceptContentBytes = 100 * 1024
const agentSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."
const acceptTextWidth = 120

// AcceptResult is the outcome of executing an Accept decision for one
// WebFetch tool call.
type AcceptResult struct {
	ToolResult     map[string]any
	AgentRequestID string // empty if no agent sub-request was logged
}

// Logger records an upstream request/response pair for display and audit,
// returning an opaque request id. Implemented by the store package; kept
// as an interface here so this package has no persistence dependency.
type Logger interface {
	LogRequest(ctx context.Context, note string, requestBody []byte) (requestID string, err error)
	StoreResponse(ctx context.Context, requestID string, status int, body []byte)
}

// FetchContext carries everything BuildAcceptResult needs to execute one
// Accept decision. Client must have redirects disabled
// (CheckRedirect returning http.ErrUseLastResponse) so that cross-host
// redirects can be detected and rendered as a redirect prompt instead of
// being followed transparently.
type FetchContext struct {
	Client         *http.Client
	AgentClient    *http.Client // client used for the upstream agent sub-request; defaults to Client if nil
	AgentURL       string       // upstream /v1/messages URL for the agent sub-request
	WebfetchNames  []string
	RedirectPrompt string
	AcceptPrompt   string
	AgentModel     string
	Logger         Logger
}

// BuildAcceptResult executes the Accept decision for a single tool use:
// fetching the URL (following at most one same-host redirect, and
// rendering a redirect-prompt tool_result for a cross-host redirect),
// rendering the page content into the accept-prompt template, and handing
// the rendered prompt to a secondary agent sub-request for summarization.
// Any failure at any stage degrades to an error tool_result (fetch stage)
// or a raw-content tool_result (agent stage) rather than propagating.
func BuildAcceptResult(ctx context.Context, tu ToolUse, userPrompt string, concise bool, fctx FetchContext) AcceptResult {
	if !nameMatches(tu.Name, fctx.WebfetchNames) {
		return errorResult(tu, fmt.Sprintf("Accept is only supported for WebFetch tool calls. '%s' cannot be executed by the proxy.", tu.Name))
	}

	rawURL := extractURL(tu.Input)
	if rawURL == "" {
		return errorResult(tu, "WebFetch tool call is missing the 'url' input field.")
	}

	original, err := url.Parse(rawURL)
	if err != nil {
		return errorResult(tu, fmt.Sprintf("Invalid URL '%s': %v", rawURL, err))
	}

	status, location, body, err := get(ctx, fctx.Client, original)
	if err != nil {
		return errorResult(tu, err.Error())
	}

	if status >= 300 && status < 400 {
		if location == "" {
			return errorResult(tu, fmt.Sprintf("redirect response (status %d) had no Location header", status))
		}
		redirectURL, err := original.Parse(location)
		if err != nil {
			return errorResult(tu, fmt.Sprintf("invalid redirect location '%s': %v", location, err))
		}

		if redirectURL.Hostname() != original.Hostname() {
			rendered := renderTemplate(fctx.RedirectPrompt, map[string]string{
				"original_url": original.String(),
				"redirect_url": redirectURL.String(),
				"status":       fmt.Sprintf("%d", status),
				"prompt":       userPrompt,
			}, nil)
			return AcceptResult{ToolResult: map[string]any{
				"type":        "tool_result",
				"tool_use_id": tu.ID,
				"content":     rendered,
			}}
		}

		// Same host: follow once manually.
		followStatus, _, followBody, err := get(ctx, fctx.Client, redirectURL)
		if err != nil {
			return errorResult(tu, err.Error())
		}
		if followStatus < 200 || followStatus >= 300 {
			return errorResult(tu, fmt.Sprintf("WebFetch request failed with status %d", followStatus))
		}
		rendered := RenderAcceptContent(followBody, fctx.AcceptPrompt, userPrompt, concise)
		return SendAgentRequest(ctx, tu, rendered, redirectURL.Hostname(), fctx)
	}

	if status < 200 || status >= 300 {
		return errorResult(tu, fmt.Sprintf("WebFetch request failed with status %d", status))
	}

	rendered := RenderAcceptContent(body, fctx.AcceptPrompt, userPrompt, concise)
	return SendAgentRequest(ctx, tu, rendered, original.Hostname(), fctx)
}

// get performs a single GET, returning the status, any Location header
// (only meaningful for 3xx responses), and the body (empty for 3xx
// responses, since the caller decides whether/how to follow).
func get(ctx context.Context, client *http.Client, target *url.URL) (status int, location string, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Accept", "text/markdown, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.StatusCode, resp.Header.Get("Location"), nil, nil
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", nil, err
	}
	return resp.StatusCode, "", b, nil
}

// errorResult wraps msg as an is_error tool_result for tu.
func errorResult(tu ToolUse, msg string) AcceptResult {
	return AcceptResult{ToolResult: map[string]any{
		"type":        "tool_result",
		"tool_use_id": tu.ID,
		"content":     msg,
		"is_error":    true,
	}}
}

// RenderAcceptContent converts raw HTML bytes to wrapped plain text,
// truncates it at maxAcceptContentBytes, and renders the accept-prompt
// template with the resulting content and the user's original prompt.
func RenderAcceptContent(body []byte, acceptPrompt, userPrompt string, concise bool) string {
	content := htmlToText(body, acceptTextWidth)
	if len(content) > maxAcceptContentBytes {
		content = content[:maxAcceptContentBytes] + "\n\n[Content truncated at 100KB]"
	}
	return renderTemplate(acceptPrompt, map[string]string{
		"content": content,
		"prompt":  userPrompt,
	}, map[string]bool{"concise": concise})
}

// SendAgentRequest hands renderedContent to a secondary "agent" sub-request
// upstream for summarization, logging the request/response and falling
// back to the raw rendered content on any failure.
func SendAgentRequest(ctx context.Context, tu ToolUse, renderedContent, urlHost string, fctx FetchContext) AcceptResult {
	model := fctx.AgentModel
	if envModel := os.Getenv("ANTHROPIC_DEFAULT_HAIKU_MODEL"); envModel != "" {
		model = envModel
	}

	agentBody, err := json.Marshal(map[string]any{
		"model": model,
		"system": []map[string]string{
			{"type": "text", "text": agentSystemPrompt},
		},
		"messages": []map[string]any{
			{"role": "user", "content": []map[string]string{{"type": "text", "text": renderedContent}}},
		},
		"max_tokens": 16384,
		"stream":     true,
	})
	if err != nil {
		return rawFallback(tu, renderedContent, "")
	}

	var requestID string
	if fctx.Logger != nil {
		requestID, err = fctx.Logger.LogRequest(ctx, fmt.Sprintf("webfetch agent (%s)", urlHost), agentBody)
		if err != nil {
			slog.Warn("webfetch: failed to log agent request", "error", err)
			return rawFallback(tu, renderedContent, "")
		}
	}

	client := fctx.AgentClient
	if client == nil {
		client = fctx.Client
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fctx.AgentURL, bytes.NewReader(agentBody))
	if err != nil {
		return rawFallback(tu, renderedContent, requestID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return rawFallback(tu, renderedContent, requestID)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawFallback(tu, renderedContent, requestID)
	}

	if fctx.Logger != nil {
		fctx.Logger.StoreResponse(ctx, requestID, resp.StatusCode, respBody)
	}

	events, err := sse.ParseEvents(respBody)
	if err != nil {
		return rawFallback(tu, renderedContent, requestID)
	}
	text := sse.ExtractText(events)
	if strings.TrimSpace(text) == "" {
		slog.Warn("webfetch: agent response produced no text, falling back to raw content")
		return rawFallback(tu, renderedContent, requestID)
	}

	return AcceptResult{
		ToolResult: map[string]any{
			"type":        "tool_result",
			"tool_use_id": tu.ID,
			"content":     text,
		},
		AgentRequestID: requestID,
	}
}

func rawFallback(tu ToolUse, content, requestID string) AcceptResult {
	return AcceptResult{
		ToolResult: map[string]any{
			"type":        "tool_result",
			"tool_use_id": tu.ID,
			"content":     content,
		},
		AgentRequestID: requestID,
	}
}
