// Package intercept implements the bounded, iterative human-in-the-loop
// approval loop for intercepted WebFetch tool calls: detect a tool_use
// stop, ask an operator (or the whitelist, or a timeout) to decide each
// tool's fate, execute that decision, send a follow-up request upstream,
// and repeat until the model stops asking for WebFetch or the round cap
// is reached.
package intercept

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ctrlproxy/ctrlproxy/internal/approval"
	"github.com/ctrlproxy/ctrlproxy/internal/sse"
	"github.com/ctrlproxy/ctrlproxy/internal/webfetch"
)

// MaxRounds bounds the follow-up loop: after this many intercepted rounds
// the proxy stops asking and returns whatever response it has, logging a
// warning rather than looping forever against an uncooperative model.
const MaxRounds = 10

// ApprovalTimeout is how long an operator has to resolve a queued
// approval before it auto-resolves to Fail.
const ApprovalTimeout = 120 * time.Second

// RoundRecord captures everything about one iteration of the intercept
// loop, for both display and audit.
type RoundRecord struct {
	Decision        string      `json:"decision"` // "Accept" | "Fail" | "Mock" | "Auto-Accept (whitelisted)" | "Timeout (auto-fail)"
	ToolNames       []string    `json:"tool_names"`
	RequestID       *string     `json:"request_id"`
	AgentRequestIDs []*string   `json:"agent_request_ids"`
	FollowupBody    string      `json:"followup_body"`
	ResponseBody    string      `json:"response_body"`
	ResponseEvents  []sse.Event `json:"response_events"`
}

// Result is the outcome of a completed (or aborted) intercept loop.
type Result struct {
	Status           int
	Headers          http.Header
	Body             string
	Note             string
	FollowupBodyJSON string // first round's follow-up body, pretty-printed, kept for backward-compatible display
	RoundsJSON       string // compact JSON array of every RoundRecord
}

// RequestSender sends one follow-up request upstream and returns the
// response status, headers, and body. Returning an error aborts the
// whole intercept loop with no partial state committed, matching the
// original `?`-propagation behavior on a send failure.
type RequestSender func(ctx context.Context, body []byte) (status int, headers http.Header, respBody []byte, err error)

// RoundLogger records one follow-up round's request/response for display
// and audit.
type RoundLogger interface {
	LogRequest(ctx context.Context, note string, requestBody []byte) (requestID string, err error)
	StoreResponse(ctx context.Context, requestID string, status int, body []byte)
}

// Params bundles everything Intercept needs to run the loop for a single
// top-level (non-follow-up) response.
type Params struct {
	ResponseBody   []byte // the original upstream response body (SSE)
	OriginalBody   []byte // the original, already-filtered request body sent upstream
	SessionID      string
	WhitelistHosts []string
	WebfetchNames  []string
	Queue          *approval.Queue
	Send           RequestSender
	Logger         RoundLogger
	Fetch          webfetch.FetchContext
	MockPrompt     string
}

// Intercept runs the bounded approval loop. It returns nil if the
// response never asked for an eligible WebFetch tool call — the caller
// should then forward the original response unmodified.
func Intercept(ctx context.Context, p Params) (*Result, error) {
	events, err := sse.ParseEvents(p.ResponseBody)
	if err != nil {
		return nil, fmt.Errorf("parsing response SSE: %w", err)
	}

	intercepted := webfetch.ExtractFromEvents(events, p.WebfetchNames)
	if intercepted == nil {
		return nil, nil
	}

	var originalBody map[string]any
	if err := json.Unmarshal(p.OriginalBody, &originalBody); err != nil {
		return nil, fmt.Errorf("parsing original request body: %w", err)
	}

	contentBlocks := webfetch.RetainMatchedToolBlocks(intercepted.ContentBlocks, intercepted.ToolUses)
	toolUses := intercepted.ToolUses

	var rounds []RoundRecord
	finalStatus := 200
	finalHeaders := http.Header{}
	finalBody := p.ResponseBody
	exhausted := true

	for round := 0; round < MaxRounds; round++ {
		decision, label := waitForApproval(p.SessionID, toolUses, p.WhitelistHosts, p.WebfetchNames, p.Queue)

		toolResults, agentIDs := buildToolResults(ctx, toolUses, decision, p)

		assistantContent := blocksToContent(contentBlocks)
		followupBody := webfetch.BuildFollowupBody(originalBody, assistantContent, toolResults)
		followupJSON, err := json.Marshal(followupBody)
		if err != nil {
			return nil, fmt.Errorf("marshaling follow-up body: %w", err)
		}

		status, headers, respBody, err := p.Send(ctx, followupJSON)
		if err != nil {
			// Matches the original's `?`-propagation: a transport failure
			// aborts the whole loop with nothing committed.
			return nil, fmt.Errorf("sending follow-up request: %w", err)
		}

		responseEvents, _ := sse.ParseEvents(respBody)

		var requestID *string
		if p.Logger != nil {
			id, logErr := p.Logger.LogRequest(ctx, fmt.Sprintf("webfetch follow-up (round %d)", round+1), followupJSON)
			if logErr != nil {
				requestID = nil
			} else {
				p.Logger.StoreResponse(ctx, id, status, respBody)
				requestID = &id
			}
		}

		toolNames := make([]string, len(toolUses))
		for i, tu := range toolUses {
			toolNames[i] = tu.Name
		}

		rounds = append(rounds, RoundRecord{
			Decision:        label,
			ToolNames:       toolNames,
			RequestID:       requestID,
			AgentRequestIDs: agentIDs,
			FollowupBody:    string(followupJSON),
			ResponseBody:    string(respBody),
			ResponseEvents:  responseEvents,
		})

		finalStatus, finalHeaders, finalBody = status, headers, respBody

		// current_body = followup_body: the next round's follow-up must be
		// built on top of this round's messages, not the original request,
		// or every prior round's assistant turn and tool results are lost.
		originalBody = followupBody

		next := webfetch.ExtractFromEvents(responseEvents, p.WebfetchNames)
		if next == nil {
			exhausted = false
			break
		}
		contentBlocks = webfetch.RetainMatchedToolBlocks(next.ContentBlocks, next.ToolUses)
		toolUses = next.ToolUses

		_ = decision // decision is only used for this round's label/results
	}

	if exhausted {
		slog.Warn("intercept: round cap reached with WebFetch calls still pending, returning last response", "max_rounds", MaxRounds, "session_id", p.SessionID)
	}

	if len(rounds) == 0 {
		return nil, nil
	}

	note := buildInterceptNote(rounds)
	followupBodyJSON, roundsJSON := serializeRounds(rounds)

	return &Result{
		Status:           finalStatus,
		Headers:          finalHeaders,
		Body:             string(finalBody),
		Note:             note,
		FollowupBodyJSON: followupBodyJSON,
		RoundsJSON:       roundsJSON,
	}, nil
}

func blocksToContent(blocks []sse.ContentBlock) []map[string]any {
	out := make([]map[string]any, len(blocks))
	for i, b := range blocks {
		block := map[string]any{"type": b.Type}
		switch b.Type {
		case "text":
			block["text"] = b.Text
		case "thinking":
			block["thinking"] = b.Thinking
			block["signature"] = b.Signature
		case "tool_use", "server_tool_use":
			block["id"] = b.ID
			block["name"] = b.Name
			if len(b.Input) > 0 {
				var v any
				if err := json.Unmarshal(b.Input, &v); err == nil {
					block["input"] = v
				}
			}
		}
		out[i] = block
	}
	return out
}

// waitForApproval blocks until an operator resolves the queued approval,
// the approval times out, or the whole set of tool calls is eligible for
// whitelist bypass.
func waitForApproval(sessionID string, toolUses []webfetch.ToolUse, whitelist, webfetchNames []string, queue *approval.Queue) (approval.Decision, string) {
	if webfetch.IsAllWhitelisted(toolUses, whitelist, webfetchNames) {
		return approval.Accept, "Auto-Accept (whitelisted)"
	}

	infos := make([]approval.ToolInfo, len(toolUses))
	for i, tu := range toolUses {
		infos[i] = approval.ToolInfo{Name: tu.Name, InputSummary: webfetch.BuildInputSummary(tu)}
	}

	id, reply := queue.Enqueue(sessionID, infos)

	select {
	case decision := <-reply:
		return decision, labelForDecision(decision)
	case <-time.After(ApprovalTimeout):
		queue.Remove(id)
		return approval.Fail, "Timeout (auto-fail)"
	}
}

func labelForDecision(d approval.Decision) string {
	switch d {
	case approval.Accept:
		return "Accept"
	case approval.Mock:
		return "Mock"
	default:
		return "Fail"
	}
}

func buildToolResults(ctx context.Context, toolUses []webfetch.ToolUse, decision approval.Decision, p Params) ([]map[string]any, []*string) {
	results := make([]map[string]any, len(toolUses))
	agentIDs := make([]*string, len(toolUses))

	for i, tu := range toolUses {
		switch decision {
		case approval.Fail:
			results[i] = webfetch.BuildFailResult(tu)
		case approval.Mock:
			results[i] = webfetch.BuildMockResult(tu, p.MockPrompt)
		case approval.Accept:
			var input struct {
				Prompt string `json:"prompt"`
			}
			_ = json.Unmarshal(tu.Input, &input)
			res := webfetch.BuildAcceptResult(ctx, tu, input.Prompt, false, p.Fetch)
			results[i] = res.ToolResult
			if res.AgentRequestID != "" {
				id := res.AgentRequestID
				agentIDs[i] = &id
			}
		}
	}
	return results, agentIDs
}

func buildInterceptNote(rounds []RoundRecord) string {
	var names []string
	for _, tn := range rounds[0].ToolNames {
		names = append(names, tn)
	}
	joined := strings.Join(names, ", ")
	if len(rounds) == 1 {
		return fmt.Sprintf("webfetch intercepted: %s", joined)
	}
	return fmt.Sprintf("webfetch intercepted (%d rounds): %s", len(rounds), joined)
}

// serializeRounds returns the first round's follow-up body (pretty-
// printed, for backward-compatible single-round display) and a compact
// JSON array of every round.
func serializeRounds(rounds []RoundRecord) (followupBodyJSON string, roundsJSON string) {
	if len(rounds) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal([]byte(rounds[0].FollowupBody), &pretty); err == nil {
			if b, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				followupBodyJSON = string(b)
			}
		}
	}
	if b, err := json.Marshal(rounds); err == nil {
		roundsJSON = string(b)
	}
	return followupBodyJSON, roundsJSON
}
