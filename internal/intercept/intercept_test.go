package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ctrlproxy/ctrlproxy/internal/approval"
)

var errAborted = errors.New("upstream send failed")

func endTurnSSE() []byte {
	return []byte("event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n")
}

func webfetchToolUseSSE() []byte {
	return []byte("" +
		"event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"WebFetch\",\"input\":{}}}\n\n" +
		"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"url\\\":\\\"https://example.com\\\"}\"}}\n\n" +
		"event: content_block_stop\ndata: {\"index\":0}\n\n" +
		"event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"tool_use\"}}\n\n")
}

func baseParams() Params {
	body, _ := json.Marshal(map[string]any{
		"model":    "claude",
		"messages": []any{map[string]any{"role": "user", "content": "fetch example.com"}},
	})
	return Params{
		ResponseBody:  webfetchToolUseSSE(),
		OriginalBody:  body,
		SessionID:     "sess-1",
		WebfetchNames: []string{"WebFetch"},
		Queue:         approval.New(),
	}
}

func TestInterceptReturnsNilWithoutToolUse(t *testing.T) {
	p := baseParams()
	p.ResponseBody = endTurnSSE()
	result, err := Intercept(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for a non-tool_use response, got %+v", result)
	}
}

func TestInterceptWhitelistBypassSingleRound(t *testing.T) {
	p := baseParams()
	p.WhitelistHosts = []string{"example.com"}
	p.Send = func(ctx context.Context, body []byte) (int, http.Header, []byte, error) {
		return 200, http.Header{}, endTurnSSE(), nil
	}

	result, err := Intercept(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}
	if result.Note != "webfetch intercepted: WebFetch" {
		t.Fatalf("unexpected note: %q", result.Note)
	}

	var rounds []RoundRecord
	if err := json.Unmarshal([]byte(result.RoundsJSON), &rounds); err != nil {
		t.Fatalf("rounds json did not parse: %v", err)
	}
	if len(rounds) != 1 || rounds[0].Decision != "Auto-Accept (whitelisted)" {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}
}

func TestInterceptOperatorFailDecision(t *testing.T) {
	p := baseParams()
	p.Send = func(ctx context.Context, body []byte) (int, http.Header, []byte, error) {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("follow-up body did not parse: %v", err)
		}
		messages := parsed["messages"].([]any)
		if len(messages) != 3 {
			t.Fatalf("expected 3 messages in follow-up body, got %d", len(messages))
		}
		return 200, http.Header{}, endTurnSSE(), nil
	}

	go func() {
		for i := 0; i < 100; i++ {
			pending := p.Queue.ListPending("sess-1")
			for id := range pending {
				p.Queue.Resolve(id, approval.Fail)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result, err := Intercept(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}

	var rounds []RoundRecord
	json.Unmarshal([]byte(result.RoundsJSON), &rounds)
	if len(rounds) != 1 || rounds[0].Decision != "Fail" {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}
}

func TestInterceptStopsAtMaxRounds(t *testing.T) {
	p := baseParams()
	p.WhitelistHosts = []string{"example.com"}
	calls := 0
	p.Send = func(ctx context.Context, body []byte) (int, http.Header, []byte, error) {
		calls++
		return 200, http.Header{}, webfetchToolUseSSE(), nil
	}

	result, err := Intercept(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != MaxRounds {
		t.Fatalf("expected exactly %d follow-up sends, got %d", MaxRounds, calls)
	}

	var rounds []RoundRecord
	json.Unmarshal([]byte(result.RoundsJSON), &rounds)
	if len(rounds) != MaxRounds {
		t.Fatalf("expected %d round records, got %d", MaxRounds, len(rounds))
	}
}

func TestInterceptAccumulatesMessagesAcrossRounds(t *testing.T) {
	p := baseParams()
	p.WhitelistHosts = []string{"example.com"}

	const rounds = 3
	var messageCounts []int
	call := 0
	p.Send = func(ctx context.Context, body []byte) (int, http.Header, []byte, error) {
		call++
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("follow-up body did not parse: %v", err)
		}
		messages, _ := parsed["messages"].([]any)
		messageCounts = append(messageCounts, len(messages))
		if call >= rounds {
			return 200, http.Header{}, endTurnSSE(), nil
		}
		return 200, http.Header{}, webfetchToolUseSSE(), nil
	}

	result, err := Intercept(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatalf("expected a non-nil result")
	}

	// Round N's follow-up body must carry the original message plus 2
	// appended messages (assistant turn + tool results) per round so far —
	// i.e. 1+2*N, not a flat 3 repeated every round.
	for i, got := range messageCounts {
		want := 1 + 2*(i+1)
		if got != want {
			t.Fatalf("round %d: expected %d accumulated messages, got %d (counts: %v)", i+1, want, got, messageCounts)
		}
	}
}

func TestInterceptSendErrorAborts(t *testing.T) {
	p := baseParams()
	p.WhitelistHosts = []string{"example.com"}
	p.Send = func(ctx context.Context, body []byte) (int, http.Header, []byte, error) {
		return 0, nil, nil, errAborted
	}

	_, err := Intercept(context.Background(), p)
	if err == nil {
		t.Fatalf("expected an error when the follow-up send fails")
	}
}
