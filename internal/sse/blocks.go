package sse

import "encoding/json"

// ContentBlock is a reconstructed message content block, accumulated across
// content_block_start/content_block_delta/content_block_stop events.
type ContentBlock struct {
	Index     int             `json:"index"`
	Type      string          `json:"type"` // "text", "thinking", "tool_use", "server_tool_use"
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`

	partialJSON string
}

// Reconstruct replays a decoded event sequence and returns the final
// stop_reason (from the message_delta event, empty if absent) along with
// every content block in index order.
func Reconstruct(events []Event) (stopReason string, blocks []ContentBlock) {
	byIndex := map[int]*ContentBlock{}
	var order []int

	for _, e := range events {
		switch e.Event {
		case "content_block_start":
			var payload struct {
				Index        int `json:"index"`
				ContentBlock struct {
					Type  string          `json:"type"`
					ID    string          `json:"id"`
					Name  string          `json:"name"`
					Text  string          `json:"text"`
					Input json.RawMessage `json:"input"`
				} `json:"content_block"`
			}
			if err := json.Unmarshal([]byte(e.Data), &payload); err != nil {
				continue
			}
			cb := &ContentBlock{
				Index: payload.Index,
				Type:  payload.ContentBlock.Type,
				ID:    payload.ContentBlock.ID,
				Name:  payload.ContentBlock.Name,
				Text:  payload.ContentBlock.Text,
				Input: payload.ContentBlock.Input,
			}
			byIndex[payload.Index] = cb
			order = append(order, payload.Index)

		case "content_block_delta":
			var payload struct {
				Index int `json:"index"`
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
					Thinking    string `json:"thinking"`
					Signature   string `json:"signature"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(e.Data), &payload); err != nil {
				continue
			}
			cb, ok := byIndex[payload.Index]
			if !ok {
				continue
			}
			switch payload.Delta.Type {
			case "text_delta":
				cb.Text += payload.Delta.Text
			case "thinking_delta":
				cb.Thinking += payload.Delta.Thinking
			case "signature_delta":
				cb.Signature += payload.Delta.Signature
			case "input_json_delta":
				cb.partialJSON += payload.Delta.PartialJSON
			}

		case "content_block_stop":
			var payload struct {
				Index int `json:"index"`
			}
			if err := json.Unmarshal([]byte(e.Data), &payload); err != nil {
				continue
			}
			cb, ok := byIndex[payload.Index]
			if !ok {
				continue
			}
			switch cb.Type {
			case "tool_use", "server_tool_use":
				if cb.partialJSON == "" {
					break
				}
				var v any
				if err := json.Unmarshal([]byte(cb.partialJSON), &v); err == nil {
					cb.Input = json.RawMessage(cb.partialJSON)
				} else {
					cb.Input = json.RawMessage("{}")
				}
			}

		case "message_delta":
			var payload struct {
				Delta struct {
					StopReason *string `json:"stop_reason"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(e.Data), &payload); err != nil {
				continue
			}
			if payload.Delta.StopReason != nil {
				stopReason = *payload.Delta.StopReason
			}
		}
	}

	for _, idx := range order {
		blocks = append(blocks, *byIndex[idx])
	}
	return stopReason, blocks
}
