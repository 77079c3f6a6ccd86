// Package sse parses Server-Sent Event streams produced by the Anthropic
// Messages API, both as a complete buffered body and incrementally as bytes
// arrive on the wire.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// Event is a single decoded Server-Sent Event.
type Event struct {
	Event string `json:"event,omitempty"` // Value of the "event:" line, empty if absent.
	Data  string `json:"data"`            // Joined "data:" lines, newline-separated.
}

// ParseEvents decodes every event in a complete SSE body. Unlike a
// live-stream parser, it never early-terminates on message_stop or
// "[DONE]" — the whole body is already in hand, so every event is
// returned in order, including a trailing event with no final blank line.
func ParseEvents(body []byte) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var event, data string
	flush := func() {
		if data != "" {
			events = append(events, Event{Event: event, Data: data})
		}
		event, data = "", ""
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimPrefix(line, "data:")
			d = strings.TrimPrefix(d, " ")
			if data == "" {
				data = d
			} else {
				data += "\n" + d
			}
		default:
			// Comment line (":") or unrecognized field — ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return events, err
	}
	flush()
	return events, nil
}

// ExtractText concatenates every text_delta payload across content_block_delta
// events, in order, producing the plain-text content of a response.
func ExtractText(events []Event) string {
	var sb strings.Builder
	for _, e := range events {
		if e.Event != "content_block_delta" {
			continue
		}
		var delta struct {
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(e.Data), &delta); err != nil {
			continue
		}
		if delta.Delta.Type == "text_delta" {
			sb.WriteString(delta.Delta.Text)
		}
	}
	return sb.String()
}

// IncrementalParser feeds raw SSE bytes as they arrive off the wire and
// emits each completed event's data payload. It mirrors the framing rules
// of ParseEvents but is designed for a streaming byte source that may
// split lines (or even the trailing \n) across reads.
type IncrementalParser struct {
	buffer  strings.Builder
	current []string
}

// Feed appends chunk to the internal buffer and returns the data payload
// of every event completed by this call, in order.
func (p *IncrementalParser) Feed(chunk []byte) []string {
	p.buffer.Write(chunk)
	buf := p.buffer.String()

	var completed []string
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(buf[:idx], "\r")
		buf = buf[idx+1:]

		if line == "" {
			if len(p.current) > 0 {
				joined := strings.Join(p.current, "\n")
				if joined != "" {
					completed = append(completed, joined)
				}
				p.current = nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			d := strings.TrimPrefix(line, "data:")
			d = strings.TrimPrefix(d, " ")
			p.current = append(p.current, d)
		}
		// Other lines (event:, comments) are ignored by the incremental
		// parser: only the data payload is needed downstream.
	}

	p.buffer.Reset()
	p.buffer.WriteString(buf)
	return completed
}

// Flush returns any buffered-but-unterminated event data, clearing it.
// Call once at end-of-stream to recover a trailing event with no final
// blank line.
func (p *IncrementalParser) Flush() string {
	if len(p.current) == 0 {
		return ""
	}
	joined := strings.Join(p.current, "\n")
	p.current = nil
	return joined
}
