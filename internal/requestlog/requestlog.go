// Package requestlog extracts the fields recorded for every proxied
// request: the model, a compact rendering of tools/messages, a pretty
// rendering of system/params, and both the full and truncated request
// bodies.
package requestlog

import (
	"encoding/json"
	"strconv"
)

// Fields holds everything persisted to a request log record's body-derived
// columns.
type Fields struct {
	Model         string
	ToolsJSON     string // Compact JSON, only set if "tools" is an array.
	MessagesJSON  string // Compact JSON, only set if "messages" is an array.
	SystemJSON    string // Pretty JSON of "system" in whatever shape it is, if present.
	ParamsJSON    string // Pretty JSON of the body minus model/tools/messages/system; "" if the remainder is empty.
	BodyJSON      string // Pretty JSON of the full body.
	TruncatedJSON string // Pretty JSON of the body with every string truncated to 100 chars.
	Note          string // Set when the body could not be parsed as JSON, or was empty.
}

// ExtractFields parses a request or response body and extracts the fields
// above. modelOverride is used as the model when the body itself carries no
// "model" field (the body's own field always takes precedence).
func ExtractFields(body []byte, modelOverride string) Fields {
	if len(body) == 0 {
		return Fields{Model: modelOverride, Note: "no body"}
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return Fields{Model: modelOverride, Note: noteForNonJSON(len(body))}
	}

	var f Fields
	if m, ok := data["model"].(string); ok && m != "" {
		f.Model = m
	} else {
		f.Model = modelOverride
	}

	if tools, ok := data["tools"].([]any); ok {
		if b, err := json.Marshal(tools); err == nil {
			f.ToolsJSON = string(b)
		}
	}
	if messages, ok := data["messages"].([]any); ok {
		if b, err := json.Marshal(messages); err == nil {
			f.MessagesJSON = string(b)
		}
	}
	if system, ok := data["system"]; ok {
		if b, err := json.MarshalIndent(system, "", "  "); err == nil {
			f.SystemJSON = string(b)
		}
	}

	rest := make(map[string]any, len(data))
	for k, v := range data {
		if k == "model" || k == "tools" || k == "messages" || k == "system" {
			continue
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		if b, err := json.MarshalIndent(rest, "", "  "); err == nil {
			f.ParamsJSON = string(b)
		}
	}

	if b, err := json.MarshalIndent(data, "", "  "); err == nil {
		f.BodyJSON = string(b)
	}
	if b, err := json.MarshalIndent(TruncateStrings(data, 100), "", "  "); err == nil {
		f.TruncatedJSON = string(b)
	}

	return f
}

func noteForNonJSON(n int) string {
	if n == 1 {
		return "non-JSON body, 1 byte"
	}
	return "non-JSON body, " + strconv.Itoa(n) + " bytes"
}

// TruncateStrings recursively walks a decoded JSON value, truncating every
// string longer than maxLen to maxLen characters with a "..." suffix.
// Arrays and objects are recursed into; other scalar types pass through
// unchanged.
func TruncateStrings(v any, maxLen int) any {
	switch val := v.(type) {
	case string:
		r := []rune(val)
		if len(r) > maxLen {
			return string(r[:maxLen]) + "..."
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = TruncateStrings(item, maxLen)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = TruncateStrings(item, maxLen)
		}
		return out
	default:
		return val
	}
}
