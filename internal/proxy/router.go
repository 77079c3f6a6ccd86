package proxy

import (
	"fmt"
	"strings"
)

// Dialect distinguishes the two client-facing request shapes the proxy
// accepts.
type Dialect int

const (
	// DialectNative forwards method, headers, and body verbatim to the
	// session's target URL.
	DialectNative Dialect = iota
	// DialectFramed translates an Anthropic-shaped body into a streaming
	// request and re-frames the SSE response as AWS event-stream chunks.
	DialectFramed
)

// Route holds the parsed components of an incoming request URL.
//
// Native dialect:  /_proxy/{session_id}/{tail...}
// Framed dialect:  /_bedrock/{session_id}/{model_id}/model/{model_id}/invoke-with-response-stream
// (the model id segment appears twice by protocol convention; both must
// match for the route to parse).
type Route struct {
	Dialect   Dialect
	SessionID string
	Tail      string // native: everything after the session id, with leading "/"
	ModelID   string // framed only
}

// ParseRoute parses path into a Route, or returns an error if it matches
// neither dialect's shape.
func ParseRoute(path string) (Route, error) {
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) >= 2 && parts[0] == "_proxy":
		tail := ""
		if len(parts) > 2 {
			tail = "/" + strings.Join(parts[2:], "/")
		}
		return Route{Dialect: DialectNative, SessionID: parts[1], Tail: tail}, nil

	case len(parts) == 6 && parts[0] == "_bedrock":
		return parseFramedRoute(parts)

	default:
		return Route{}, fmt.Errorf("invalid proxy path: %s", path)
	}
}

// parseFramedRoute expects parts shaped as:
// ["_bedrock", session_id, model_id, "model", model_id, "invoke-with-response-stream"]
func parseFramedRoute(parts []string) (Route, error) {
	sessionID := parts[1]
	modelA, modelB := parts[2], parts[4]
	if parts[3] != "model" || parts[5] != "invoke-with-response-stream" {
		return Route{}, fmt.Errorf("invalid bedrock path shape")
	}
	if modelA != modelB {
		return Route{}, fmt.Errorf("bedrock path model id mismatch: %q vs %q", modelA, modelB)
	}
	return Route{Dialect: DialectFramed, SessionID: sessionID, ModelID: modelA}, nil
}
