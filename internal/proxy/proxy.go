// Package proxy implements the two client-facing dialects of the
// intercepting reverse proxy: a native pass-through surface that forwards
// requests verbatim, and a framed ("Bedrock"-shaped) surface that
// translates the body, dispatches it as a streaming Anthropic request, and
// re-emits the SSE response as binary event-stream chunks — optionally
// pausing on intercepted WebFetch tool calls for operator approval.
//
// See design doc Section 4.8 for the per-dialect step sequence.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ctrlproxy/ctrlproxy/internal/approval"
	"github.com/ctrlproxy/ctrlproxy/internal/errinject"
	"github.com/ctrlproxy/ctrlproxy/internal/eventstream"
	"github.com/ctrlproxy/ctrlproxy/internal/filter"
	"github.com/ctrlproxy/ctrlproxy/internal/intercept"
	"github.com/ctrlproxy/ctrlproxy/internal/sse"
	"github.com/ctrlproxy/ctrlproxy/internal/store"
	"github.com/ctrlproxy/ctrlproxy/internal/webfetch"
	"github.com/ctrlproxy/ctrlproxy/internal/webfetchcfg"
)

// webfetchToolNames is the fixed set of tool names the interceptor pauses
// on. The legacy "websearch+webfetch" module (handling server_tool_use with
// stop_reason:"end_turn") is not implemented — see design doc Section 9.
var webfetchToolNames = []string{"WebFetch"}

// Options holds the dependencies injected into the proxy at creation.
// WebfetchCfg carries the fully-resolved agent model and prompt templates —
// the precedence between the YAML-level fallback and the TOML-level
// override is resolved once by the caller before this point.
type Options struct {
	Store       *store.Store
	Queue       *approval.Queue
	Client      *http.Client
	WebfetchCfg webfetchcfg.Config
}

// Proxy is the HTTP handler mounted at /_proxy/ and /_bedrock/, dispatching each
// request to the native or framed dialect based on its path shape.
type Proxy struct {
	store       *store.Store
	queue       *approval.Queue
	client      *http.Client
	webfetchCfg webfetchcfg.Config

	insecureOnce   sync.Once
	insecureClient *http.Client
}

// New creates a Proxy handler with the given dependencies.
func New(opts Options) *Proxy {
	return &Proxy{
		store:       opts.Store,
		queue:       opts.Queue,
		client:      opts.Client,
		webfetchCfg: opts.WebfetchCfg,
	}
}

// clientFor returns the shared default client, or a lazily-built,
// process-wide TLS-insecure client for sessions that opt out of
// certificate verification. Built once; never swapped mid-request.
func (p *Proxy) clientFor(sess store.Session) *http.Client {
	if !sess.TLSVerifyDisabled {
		return p.client
	}
	p.insecureOnce.Do(func() {
		p.insecureClient = &http.Client{
			Timeout: p.client.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	})
	return p.insecureClient
}

// ServeHTTP is the entry point for both dialects.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := ParseRoute(r.URL.Path)
	if err != nil {
		slog.Warn("invalid proxy path", "path", r.URL.Path, "error", err)
		http.Error(w, "invalid proxy path", http.StatusBadRequest)
		return
	}

	sess, err := p.store.GetSession(route.SessionID)
	if err != nil {
		slog.Warn("session not found", "session_id", route.SessionID)
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if sess.ErrorInject != nil {
		if et, ok := errinject.FindByKey(*sess.ErrorInject); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(et.Status)
			w.Write([]byte(et.DataJSON))
			return
		}
	}

	switch route.Dialect {
	case DialectNative:
		p.handleNative(w, r, sess, route)
	case DialectFramed:
		p.handleFramed(w, r, sess, route)
	}
}

// handleNative forwards method, headers, and body verbatim to the
// session's target URL and relays the upstream response back unmodified.
// Filters and interception are not applied on this path — see design doc
// Section 9 ("native-dialect ... does not apply filters or invoke the
// interceptor").
func (p *Proxy) handleNative(w http.ResponseWriter, r *http.Request, sess store.Session, route Route) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	headersJSON, _ := json.Marshal(r.Header)
	reqID, err := p.store.InsertRequest(ctx, store.InsertRequestParams{
		SessionID:   sess.ID,
		Method:      r.Method,
		Path:        route.Tail,
		Timestamp:   nowRFC3339(),
		HeadersJSON: string(headersJSON),
		Body:        body,
	})
	if err != nil {
		slog.Warn("store: failed to log request", "error", err)
	}

	target := sess.TargetURL + route.Tail
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	resp, err := forwardRequest(ctx, p.clientFor(sess), r.Method, target, r.Header, body, sess)
	if err != nil {
		slog.Error("upstream request failed", "target", target, "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("failed to read upstream response", "error", err)
		http.Error(w, "failed to read upstream response", http.StatusBadGateway)
		return
	}

	if reqID != "" {
		if err := p.store.UpdateResponse(ctx, reqID, resp.StatusCode, headerJSON(resp.Header), respBody); err != nil {
			slog.Warn("store: failed to persist response", "error", err)
		}
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

// handleFramed implements the Bedrock-shaped dialect: parse and filter the
// body, translate it into a streaming Anthropic request, dispatch it, and
// re-emit the response as binary event-stream chunks.
func (p *Proxy) handleFramed(w http.ResponseWriter, r *http.Request, sess store.Session, route Route) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	headersJSON, _ := json.Marshal(r.Header)
	ts := nowRFC3339()

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.store.InsertRequest(ctx, store.InsertRequestParams{
			SessionID:     sess.ID,
			Method:        "POST",
			Path:          r.URL.Path,
			Timestamp:     ts,
			HeadersJSON:   string(headersJSON),
			Body:          body,
			ModelOverride: route.ModelID,
			Note:          "invalid JSON body",
		})
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	reqID, err := p.store.InsertRequest(ctx, store.InsertRequestParams{
		SessionID:     sess.ID,
		Method:        "POST",
		Path:          r.URL.Path,
		Timestamp:     ts,
		HeadersJSON:   string(headersJSON),
		Body:          body,
		ModelOverride: route.ModelID,
	})
	if err != nil {
		slog.Warn("store: failed to log request", "error", err)
	}

	if sess.ProfileID != nil {
		profile, err := p.store.GetProfile(*sess.ProfileID)
		if err != nil {
			slog.Warn("store: failed to load filter profile", "profile_id", *sess.ProfileID, "error", err)
		} else {
			filtered, err := filter.Apply(body, filter.Profile{
				Name:          profile.Name,
				SystemFilters: profile.SystemFilters,
				ToolFilters:   profile.ToolFilters,
				KeepToolPairs: profile.KeepToolPairs,
			})
			if err != nil {
				slog.Warn("filter: failed to apply profile", "error", err)
			} else {
				body = filtered
				json.Unmarshal(body, &parsed)
			}
		}
	}

	anthropicVersion, _ := parsed["anthropic_version"].(string)
	delete(parsed, "anthropic_version")
	bodyBeta, _ := parsed["anthropic_beta"].(string)
	delete(parsed, "anthropic_beta")
	combinedBeta := combineBeta(r.Header.Get("anthropic-beta"), bodyBeta)

	parsed["model"] = route.ModelID
	parsed["stream"] = true

	translatedBody, err := json.Marshal(parsed)
	if err != nil {
		http.Error(w, "failed to translate request body", http.StatusInternalServerError)
		return
	}

	client := p.clientFor(sess)
	upstreamURL := sess.TargetURL + "/v1/messages"

	buildUpstreamRequest := func(ctx context.Context, payload []byte) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("content-type", "application/json")
		if anthropicVersion != "" {
			req.Header.Set("anthropic-version", anthropicVersion)
		}
		if combinedBeta != "" {
			req.Header.Set("anthropic-beta", combinedBeta)
		}
		applyAuth(req.Header, sess)
		return req, nil
	}

	upstreamReq, err := buildUpstreamRequest(ctx, translatedBody)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}

	resp, err := client.Do(upstreamReq)
	if err != nil {
		slog.Error("upstream request failed", "target", upstreamURL, "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		if reqID != "" {
			if err := p.store.UpdateResponse(ctx, reqID, resp.StatusCode, headerJSON(resp.Header), errBody); err != nil {
				slog.Warn("store: failed to persist response", "error", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(errBody)
		return
	}

	logger := &store.SessionLogger{
		Store:     p.store,
		SessionID: sess.ID,
		Method:    "POST",
		Path:      r.URL.Path,
		Headers:   string(headersJSON),
		Timestamp: nowRFC3339,
	}

	if sess.WebfetchIntercept {
		p.handleFramedIntercepted(ctx, w, sess, reqID, translatedBody, resp, client, buildUpstreamRequest, logger)
		return
	}
	p.handleFramedLiveStream(w, resp, reqID)
}

// handleFramedLiveStream pipes upstream SSE bytes through the incremental
// parser and emits one framed event-stream chunk per completed event,
// flushing after each. The accumulated raw body and decoded events are
// persisted once the upstream stream ends.
func (p *Proxy) handleFramedLiveStream(w http.ResponseWriter, resp *http.Response, reqID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")
	w.WriteHeader(http.StatusOK)

	headers := headerJSON(resp.Header)

	var parser sse.IncrementalParser
	var accumulated bytes.Buffer
	buf := make([]byte, 32*1024)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			accumulated.Write(chunk)
			for _, data := range parser.Feed(chunk) {
				if _, err := w.Write(eventstream.EncodeChunk([]byte(data))); err != nil {
					// Client can't keep up or disconnected; drop the
					// upstream stream mid-way per the backpressure policy.
					p.persistFramedResponse(reqID, headers, accumulated.Bytes())
					return
				}
				flusher.Flush()
			}
		}
		if readErr != nil {
			break
		}
	}

	if trailing := parser.Flush(); trailing != "" {
		w.Write(eventstream.EncodeChunk([]byte(trailing)))
		flusher.Flush()
	}

	p.persistFramedResponse(reqID, headers, accumulated.Bytes())
}

func (p *Proxy) persistFramedResponse(reqID, headers string, body []byte) {
	if reqID == "" {
		return
	}
	if err := p.store.UpdateResponse(context.Background(), reqID, http.StatusOK, headers, body); err != nil {
		slog.Warn("store: failed to persist response", "error", err)
	}
}

// headerJSON marshals an http.Header for storage, returning "" on failure
// so a log write never fails just because headers couldn't be encoded.
func headerJSON(h http.Header) string {
	b, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(b)
}

// handleFramedIntercepted buffers the full upstream response (interception
// requires a complete, re-dispatchable message) and runs the bounded
// approval loop before emitting a single framed reply.
func (p *Proxy) handleFramedIntercepted(
	ctx context.Context,
	w http.ResponseWriter,
	sess store.Session,
	reqID string,
	translatedBody []byte,
	resp *http.Response,
	client *http.Client,
	buildUpstreamRequest func(context.Context, []byte) (*http.Request, error),
	logger *store.SessionLogger,
) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("failed to read upstream response", "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	respHeaders := headerJSON(resp.Header)

	if reqID != "" {
		if err := p.store.UpdateResponse(ctx, reqID, http.StatusOK, respHeaders, respBody); err != nil {
			slog.Warn("store: failed to persist response", "error", err)
		}
	}

	send := func(ctx context.Context, followupBody []byte) (int, http.Header, []byte, error) {
		req, err := buildUpstreamRequest(ctx, followupBody)
		if err != nil {
			return 0, nil, nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, nil, nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, nil, nil, err
		}
		return resp.StatusCode, resp.Header.Clone(), b, nil
	}

	fetchClient := &http.Client{
		Timeout:   client.Timeout,
		Transport: client.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	fctx := webfetch.FetchContext{
		Client:         fetchClient,
		AgentClient:    client,
		AgentURL:       sess.TargetURL + "/v1/messages",
		WebfetchNames:  webfetchToolNames,
		RedirectPrompt: p.webfetchCfg.WebfetchRedirectPrompt,
		AcceptPrompt:   p.webfetchCfg.WebfetchAcceptPrompt,
		AgentModel:     p.webfetchCfg.WebfetchAgentModel,
		Logger:         logger,
	}

	result, err := intercept.Intercept(ctx, intercept.Params{
		ResponseBody:   respBody,
		OriginalBody:   translatedBody,
		SessionID:      sess.ID,
		WhitelistHosts: whitelistHosts(sess.Whitelist),
		WebfetchNames:  webfetchToolNames,
		Queue:          p.queue,
		Send:           send,
		Logger:         logger,
		Fetch:          fctx,
		MockPrompt:     p.webfetchCfg.WebfetchMockPrompt,
	})
	if err != nil {
		slog.Warn("intercept: aborted, forwarding original response", "error", err)
		p.emitFramedBody(w, respBody)
		return
	}

	if result == nil {
		p.emitFramedBody(w, respBody)
		return
	}

	if reqID != "" {
		firstEvents, _ := sse.ParseEvents(respBody)
		firstEventsJSON, _ := json.Marshal(firstEvents)
		if err := p.store.UpdateInterceptionFields(ctx, reqID, string(respBody), string(firstEventsJSON), result.FollowupBodyJSON, result.RoundsJSON); err != nil {
			slog.Warn("store: failed to persist interception fields", "error", err)
		}
		if err := p.store.UpdateResponse(ctx, reqID, result.Status, headerJSON(result.Headers), []byte(result.Body)); err != nil {
			slog.Warn("store: failed to persist final response", "error", err)
		}
	}

	p.emitFramedBody(w, []byte(result.Body))
}

// emitFramedBody decodes a complete SSE body and emits one framed
// event-stream chunk per event in a single pass.
func (p *Proxy) emitFramedBody(w http.ResponseWriter, body []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")
	w.WriteHeader(http.StatusOK)

	events, err := sse.ParseEvents(body)
	if err != nil {
		return
	}
	for _, e := range events {
		if _, err := w.Write(eventstream.EncodeChunk([]byte(e.Data))); err != nil {
			return
		}
		flusher.Flush()
	}
}

// applyAuth overrides Authorization and x-api-key on req from the
// session's configured values, if set.
func applyAuth(h http.Header, sess store.Session) {
	if sess.AuthHeader != nil {
		h.Set("Authorization", *sess.AuthHeader)
	}
	if sess.XAPIKey != nil {
		h.Set("x-api-key", *sess.XAPIKey)
	}
}

// combineBeta joins the anthropic-beta request header with the body's own
// anthropic_beta field, header value first, comma-separated.
func combineBeta(headerVal, bodyVal string) string {
	var parts []string
	if headerVal != "" {
		parts = append(parts, headerVal)
	}
	if bodyVal != "" {
		parts = append(parts, bodyVal)
	}
	return strings.Join(parts, ",")
}

// whitelistHosts splits a session's newline-separated whitelist into a
// clean slice, skipping blank lines. Returns nil for an unset whitelist.
func whitelistHosts(whitelist *string) []string {
	if whitelist == nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(*whitelist, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
