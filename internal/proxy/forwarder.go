package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ctrlproxy/ctrlproxy/internal/store"
)

// hopByHopHeaders are HTTP headers that must not be forwarded through a proxy.
// These are connection-specific and only relevant for the single hop.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// forwardRequest builds and sends a request to upstream, copying client
// headers (minus hop-by-hop and Host) and overriding Authorization/
// x-api-key from sess if set. The caller is responsible for reading and
// closing the response body.
func forwardRequest(ctx context.Context, client *http.Client, method, upstream string, clientHeaders http.Header, body []byte, sess store.Session) (*http.Response, error) {
	upstreamReq, err := http.NewRequestWithContext(ctx, method, upstream, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	copyHeaders(upstreamReq.Header, clientHeaders)
	upstreamReq.ContentLength = int64(len(body))
	applyAuth(upstreamReq.Header, sess)

	resp, err := client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("forwarding to upstream %s: %w", upstream, err)
	}
	return resp, nil
}

// copyHeaders copies HTTP headers from src to dst, skipping hop-by-hop
// headers that should not be forwarded through a proxy.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] {
			continue
		}
		// Also skip the Host header — it will be set by the HTTP client
		// based on the upstream URL.
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// copyResponseHeaders copies response headers from the upstream response to
// the client response writer, skipping hop-by-hop headers and
// Content-Encoding (the body has already been fully read and re-written,
// so any original encoding no longer applies).
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] || strings.EqualFold(key, "Content-Encoding") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
