// Package relay implements the stateless CORS-bypassing HTTP forwarder
// between the browser and the EHR backend. Inbound requests under the
// configured prefix are rewritten onto a fixed upstream base URL; the
// upstream response is streamed back with permissive CORS headers.
package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/shared/metrics"
)

// hopByHopHeaders are stripped before forwarding; they describe the
// inbound connection, not the request.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
}

// Handler forwards requests under Prefix to the Upstream base URL
type Handler struct {
	upstream string
	prefix   string
	client   *http.Client
	log      zerolog.Logger
}

// New creates a relay handler. upstream is the fixed base URL inbound
// paths are appended to; prefix is the local mount path stripped from
// inbound requests.
func New(upstream, prefix string, timeout time.Duration, log zerolog.Logger) *Handler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		upstream: strings.TrimRight(upstream, "/"),
		prefix:   strings.TrimRight(prefix, "/"),
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "relay").Logger(),
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// targetPath determines the upstream path and query for an inbound
// request: the portion after the prefix, or an explicit "path" query
// parameter. The routing parameter itself is never forwarded.
func (h *Handler) targetPath(r *http.Request) (path, rawQuery string) {
	rawQuery = r.URL.RawQuery
	path = strings.TrimPrefix(r.URL.Path, h.prefix)
	if path == r.URL.Path && h.prefix != "" {
		// Not under the prefix (e.g. mounted at root)
		path = r.URL.Path
	}
	if path == "" || path == "/" {
		q := r.URL.Query()
		path = q.Get("path")
		q.Del("path")
		rawQuery = q.Encode()
	}
	return path, rawQuery
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Pre-flight succeeds locally; the upstream is never contacted.
	if r.Method == http.MethodOptions {
		setCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
		return
	}

	path, rawQuery := h.targetPath(r)
	if path == "" {
		setCORSHeaders(w)
		writeError(w, http.StatusBadRequest, "no target path")
		return
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	target := h.upstream + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		setCORSHeaders(w)
		writeError(w, http.StatusBadRequest, "invalid target: "+err.Error())
		return
	}

	for name, values := range r.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Error().Err(err).Str("target", target).Msg("upstream request failed")
		metrics.RecordRelayRequest(r.Method, http.StatusBadGateway, time.Since(start))
		setCORSHeaders(w)
		writeError(w, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "Access-Control-") {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	// The upstream's CORS policy is overridden, that is the point of
	// the relay.
	setCORSHeaders(w)

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)

	metrics.RecordRelayRequest(r.Method, resp.StatusCode, time.Since(start))
	h.log.Debug().
		Str("method", r.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request relayed")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
