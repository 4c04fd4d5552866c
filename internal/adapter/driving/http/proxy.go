package httphandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/newnol/vercel-lb/internal/application"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// Proxy forwards authenticated client requests to the gateway using a pooled
// upstream key. It is the catch-all handler behind the gate: any path that is
// not a local endpoint is relayed verbatim.
type Proxy struct {
	pool       *application.Pool
	usage      driven.UsageStore
	gatewayURL string
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewProxy creates a Proxy forwarding to the given gateway base URL. timeout
// bounds the whole upstream exchange, including streamed responses.
func NewProxy(
	pool *application.Pool,
	usage driven.UsageStore,
	gatewayURL string,
	timeout time.Duration,
	logger *slog.Logger,
) *Proxy {
	return &Proxy{
		pool:       pool,
		usage:      usage,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		timeout:    timeout,
		// Timeouts come from the per-request context so a streamed response
		// is not cut off by a flat client deadline.
		client: &http.Client{},
		logger: logger,
	}
}

// requestMeta is the subset of the request body the proxy inspects. Decoding
// is best effort: non-JSON bodies proxy through with defaults.
type requestMeta struct {
	Stream bool   `json:"stream"`
	Model  string `json:"model"`
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Unknown management paths must not leak upstream.
	if isAdminPath(r.URL.Path) {
		writeError(w, http.StatusNotFound, errTypeInvalidRequest, "Not found")
		return
	}

	secret, err := p.pool.SelectKey(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrNoKeysAvailable) {
			writeError(w, http.StatusServiceUnavailable, errTypeServer,
				"No upstream keys with available credit")
			return
		}
		p.logger.Error("upstream key selection failed", "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "failed to read request body")
		return
	}

	var meta requestMeta
	_ = json.Unmarshal(body, &meta)

	p.recordUsage(r, r.URL.Path, nil, meta.Model)

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	upstream, err := p.dispatch(ctx, r, secret, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, errTypeTimeout, "Request to upstream timed out")
			return
		}
		p.logger.Error("upstream request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, errTypeProxy, "Failed to reach upstream gateway")
		return
	}
	defer upstream.Body.Close()

	if meta.Stream {
		p.relayStream(w, upstream)
		return
	}

	p.relayBuffered(w, r, upstream, meta.Model)
}

// dispatch sends the request upstream with the pooled key's credentials. The
// inbound Authorization header never crosses; Content-Length is dropped and
// recomputed from the copied body.
func (p *Proxy) dispatch(ctx context.Context, r *http.Request, secret string, body []byte) (*http.Response, error) {
	target := p.gatewayURL + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for name, values := range r.Header {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Authorization", "Content-Length":
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	return p.client.Do(req)
}

// relayStream copies the upstream response chunk by chunk, flushing after
// every write so tokens reach the client as they arrive.
func (p *Proxy) relayStream(w http.ResponseWriter, upstream *http.Response) {
	if ct := upstream.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(upstream.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := upstream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Warn("upstream stream ended abnormally", "error", err)
			}
			return
		}
	}
}

// relayBuffered forwards the complete upstream response and, when the body
// carries a token count, records it against the client key.
func (p *Proxy) relayBuffered(w http.ResponseWriter, r *http.Request, upstream *http.Response, modelName string) {
	body, err := io.ReadAll(upstream.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, errTypeProxy, "Failed to read upstream response")
		return
	}

	if tokens := totalTokens(body); tokens > 0 {
		p.recordUsage(r, r.URL.Path, &tokens, modelName)
	}

	if ct := upstream.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(upstream.StatusCode)
	_, _ = w.Write(body)
}

func (p *Proxy) recordUsage(r *http.Request, endpoint string, tokens *int, modelName string) {
	key := clientKeyFrom(r.Context())
	if key == nil {
		return
	}

	var m *string
	if modelName != "" {
		m = &modelName
	}

	if err := p.usage.Record(context.WithoutCancel(r.Context()), key.ID, endpoint, tokens, m); err != nil {
		p.logger.Error("usage logging failed", "key_id", key.ID, "error", err)
	}
}

// totalTokens pulls usage.total_tokens out of a completion response body.
// Anything unparsable counts as zero.
func totalTokens(body []byte) int {
	var payload struct {
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	return payload.Usage.TotalTokens
}
