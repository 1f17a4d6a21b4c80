// Upstream forwarding and response relay.
//
// DESIGN: forward() owns the credential bookkeeping for one request:
//   - the lease is taken here, after the body is shaped, so rejected
//     bodies never advance the rotation
//   - transport error or timeout → RecordResult(false), 500
//   - non-2xx                    → RecordResult(false, status), status + raw body relayed
//   - 2xx one-shot               → RecordResult(true) once the body is read
//   - 2xx stream                 → RecordResult at stream end; an upstream read
//     error counts as failure, a client disconnect does not
//
// Upstream bodies are decoded here (gzip, deflate, br, zstd) because the
// gateway sets Accept-Encoding itself.
package gateway

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/keypool"
	"github.com/compresr/protocol-gateway/internal/monitoring"
	"github.com/compresr/protocol-gateway/internal/stream"
)

// forward leases a credential, sends fc.Body upstream and relays the response.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, fc *ForwardContext) {
	fc.info = monitoring.ResponseInfoFromContext(r.Context())
	if fc.info == nil {
		fc.info = &monitoring.ResponseInfo{RequestID: fc.RequestID}
	}
	fc.info.Model = fc.Model.ID
	fc.info.Upstream = fc.Upstream()
	fc.info.Stream = fc.Stream

	if !g.acquire(w, fc) {
		return
	}

	end := g.metrics.BeginForward(fc.Stream)
	defer end()

	target := fc.Endpoint.BaseURL
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(fc.Body))
	if err != nil {
		g.failTransport(w, fc, err)
		return
	}
	req.Header = fc.Adapter.Headers(adapters.HeaderParams{
		Endpoint:         fc.Endpoint,
		Authorization:    fc.Lease.Authorization(),
		Token:            fc.Lease.Token(),
		Client:           r.Header,
		Stream:           fc.Stream,
		UserAgent:        g.cfg.Upstream.UserAgent,
		AnthropicVersion: g.cfg.Upstream.AnthropicVersion,
	})

	g.requestLogger.LogOutgoing(&monitoring.OutgoingRequestInfo{
		RequestID:    fc.RequestID,
		Upstream:     fc.Upstream(),
		TargetURL:    target,
		BodySize:     len(fc.Body),
		Stream:       fc.Stream,
		Credential:   credentialLabel(fc.Lease),
		PromptTokens: g.tokens.Count(string(fc.Body)),
	})
	g.requestLogger.LogPayload(fc.RequestID, "upstream_request", fc.Body)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.failTransport(w, fc, err)
		return
	}
	defer resp.Body.Close()

	body, err := decodeResponseBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		g.failTransport(w, fc, err)
		return
	}
	defer body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.relayUpstreamError(w, fc, resp.StatusCode, body)
		return
	}

	if fc.Stream {
		g.relayStream(w, r, fc, body)
		return
	}
	g.relayOneShot(w, fc, resp.Header.Get("Content-Type"), body)
}

// acquire leases a credential for fc. On failure the 500 has been written.
func (g *Gateway) acquire(w http.ResponseWriter, fc *ForwardContext) bool {
	lease, err := g.pool.Acquire(fc.Override)
	if err != nil {
		g.metrics.RecordCredentialExhausted()
		stats := g.pool.Stats()
		g.alerts.FlagCredentialExhausted(fc.RequestID, len(stats.ActiveRecords), len(stats.DeprecatedRecords))
		writeAPIError(w, &apiError{
			Status:  http.StatusInternalServerError,
			Message: "API key not available",
			Detail:  err.Error(),
		})
		return false
	}
	fc.Lease = lease

	log.Debug().
		Str("request_id", fc.RequestID).
		Str("model", fc.Model.ID).
		Str("upstream", fc.Upstream()).
		Str("credential", credentialLabel(lease)).
		Msg("routed")
	return true
}

// failTransport answers a request whose upstream call did not produce a response.
func (g *Gateway) failTransport(w http.ResponseWriter, fc *ForwardContext, err error) {
	g.recordResult(fc, false, 0)
	g.metrics.RecordForward(fc.Upstream(), monitoring.OutcomeTransport, fc.Stream, g.now().Sub(fc.ReceivedAt))

	if isTimeout(err) {
		g.alerts.FlagUpstreamTimeout(fc.RequestID, fc.Upstream(), fc.Endpoint.BaseURL, g.httpClient.Timeout)
	} else {
		log.Error().Err(err).Str("request_id", fc.RequestID).Str("target", fc.Endpoint.BaseURL).Msg("upstream request failed")
	}

	writeAPIError(w, &apiError{
		Status:  http.StatusInternalServerError,
		Message: "Internal server error",
		Detail:  err.Error(),
	})
}

// relayUpstreamError propagates a non-2xx upstream reply with its raw body.
func (g *Gateway) relayUpstreamError(w http.ResponseWriter, fc *ForwardContext, status int, body io.Reader) {
	raw, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodyBytes))

	g.recordResult(fc, false, status)
	g.metrics.RecordForward(fc.Upstream(), monitoring.OutcomeUpstreamError, fc.Stream, g.now().Sub(fc.ReceivedAt))
	g.alerts.FlagProviderError(fc.RequestID, fc.Upstream(), status, string(raw))
	g.requestLogger.LogUpstreamError(fc.RequestID, fc.Endpoint.BaseURL, status, raw)

	writeJSON(w, status, map[string]string{
		"error":   fmt.Sprintf("Endpoint returned %d", status),
		"details": string(raw),
	})
}

// relayOneShot reads the whole upstream body and converts it when the route asks for it.
// A failed conversion falls back to the raw upstream body.
func (g *Gateway) relayOneShot(w http.ResponseWriter, fc *ForwardContext, contentType string, body io.Reader) {
	raw, err := io.ReadAll(body)
	if err != nil {
		g.failTransport(w, fc, err)
		return
	}
	g.recordResult(fc, true, http.StatusOK)
	g.requestLogger.LogPayload(fc.RequestID, "upstream_response", raw)

	out := raw
	if fc.Translate {
		converted, err := fc.Adapter.ConvertResponse(raw, g.now())
		if err != nil {
			g.metrics.RecordConversionFallback()
			log.Warn().Err(err).Str("request_id", fc.RequestID).Msg("response conversion failed, relaying raw body")
		} else {
			out = converted
			contentType = "application/json"
			fc.info.Converted = true
		}
	}
	if contentType == "" {
		contentType = "application/json"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)

	g.metrics.RecordForward(fc.Upstream(), monitoring.OutcomeSuccess, false, g.now().Sub(fc.ReceivedAt))
}

// relayStream pipes the upstream SSE body through the route's transcoder,
// flushing after every upstream read. Chunks keep upstream order.
func (g *Gateway) relayStream(w http.ResponseWriter, r *http.Request, fc *ForwardContext, body io.Reader) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	var tc stream.Transcoder = stream.NewPassthrough()
	if fc.Translate {
		tc = fc.Adapter.NewTranscoder(fc.Model.ID, g.now())
		fc.info.Converted = true
	}

	var (
		buf        = make([]byte, DefaultBufferSize)
		readErr    error
		clientGone bool
		terminated bool
	)
	for !terminated {
		n, err := body.Read(buf)
		if n > 0 {
			frames, done := tc.Feed(buf[:n])
			if !writeFrames(w, flusher, frames) {
				clientGone = true
				break
			}
			terminated = done
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	if !clientGone && readErr == nil && !terminated {
		clientGone = !writeFrames(w, flusher, tc.Finish())
	}

	cancelled := clientGone || errors.Is(r.Context().Err(), context.Canceled)
	failed := readErr != nil && !cancelled

	g.recordResult(fc, !failed, http.StatusOK)
	outcome := monitoring.OutcomeSuccess
	if failed {
		outcome = monitoring.OutcomeTransport
	}
	g.metrics.RecordForward(fc.Upstream(), outcome, true, g.now().Sub(fc.ReceivedAt))

	switch {
	case failed:
		if isTimeout(readErr) {
			g.alerts.FlagUpstreamTimeout(fc.RequestID, fc.Upstream(), fc.Endpoint.BaseURL, g.httpClient.Timeout)
		}
		log.Error().Err(readErr).Str("request_id", fc.RequestID).Msg("upstream stream failed")
		// Headers are committed; dropping the connection is the only signal left.
		panic(http.ErrAbortHandler)
	case cancelled:
		log.Debug().Str("request_id", fc.RequestID).Msg("client disconnected mid-stream")
	}
}

// writeFrames writes and flushes frames. Returns false once the client is gone.
func writeFrames(w io.Writer, flusher http.Flusher, frames [][]byte) bool {
	if len(frames) == 0 {
		return true
	}
	for _, f := range frames {
		if _, err := w.Write(f); err != nil {
			return false
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
	return true
}

// recordResult books the outcome against the pool and flags demotions.
func (g *Gateway) recordResult(fc *ForwardContext, success bool, status int) {
	if g.pool.RecordResult(fc.Endpoint.BaseURL, fc.Lease, success, status) {
		g.alerts.FlagCredentialDeprecated(fc.RequestID, fc.Lease.Index, keypool.MaskSecret(fc.Lease.Secret))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// =============================================================================
// CONTENT DECODING
// =============================================================================

type compositeReadCloser struct {
	io.Reader
	closers []func() error
}

func (c *compositeReadCloser) Close() error {
	var firstErr error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// decodeResponseBody wraps body with a decoder for the first supported Content-Encoding.
func decodeResponseBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if contentEncoding == "" {
		return body, nil
	}
	for _, raw := range strings.Split(contentEncoding, ",") {
		switch strings.TrimSpace(strings.ToLower(raw)) {
		case "", "identity":
			continue
		case "gzip":
			gz, err := gzip.NewReader(body)
			if err != nil {
				return nil, fmt.Errorf("failed to create gzip reader: %w", err)
			}
			return &compositeReadCloser{Reader: gz, closers: []func() error{gz.Close, body.Close}}, nil
		case "deflate":
			fl := flate.NewReader(body)
			return &compositeReadCloser{Reader: fl, closers: []func() error{fl.Close, body.Close}}, nil
		case "br":
			return &compositeReadCloser{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, nil
		case "zstd":
			dec, err := zstd.NewReader(body)
			if err != nil {
				return nil, fmt.Errorf("failed to create zstd reader: %w", err)
			}
			return &compositeReadCloser{
				Reader:  dec,
				closers: []func() error{func() error { dec.Close(); return nil }, body.Close},
			}, nil
		}
	}
	return body, nil
}
