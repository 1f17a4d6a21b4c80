// Upstream request headers.
package adapters

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/compresr/protocol-gateway/internal/config"
)

// AcceptEncoding lists the encodings the gateway can decode.
const AcceptEncoding = "gzip, deflate, br, zstd"

// HeaderParams is everything an adapter needs to build upstream headers.
type HeaderParams struct {
	Endpoint         config.EndpointConfig
	Authorization    string      // "Bearer <token>"
	Token            string      // bare token, for x-api-key endpoints
	Client           http.Header // incoming request headers
	Stream           bool
	UserAgent        string // configured override
	AnthropicVersion string // configured default
}

// baseHeaders are shared by every upstream type.
func baseHeaders(p HeaderParams) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept-Encoding", AcceptEncoding)

	if p.Endpoint.UsesXAPIKey() {
		h.Set("x-api-key", p.Token)
	} else {
		h.Set("Authorization", p.Authorization)
	}

	ua := p.UserAgent
	if ua == "" {
		ua = p.Client.Get("User-Agent")
	}
	if ua != "" {
		h.Set("User-Agent", ua)
	}
	return h
}

// sessionHeaders correlate upstream calls belonging to one client session.
func sessionHeaders(h http.Header, client http.Header) {
	sessionID := client.Get("X-Session-Id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	h.Set("X-Session-Id", sessionID)

	if id := client.Get("X-Assistant-Message-Id"); id != "" {
		h.Set("X-Assistant-Message-Id", id)
	}
}

func acceptFor(stream bool) string {
	if stream {
		return "text/event-stream"
	}
	return "application/json"
}
