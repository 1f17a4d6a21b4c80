package adapters

import (
	"net/http"
	"time"

	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/stream"
)

// CommonAdapter forwards Chat Completions unchanged to Chat-compatible upstreams.
type CommonAdapter struct {
	BaseAdapter
}

// NewCommonAdapter creates a new passthrough adapter.
func NewCommonAdapter() *CommonAdapter {
	return &CommonAdapter{
		BaseAdapter: BaseAdapter{
			name:     "common",
			upstream: config.UpstreamCommon,
		},
	}
}

// TranslateRequest validates the body and returns it unchanged.
// Common upstreams receive no system prompt or reasoning injection.
func (a *CommonAdapter) TranslateRequest(body []byte, _ Options) ([]byte, error) {
	if _, err := parseChatRequest(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Augment is the identity for Chat-compatible upstreams.
func (a *CommonAdapter) Augment(body []byte, _ Options) ([]byte, error) {
	return body, nil
}

// Headers builds Chat upstream headers.
func (a *CommonAdapter) Headers(p HeaderParams) http.Header {
	return baseHeaders(p)
}

// ConvertResponse returns the upstream body as is.
func (a *CommonAdapter) ConvertResponse(body []byte, _ time.Time) ([]byte, error) {
	return body, nil
}

// NewTranscoder returns a passthrough transcoder.
func (a *CommonAdapter) NewTranscoder(string, time.Time) stream.Transcoder {
	return stream.NewPassthrough()
}
