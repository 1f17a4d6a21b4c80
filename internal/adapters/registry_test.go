package adapters_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/config"
)

func TestRegistry_BuiltIns(t *testing.T) {
	r := adapters.NewRegistry()

	for _, tc := range []struct {
		upstream config.UpstreamType
		name     string
	}{
		{config.UpstreamAnthropic, "anthropic"},
		{config.UpstreamOpenAI, "openai"},
		{config.UpstreamCommon, "common"},
	} {
		a := r.Get(tc.upstream)
		require.NotNil(t, a, tc.upstream)
		assert.Equal(t, tc.name, a.Name())
		assert.Equal(t, tc.upstream, a.Upstream())
	}

	assert.Nil(t, r.Get("bedrock"))
}

func TestCommon_Passthrough(t *testing.T) {
	adapter := adapters.NewCommonAdapter()
	body := []byte(`{"model":"m","messages":[{"role":"system","content":"x"}],"reasoning_effort":"high"}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{SystemPrompt: "PROMPT", Reasoning: config.ReasoningHigh})
	require.NoError(t, err)
	assert.Equal(t, body, out)

	_, err = adapter.TranslateRequest([]byte(`{"model":"m"}`), adapters.Options{})
	assert.ErrorIs(t, err, adapters.ErrInvalidRequest)

	raw := []byte(`{"id":"chatcmpl-9","object":"chat.completion"}`)
	conv, err := adapter.ConvertResponse(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, raw, conv)

	emit, done := adapter.NewTranscoder("m", time.Now()).Feed([]byte("data: {\"x\":1}\n\n"))
	assert.False(t, done)
	assert.Equal(t, [][]byte{[]byte("data: {\"x\":1}\n\n")}, emit)
}

func TestCommon_Headers(t *testing.T) {
	h := adapters.NewCommonAdapter().Headers(adapters.HeaderParams{
		Endpoint:      config.EndpointConfig{Type: config.UpstreamCommon},
		Authorization: "Bearer sk-1",
		Client:        http.Header{},
	})
	assert.Equal(t, "Bearer sk-1", h.Get("Authorization"))
	assert.Empty(t, h.Get("X-Session-Id"))
	assert.Empty(t, h.Get("Accept"))
}

// Chat request -> Anthropic shape, then a Messages reply back to a chat completion.
func TestAnthropic_RoundTrip(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	req, err := adapter.TranslateRequest([]byte(`{"model":"claude-x","messages":[{"role":"user","content":"hi"}]}`), adapters.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", gjson.GetBytes(req, "messages.0.content.0.text").String())

	reply := []byte(`{"id":"msg_7","type":"message","role":"assistant","model":"claude-x",
		"content":[{"type":"text","text":"Hel"},{"type":"text","text":"lo"}],
		"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`)
	out, err := adapter.ConvertResponse(reply, time.Now())
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "chatcmpl-7", res.Get("id").String())
	assert.Equal(t, "Hello", res.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", res.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(7), res.Get("usage.total_tokens").Int())
}
