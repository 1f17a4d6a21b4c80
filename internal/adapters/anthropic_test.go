package adapters_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/config"
)

// =============================================================================
// ANTHROPIC TRANSLATION TESTS
// =============================================================================

func TestAnthropic_TranslateRequest_Messages(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	body := []byte(`{
		"model": "claude-x",
		"stream": true,
		"temperature": 0.2,
		"stop": "END",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "hi", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "read", "arguments": "{\"path\":\"a.go\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "package a"},
			{"role": "user", "content": [{"type": "text", "text": "and now?"}]}
		]
	}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{SystemPrompt: "PROMPT"})
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "claude-x", res.Get("model").String())
	assert.True(t, res.Get("stream").Bool())
	assert.Equal(t, int64(adapters.DefaultMaxTokens), res.Get("max_tokens").Int())
	assert.Equal(t, 0.2, res.Get("temperature").Float())
	assert.Equal(t, `["END"]`, res.Get("stop_sequences").Raw)

	system := res.Get("system").Array()
	require.Len(t, system, 2)
	assert.Equal(t, "PROMPT", system[0].Get("text").String())
	assert.Equal(t, "be brief", system[1].Get("text").String())

	msgs := res.Get("messages").Array()
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Get("role").String())
	assert.Equal(t, "hello", msgs[0].Get("content.0.text").String())

	assert.Equal(t, "assistant", msgs[1].Get("role").String())
	assert.Equal(t, "hi", msgs[1].Get("content.0.text").String())
	assert.Equal(t, "tool_use", msgs[1].Get("content.1.type").String())
	assert.Equal(t, "call_1", msgs[1].Get("content.1.id").String())
	assert.Equal(t, "a.go", msgs[1].Get("content.1.input.path").String())

	// tool result and the following user turn merge into one user message
	assert.Equal(t, "user", msgs[2].Get("role").String())
	assert.Equal(t, "tool_result", msgs[2].Get("content.0.type").String())
	assert.Equal(t, "call_1", msgs[2].Get("content.0.tool_use_id").String())
	assert.Equal(t, "package a", msgs[2].Get("content.0.content").String())
	assert.Equal(t, "and now?", msgs[2].Get("content.1.text").String())
}

func TestAnthropic_TranslateRequest_Images(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	body := []byte(`{"model":"m","messages":[{"role":"user","content":[
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}},
		{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}
	]}]}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{})
	require.NoError(t, err)

	content := gjson.GetBytes(out, "messages.0.content").Array()
	require.Len(t, content, 2)
	assert.Equal(t, "base64", content[0].Get("source.type").String())
	assert.Equal(t, "image/png", content[0].Get("source.media_type").String())
	assert.Equal(t, "AAAA", content[0].Get("source.data").String())
	assert.Equal(t, "url", content[1].Get("source.type").String())
	assert.Equal(t, "https://example.com/cat.png", content[1].Get("source.url").String())
}

func TestAnthropic_TranslateRequest_Tools(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	body := []byte(`{"model":"m","max_tokens":100,"user":"u-1",
		"messages":[{"role":"user","content":"x"}],
		"tools":[{"type":"function","function":{"name":"read","description":"reads","parameters":{"type":"object","properties":{"p":{"type":"string"}}}}}],
		"tool_choice":"required"}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{})
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, int64(100), res.Get("max_tokens").Int())
	assert.Equal(t, "read", res.Get("tools.0.name").String())
	assert.Equal(t, "reads", res.Get("tools.0.description").String())
	assert.Equal(t, "string", res.Get("tools.0.input_schema.properties.p.type").String())
	assert.Equal(t, "any", res.Get("tool_choice.type").String())
	assert.Equal(t, "u-1", res.Get("metadata.user_id").String())
	assert.False(t, res.Get("system").Exists())
}

func TestAnthropic_TranslateRequest_Thinking(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()
	body := []byte(`{"model":"m","max_tokens":1000,"temperature":0.5,"thinking":{"type":"enabled","budget_tokens":2000},
		"messages":[{"role":"user","content":"x"}]}`)

	t.Run("explicit level raises max_tokens above budget", func(t *testing.T) {
		out, err := adapter.TranslateRequest(body, adapters.Options{Reasoning: config.ReasoningHigh})
		require.NoError(t, err)
		res := gjson.ParseBytes(out)
		assert.Equal(t, "enabled", res.Get("thinking.type").String())
		assert.Equal(t, int64(24576), res.Get("thinking.budget_tokens").Int())
		assert.Greater(t, res.Get("max_tokens").Int(), int64(24576))
		assert.False(t, res.Get("temperature").Exists())
	})

	t.Run("auto keeps client thinking", func(t *testing.T) {
		out, err := adapter.TranslateRequest(body, adapters.Options{Reasoning: config.ReasoningAuto})
		require.NoError(t, err)
		assert.Equal(t, int64(2000), gjson.GetBytes(out, "thinking.budget_tokens").Int())
	})

	t.Run("off drops thinking", func(t *testing.T) {
		out, err := adapter.TranslateRequest(body, adapters.Options{Reasoning: config.ReasoningOff})
		require.NoError(t, err)
		assert.False(t, gjson.GetBytes(out, "thinking").Exists())
	})
}

func TestAnthropic_TranslateRequest_Invalid(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	for name, body := range map[string]string{
		"malformed":    `{"model":`,
		"not object":   `[1,2]`,
		"no messages":  `{"model":"m"}`,
		"unknown role": `{"model":"m","messages":[{"role":"robot","content":"x"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := adapter.TranslateRequest([]byte(body), adapters.Options{})
			assert.ErrorIs(t, err, adapters.ErrInvalidRequest)
		})
	}
}

// =============================================================================
// ANTHROPIC AUGMENT TESTS
// =============================================================================

func TestAnthropic_Augment_SystemPrompt(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	tests := []struct {
		name  string
		body  string
		texts []string
	}{
		{"no system", `{"model":"m"}`, []string{"PROMPT"}},
		{"string system", `{"system":"client"}`, []string{"PROMPT", "client"}},
		{"block system", `{"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`, []string{"PROMPT", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := adapter.Augment([]byte(tt.body), adapters.Options{SystemPrompt: "PROMPT", Reasoning: config.ReasoningAuto})
			require.NoError(t, err)

			var texts []string
			for _, block := range gjson.GetBytes(out, "system").Array() {
				assert.Equal(t, "text", block.Get("type").String())
				texts = append(texts, block.Get("text").String())
			}
			assert.Equal(t, tt.texts, texts)
		})
	}
}

func TestAnthropic_Augment_Thinking(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()
	body := []byte(`{"model":"m","thinking":{"type":"enabled","budget_tokens":10}}`)

	out, err := adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"enabled","budget_tokens":24576}`, gjson.GetBytes(out, "thinking").Raw)

	out, err = adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningLow})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), gjson.GetBytes(out, "thinking.budget_tokens").Int())

	out, err = adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningOff})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "thinking").Exists())

	out, err = adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningAuto})
	require.NoError(t, err)
	assert.Equal(t, int64(10), gjson.GetBytes(out, "thinking.budget_tokens").Int())

	out, err = adapter.Augment([]byte(`{"model":"m"}`), adapters.Options{Reasoning: config.ReasoningAuto})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "thinking").Exists())
}

// =============================================================================
// ANTHROPIC HEADER TESTS
// =============================================================================

func TestAnthropic_Headers(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	client := http.Header{}
	client.Set("anthropic-beta", "tools-2024")
	client.Set("User-Agent", "client-ua")
	client.Set("X-Session-Id", "sess-1")

	h := adapter.Headers(adapters.HeaderParams{
		Endpoint:      config.EndpointConfig{Type: config.UpstreamAnthropic},
		Authorization: "Bearer sk-1",
		Token:         "sk-1",
		Client:        client,
		Stream:        true,
	})

	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "text/event-stream", h.Get("Accept"))
	assert.Equal(t, "Bearer sk-1", h.Get("Authorization"))
	assert.Equal(t, config.DefaultAnthropicVersion, h.Get("anthropic-version"))
	assert.Equal(t, "tools-2024", h.Get("anthropic-beta"))
	assert.Equal(t, "stream", h.Get("x-stainless-helper-method"))
	assert.Equal(t, "client-ua", h.Get("User-Agent"))
	assert.Equal(t, "sess-1", h.Get("X-Session-Id"))
	assert.Equal(t, adapters.AcceptEncoding, h.Get("Accept-Encoding"))
}

func TestAnthropic_Headers_XAPIKey(t *testing.T) {
	adapter := adapters.NewAnthropicAdapter()

	h := adapter.Headers(adapters.HeaderParams{
		Endpoint:         config.EndpointConfig{Type: config.UpstreamAnthropic, AuthHeader: config.AuthHeaderXAPIKey},
		Authorization:    "Bearer sk-1",
		Token:            "sk-1",
		Client:           http.Header{},
		UserAgent:        "gateway/1",
		AnthropicVersion: "2024-01-01",
	})

	assert.Equal(t, "sk-1", h.Get("x-api-key"))
	assert.Empty(t, h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Accept"))
	assert.Equal(t, "2024-01-01", h.Get("anthropic-version"))
	assert.Equal(t, "gateway/1", h.Get("User-Agent"))
	assert.Empty(t, h.Get("x-stainless-helper-method"))
	assert.NotEmpty(t, h.Get("X-Session-Id"))
}
