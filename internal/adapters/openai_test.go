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

// =============================================================================
// OPENAI RESPONSES TRANSLATION TESTS
// =============================================================================

func TestOpenAI_TranslateRequest_Input(t *testing.T) {
	adapter := adapters.NewOpenAIAdapter()

	body := []byte(`{
		"model": "gpt-x",
		"stream": true,
		"max_tokens": 256,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [
				{"type": "text", "text": "look"},
				{"type": "image_url", "image_url": {"url": "https://example.com/a.png", "detail": "low"}}
			]},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "read", "arguments": "{}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "data"},
			{"role": "assistant", "content": "done"}
		]
	}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{SystemPrompt: "PROMPT"})
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "gpt-x", res.Get("model").String())
	assert.True(t, res.Get("stream").Bool())
	assert.Equal(t, "PROMPT", res.Get("instructions").String())
	assert.Equal(t, int64(256), res.Get("max_output_tokens").Int())
	assert.False(t, res.Get("messages").Exists())

	input := res.Get("input").Array()
	require.Len(t, input, 5)

	assert.Equal(t, "developer", input[0].Get("role").String())
	assert.Equal(t, "input_text", input[0].Get("content.0.type").String())
	assert.Equal(t, "be brief", input[0].Get("content.0.text").String())

	assert.Equal(t, "user", input[1].Get("role").String())
	assert.Equal(t, "look", input[1].Get("content.0.text").String())
	assert.Equal(t, "input_image", input[1].Get("content.1.type").String())
	assert.Equal(t, "https://example.com/a.png", input[1].Get("content.1.image_url").String())
	assert.Equal(t, "low", input[1].Get("content.1.detail").String())

	assert.Equal(t, "function_call", input[2].Get("type").String())
	assert.Equal(t, "call_1", input[2].Get("call_id").String())
	assert.Equal(t, "read", input[2].Get("name").String())

	assert.Equal(t, "function_call_output", input[3].Get("type").String())
	assert.Equal(t, "data", input[3].Get("output").String())

	assert.Equal(t, "output_text", input[4].Get("content.0.type").String())
	assert.Equal(t, "done", input[4].Get("content.0.text").String())
}

func TestOpenAI_TranslateRequest_Tools(t *testing.T) {
	adapter := adapters.NewOpenAIAdapter()

	body := []byte(`{"model":"m","messages":[{"role":"user","content":"x"}],
		"tools":[{"type":"function","function":{"name":"read","parameters":{"type":"object"},"strict":true}}],
		"tool_choice":{"type":"function","function":{"name":"read"}}}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{})
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "function", res.Get("tools.0.type").String())
	assert.Equal(t, "read", res.Get("tools.0.name").String())
	assert.True(t, res.Get("tools.0.strict").Bool())
	assert.False(t, res.Get("tools.0.function").Exists())
	assert.JSONEq(t, `{"type":"function","name":"read"}`, res.Get("tool_choice").Raw)
	assert.False(t, res.Get("instructions").Exists())
}

func TestOpenAI_TranslateRequest_Reasoning(t *testing.T) {
	adapter := adapters.NewOpenAIAdapter()
	body := []byte(`{"model":"m","reasoning_effort":"low","messages":[{"role":"user","content":"x"}]}`)

	out, err := adapter.TranslateRequest(body, adapters.Options{Reasoning: config.ReasoningMedium})
	require.NoError(t, err)
	assert.JSONEq(t, `{"effort":"medium","summary":"auto"}`, gjson.GetBytes(out, "reasoning").Raw)

	out, err = adapter.TranslateRequest(body, adapters.Options{Reasoning: config.ReasoningAuto})
	require.NoError(t, err)
	assert.JSONEq(t, `{"effort":"low"}`, gjson.GetBytes(out, "reasoning").Raw)

	out, err = adapter.TranslateRequest(body, adapters.Options{Reasoning: config.ReasoningOff})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "reasoning").Exists())
}

// =============================================================================
// OPENAI AUGMENT TESTS
// =============================================================================

func TestOpenAI_Augment_Instructions(t *testing.T) {
	adapter := adapters.NewOpenAIAdapter()
	opts := adapters.Options{SystemPrompt: "PROMPT ", Reasoning: config.ReasoningAuto}

	out, err := adapter.Augment([]byte(`{"model":"m","instructions":"client"}`), opts)
	require.NoError(t, err)
	assert.Equal(t, "PROMPT client", gjson.GetBytes(out, "instructions").String())

	out, err = adapter.Augment([]byte(`{"model":"m"}`), opts)
	require.NoError(t, err)
	assert.Equal(t, "PROMPT ", gjson.GetBytes(out, "instructions").String())

	out, err = adapter.Augment([]byte(`{"model":"m","instructions":"client"}`), adapters.Options{Reasoning: config.ReasoningAuto})
	require.NoError(t, err)
	assert.Equal(t, "client", gjson.GetBytes(out, "instructions").String())
}

func TestOpenAI_Augment_Reasoning(t *testing.T) {
	adapter := adapters.NewOpenAIAdapter()
	body := []byte(`{"model":"m","reasoning":{"effort":"minimal"}}`)

	out, err := adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"effort":"high","summary":"auto"}`, gjson.GetBytes(out, "reasoning").Raw)

	out, err = adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningAuto})
	require.NoError(t, err)
	assert.JSONEq(t, `{"effort":"minimal"}`, gjson.GetBytes(out, "reasoning").Raw)

	out, err = adapter.Augment(body, adapters.Options{Reasoning: config.ReasoningOff})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "reasoning").Exists())
}

func TestOpenAI_Augment_InvalidBody(t *testing.T) {
	_, err := adapters.NewOpenAIAdapter().Augment([]byte(`not json`), adapters.Options{})
	assert.ErrorIs(t, err, adapters.ErrInvalidRequest)
}

// =============================================================================
// OPENAI HEADERS AND RESPONSES
// =============================================================================

func TestOpenAI_Headers(t *testing.T) {
	client := http.Header{}
	client.Set("X-Assistant-Message-Id", "am-1")

	h := adapters.NewOpenAIAdapter().Headers(adapters.HeaderParams{
		Endpoint:      config.EndpointConfig{Type: config.UpstreamOpenAI},
		Authorization: "Bearer sk-1",
		Client:        client,
	})

	assert.Equal(t, "Bearer sk-1", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Accept"))
	assert.Equal(t, "am-1", h.Get("X-Assistant-Message-Id"))
	assert.NotEmpty(t, h.Get("X-Session-Id"))
	assert.Empty(t, h.Get("anthropic-version"))
}

func TestOpenAI_ConvertResponse(t *testing.T) {
	body := []byte(`{"id":"resp_1","status":"completed","model":"gpt-x",
		"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hi"}]}],
		"usage":{"input_tokens":3,"output_tokens":1,"total_tokens":4}}`)

	out, err := adapters.NewOpenAIAdapter().ConvertResponse(body, time.Unix(100, 0))
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "chatcmpl-1", res.Get("id").String())
	assert.Equal(t, "hi", res.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", res.Get("choices.0.finish_reason").String())
}
