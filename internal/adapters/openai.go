package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/stream"
)

// OpenAIAdapter handles OpenAI Responses API upstreams.
// Responses uses typed input items; tool results are function_call_output items.
type OpenAIAdapter struct {
	BaseAdapter
}

// NewOpenAIAdapter creates a new OpenAI Responses adapter.
func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{
		BaseAdapter: BaseAdapter{
			name:     "openai",
			upstream: config.UpstreamOpenAI,
		},
	}
}

// =============================================================================
// REQUEST TRANSLATION
// =============================================================================

// TranslateRequest maps a Chat Completions request onto the Responses API.
func (a *OpenAIAdapter) TranslateRequest(body []byte, opts Options) ([]byte, error) {
	root, err := parseChatRequest(body)
	if err != nil {
		return nil, err
	}

	input := make([]any, 0, len(root.Get("messages").Array()))
	for _, msg := range root.Get("messages").Array() {
		switch role := msg.Get("role").String(); role {
		case "system", "developer":
			if text := textOf(msg.Get("content")); text != "" {
				input = append(input, responsesMessage("developer", []any{inputText(text)}))
			}
		case "user":
			if parts := responsesInputParts(msg.Get("content")); len(parts) > 0 {
				input = append(input, responsesMessage("user", parts))
			}
		case "assistant":
			if text := textOf(msg.Get("content")); text != "" {
				input = append(input, responsesMessage("assistant", []any{
					map[string]any{"type": "output_text", "text": text},
				}))
			}
			for _, call := range msg.Get("tool_calls").Array() {
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   call.Get("id").String(),
					"name":      call.Get("function.name").String(),
					"arguments": call.Get("function.arguments").String(),
				})
			}
		case "tool":
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": msg.Get("tool_call_id").String(),
				"output":  textOf(msg.Get("content")),
			})
		default:
			return nil, fmt.Errorf("%w: unsupported message role %q", ErrInvalidRequest, role)
		}
	}

	out := map[string]any{
		"model": root.Get("model").String(),
		"input": input,
	}
	if opts.SystemPrompt != "" {
		out["instructions"] = opts.SystemPrompt
	}
	if maxTokens, ok := firstInt(root, "max_completion_tokens", "max_tokens"); ok && maxTokens > 0 {
		out["max_output_tokens"] = maxTokens
	}

	copyRaw(out, root, map[string]string{
		"stream":              "stream",
		"temperature":         "temperature",
		"top_p":               "top_p",
		"parallel_tool_calls": "parallel_tool_calls",
		"metadata":            "metadata",
		"user":                "user",
		"store":               "store",
	})

	if tools := responsesTools(root.Get("tools")); len(tools) > 0 {
		out["tools"] = tools
		if choice := root.Get("tool_choice"); choice.Exists() {
			out["tool_choice"] = responsesToolChoice(choice)
		}
	}

	switch {
	case opts.Reasoning.Explicit():
		out["reasoning"] = map[string]any{"effort": string(opts.Reasoning), "summary": "auto"}
	case opts.Reasoning == config.ReasoningAuto:
		if reasoning := root.Get("reasoning"); reasoning.IsObject() {
			out["reasoning"] = rawJSON(reasoning.Raw)
		} else if effort := root.Get("reasoning_effort").String(); effort != "" {
			out["reasoning"] = map[string]any{"effort": effort}
		}
	}

	return json.Marshal(out)
}

// Augment injects the system prompt and reasoning directive into a native Responses body.
// The prompt is prepended to existing instructions as a plain concatenation.
func (a *OpenAIAdapter) Augment(body []byte, opts Options) ([]byte, error) {
	root, err := parseObject(body)
	if err != nil {
		return nil, err
	}

	if opts.SystemPrompt != "" {
		instructions := opts.SystemPrompt + root.Get("instructions").String()
		if body, err = sjson.SetBytes(body, "instructions", instructions); err != nil {
			return nil, fmt.Errorf("failed to set instructions: %w", err)
		}
	}

	switch {
	case opts.Reasoning.Explicit():
		reasoning := map[string]any{"effort": string(opts.Reasoning), "summary": "auto"}
		if body, err = sjson.SetBytes(body, "reasoning", reasoning); err != nil {
			return nil, fmt.Errorf("failed to set reasoning: %w", err)
		}
	case opts.Reasoning == config.ReasoningAuto:
	default:
		if body, err = sjson.DeleteBytes(body, "reasoning"); err != nil {
			return nil, fmt.Errorf("failed to delete reasoning: %w", err)
		}
	}
	return body, nil
}

// =============================================================================
// HEADERS
// =============================================================================

// Headers builds the Responses upstream headers.
func (a *OpenAIAdapter) Headers(p HeaderParams) http.Header {
	h := baseHeaders(p)
	sessionHeaders(h, p.Client)
	h.Set("Accept", acceptFor(p.Stream))
	return h
}

// =============================================================================
// RESPONSES
// =============================================================================

// ConvertResponse converts a Responses object into a chat.completion object.
func (a *OpenAIAdapter) ConvertResponse(body []byte, now time.Time) ([]byte, error) {
	return stream.ConvertResponses(body, now)
}

// NewTranscoder returns a Responses SSE transcoder.
func (a *OpenAIAdapter) NewTranscoder(model string, now time.Time) stream.Transcoder {
	return stream.NewResponses(model, now)
}

// =============================================================================
// INPUT ITEMS
// =============================================================================

func responsesMessage(role string, content []any) map[string]any {
	return map[string]any{"type": "message", "role": role, "content": content}
}

func inputText(text string) map[string]any {
	return map[string]any{"type": "input_text", "text": text}
}

// responsesInputParts converts user content into input_text / input_image parts.
func responsesInputParts(content gjson.Result) []any {
	if content.Type == gjson.String {
		if content.String() == "" {
			return nil
		}
		return []any{inputText(content.String())}
	}

	var parts []any
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, inputText(part.Get("text").String()))
		case "image_url":
			img := map[string]any{"type": "input_image"}
			if url := part.Get("image_url.url"); url.Exists() {
				img["image_url"] = url.String()
				if detail := part.Get("image_url.detail").String(); detail != "" {
					img["detail"] = detail
				}
			} else {
				img["image_url"] = part.Get("image_url").String()
			}
			parts = append(parts, img)
		default:
			parts = append(parts, rawJSON(part.Raw))
		}
	}
	return parts
}

// responsesTools flattens Chat function tools; Responses has no nested "function" object.
func responsesTools(tools gjson.Result) []any {
	var out []any
	for _, tool := range tools.Array() {
		if tool.Get("type").String() != "function" {
			out = append(out, rawJSON(tool.Raw))
			continue
		}
		fn := tool.Get("function")
		def := map[string]any{"type": "function", "name": fn.Get("name").String()}
		if desc := fn.Get("description").String(); desc != "" {
			def["description"] = desc
		}
		if params := fn.Get("parameters"); params.IsObject() {
			def["parameters"] = rawJSON(params.Raw)
		}
		if strict := fn.Get("strict"); strict.IsBool() {
			def["strict"] = strict.Bool()
		}
		out = append(out, def)
	}
	return out
}

func responsesToolChoice(choice gjson.Result) any {
	if choice.IsObject() {
		if name := choice.Get("function.name").String(); name != "" {
			return map[string]any{"type": "function", "name": name}
		}
	}
	return rawJSON(choice.Raw)
}
