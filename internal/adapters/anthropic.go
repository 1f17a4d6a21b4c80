package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/stream"
)

// DefaultMaxTokens is used when a Chat request omits max_tokens; Anthropic requires it.
const DefaultMaxTokens = 4096

// thinkingHeadroom keeps max_tokens above budget_tokens when thinking is forced on.
const thinkingHeadroom = 4096

// AnthropicAdapter handles Anthropic Messages upstreams.
// Anthropic uses content blocks with type:"tool_result" for tool results.
type AnthropicAdapter struct {
	BaseAdapter
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{
		BaseAdapter: BaseAdapter{
			name:     "anthropic",
			upstream: config.UpstreamAnthropic,
		},
	}
}

// =============================================================================
// REQUEST TRANSLATION
// =============================================================================

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

// TranslateRequest maps a Chat Completions request onto the Messages API.
func (a *AnthropicAdapter) TranslateRequest(body []byte, opts Options) ([]byte, error) {
	root, err := parseChatRequest(body)
	if err != nil {
		return nil, err
	}

	var system []any
	if opts.SystemPrompt != "" {
		system = append(system, textBlock(opts.SystemPrompt))
	}

	messages := []anthropicMessage{}
	appendBlocks := func(role string, blocks []any) {
		if len(blocks) == 0 {
			return
		}
		// Consecutive same-role turns are merged; the Messages API expects alternation.
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, msg := range root.Get("messages").Array() {
		switch role := msg.Get("role").String(); role {
		case "system", "developer":
			if text := textOf(msg.Get("content")); text != "" {
				system = append(system, textBlock(text))
			}
		case "tool":
			appendBlocks("user", []any{map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.Get("tool_call_id").String(),
				"content":     textOf(msg.Get("content")),
			}})
		case "assistant":
			blocks := anthropicBlocks(msg.Get("content"))
			for _, call := range msg.Get("tool_calls").Array() {
				blocks = append(blocks, toolUseBlock(call))
			}
			appendBlocks("assistant", blocks)
		case "user":
			appendBlocks("user", anthropicBlocks(msg.Get("content")))
		default:
			return nil, fmt.Errorf("%w: unsupported message role %q", ErrInvalidRequest, role)
		}
	}

	out := map[string]any{
		"model":    root.Get("model").String(),
		"messages": messages,
	}
	if len(system) > 0 {
		out["system"] = system
	}

	maxTokens, ok := firstInt(root, "max_tokens", "max_completion_tokens")
	if !ok || maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	copyRaw(out, root, map[string]string{
		"stream":      "stream",
		"temperature": "temperature",
		"top_p":       "top_p",
		"top_k":       "top_k",
	})

	if stop := root.Get("stop"); stop.Exists() {
		switch {
		case stop.Type == gjson.String && stop.String() != "":
			out["stop_sequences"] = []string{stop.String()}
		case stop.IsArray():
			out["stop_sequences"] = rawJSON(stop.Raw)
		}
	}

	if tools := anthropicTools(root.Get("tools")); len(tools) > 0 {
		out["tools"] = tools
		if choice := anthropicToolChoice(root.Get("tool_choice")); choice != nil {
			out["tool_choice"] = choice
		}
	}

	if user := root.Get("user").String(); user != "" {
		out["metadata"] = map[string]any{"user_id": user}
	}

	switch {
	case opts.Reasoning.Explicit():
		budget := int64(ThinkingBudget(opts.Reasoning))
		out["thinking"] = map[string]any{"type": "enabled", "budget_tokens": budget}
		if maxTokens <= budget {
			maxTokens = budget + thinkingHeadroom
		}
		// Extended thinking rejects sampling overrides.
		delete(out, "temperature")
		delete(out, "top_k")
	case opts.Reasoning == config.ReasoningAuto:
		if thinking := root.Get("thinking"); thinking.IsObject() {
			out["thinking"] = rawJSON(thinking.Raw)
		}
	}
	out["max_tokens"] = maxTokens

	return json.Marshal(out)
}

// Augment injects the system prompt and thinking directive into a native Messages body.
func (a *AnthropicAdapter) Augment(body []byte, opts Options) ([]byte, error) {
	root, err := parseObject(body)
	if err != nil {
		return nil, err
	}

	if opts.SystemPrompt != "" {
		system := []any{textBlock(opts.SystemPrompt)}
		existing := root.Get("system")
		switch {
		case existing.IsArray():
			for _, block := range existing.Array() {
				system = append(system, rawJSON(block.Raw))
			}
		case existing.Type == gjson.String && existing.String() != "":
			system = append(system, textBlock(existing.String()))
		}
		if body, err = sjson.SetBytes(body, "system", system); err != nil {
			return nil, fmt.Errorf("failed to set system: %w", err)
		}
	}

	switch {
	case opts.Reasoning.Explicit():
		thinking := map[string]any{"type": "enabled", "budget_tokens": ThinkingBudget(opts.Reasoning)}
		if body, err = sjson.SetBytes(body, "thinking", thinking); err != nil {
			return nil, fmt.Errorf("failed to set thinking: %w", err)
		}
	case opts.Reasoning == config.ReasoningAuto:
		// client's thinking field is kept as sent
	default:
		if body, err = sjson.DeleteBytes(body, "thinking"); err != nil {
			return nil, fmt.Errorf("failed to delete thinking: %w", err)
		}
	}
	return body, nil
}

// =============================================================================
// HEADERS
// =============================================================================

// Headers builds the Anthropic upstream headers.
func (a *AnthropicAdapter) Headers(p HeaderParams) http.Header {
	h := baseHeaders(p)
	sessionHeaders(h, p.Client)
	h.Set("Accept", acceptFor(p.Stream))

	version := p.Client.Get("anthropic-version")
	if version == "" {
		version = p.AnthropicVersion
	}
	if version == "" {
		version = config.DefaultAnthropicVersion
	}
	h.Set("anthropic-version", version)

	if beta := p.Client.Get("anthropic-beta"); beta != "" {
		h.Set("anthropic-beta", beta)
	}
	if p.Stream {
		h.Set("x-stainless-helper-method", "stream")
	}
	return h
}

// =============================================================================
// RESPONSES
// =============================================================================

// ConvertResponse converts a Messages response into a chat.completion object.
func (a *AnthropicAdapter) ConvertResponse(body []byte, now time.Time) ([]byte, error) {
	return stream.ConvertAnthropic(body, now)
}

// NewTranscoder returns a Messages SSE transcoder.
func (a *AnthropicAdapter) NewTranscoder(model string, now time.Time) stream.Transcoder {
	return stream.NewAnthropic(model, now)
}

// =============================================================================
// CONTENT BLOCKS
// =============================================================================

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// anthropicBlocks converts Chat message content (string or parts) into content blocks.
func anthropicBlocks(content gjson.Result) []any {
	if content.Type == gjson.String {
		if content.String() == "" {
			return nil
		}
		return []any{textBlock(content.String())}
	}
	if !content.IsArray() {
		return nil
	}

	var blocks []any
	for _, part := range content.Array() {
		switch part.Get("type").String() {
		case "text":
			blocks = append(blocks, textBlock(part.Get("text").String()))
		case "image_url":
			url := part.Get("image_url.url").String()
			if url == "" {
				url = part.Get("image_url").String()
			}
			blocks = append(blocks, imageBlock(url))
		default:
			blocks = append(blocks, rawJSON(part.Raw))
		}
	}
	return blocks
}

// imageBlock maps an image URL, inline data URLs included, to an image block.
func imageBlock(url string) map[string]any {
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		if meta, data, found := strings.Cut(rest, ","); found {
			if mediaType, isBase64 := strings.CutSuffix(meta, ";base64"); isBase64 {
				return map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": mediaType,
						"data":       data,
					},
				}
			}
		}
	}
	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": url},
	}
}

// toolUseBlock maps an assistant tool call to a tool_use block.
func toolUseBlock(call gjson.Result) map[string]any {
	input := rawJSON("{}")
	if args := call.Get("function.arguments").String(); args != "" && gjson.Valid(args) && gjson.Parse(args).IsObject() {
		input = rawJSON(args)
	}
	return map[string]any{
		"type":  "tool_use",
		"id":    call.Get("id").String(),
		"name":  call.Get("function.name").String(),
		"input": input,
	}
}

// anthropicTools flattens Chat function tools into Anthropic tool definitions.
func anthropicTools(tools gjson.Result) []any {
	var out []any
	for _, tool := range tools.Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		fn := tool.Get("function")
		def := map[string]any{"name": fn.Get("name").String()}
		if desc := fn.Get("description").String(); desc != "" {
			def["description"] = desc
		}
		if params := fn.Get("parameters"); params.IsObject() {
			def["input_schema"] = rawJSON(params.Raw)
		} else {
			def["input_schema"] = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, def)
	}
	return out
}

// anthropicToolChoice maps Chat tool_choice; "required" becomes "any".
func anthropicToolChoice(choice gjson.Result) map[string]any {
	switch {
	case choice.Type == gjson.String:
		switch choice.String() {
		case "auto":
			return map[string]any{"type": "auto"}
		case "required":
			return map[string]any{"type": "any"}
		case "none":
			return map[string]any{"type": "none"}
		}
	case choice.IsObject():
		if name := choice.Get("function.name").String(); name != "" {
			return map[string]any{"type": "tool", "name": name}
		}
	}
	return nil
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}
