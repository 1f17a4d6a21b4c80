// One-shot (non-streaming) conversions into a Chat Completions object.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrUnconvertible reports an upstream body that does not have the expected shape.
// Callers relay the raw body instead.
var ErrUnconvertible = errors.New("upstream response cannot be converted")

const unknownModel = "unknown-model"

// ConvertResponses converts a Responses API object. The first output item of
// type "message" supplies the text, its output_text parts concatenated.
func ConvertResponses(body []byte, now time.Time) ([]byte, error) {
	root, err := parseObject(body)
	if err != nil {
		return nil, err
	}

	output := root.Get("output")
	if output.Exists() && !output.IsArray() {
		return nil, fmt.Errorf("%w: output is not an array", ErrUnconvertible)
	}

	var text strings.Builder
	for _, item := range output.Array() {
		if item.Get("type").String() != "message" {
			continue
		}
		for _, part := range item.Get("content").Array() {
			if part.Get("type").String() == "output_text" {
				text.WriteString(part.Get("text").String())
			}
		}
		break
	}

	created := root.Get("created_at").Int()
	if created == 0 {
		created = now.Unix()
	}
	model := root.Get("model").String()
	if model == "" {
		model = unknownModel
	}

	return json.Marshal(ChatCompletion{
		ID:      CompletionID(root.Get("id").String(), "resp_", now),
		Object:  ObjectCompletion,
		Created: created,
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: text.String()},
			FinishReason: FinishFromResponses(root.Get("status").String()),
		}},
		Usage: Usage{
			PromptTokens:     root.Get("usage.input_tokens").Int(),
			CompletionTokens: root.Get("usage.output_tokens").Int(),
			TotalTokens:      root.Get("usage.total_tokens").Int(),
		},
	})
}

// ConvertAnthropic converts an Anthropic Messages object. Text blocks are
// concatenated and tool_use blocks become tool_calls.
func ConvertAnthropic(body []byte, now time.Time) ([]byte, error) {
	root, err := parseObject(body)
	if err != nil {
		return nil, err
	}

	content := root.Get("content")
	if !content.IsArray() {
		return nil, fmt.Errorf("%w: content is not an array", ErrUnconvertible)
	}

	var text strings.Builder
	var calls []ToolCall
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
		case "tool_use":
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			calls = append(calls, ToolCall{
				ID:       block.Get("id").String(),
				Type:     "function",
				Function: FunctionCall{Name: block.Get("name").String(), Arguments: args},
			})
		}
	}

	model := root.Get("model").String()
	if model == "" {
		model = unknownModel
	}
	usage := root.Get("usage")
	prompt := anthropicPromptTokens(usage)
	completion := usage.Get("output_tokens").Int()

	return json.Marshal(ChatCompletion{
		ID:      CompletionID(root.Get("id").String(), "msg_", now),
		Object:  ObjectCompletion,
		Created: now.Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: text.String(), ToolCalls: calls},
			FinishReason: FinishFromAnthropic(root.Get("stop_reason").String()),
		}},
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	})
}

func parseObject(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrUnconvertible)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: not a JSON object", ErrUnconvertible)
	}
	return root, nil
}
