// Chat Completions output schema shared by the stream and one-shot converters.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Object names of the Chat Completions schema.
const (
	ObjectChunk      = "chat.completion.chunk"
	ObjectCompletion = "chat.completion"
)

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishUnknown   = "unknown"
)

// Usage is the Chat Completions token usage object.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Chunk is one streamed Chat Completions frame.
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice carries a delta. FinishReason stays null until the final chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is an incremental message fragment.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatCompletion is a one-shot Chat Completions response.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Message is an assistant message.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FinishFromAnthropic maps an Anthropic stop_reason.
func FinishFromAnthropic(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	}
	return FinishUnknown
}

// FinishFromResponses maps a Responses API status.
func FinishFromResponses(status string) string {
	if status == "completed" {
		return FinishStop
	}
	return FinishUnknown
}

// CompletionID rewrites an upstream id into the chatcmpl- namespace.
// Ids without the expected prefix are kept; empty ids get a time-based one.
func CompletionID(upstreamID, prefix string, now time.Time) string {
	if upstreamID == "" {
		return fmt.Sprintf("chatcmpl-%d", now.UnixMilli())
	}
	if strings.HasPrefix(upstreamID, prefix) {
		return "chatcmpl-" + strings.TrimPrefix(upstreamID, prefix)
	}
	return upstreamID
}

// emitter builds frames for one stream and tracks its terminal state.
type emitter struct {
	id         string
	model      string
	created    int64
	roleSent   bool
	terminated bool
}

func newEmitter(model string, now time.Time) emitter {
	return emitter{
		id:      CompletionID("", "", now),
		model:   model,
		created: now.Unix(),
	}
}

// seed adopts the upstream identity. Only the first call has an effect on the id.
func (e *emitter) seed(upstreamID, prefix, model string) {
	if upstreamID != "" && !e.roleSent {
		e.id = CompletionID(upstreamID, prefix, time.Unix(e.created, 0))
	}
	if model != "" {
		e.model = model
	}
}

func (e *emitter) frame(c Chunk) []byte {
	data, err := json.Marshal(c)
	if err != nil {
		// Chunk holds only strings and numbers
		panic(fmt.Sprintf("stream: marshal chunk: %v", err))
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}

func (e *emitter) chunk(delta Delta, finish *string, usage *Usage) []byte {
	return e.frame(Chunk{
		ID:      e.id,
		Object:  ObjectChunk,
		Created: e.created,
		Model:   e.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		Usage:   usage,
	})
}

// role emits the opening assistant role chunk once.
func (e *emitter) role() [][]byte {
	if e.roleSent {
		return nil
	}
	e.roleSent = true
	return [][]byte{e.chunk(Delta{Role: "assistant"}, nil, nil)}
}

// content emits a text delta, opening the role first if needed.
func (e *emitter) content(text string) [][]byte {
	if text == "" {
		return nil
	}
	if !e.roleSent {
		e.roleSent = true
		return [][]byte{e.chunk(Delta{Role: "assistant", Content: text}, nil, nil)}
	}
	return [][]byte{e.chunk(Delta{Content: text}, nil, nil)}
}

// final emits the closing chunk with finish reason and usage, then the sentinel.
func (e *emitter) final(reason string, usage *Usage) [][]byte {
	if e.terminated {
		return nil
	}
	r := reason
	frames := [][]byte{e.chunk(Delta{}, &r, usage)}
	return append(frames, e.done()...)
}

// fail relays an upstream error object, then the sentinel.
func (e *emitter) fail(errObj []byte) [][]byte {
	if e.terminated {
		return nil
	}
	if len(errObj) == 0 || !json.Valid(errObj) {
		errObj = []byte(`{"message":"upstream stream error","type":"upstream_error"}`)
	}
	frame := make([]byte, 0, len(errObj)+24)
	frame = append(frame, `data: {"error":`...)
	frame = append(frame, errObj...)
	frame = append(frame, "}\n\n"...)
	return append([][]byte{frame}, e.done()...)
}

func (e *emitter) done() [][]byte {
	if e.terminated {
		return nil
	}
	e.terminated = true
	return [][]byte{append([]byte(nil), DoneFrame...)}
}
