// Anthropic Messages SSE -> Chat Completions chunks.
//
// Event vocabulary handled:
//   - message_start:       seeds id/model, records prompt tokens, opens the role
//   - content_block_start: text blocks may carry initial text
//   - content_block_delta: text_delta is re-emitted immediately
//   - message_delta:       stop_reason and output tokens, held until the end
//   - message_stop:        final chunk (finish_reason + usage) and [DONE]
//   - error:               error frame and [DONE]
//
// Tool-use and thinking deltas have no Chat Completions text equivalent and
// are dropped.
package stream

import (
	"time"

	"github.com/tidwall/gjson"
)

// Anthropic transcodes an Anthropic Messages stream.
type Anthropic struct {
	emitter
	lines      lineBuffer
	stopReason string
	usage      *Usage
}

// NewAnthropic creates a transcoder. model is reported until message_start names one.
func NewAnthropic(model string, now time.Time) *Anthropic {
	return &Anthropic{emitter: newEmitter(model, now)}
}

// Feed implements Transcoder.
func (t *Anthropic) Feed(chunk []byte) ([][]byte, bool) {
	return feedLines(&t.lines, &t.emitter, chunk, t.handle)
}

// Finish implements Transcoder.
func (t *Anthropic) Finish() [][]byte {
	return finishLines(&t.lines, &t.emitter, t.handle)
}

func (t *Anthropic) handle(payload []byte) [][]byte {
	ev := gjson.ParseBytes(payload)

	switch ev.Get("type").String() {
	case "message_start":
		msg := ev.Get("message")
		t.seed(msg.Get("id").String(), "msg_", msg.Get("model").String())
		if u := msg.Get("usage"); u.Exists() {
			t.usageRef().PromptTokens = anthropicPromptTokens(u)
			t.usageRef().CompletionTokens = u.Get("output_tokens").Int()
		}
		return t.role()

	case "content_block_start":
		block := ev.Get("content_block")
		if block.Get("type").String() != "text" {
			return nil
		}
		return t.appendText(block.Get("text").String())

	case "content_block_delta":
		delta := ev.Get("delta")
		if delta.Get("type").String() != "text_delta" {
			return nil
		}
		return t.appendText(delta.Get("text").String())

	case "message_delta":
		if reason := ev.Get("delta.stop_reason").String(); reason != "" {
			t.stopReason = reason
		}
		if u := ev.Get("usage"); u.Exists() {
			if out := u.Get("output_tokens"); out.Exists() {
				t.usageRef().CompletionTokens = out.Int()
			}
			if prompt := anthropicPromptTokens(u); prompt > 0 {
				t.usageRef().PromptTokens = prompt
			}
		}
		return nil

	case "message_stop":
		var usage *Usage
		if t.usage != nil {
			u := *t.usage
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
			usage = &u
		}
		return t.final(FinishFromAnthropic(t.stopReason), usage)

	case "error":
		return t.fail([]byte(ev.Get("error").Raw))
	}
	// ping, content_block_stop and unknown events
	return nil
}

func (t *Anthropic) appendText(text string) [][]byte {
	if text == "" {
		return nil
	}
	return t.content(text)
}

func (t *Anthropic) usageRef() *Usage {
	if t.usage == nil {
		t.usage = &Usage{}
	}
	return t.usage
}

// anthropicPromptTokens counts cached input as prompt tokens, as Chat Completions does.
func anthropicPromptTokens(u gjson.Result) int64 {
	return u.Get("input_tokens").Int() +
		u.Get("cache_read_input_tokens").Int() +
		u.Get("cache_creation_input_tokens").Int()
}
