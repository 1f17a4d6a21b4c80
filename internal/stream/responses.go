// OpenAI Responses SSE -> Chat Completions chunks.
//
// Event vocabulary handled:
//   - response.created / response.in_progress: seeds id/model, opens the role
//   - response.output_text.delta:              re-emitted immediately
//   - response.completed / response.incomplete: final chunk and [DONE]
//   - response.failed / error:                 error frame and [DONE]
package stream

import (
	"time"

	"github.com/tidwall/gjson"
)

// Responses transcodes an OpenAI Responses stream.
type Responses struct {
	emitter
	lines lineBuffer
}

// NewResponses creates a transcoder. model is reported until the upstream names one.
func NewResponses(model string, now time.Time) *Responses {
	return &Responses{emitter: newEmitter(model, now)}
}

// Feed implements Transcoder.
func (t *Responses) Feed(chunk []byte) ([][]byte, bool) {
	return feedLines(&t.lines, &t.emitter, chunk, t.handle)
}

// Finish implements Transcoder.
func (t *Responses) Finish() [][]byte {
	return finishLines(&t.lines, &t.emitter, t.handle)
}

func (t *Responses) handle(payload []byte) [][]byte {
	ev := gjson.ParseBytes(payload)

	switch ev.Get("type").String() {
	case "response.created", "response.in_progress":
		resp := ev.Get("response")
		t.seed(resp.Get("id").String(), "resp_", resp.Get("model").String())
		return t.role()

	case "response.output_text.delta":
		return t.content(ev.Get("delta").String())

	case "response.completed", "response.incomplete":
		resp := ev.Get("response")
		return t.final(FinishFromResponses(resp.Get("status").String()), responsesUsage(resp.Get("usage")))

	case "response.failed":
		return t.fail([]byte(ev.Get("response.error").Raw))

	case "error":
		if e := ev.Get("error"); e.Exists() {
			return t.fail([]byte(e.Raw))
		}
		return t.fail(payload)
	}
	return nil
}

func responsesUsage(u gjson.Result) *Usage {
	if !u.Exists() {
		return nil
	}
	return &Usage{
		PromptTokens:     u.Get("input_tokens").Int(),
		CompletionTokens: u.Get("output_tokens").Int(),
		TotalTokens:      u.Get("total_tokens").Int(),
	}
}
