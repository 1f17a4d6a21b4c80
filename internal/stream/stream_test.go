package stream_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/protocol-gateway/internal/stream"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const anthropicSSE = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_01abc","type":"message","role":"assistant","model":"claude-sonnet-4","content":[],"stop_reason":null,"usage":{"input_tokens":12,"output_tokens":1}}}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
	"event: ping\n" +
	`data: {"type":"ping"}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":", wörld"}}` + "\n\n" +
	"event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":0}` + "\n\n" +
	"event: message_delta\n" +
	`data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":7}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

const responsesSSE = "event: response.created\n" +
	`data: {"type":"response.created","response":{"id":"resp_42","object":"response","status":"in_progress","model":"gpt-5"}}` + "\n\n" +
	"event: response.output_item.added\n" +
	`data: {"type":"response.output_item.added","output_index":0,"item":{"type":"message","role":"assistant","content":[]}}` + "\n\n" +
	"event: response.output_text.delta\n" +
	`data: {"type":"response.output_text.delta","output_index":0,"content_index":0,"delta":"Hi"}` + "\n\n" +
	"event: response.output_text.delta\n" +
	`data: {"type":"response.output_text.delta","output_index":0,"content_index":0,"delta":" there"}` + "\n\n" +
	"event: response.completed\n" +
	`data: {"type":"response.completed","response":{"id":"resp_42","status":"completed","usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}}}` + "\n\n"

// collect feeds data split into pieces of size n (whole input when n <= 0).
func collect(t *testing.T, tc stream.Transcoder, data string, n int) [][]byte {
	t.Helper()
	var out [][]byte
	if n <= 0 {
		n = len(data)
	}
	done := false
	for i := 0; i < len(data); i += n {
		end := i + n
		if end > len(data) {
			end = len(data)
		}
		frames, d := tc.Feed([]byte(data[i:end]))
		out = append(out, frames...)
		done = d
	}
	if !done {
		out = append(out, tc.Finish()...)
	}
	return out
}

func payloads(t *testing.T, frames [][]byte) []gjson.Result {
	t.Helper()
	var out []gjson.Result
	for _, f := range frames {
		require.True(t, bytes.HasPrefix(f, []byte("data: ")), string(f))
		require.True(t, bytes.HasSuffix(f, []byte("\n\n")), string(f))
		body := bytes.TrimSuffix(bytes.TrimPrefix(f, []byte("data: ")), []byte("\n\n"))
		if string(body) == "[DONE]" {
			continue
		}
		out = append(out, gjson.ParseBytes(body))
	}
	return out
}

func TestAnthropic_Transcode(t *testing.T) {
	tc := stream.NewAnthropic("requested-model", fixedNow)
	frames := collect(t, tc, anthropicSSE, 0)

	require.Len(t, frames, 5)
	assert.Equal(t, stream.DoneFrame, frames[len(frames)-1])

	events := payloads(t, frames)
	require.Len(t, events, 4)

	for _, ev := range events {
		assert.Equal(t, "chatcmpl-01abc", ev.Get("id").String())
		assert.Equal(t, "chat.completion.chunk", ev.Get("object").String())
		assert.Equal(t, "claude-sonnet-4", ev.Get("model").String())
		assert.Equal(t, fixedNow.Unix(), ev.Get("created").Int())
	}

	assert.Equal(t, "assistant", events[0].Get("choices.0.delta.role").String())
	assert.Equal(t, "null", events[0].Get("choices.0.finish_reason").Raw)

	assert.Equal(t, "Hello", events[1].Get("choices.0.delta.content").String())
	assert.Equal(t, "null", events[1].Get("choices.0.finish_reason").Raw)
	assert.False(t, events[1].Get("usage").Exists())
	assert.Equal(t, ", wörld", events[2].Get("choices.0.delta.content").String())

	final := events[3]
	assert.Equal(t, "stop", final.Get("choices.0.finish_reason").String())
	assert.Equal(t, "{}", final.Get("choices.0.delta").Raw)
	assert.Equal(t, int64(12), final.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(7), final.Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(19), final.Get("usage.total_tokens").Int())

	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.Get("choices.0.delta.content").String())
	}
	assert.Equal(t, "Hello, wörld", text.String())
}

func TestAnthropic_ChunkBoundaryIdempotence(t *testing.T) {
	want := collect(t, stream.NewAnthropic("m", fixedNow), anthropicSSE, 0)
	for _, n := range []int{1, 2, 3, 7, 16, 64, 333} {
		got := collect(t, stream.NewAnthropic("m", fixedNow), anthropicSSE, n)
		assert.Equal(t, want, got, "split size %d", n)
	}
}

func TestAnthropic_CRLFFraming(t *testing.T) {
	crlf := strings.ReplaceAll(anthropicSSE, "\n", "\r\n")
	want := collect(t, stream.NewAnthropic("m", fixedNow), anthropicSSE, 0)
	got := collect(t, stream.NewAnthropic("m", fixedNow), crlf, 5)
	assert.Equal(t, want, got)
}

func TestAnthropic_StopReasonMapping(t *testing.T) {
	tests := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"max_tokens":    "length",
		"tool_use":      "tool_calls",
		"refusal":       "unknown",
	}
	for reason, want := range tests {
		sse := `data: {"type":"message_delta","delta":{"stop_reason":"` + reason + `"},"usage":{"output_tokens":1}}` + "\n\n" +
			`data: {"type":"message_stop"}` + "\n\n"
		events := payloads(t, collect(t, stream.NewAnthropic("m", fixedNow), sse, 0))
		require.Len(t, events, 1, reason)
		assert.Equal(t, want, events[0].Get("choices.0.finish_reason").String(), reason)
	}
}

func TestAnthropic_ErrorEvent(t *testing.T) {
	sse := `data: {"type":"message_start","message":{"id":"msg_1","model":"c"}}` + "\n\n" +
		"event: error\n" +
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"late"}}` + "\n\n"

	tc := stream.NewAnthropic("m", fixedNow)
	frames, done := tc.Feed([]byte(sse))
	assert.True(t, done)
	require.Len(t, frames, 3)
	assert.Equal(t, `data: {"error":{"type":"overloaded_error","message":"Overloaded"}}`+"\n\n", string(frames[1]))
	assert.Equal(t, stream.DoneFrame, frames[2])

	// Terminated streams ignore further input
	more, done := tc.Feed([]byte(`data: {"type":"message_stop"}` + "\n\n"))
	assert.True(t, done)
	assert.Empty(t, more)
	assert.Empty(t, tc.Finish())
}

func TestAnthropic_EOFWithoutTerminalEvent(t *testing.T) {
	sse := `data: {"type":"message_start","message":{"id":"msg_1","model":"c"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`

	tc := stream.NewAnthropic("m", fixedNow)
	frames, done := tc.Feed([]byte(sse))
	assert.False(t, done)
	require.Len(t, frames, 1) // delta line still buffered

	tail := tc.Finish()
	require.Len(t, tail, 2)
	assert.Contains(t, string(tail[0]), `"content":"partial"`)
	assert.Equal(t, stream.DoneFrame, tail[1])
}

func TestAnthropic_SkipsNonTextDeltasAndGarbage(t *testing.T) {
	sse := `data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}` + "\n\n" +
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"a\""}}` + "\n\n" +
		"data: {not json\n\n" +
		": keep-alive comment\n\n" +
		`data: {"type":"content_block_delta","index":2,"delta":{"type":"text_delta","text":"ok"}}` + "\n\n"

	tc := stream.NewAnthropic("m", fixedNow)
	frames, done := tc.Feed([]byte(sse))
	assert.False(t, done)
	events := payloads(t, frames)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Get("choices.0.delta.content").String())
	assert.Equal(t, "assistant", events[0].Get("choices.0.delta.role").String())
	assert.Equal(t, "m", events[0].Get("model").String())
}

func TestAnthropic_DoneSentinel(t *testing.T) {
	tc := stream.NewAnthropic("m", fixedNow)
	frames, done := tc.Feed([]byte("data: [DONE]\n\n"))
	assert.True(t, done)
	assert.Equal(t, [][]byte{stream.DoneFrame}, frames)
}

func TestResponses_Transcode(t *testing.T) {
	tc := stream.NewResponses("gpt-x", fixedNow)
	frames := collect(t, tc, responsesSSE, 0)

	require.Len(t, frames, 5)
	assert.Equal(t, stream.DoneFrame, frames[4])

	events := payloads(t, frames)
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, "chatcmpl-42", ev.Get("id").String())
		assert.Equal(t, "gpt-5", ev.Get("model").String())
	}
	assert.Equal(t, "assistant", events[0].Get("choices.0.delta.role").String())
	assert.Equal(t, "Hi", events[1].Get("choices.0.delta.content").String())
	assert.Equal(t, " there", events[2].Get("choices.0.delta.content").String())
	assert.Equal(t, "stop", events[3].Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(5), events[3].Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(2), events[3].Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(7), events[3].Get("usage.total_tokens").Int())
}

func TestResponses_ChunkBoundaryIdempotence(t *testing.T) {
	want := collect(t, stream.NewResponses("m", fixedNow), responsesSSE, 0)
	for _, n := range []int{1, 4, 9, 50, 128} {
		got := collect(t, stream.NewResponses("m", fixedNow), responsesSSE, n)
		assert.Equal(t, want, got, "split size %d", n)
	}
}

func TestResponses_IncompleteIsUnknown(t *testing.T) {
	sse := `data: {"type":"response.output_text.delta","delta":"x"}` + "\n\n" +
		`data: {"type":"response.incomplete","response":{"status":"incomplete","usage":{"input_tokens":1,"output_tokens":1,"total_tokens":2}}}` + "\n\n"

	events := payloads(t, collect(t, stream.NewResponses("m", fixedNow), sse, 0))
	require.Len(t, events, 2)
	assert.Equal(t, "assistant", events[0].Get("choices.0.delta.role").String())
	assert.Equal(t, "unknown", events[1].Get("choices.0.finish_reason").String())
}

func TestResponses_Failed(t *testing.T) {
	sse := `data: {"type":"response.failed","response":{"status":"failed","error":{"code":"server_error","message":"boom"}}}` + "\n\n"
	frames := collect(t, stream.NewResponses("m", fixedNow), sse, 0)
	require.Len(t, frames, 2)
	assert.Equal(t, `data: {"error":{"code":"server_error","message":"boom"}}`+"\n\n", string(frames[0]))
	assert.Equal(t, stream.DoneFrame, frames[1])
}

func TestPassthrough(t *testing.T) {
	tc := stream.NewPassthrough()
	buf := []byte("data: {\"x\":1}\n\ndata: [DONE]\n\n")
	frames, done := tc.Feed(buf)
	assert.False(t, done)
	require.Len(t, frames, 1)
	assert.Equal(t, buf, frames[0])

	// The relayed frame is a copy
	buf[0] = 'X'
	assert.Equal(t, byte('d'), frames[0][0])

	frames, _ = tc.Feed(nil)
	assert.Empty(t, frames)
	assert.Empty(t, tc.Finish())
}
