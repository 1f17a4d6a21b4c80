// Package stream transcodes upstream SSE streams into Chat Completions chunks.
//
// DESIGN: Each upstream type has its own Transcoder, created per request and
// never shared. Feed is a step function over raw network reads:
//
//	Feed(chunk) -> (frames to write, done)
//
// Partial lines are held in a line buffer until their newline arrives, so the
// output depends only on the byte sequence, not on how reads split it.
// Finish is called once at upstream EOF to flush the tail and terminate the
// client stream if the upstream never did.
package stream

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Transcoder converts one upstream stream into client frames.
type Transcoder interface {
	// Feed consumes the next upstream read and returns frames to relay in order.
	// done is true once the client stream has been terminated.
	Feed(chunk []byte) (out [][]byte, done bool)

	// Finish flushes buffered input at upstream EOF.
	Finish() [][]byte
}

// DoneFrame is the terminal sentinel of a Chat Completions stream.
var DoneFrame = []byte("data: [DONE]\n\n")

var (
	dataPrefix  = []byte("data:")
	donePayload = []byte("[DONE]")
)

// lineBuffer splits a byte stream into lines across arbitrary read boundaries.
type lineBuffer struct {
	pending []byte
}

// push appends chunk and returns every complete line, without its terminator.
func (b *lineBuffer) push(chunk []byte) [][]byte {
	b.pending = append(b.pending, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(b.pending[:i], "\r")
		lines = append(lines, append([]byte(nil), line...))
		b.pending = b.pending[i+1:]
	}

	if len(b.pending) == 0 {
		b.pending = nil
	} else {
		b.pending = append([]byte(nil), b.pending...)
	}
	return lines
}

// flush returns whatever is left without a trailing newline.
func (b *lineBuffer) flush() []byte {
	rest := bytes.TrimRight(b.pending, "\r")
	b.pending = nil
	return rest
}

// dataPayload extracts the payload of a "data:" line.
func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}

// payloadHandler handles one data payload and returns frames to emit.
type payloadHandler func(payload []byte) [][]byte

// feedLines drives a handler over the complete lines of chunk.
func feedLines(lines *lineBuffer, e *emitter, chunk []byte, handle payloadHandler) ([][]byte, bool) {
	if e.terminated {
		return nil, true
	}
	var out [][]byte
	for _, line := range lines.push(chunk) {
		out = append(out, handleLine(e, line, handle)...)
		if e.terminated {
			break
		}
	}
	return out, e.terminated
}

// finishLines flushes the tail and terminates the stream if needed.
func finishLines(lines *lineBuffer, e *emitter, handle payloadHandler) [][]byte {
	if e.terminated {
		return nil
	}
	var out [][]byte
	if rest := lines.flush(); len(rest) > 0 {
		out = append(out, handleLine(e, rest, handle)...)
	}
	if !e.terminated {
		log.Debug().Str("id", e.id).Msg("upstream stream ended without terminal event")
		out = append(out, e.done()...)
	}
	return out
}

func handleLine(e *emitter, line []byte, handle payloadHandler) [][]byte {
	payload, ok := dataPayload(line)
	if !ok {
		// event:, id:, comments and blank separators carry nothing we need
		return nil
	}
	if bytes.Equal(payload, donePayload) {
		return e.done()
	}
	if !json.Valid(payload) {
		log.Debug().Str("id", e.id).Int("size", len(payload)).Msg("skipping malformed SSE payload")
		return nil
	}
	return handle(payload)
}
