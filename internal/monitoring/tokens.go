// Package monitoring - tokens.go estimates prompt sizes for logs.
//
// DESIGN: cl100k_base is loaded lazily on first use. When the encoding
// cannot be loaded (offline, no cache) the estimate falls back to len/4.
package monitoring

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenEstimator counts tokens for log lines. A nil estimator returns 0.
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenEstimator returns an estimator, or nil when disabled.
func NewTokenEstimator(enabled bool) *TokenEstimator {
	if !enabled {
		return nil
	}
	return &TokenEstimator{}
}

// Count returns the estimated token count of text.
func (e *TokenEstimator) Count(text string) int {
	if e == nil || text == "" {
		return 0
	}
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("tiktoken encoding unavailable, using byte estimate")
			return
		}
		e.enc = enc
	})
	if e.enc == nil {
		return ByteEstimate(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

// ByteEstimate approximates tokens as one per four bytes.
func ByteEstimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
