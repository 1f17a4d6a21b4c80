package stream

// Passthrough relays upstream bytes verbatim.
type Passthrough struct{}

// NewPassthrough creates a passthrough transcoder.
func NewPassthrough() *Passthrough { return &Passthrough{} }

// Feed implements Transcoder. The chunk is copied so callers may reuse their read buffer.
func (Passthrough) Feed(chunk []byte) ([][]byte, bool) {
	if len(chunk) == 0 {
		return nil, false
	}
	return [][]byte{append([]byte(nil), chunk...)}, false
}

// Finish implements Transcoder.
func (Passthrough) Finish() [][]byte { return nil }
