package openai

import "strings"

// doneSentinel terminates a provider stream.
const doneSentinel = "[DONE]"

// FrameDecoder reassembles `data: <payload>` frames from a chunked SSE body.
// Reads arrive with arbitrary boundaries, so the decoder accumulates input,
// splits on newlines, and retains the trailing partial line for the next
// Feed call. Lines without a data prefix (comments, event names, blanks)
// are ignored.
type FrameDecoder struct {
	leftover string
}

// NewFrameDecoder returns an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed consumes the next read and returns the payloads of every complete
// data frame it contains, in order. The [DONE] sentinel is returned as a
// payload for the caller to act on.
func (d *FrameDecoder) Feed(chunk string) []string {
	data := d.leftover + chunk
	lines := strings.Split(data, "\n")
	d.leftover = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var payloads []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads
}
