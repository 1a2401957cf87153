package streamconv

import "bytes"

// LineDecoder splits an incrementally-fed byte stream on '\n', carrying a
// possibly-incomplete trailing line across calls to Feed. UTF-8 continuation
// bytes (the high bit set, top two bits "10") never collide with the ASCII
// newline byte, so a chunk boundary that lands mid-rune never produces a
// false line split — plain byte buffering is UTF-8 streaming-safe without a
// rune-aware decoder.
type LineDecoder struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and returns every complete line
// it now contains (without the trailing '\n'). Incomplete trailing bytes are
// retained for the next call.
func (d *LineDecoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(d.buf[:idx]))
		d.buf = d.buf[idx+1:]
	}
	return lines
}

// Buffered returns the bytes held back awaiting a terminating newline.
func (d *LineDecoder) Buffered() []byte {
	return d.buf
}
