package streamconv

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeEvent serializes v and writes it downstream as a Protocol-A SSE
// data frame: "data: <json>\n\n".
func writeEvent(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// WriteConnectedPing writes the initial keepalive emitted immediately
// after SSE response headers are flushed.
func WriteConnectedPing(w io.Writer) error {
	_, err := fmt.Fprint(w, "event: connected\ndata: {\"type\":\"ping\"}\n\n")
	return err
}

// WriteDone writes the terminal `data: [DONE]\n\n` sentinel.
func WriteDone(w io.Writer) error {
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	return err
}

// WriteStreamError writes a mid-stream error event carrying the same
// error envelope the unary path returns.
func WriteStreamError(w io.Writer, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
	return err
}
