package streamconv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/opencc/proxy/internal/logging"
	"github.com/opencc/proxy/internal/protocolb"
)

// ErrClientDisconnected is returned by Run when ctx is cancelled before
// the upstream stream completes.
var ErrClientDisconnected = errors.New("streamconv: client disconnected")

const dataPrefix = "data: "

// Flusher is satisfied by http.Flusher; kept as a narrow interface so tests
// can supply a no-op.
type Flusher interface {
	Flush()
}

// Run drives one upstream Protocol-B SSE body through Processor and writes
// the translated Protocol-A event stream to w, flushing after every
// processed line.
// It reads upstream in raw chunks (rather than line-by-line) so that
// cancellation is observable between chunks as well as between lines.
func Run(ctx context.Context, upstream io.Reader, w io.Writer, flush Flusher, originalModel string) error {
	return RunProcessor(ctx, upstream, w, flush, NewProcessor(originalModel))
}

// RunProcessor is Run with a caller-supplied Processor, so the caller can
// read back the observed output-token total once the stream ends.
func RunProcessor(ctx context.Context, upstream io.Reader, w io.Writer, flush Flusher, proc *Processor) error {
	dec := &LineDecoder{}
	buf := make([]byte, 32*1024)

	for {
		if err := ctx.Err(); err != nil {
			return ErrClientDisconnected
		}

		n, readErr := upstream.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				if err := ctx.Err(); err != nil {
					return ErrClientDisconnected
				}

				done, err := processLine(w, proc, line)
				if err != nil {
					return err
				}
				if flush != nil {
					flush.Flush()
				}
				if done {
					return nil
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// processLine applies one complete SSE line. It returns done=true once the
// `[DONE]` sentinel has been written downstream.
func processLine(w io.Writer, proc *Processor, line string) (done bool, err error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return false, nil
	}
	if payload == "[DONE]" {
		return true, WriteDone(w)
	}

	var chunk protocolb.StreamChunk
	if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr != nil {
		logging.Warnf("streamconv: dropping malformed upstream chunk: %v", jsonErr)
		return false, nil
	}

	if handleErr := proc.HandleChunk(w, chunk); handleErr != nil {
		return false, handleErr
	}
	return false, nil
}
