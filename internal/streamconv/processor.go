// Package streamconv converts an upstream OpenAI Chat Completions
// server-sent-event stream into the Anthropic Messages event grammar: a
// message_start, balanced content_block_start/stop pairs around ordered
// deltas, then message_delta and message_stop.
package streamconv

import (
	"io"

	"github.com/opencc/proxy/internal/convert"
	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
)

// Processor holds the per-request streaming state: whether the first
// chunk has been seen, which block index is open, and the running output
// token total. Line buffering lives in LineDecoder; client liveness is
// tracked by the caller's context rather than a field here.
type Processor struct {
	originalModel     string
	messageID         string
	firstChunk        bool
	openBlockIndex    int
	nextBlockIndex    int
	totalOutputTokens int
	seenToolCalls     map[int]bool
}

// NewProcessor creates a Processor for one streaming request. originalModel
// is echoed back into message_start so the client sees the model name it
// asked for, not the upstream-mapped one.
func NewProcessor(originalModel string) *Processor {
	return &Processor{
		originalModel:  originalModel,
		messageID:      convert.NewMessageID(),
		firstChunk:     true,
		openBlockIndex: -1,
		seenToolCalls:  make(map[int]bool),
	}
}

// HandleChunk applies one decoded Protocol-B stream chunk to the
// processor state and writes zero or more Protocol-A events to w.
func (p *Processor) HandleChunk(w io.Writer, chunk protocolb.StreamChunk) error {
	if chunk.Usage != nil {
		p.totalOutputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return p.ensureStarted(w)
	}

	if err := p.ensureStarted(w); err != nil {
		return err
	}

	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if err := writeEvent(w, protocola.ContentBlockDeltaEvent{
			Type:  protocola.EventContentBlockDelta,
			Index: p.openBlockIndex,
			Delta: protocola.BlockDelta{Type: "text_delta", Text: choice.Delta.Content},
		}); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		if tc.Function.Name == "" || p.seenToolCalls[tc.Index] {
			continue
		}
		p.seenToolCalls[tc.Index] = true

		if err := writeEvent(w, protocola.ContentBlockStopEvent{
			Type:  protocola.EventContentBlockStop,
			Index: p.openBlockIndex,
		}); err != nil {
			return err
		}

		newIndex := p.nextBlockIndex
		p.nextBlockIndex++
		if err := writeEvent(w, protocola.ContentBlockStartEvent{
			Type:  protocola.EventContentBlockStart,
			Index: newIndex,
			ContentBlock: protocola.StreamBlockHeader{
				Type: "tool_use",
				ID:   tc.ID,
				Name: tc.Function.Name,
			},
		}); err != nil {
			return err
		}
		p.openBlockIndex = newIndex
	}

	if choice.FinishReason != nil {
		return p.finish(w, *choice.FinishReason, chunk.Usage)
	}

	return nil
}

func (p *Processor) ensureStarted(w io.Writer) error {
	if !p.firstChunk {
		return nil
	}
	p.firstChunk = false

	if err := writeEvent(w, protocola.MessageStartEvent{
		Type: protocola.EventMessageStart,
		Message: protocola.StreamMessage{
			ID:      p.messageID,
			Type:    "message",
			Role:    protocola.RoleAssistant,
			Model:   p.originalModel,
			Content: []protocola.ContentBlock{},
			Usage:   protocola.Usage{InputTokens: 0, OutputTokens: 0},
		},
	}); err != nil {
		return err
	}

	if err := writeEvent(w, protocola.ContentBlockStartEvent{
		Type:  protocola.EventContentBlockStart,
		Index: 0,
		ContentBlock: protocola.StreamBlockHeader{
			Type: "text",
			Text: "",
		},
	}); err != nil {
		return err
	}
	p.openBlockIndex = 0
	p.nextBlockIndex = 1
	return nil
}

func (p *Processor) finish(w io.Writer, finishReason string, usage *protocolb.ChunkUsage) error {
	if err := writeEvent(w, protocola.ContentBlockStopEvent{
		Type:  protocola.EventContentBlockStop,
		Index: p.openBlockIndex,
	}); err != nil {
		return err
	}

	outputTokens := p.totalOutputTokens
	if usage != nil && usage.CompletionTokens > 0 {
		outputTokens = usage.CompletionTokens
	}

	if err := writeEvent(w, protocola.MessageDeltaEvent{
		Type: protocola.EventMessageDelta,
		Delta: protocola.MessageDeltaFields{
			StopReason: convert.MapFinishReason(protocolb.FinishReason(finishReason)),
		},
		Usage: protocola.MessageDeltaUsage{OutputTokens: outputTokens},
	}); err != nil {
		return err
	}

	return writeEvent(w, protocola.MessageStopEvent{Type: protocola.EventMessageStop})
}

// OutputTokens reports the most recently observed total, for logging
// once the stream ends. Upstream totals are monotonic, so the value never
// decreases over a stream.
func (p *Processor) OutputTokens() int {
	return p.totalOutputTokens
}
