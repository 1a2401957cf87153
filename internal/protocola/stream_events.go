package protocola

// StreamEventType is the tag of a Protocol-A SSE event.
type StreamEventType string

const (
	EventMessageStart      StreamEventType = "message_start"
	EventContentBlockStart StreamEventType = "content_block_start"
	EventContentBlockDelta StreamEventType = "content_block_delta"
	EventContentBlockStop  StreamEventType = "content_block_stop"
	EventMessageDelta      StreamEventType = "message_delta"
	EventMessageStop       StreamEventType = "message_stop"
	EventPing              StreamEventType = "ping"
)

// MessageStartEvent opens a streamed response.
type MessageStartEvent struct {
	Type    StreamEventType `json:"type"`
	Message StreamMessage   `json:"message"`
}

// StreamMessage is the partial Response carried by message_start.
type StreamMessage struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       Role           `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason *StopReason    `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlockStartEvent opens a content block at Index.
type ContentBlockStartEvent struct {
	Type         StreamEventType   `json:"type"`
	Index        int               `json:"index"`
	ContentBlock StreamBlockHeader `json:"content_block"`
}

// StreamBlockHeader is the block descriptor echoed in content_block_start.
type StreamBlockHeader struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// ContentBlockDeltaEvent carries an incremental update to a block.
type ContentBlockDeltaEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index"`
	Delta BlockDelta      `json:"delta"`
}

// BlockDelta is the payload of a content_block_delta event.
type BlockDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ContentBlockStopEvent closes a content block at Index.
type ContentBlockStopEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index"`
}

// MessageDeltaEvent carries the final stop reason and usage delta.
type MessageDeltaEvent struct {
	Type  StreamEventType    `json:"type"`
	Delta MessageDeltaFields `json:"delta"`
	Usage MessageDeltaUsage  `json:"usage"`
}

// MessageDeltaFields is the delta payload of a message_delta event.
type MessageDeltaFields struct {
	StopReason StopReason `json:"stop_reason"`
}

// MessageDeltaUsage reports the final output token count of a stream.
type MessageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent closes the stream.
type MessageStopEvent struct {
	Type StreamEventType `json:"type"`
}

// PingEvent is the keepalive sent immediately after headers.
type PingEvent struct {
	Type StreamEventType `json:"type"`
}
