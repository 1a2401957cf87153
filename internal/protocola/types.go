// Package protocola implements the Anthropic Messages wire shape ("Protocol A"):
// the request and response bodies the proxy accepts from and returns to clients.
package protocola

import "encoding/json"

// Role is a Protocol-A message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one block of a Protocol-A message's content array.
// Exactly one of the typed fields is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *ImageSource `json:"source,omitempty"`

	// type == "tool_use" (assistant only)
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result" (user only)
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource describes an inline image content block.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// MessageContent is either a bare string or an ordered block sequence.
// UnmarshalJSON accepts both shapes; MarshalJSON re-emits whichever was set.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsText reports whether this content is the plain-string form.
func (c MessageContent) IsText() bool {
	return c.Blocks == nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Text = asString
		c.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	return nil
}

// Message is a single turn in a Protocol-A conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// Tool is a Protocol-A tool schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice selects how the model should use tools.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Request is the body of POST /v1/messages.
type Request struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        string          `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// StopReason is the Protocol-A terminal reason for a response.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
)

// Usage reports token accounting in the Protocol-A shape.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the body returned for a non-streaming POST /v1/messages.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       Role           `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ErrorBody is the Protocol-A error envelope, identical for unary and
// streaming responses.
type ErrorBody struct {
	Type  string `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the taxonomy tag and message of an ErrorBody.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorBody builds the standard {"type":"error",...} envelope.
func NewErrorBody(errType, message string) ErrorBody {
	return ErrorBody{
		Type: "error",
		Error: ErrorDetail{
			Type:    errType,
			Message: message,
		},
	}
}
