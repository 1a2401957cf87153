// Package convert implements the pure, I/O-free translation between
// Protocol A (Anthropic Messages) and Protocol B (OpenAI Chat
// Completions) in both directions.
package convert

import (
	"encoding/json"
	"strings"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
)

// RequestOptions configures the A->B request conversion with the
// upstream capabilities that affect translation: image blocks project to
// a multi-modal array only when the upstream supports vision.
type RequestOptions struct {
	ModelTable     ModelTable
	SupportsVision bool
}

// RequestToProtocolB translates a validated Protocol-A request into its
// Protocol-B equivalent. It is total over valid inputs and idempotent
// under re-run with the same inputs.
func RequestToProtocolB(req *protocola.Request, opts RequestOptions) (*protocolb.Request, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	out := &protocolb.Request{
		Model:  opts.ModelTable.Resolve(req.Model),
		Stream: req.Stream,
	}

	messages := make([]protocolb.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, protocolb.Message{
			Role:    protocolb.RoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		converted, err := convertMessage(m, opts)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}
	out.Messages = messages

	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}
	if req.TopP != nil {
		out.TopP = req.TopP
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	validTools := validTools(req.Tools)
	if len(validTools) > 0 {
		out.Tools = make([]protocolb.ToolDef, len(validTools))
		for i, t := range validTools {
			out.Tools[i] = protocolb.ToolDef{
				Type: "function",
				Function: protocolb.FunctionDef{
					Name:        strings.TrimSpace(t.Name),
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return out, nil
}

func validateRequest(req *protocola.Request) error {
	if strings.TrimSpace(req.Model) == "" {
		return apierrors.New(apierrors.KindInvalidRequest, "model is required")
	}
	if req.MaxTokens <= 0 {
		return apierrors.New(apierrors.KindInvalidRequest, "max_tokens must be greater than 0")
	}
	if len(req.Messages) == 0 {
		return apierrors.New(apierrors.KindInvalidRequest, "messages must not be empty")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case protocola.RoleUser, protocola.RoleAssistant:
		default:
			return apierrors.New(apierrors.KindInvalidRequest, "unknown message role: "+string(m.Role))
		}
	}
	return nil
}

// ValidateRequest applies the inbound request contract without
// converting, for backends whose upstream already speaks Protocol A.
func ValidateRequest(req *protocola.Request) error {
	return validateRequest(req)
}

// convertMessage projects one Protocol-A message into zero or more
// Protocol-B messages. A user message containing tool_result blocks
// expands into one role:"tool" message per block.
func convertMessage(m protocola.Message, opts RequestOptions) ([]protocolb.Message, error) {
	role := protocolb.Role(m.Role)

	if m.Content.IsText() {
		return []protocolb.Message{{Role: role, Content: m.Content.Text}}, nil
	}

	var textParts []string
	var imageParts []map[string]interface{}
	var toolCalls []protocolb.ToolCall
	var toolMessages []protocolb.Message
	hasContentArray := false

	for _, block := range m.Content.Blocks {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)

		case "image":
			if opts.SupportsVision && block.Source != nil {
				hasContentArray = true
				imageParts = append(imageParts, imageBlockToOpenAI(*block.Source))
			} else {
				textParts = append(textParts, "[image omitted: upstream does not support image input]")
			}

		case "tool_use":
			argsJSON := block.Input
			if len(argsJSON) == 0 {
				argsJSON = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, protocolb.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: protocolb.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(argsJSON),
				},
			})

		case "tool_result":
			toolMessages = append(toolMessages, protocolb.Message{
				Role:       protocolb.RoleTool,
				Content:    toolResultToString(block.Content),
				ToolCallID: block.ToolUseID,
			})
		}
	}

	var out []protocolb.Message

	switch {
	case len(toolCalls) > 0:
		msg := protocolb.Message{Role: role, ToolCalls: toolCalls}
		if len(textParts) > 0 {
			msg.Content = strings.Join(textParts, "\n")
		} else {
			msg.Content = nil
		}
		out = append(out, msg)

	case hasContentArray:
		content := make([]map[string]interface{}, 0, len(imageParts)+1)
		if len(textParts) > 0 {
			content = append(content, map[string]interface{}{
				"type": "text",
				"text": strings.Join(textParts, "\n"),
			})
		}
		content = append(content, imageParts...)
		out = append(out, protocolb.Message{Role: role, Content: content})

	case len(toolMessages) > 0 && len(textParts) == 0:
		// pure tool-result message: nothing left over for the role message.

	default:
		out = append(out, protocolb.Message{Role: role, Content: strings.Join(textParts, "\n")})
	}

	out = append(out, toolMessages...)
	return out, nil
}

func imageBlockToOpenAI(src protocola.ImageSource) map[string]interface{} {
	url := src.URL
	if url == "" && src.Data != "" {
		url = "data:" + src.MediaType + ";base64," + src.Data
	}
	return map[string]interface{}{
		"type": "image_url",
		"image_url": map[string]interface{}{
			"url": url,
		},
	}
}

func toolResultToString(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(content, &asString); err == nil {
		return asString
	}
	return string(content)
}

// validTools filters to tools whose name trims to non-empty and whose
// input_schema is a non-null JSON object.
func validTools(tools []protocola.Tool) []protocola.Tool {
	var out []protocola.Tool
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		if !isJSONObject(t.InputSchema) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	if v == nil {
		return false
	}
	_, ok := v.(map[string]interface{})
	return ok
}

// convertToolChoice maps a Protocol-A tool_choice to its Protocol-B
// form. Called only when at least one valid tool exists.
func convertToolChoice(tc *protocola.ToolChoice) interface{} {
	if tc == nil {
		return "auto"
	}
	switch tc.Type {
	case "tool":
		return map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name": tc.Name,
			},
		}
	case "any", "auto":
		return "auto"
	default:
		return "auto"
	}
}
