package convert

import (
	"crypto/rand"
	"encoding/json"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
)

const msgIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// NewMessageID generates a Protocol-A message id: "msg_" + 24 URL-safe
// random characters.
func NewMessageID() string {
	return "msg_" + randomString(24)
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on the standard reader only fails if the OS
		// entropy source is unavailable, which this proxy cannot recover
		// from; fall back to a fixed-but-valid id shape rather than panic.
		for i := range b {
			b[i] = msgIDAlphabet[0]
		}
	}
	for i, c := range b {
		b[i] = msgIDAlphabet[int(c)%len(msgIDAlphabet)]
	}
	return string(b)
}

// ResponseToProtocolA translates a completed Protocol-B response into
// its Protocol-A equivalent.
func ResponseToProtocolA(resp *protocolb.Response, originalModel string) (*protocola.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, apierrors.New(apierrors.KindInternal, "upstream response had no choices")
	}
	choice := resp.Choices[0]

	var content []protocola.ContentBlock

	if text, ok := choice.Message.Content.(string); ok && text != "" {
		content = append(content, protocola.ContentBlock{Type: "text", Text: text})
	}

	for _, tc := range choice.Message.ToolCalls {
		content = append(content, protocola.ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: safeJSONParse(tc.Function.Arguments),
		})
	}

	if len(content) == 0 {
		content = append(content, protocola.ContentBlock{Type: "text", Text: ""})
	}

	return &protocola.Response{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       protocola.RoleAssistant,
		Model:      originalModel,
		Content:    content,
		StopReason: MapFinishReason(protocolb.FinishReason(choice.FinishReason)),
		Usage: protocola.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// MapFinishReason is the fixed Protocol-B -> Protocol-A stop-reason
// mapping. Total over the Protocol-B input set: unknown values fall
// through to end_turn.
func MapFinishReason(reason protocolb.FinishReason) protocola.StopReason {
	switch reason {
	case protocolb.FinishReasonStop:
		return protocola.StopReasonEndTurn
	case protocolb.FinishReasonLength:
		return protocola.StopReasonMaxTokens
	case protocolb.FinishReasonToolCalls:
		return protocola.StopReasonToolUse
	case protocolb.FinishReasonContentFilter:
		// Erases the content-filter signal; Protocol A has no
		// equivalent tag.
		return protocola.StopReasonEndTurn
	default:
		return protocola.StopReasonEndTurn
	}
}

// safeJSONParse parses a tool call's arguments string, defaulting to an
// empty object on malformed JSON rather than failing the whole response.
func safeJSONParse(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
