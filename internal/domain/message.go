package domain

import (
	"bytes"
	"encoding/json"
)

// PromptText is sent when the flow waits for user input.
const PromptText = "Please respond..."

// ResponseType discriminates outbound frames.
type ResponseType string

const (
	ResponseMessage ResponseType = "message"
	ResponsePrompt  ResponseType = "prompt"
	ResponseError   ResponseType = "error"
)

// Response is what a single engine turn hands back to the transport.
type Response struct {
	Type      ResponseType `json:"type"`
	Message   string       `json:"message"`
	Code      string       `json:"code,omitempty"`
	SessionID string       `json:"sessionId,omitempty"`
}

// MessageResponse carries block text to the user.
func MessageResponse(text string) Response {
	return Response{Type: ResponseMessage, Message: text}
}

// PromptResponse asks the user for input.
func PromptResponse() Response {
	return Response{Type: ResponsePrompt, Message: PromptText}
}

// ErrorResponse reports a failure to the user.
func ErrorResponse(code, message string) Response {
	return Response{Type: ResponseError, Code: code, Message: message}
}

// Inbound is a user message as received from the transport. Raw is the full
// JSON frame; Text is its "text" field when present.
type Inbound struct {
	Text string
	Raw  json.RawMessage
}

// ParseInbound decodes a JSON frame. Any valid JSON value is accepted.
func ParseInbound(data []byte) (Inbound, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Inbound{}, err
	}
	in := Inbound{Raw: json.RawMessage(bytes.TrimSpace(data))}
	if obj, ok := v.(map[string]any); ok {
		if text, ok := obj["text"].(string); ok {
			in.Text = text
		}
	}
	return in, nil
}

// TextInbound builds an Inbound from plain text.
func TextInbound(text string) Inbound {
	raw, _ := json.Marshal(map[string]string{"text": text})
	return Inbound{Text: text, Raw: raw}
}

// Content is what gets recorded in the transcript and classified: the text
// when present, otherwise the frame's JSON form.
func (in Inbound) Content() string {
	if in.Text != "" {
		return in.Text
	}
	return string(in.Raw)
}
