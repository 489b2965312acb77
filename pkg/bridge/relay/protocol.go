package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Public wire protocol: tagged JSON envelopes exchanged with the browser
// dialer. Audio payloads are base64 PCM16 mono @16kHz, passed through opaque.

// Inbound message types.
type StartCall struct {
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`
}

type AudioIn struct {
	Data string `json:"data"`
}

type Interrupt struct{}

type EndCall struct{}

// MalformedError reports an inbound frame the relay drops without
// terminating the call.
type MalformedError struct {
	Reason string
	Type   string
}

func (e *MalformedError) Error() string {
	if e.Type == "" {
		return "malformed message: " + e.Reason
	}
	return fmt.Sprintf("malformed message (type=%q): %s", e.Type, e.Reason)
}

// DecodeClientMessage parses one inbound frame into a typed message.
// Unknown types and unparseable envelopes yield a *MalformedError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type       string `json:"type"`
		Data       string `json:"data"`
		FromNumber string `json:"from_number"`
		ToNumber   string `json:"to_number"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &MalformedError{Reason: "invalid json"}
	}

	switch strings.TrimSpace(envelope.Type) {
	case "start_call":
		if strings.TrimSpace(envelope.FromNumber) == "" {
			return nil, &MalformedError{Type: "start_call", Reason: "from_number is required"}
		}
		return StartCall{FromNumber: envelope.FromNumber, ToNumber: envelope.ToNumber}, nil
	case "audio":
		if envelope.Data == "" {
			return nil, &MalformedError{Type: "audio", Reason: "data is required"}
		}
		return AudioIn{Data: envelope.Data}, nil
	case "interrupt":
		return Interrupt{}, nil
	case "end_call":
		return EndCall{}, nil
	case "":
		return nil, &MalformedError{Reason: "missing type"}
	default:
		return nil, &MalformedError{Type: envelope.Type, Reason: "unknown type"}
	}
}

// Outbound messages.
type Ready struct {
	Type      string `json:"type"`
	AgentName string `json:"agent_name"`
	Language  string `json:"language"`
}

type CallStarted struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	AgentName      string `json:"agent_name"`
}

type AudioOut struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type UserTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AgentResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Interruption struct {
	Type string `json:"type"`
}

type CallEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewReady(agentName, language string) Ready {
	return Ready{Type: "ready", AgentName: agentName, Language: language}
}

func NewCallStarted(conversationID, agentName string) CallStarted {
	return CallStarted{Type: "call_started", ConversationID: conversationID, AgentName: agentName}
}

func NewAudioOut(b64 string) AudioOut {
	return AudioOut{Type: "audio", Data: b64}
}

func NewUserTranscript(text string) UserTranscript {
	return UserTranscript{Type: "user_transcript", Text: text}
}

func NewAgentResponse(text string) AgentResponse {
	return AgentResponse{Type: "agent_response", Text: text}
}

func NewInterruption() Interruption {
	return Interruption{Type: "interruption"}
}

func NewCallEnded(reason string) CallEnded {
	return CallEnded{Type: "call_ended", Reason: reason}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}
