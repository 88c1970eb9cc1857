// Package protocol defines the JSON frames exchanged with the browser
// extension over the live WebSocket, plus the inbound decoder. Binary
// frames (raw PCM) never pass through here.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Connection status values pushed to the client.
const (
	StatusConnecting   = "connecting"
	StatusReady        = "ready"
	StatusListening    = "listening"
	StatusResponding   = "responding"
	StatusReconnecting = "reconnecting"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientContext updates the page context for the current conversation:
// which conversation this socket belongs to, the latest screenshot as a
// data URL, and the page address.
type ClientContext struct {
	Type              string `json:"type"`
	ConversationID    string `json:"conversationId,omitempty"`
	ScreenshotDataURL string `json:"screenshotDataUrl,omitempty"`
	PageURL           string `json:"pageUrl,omitempty"`
}

// ClientPing is an application-level keepalive.
type ClientPing struct {
	Type string `json:"type"`
}

// ClientStop requests an orderly end of the session.
type ClientStop struct {
	Type string `json:"type"`
}

// ServerStatus reports a connection state transition for the
// conversation the socket currently serves.
type ServerStatus struct {
	Type           string `json:"type"`
	State          string `json:"state"`
	ConversationID string `json:"conversationId"`
}

// ServerInputTranscript streams a partial transcription of the user's
// speech as soon as it arrives.
type ServerInputTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerAudioChunk streams one chunk of synthesized answer audio for
// the turn identified by TurnID.
type ServerAudioChunk struct {
	Type          string `json:"type"`
	TurnID        int64  `json:"turnId"`
	AudioBase64   string `json:"audioBase64"`
	AudioMimeType string `json:"audioMimeType"`
}

// ServerTurnResult is the finalized answer for a completed turn.
type ServerTurnResult struct {
	Type   string `json:"type"`
	TurnID int64  `json:"turnId"`
	Answer string `json:"answer"`
	Model  string `json:"model"`
}

// ServerPong answers a ClientPing.
type ServerPong struct {
	Type string `json:"type"`
}

// ServerError reports a fault to the client before the socket closes
// or the session reconnects.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"error"`
}

func NewStatus(state, conversationID string) ServerStatus {
	return ServerStatus{Type: "status", State: state, ConversationID: conversationID}
}

func NewInputTranscript(text string) ServerInputTranscript {
	return ServerInputTranscript{Type: "input_transcript", Text: text}
}

func NewAudioChunk(turnID int64, audioB64, mimeType string) ServerAudioChunk {
	return ServerAudioChunk{Type: "output_audio_chunk", TurnID: turnID, AudioBase64: audioB64, AudioMimeType: mimeType}
}

func NewTurnResult(turnID int64, answer, model string) ServerTurnResult {
	return ServerTurnResult{Type: "turn_result", TurnID: turnID, Answer: answer, Model: model}
}

func NewPong() ServerPong {
	return ServerPong{Type: "pong"}
}

func NewError(message string) ServerError {
	return ServerError{Type: "error", Message: message}
}

// DecodeClientMessage parses one inbound text frame into its typed
// form. The live path treats any DecodeError as ignorable: a malformed
// frame must never take the session down.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "context":
		var msg ClientContext
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid context frame", "")
		}
		return &msg, nil
	case "ping":
		return &ClientPing{Type: "ping"}, nil
	case "stop":
		return &ClientStop{Type: "stop"}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}
