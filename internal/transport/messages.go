// Package transport exposes the voice engine over a persistent WebSocket
// channel per session: small tagged JSON control messages in both
// directions, with response audio carried as raw binary frames.
package transport

import (
	"encoding/json"
	"fmt"
)

// Client→server message types.
const (
	TypeStartSession = "start_session"
	TypeAudioChunk   = "audio_chunk"
	TypeTurnComplete = "turn_complete"
	TypeEndSession   = "end_session"
	TypePing         = "ping"
)

// Server→client message types.
const (
	TypeSessionStarted = "session_started"
	TypeSessionReady   = "session_ready"
	TypeTextResponse   = "text_response"
	TypeError          = "error"
	TypeSessionEnded   = "session_ended"
	TypePong           = "pong"
)

// ClientMessage is one inbound control message. Exactly the fields implied
// by Type are populated. Audio may arrive either as an audio_chunk message
// (base64 via encoding/json) or as a raw binary WebSocket frame.
type ClientMessage struct {
	Type string `json:"type"`

	// start_session fields.
	Language          string `json:"language,omitempty"`
	SystemInstruction string `json:"systemInstruction,omitempty"`
	UserID            string `json:"userId,omitempty"`

	// audio_chunk field.
	Audio []byte `json:"audio,omitempty"`
}

// ServerMessage is one outbound control message.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Language  string `json:"language,omitempty"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DecodeClientMessage parses and validates one inbound control message.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("transport: decode message: %w", err)
	}
	switch msg.Type {
	case TypeStartSession, TypeAudioChunk, TypeTurnComplete, TypeEndSession, TypePing:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("transport: message has no type")
	default:
		return ClientMessage{}, fmt.Errorf("transport: unknown message type %q", msg.Type)
	}
}

// EncodeServerMessage serialises one outbound control message.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("transport: encode message: %w", err)
	}
	return data, nil
}
