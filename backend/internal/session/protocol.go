package session

import (
	"encoding/json"

	"voice-bridge/backend/internal/state"
)

// Inbound client message types
const (
	ClientAudio     = "audio"
	ClientVideo     = "video"
	ClientConfig    = "config"
	ClientInterrupt = "interrupt"
	ClientText      = "text"
	ClientMessage   = "message" // Alias of text sent by older web clients
)

// Outbound message types
const (
	OutStatus              = "status"
	OutText                = "text"
	OutAudio               = "audio"
	OutReport              = "report"
	OutConversationID      = "conversationId"
	OutConversationUpdated = "conversationUpdated"
	OutError               = "error"
)

// ClientFrame is one inbound {type, data} frame
type ClientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type audioData struct {
	AudioData string `json:"audioData"`
}

type videoData struct {
	Image string `json:"image"`
}

type textData struct {
	Text string `json:"text"`
}

type configData struct {
	Voice    string             `json:"voice,omitempty"`
	Model    string             `json:"model,omitempty"`
	Language string             `json:"language,omitempty"`
	Stats    *state.ReportStats `json:"stats,omitempty"`
}

// ServerFrame is one outbound {type, data} frame
type ServerFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func statusFrame(status string) ServerFrame {
	return ServerFrame{Type: OutStatus, Data: map[string]string{"status": status}}
}

func errorFrame(message string) ServerFrame {
	return ServerFrame{Type: OutError, Data: map[string]string{"message": message}}
}

func textFrame(text, role string) ServerFrame {
	return ServerFrame{Type: OutText, Data: map[string]string{"text": text, "role": role}}
}

func audioFrame(b64, mimeType string) ServerFrame {
	return ServerFrame{Type: OutAudio, Data: map[string]string{"audioData": b64, "mimeType": mimeType}}
}

func conversationIDFrame(conversationID string) ServerFrame {
	return ServerFrame{Type: OutConversationID, Data: map[string]string{"conversationId": conversationID}}
}

func conversationUpdatedFrame(conversationID, lastMessageID string) ServerFrame {
	return ServerFrame{Type: OutConversationUpdated, Data: map[string]string{
		"conversationId": conversationID,
		"messageId":      lastMessageID,
	}}
}

func reportFrame(conversationID, markdown string) ServerFrame {
	return ServerFrame{Type: OutReport, Data: map[string]string{
		"conversationId": conversationID,
		"report":         markdown,
	}}
}
