package upstream

// EventType names a translated provider event
type EventType string

const (
	EventReady               EventType = "ready"
	EventAudioChunk          EventType = "audio_chunk"
	EventUserTranscript      EventType = "user_transcript"
	EventAssistantTranscript EventType = "assistant_transcript"
	EventAssistantText       EventType = "assistant_text"
	EventInterrupted         EventType = "interrupted"
	EventTurnComplete        EventType = "turn_complete"
	EventConnectionClosed    EventType = "connection_closed"
	EventConnectionError     EventType = "connection_error"
)

// Event is one translated provider event. Audio holds base64 PCM16 and is
// only set on EventAudioChunk; Err only on EventConnectionError.
type Event struct {
	Type     EventType
	Text     string
	Audio    string
	MimeType string
	Err      error
}
